// Package logging builds the log/slog logger every plcwatch component
// writes through.
//
// Entries are JSON by default and plain key=value text when
// logging.format is "text". Each entry carries service and version
// fields; subsystems add their own with Component:
//
//	log := logging.New(cfg.Logging, version)
//	modbusLog := log.Component("modbus")
//	modbusLog.Warn("read failed", "controller_id", id, "error", err)
//
// Register values and controller addresses are fine to log. Passwords,
// JWT secrets and tokens are not; the one exception is the seeded owner
// password, logged once on first boot.
package logging
