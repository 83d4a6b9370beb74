// Package config loads config.yaml for plcwatch.
//
// Values are layered: built-in defaults, then the YAML file, then
// PLCWATCH_* environment variables (see envOverrides for the list).
// Secrets such as PLCWATCH_JWT_SECRET and PLCWATCH_MQTT_PASSWORD are
// best supplied through the environment and the file kept at mode 0600.
//
// The modbus section takes Go duration strings:
//
//	modbus:
//	  poll_interval: "1s"
//	  backoff_interval: "5s"
//	  force_simulation: true
package config
