// Package modbus implements the Modbus polling and register-decoding engine
// for PLCWatch.
//
// The engine owns one connection per registered controller, reads the
// monitored holding registers on a fixed interval, decodes the raw 16-bit
// words into engineering values and fans the results out to subscribers.
//
// # Architecture
//
//	┌──────────────┐   ConfigSource   ┌──────────────┐
//	│  plc.Service │◄────────────────►│   Monitor    │──► UpdateBus ──► WebSocket / MQTT
//	└──────────────┘                  └──────┬───────┘
//	                                         │
//	                                  ┌──────▼───────┐
//	                                  │   Registry   │
//	                                  └──────┬───────┘
//	                           ┌─────────────┴─────────────┐
//	                    ┌──────▼───────┐            ┌──────▼───────┐
//	                    │   TCPLink    │            │SimulatedLink │
//	                    │  (goburrow)  │            │  (in-proc)   │
//	                    └──────────────┘            └──────────────┘
//
// # Key Responsibilities
//
//   - Decode and encode int16, int32 and float32 register values
//   - Hold one DeviceLink (real or simulated) per controller
//   - Run one poll loop per monitored controller with backoff on failure
//   - Publish Snapshots without ever blocking the poll loop
//   - Report poll cycles to metrics, telemetry and connection bookkeeping
//
// # Data Types
//
// Multi-word values use big-endian word order (high word at the lower
// address):
//
//   - int16: one word, unsigned (0-65535)
//   - int32: two words, unsigned 32-bit
//   - float32: two words, IEEE-754 single precision
//
// Example:
//
//	v, err := modbus.Decode([]uint16{0x41C8, 0x0000}, modbus.Float32, 1.0)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(v) // 25
//
// # Thread Safety
//
// Registry, Monitor, UpdateBus and SimulatedDevice are safe for concurrent
// use. A single DeviceLink serialises its own operations.
package modbus
