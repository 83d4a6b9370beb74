// Package plc is the controller and register catalogue for PLCWatch Core.
//
// It persists controllers (Modbus TCP endpoints or simulated devices) and
// the named registers defined on them, validates changes before they reach
// SQLite, and adapts the catalogue to the polling engine:
//
//	┌──────────────┐   ConfigSource    ┌──────────────────────┐
//	│ plc.Service  │ ────────────────▶ │ modbus.Monitor       │
//	│              │                   │ modbus.Registry      │
//	│  SQLite      │ ◀──────────────── │                      │
//	└──────────────┘ ConnectionTracker └──────────────────────┘
//
// Catalogue edits are pushed into the running engine: updating or deleting a
// controller rebuilds or drops its link, and new registers on a simulated
// controller are defined on its device straight away.
//
// # Overlap rule
//
// Two monitored registers on the same controller may not share a word.
// Unmonitored registers are exempt so operators can describe alternative
// views of the same memory.
//
// # Thread Safety
//
// Service and the repositories are safe for concurrent use.
package plc
