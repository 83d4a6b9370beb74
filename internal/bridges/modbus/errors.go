package modbus

import "errors"

// Domain errors for the Modbus engine.
var (
	// ErrConnection is returned when a controller cannot be reached.
	ErrConnection = errors.New("modbus: connection failed")

	// ErrRead is returned when reading holding registers fails.
	ErrRead = errors.New("modbus: read failed")

	// ErrWrite is returned when writing holding registers fails.
	ErrWrite = errors.New("modbus: write failed")

	// ErrDecode is returned when raw words cannot be turned into a value.
	ErrDecode = errors.New("modbus: decoding failed")

	// ErrEncode is returned when a value cannot be represented in registers.
	ErrEncode = errors.New("modbus: encoding failed")

	// ErrNotFound is returned for unknown controllers or register addresses.
	ErrNotFound = errors.New("modbus: not found")

	// ErrAlreadyExists is returned when adding a controller ID twice.
	ErrAlreadyExists = errors.New("modbus: controller already registered")

	// ErrAlreadyMonitoring is returned when a poll loop is already running.
	ErrAlreadyMonitoring = errors.New("modbus: controller already monitored")

	// ErrNotMonitoring is returned when stopping a controller with no poll loop.
	ErrNotMonitoring = errors.New("modbus: controller not monitored")

	// ErrOutOfRange is returned when a write falls outside a register's
	// configured minimum or maximum.
	ErrOutOfRange = errors.New("modbus: value outside configured range")

	// ErrMonitorClosed is returned when starting a poll loop after shutdown.
	ErrMonitorClosed = errors.New("modbus: monitor closed")

	// ErrInvalidConfig is returned when a controller configuration is unusable.
	ErrInvalidConfig = errors.New("modbus: invalid controller config")

	// ErrUnsupportedType is returned for data types outside int16/int32/float32.
	ErrUnsupportedType = errors.New("modbus: unsupported data type")
)
