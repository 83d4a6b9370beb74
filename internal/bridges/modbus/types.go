package modbus

import (
	"context"
	"fmt"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ControllerConfig describes how to reach one controller.
type ControllerConfig struct {
	// ID is the catalogue identifier of the controller.
	ID string

	// Host and Port locate the Modbus TCP endpoint. Ignored when Simulated.
	Host string
	Port int

	// UnitID is the Modbus unit identifier (0-247).
	UnitID byte

	// Simulated selects the in-process SimulatedDevice backend.
	Simulated bool

	// SimRegisters seeds the simulated device. Nil uses
	// DefaultSimulatedRegisters.
	SimRegisters []SimulatedRegister
}

// RegisterDefinition is a named, typed, scaled register the engine can
// read and write.
type RegisterDefinition struct {
	ID            string
	Name          string
	Unit          string
	Address       uint16
	DataType      DataType
	ScalingFactor float64
	Min           *float64
	Max           *float64
	Monitored     bool
}

// Scale returns the scaling factor, treating an unset factor as 1.
func (d RegisterDefinition) Scale() float64 {
	if d.ScalingFactor == 0 {
		return 1
	}
	return d.ScalingFactor
}

// CheckBounds reports whether value lies within the definition's
// configured Min and Max. Unset bounds are not checked.
func (d RegisterDefinition) CheckBounds(value float64) error {
	if d.Min != nil && value < *d.Min {
		return fmt.Errorf("%w: %v is below minimum %v", ErrOutOfRange, value, *d.Min)
	}
	if d.Max != nil && value > *d.Max {
		return fmt.Errorf("%w: %v is above maximum %v", ErrOutOfRange, value, *d.Max)
	}
	return nil
}

// ConnectionState is the last observed state of a controller's link.
type ConnectionState string

// Connection states reported by Registry.Status.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// LinkStatus is a point-in-time view of a controller's link.
type LinkStatus struct {
	ControllerID string          `json:"controller_id"`
	Connected    bool            `json:"connected"`
	Simulated    bool            `json:"simulated"`
	Host         string          `json:"host,omitempty"`
	Port         int             `json:"port,omitempty"`
	UnitID       byte            `json:"unit_id"`
	State        ConnectionState `json:"state"`
}

// ConfigSource supplies controller and register definitions to the engine.
// The plc catalogue service implements it.
type ConfigSource interface {
	// MonitoredRegisters returns the registers to poll for a controller,
	// in display order.
	MonitoredRegisters(ctx context.Context, controllerID string) ([]RegisterDefinition, error)

	// ControllerConnection returns the connection settings for a controller.
	ControllerConnection(ctx context.Context, controllerID string) (ControllerConfig, error)

	// Register returns a single register definition.
	Register(ctx context.Context, controllerID, registerID string) (RegisterDefinition, error)
}
