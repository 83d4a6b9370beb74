package plc

import (
	"time"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
)

// Defaults applied to new controllers and registers.
const (
	DefaultPort          = 502
	DefaultUnitID        = 1
	DefaultScalingFactor = 1.0
)

// Controller is a PLC reachable over Modbus TCP, or a simulated stand-in.
type Controller struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	UnitID      int        `json:"unit_id"`
	Description string     `json:"description,omitempty"`
	Simulated   bool       `json:"simulated"`
	IsConnected bool       `json:"is_connected"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Register is a named holding register (or register pair) on a controller.
//
// Values read from the device are multiplied by ScalingFactor; written
// values are divided by it before encoding.
type Register struct {
	ID            string          `json:"id"`
	ControllerID  string          `json:"controller_id"`
	Name          string          `json:"name"`
	Address       int             `json:"address"`
	DataType      modbus.DataType `json:"data_type"`
	ScalingFactor float64         `json:"scaling_factor"`
	Unit          string          `json:"unit,omitempty"`
	Description   string          `json:"description,omitempty"`
	Monitored     bool            `json:"monitored"`
	Min           *float64        `json:"min_value,omitempty"`
	Max           *float64        `json:"max_value,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Width returns the number of 16-bit words the register occupies.
func (r *Register) Width() int {
	return int(r.DataType.Width())
}

// End returns the address of the register's last word.
func (r *Register) End() int {
	return r.Address + r.Width() - 1
}

// Overlaps reports whether r and other share at least one word.
func (r *Register) Overlaps(other *Register) bool {
	return r.Address <= other.End() && other.Address <= r.End()
}

// Definition converts the register to the engine's view of it.
func (r *Register) Definition() modbus.RegisterDefinition {
	return modbus.RegisterDefinition{
		ID:            r.ID,
		Name:          r.Name,
		Unit:          r.Unit,
		Address:       uint16(r.Address), //nolint:gosec // validated to 0-65535
		DataType:      r.DataType,
		ScalingFactor: r.ScalingFactor,
		Min:           r.Min,
		Max:           r.Max,
		Monitored:     r.Monitored,
	}
}
