package plc

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
)

func validController() *Controller {
	return &Controller{
		Name:   "Boiler House",
		Host:   "10.0.0.20",
		Port:   DefaultPort,
		UnitID: DefaultUnitID,
	}
}

func TestValidateController(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Controller)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Controller) {}},
		{name: "host name", mutate: func(c *Controller) { c.Host = "plc-01.plant.local" }},
		{name: "ipv6 host", mutate: func(c *Controller) { c.Host = "::1" }},
		{name: "unit id zero", mutate: func(c *Controller) { c.UnitID = 0 }},
		{name: "simulated without host", mutate: func(c *Controller) { c.Simulated = true; c.Host = "" }},
		{name: "empty name", mutate: func(c *Controller) { c.Name = "  " }, wantErr: true},
		{name: "long name", mutate: func(c *Controller) { c.Name = strings.Repeat("x", 101) }, wantErr: true},
		{name: "long description", mutate: func(c *Controller) { c.Description = strings.Repeat("d", 201) }, wantErr: true},
		{name: "missing host", mutate: func(c *Controller) { c.Host = "" }, wantErr: true},
		{name: "invalid host", mutate: func(c *Controller) { c.Host = "bad host!" }, wantErr: true},
		{name: "port zero", mutate: func(c *Controller) { c.Port = 0 }, wantErr: true},
		{name: "port too large", mutate: func(c *Controller) { c.Port = 70000 }, wantErr: true},
		{name: "unit id too large", mutate: func(c *Controller) { c.UnitID = 248 }, wantErr: true},
		{name: "negative unit id", mutate: func(c *Controller) { c.UnitID = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validController()
			tt.mutate(c)

			err := ValidateController(c)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidController) {
					t.Errorf("ValidateController() error = %v, want ErrInvalidController", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateController() unexpected error: %v", err)
			}
		})
	}

	if err := ValidateController(nil); !errors.Is(err, ErrInvalidController) {
		t.Errorf("ValidateController(nil) = %v, want ErrInvalidController", err)
	}
}

func validRegister() *Register {
	return &Register{
		ControllerID:  "plc-1",
		Name:          "Supply Temperature",
		Address:       10,
		DataType:      modbus.Float32,
		ScalingFactor: 1,
		Unit:          "°C",
		Monitored:     true,
	}
}

func TestValidateRegister(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Register)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Register) {}},
		{name: "int16 at last address", mutate: func(r *Register) { r.DataType = modbus.Int16; r.Address = 65535 }},
		{name: "negative scaling", mutate: func(r *Register) { r.ScalingFactor = -0.1 }},
		{name: "equal bounds", mutate: func(r *Register) { r.Min = floatPtr(5); r.Max = floatPtr(5) }},
		{name: "empty name", mutate: func(r *Register) { r.Name = "" }, wantErr: true},
		{name: "long unit", mutate: func(r *Register) { r.Unit = strings.Repeat("u", 21) }, wantErr: true},
		{name: "unsupported type", mutate: func(r *Register) { r.DataType = "bool" }, wantErr: true},
		{name: "negative address", mutate: func(r *Register) { r.Address = -1 }, wantErr: true},
		{name: "float32 past address space", mutate: func(r *Register) { r.Address = 65535 }, wantErr: true},
		{name: "zero scaling", mutate: func(r *Register) { r.ScalingFactor = 0 }, wantErr: true},
		{name: "NaN scaling", mutate: func(r *Register) { r.ScalingFactor = math.NaN() }, wantErr: true},
		{name: "infinite scaling", mutate: func(r *Register) { r.ScalingFactor = math.Inf(1) }, wantErr: true},
		{name: "min above max", mutate: func(r *Register) { r.Min = floatPtr(10); r.Max = floatPtr(1) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRegister()
			tt.mutate(r)

			err := ValidateRegister(r)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRegister) {
					t.Errorf("ValidateRegister() error = %v, want ErrInvalidRegister", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateRegister() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateRegister_NormalisesDataType(t *testing.T) {
	r := validRegister()
	r.DataType = "FLOAT"

	if err := ValidateRegister(r); err != nil {
		t.Fatalf("ValidateRegister() error = %v", err)
	}
	if r.DataType != modbus.Float32 {
		t.Errorf("DataType = %q, want %q", r.DataType, modbus.Float32)
	}
}

func TestValidateRegister_UnsupportedTypeIsMatchable(t *testing.T) {
	r := validRegister()
	r.DataType = "string"

	err := ValidateRegister(r)
	if !errors.Is(err, modbus.ErrUnsupportedType) {
		t.Errorf("ValidateRegister() error = %v, want wrapped ErrUnsupportedType", err)
	}
}

func TestCheckOverlap(t *testing.T) {
	existing := []Register{
		{ID: "reg-a", Name: "Flow", Address: 0, DataType: modbus.Float32, Monitored: true},
		{ID: "reg-b", Name: "Status", Address: 2, DataType: modbus.Int16, Monitored: true},
		{ID: "reg-c", Name: "Spare", Address: 10, DataType: modbus.Int32, Monitored: false},
	}

	tests := []struct {
		name      string
		candidate Register
		wantErr   bool
	}{
		{
			name:      "adjacent after",
			candidate: Register{ID: "new", Name: "Counter", Address: 3, DataType: modbus.Int32, Monitored: true},
		},
		{
			name:      "second word of float",
			candidate: Register{ID: "new", Name: "Half", Address: 1, DataType: modbus.Int16, Monitored: true},
			wantErr:   true,
		},
		{
			name:      "spans two registers",
			candidate: Register{ID: "new", Name: "Wide", Address: 1, DataType: modbus.Float32, Monitored: true},
			wantErr:   true,
		},
		{
			name:      "unmonitored existing ignored",
			candidate: Register{ID: "new", Name: "Reuse", Address: 11, DataType: modbus.Int16, Monitored: true},
		},
		{
			name:      "unmonitored candidate ignored",
			candidate: Register{ID: "new", Name: "Alias", Address: 0, DataType: modbus.Int16, Monitored: false},
		},
		{
			name:      "own id skipped",
			candidate: Register{ID: "reg-a", Name: "Flow", Address: 0, DataType: modbus.Float32, Monitored: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckOverlap(existing, &tt.candidate)
			if tt.wantErr && !errors.Is(err, ErrRegisterOverlap) {
				t.Errorf("CheckOverlap() error = %v, want ErrRegisterOverlap", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("CheckOverlap() unexpected error: %v", err)
			}
		})
	}
}

func TestRegister_Span(t *testing.T) {
	r := Register{Address: 100, DataType: modbus.Int32}
	if r.Width() != 2 {
		t.Errorf("Width() = %d, want 2", r.Width())
	}
	if r.End() != 101 {
		t.Errorf("End() = %d, want 101", r.End())
	}

	def := r.Definition()
	if def.Address != 100 || def.DataType != modbus.Int32 {
		t.Errorf("Definition() = %+v", def)
	}
}
