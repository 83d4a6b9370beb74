package plc

import (
	"fmt"
	"math"
	"net"
	"regexp"
	"strings"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
)

// Validation constants.
const (
	maxNameLength        = 100
	maxDescriptionLength = 200
	maxUnitLength        = 20
	maxHostLength        = 253
	maxPort              = 65535
	maxUnitID            = 247
	maxAddress           = 65535
)

// hostnamePattern accepts RFC 1123 host names.
var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// ValidateController checks a controller before it is stored.
// Defaults (port 502, unit 1) must already be applied.
func ValidateController(c *Controller) error {
	if c == nil {
		return ErrInvalidController
	}

	if err := validateText("name", c.Name, maxNameLength, true); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidController, err)
	}
	if err := validateText("description", c.Description, maxDescriptionLength, false); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidController, err)
	}

	// Simulated controllers never dial out, so the host is informational.
	if !c.Simulated || c.Host != "" {
		if err := ValidateHost(c.Host); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidController, err)
		}
	}

	if c.Port < 1 || c.Port > maxPort {
		return fmt.Errorf("%w: port must be between 1 and %d", ErrInvalidController, maxPort)
	}
	if c.UnitID < 0 || c.UnitID > maxUnitID {
		return fmt.Errorf("%w: unit_id must be between 0 and %d", ErrInvalidController, maxUnitID)
	}

	return nil
}

// ValidateHost accepts an IPv4/IPv6 address or a DNS host name.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host is required")
	}
	if len(host) > maxHostLength {
		return fmt.Errorf("host exceeds %d characters", maxHostLength)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("host %q is not a valid address or host name", host)
	}
	return nil
}

// ValidateRegister checks a register definition on its own. Overlap with
// other registers is checked separately by CheckOverlap.
func ValidateRegister(r *Register) error {
	if r == nil {
		return ErrInvalidRegister
	}

	if err := validateText("name", r.Name, maxNameLength, true); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegister, err)
	}
	if err := validateText("unit", r.Unit, maxUnitLength, false); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegister, err)
	}
	if err := validateText("description", r.Description, maxDescriptionLength, false); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegister, err)
	}

	dt, err := modbus.ParseDataType(string(r.DataType))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegister, err)
	}
	r.DataType = dt

	if r.Address < 0 || r.End() > maxAddress {
		return fmt.Errorf("%w: %s register at %d does not fit in the address space", ErrInvalidRegister, dt, r.Address)
	}

	if r.ScalingFactor == 0 || math.IsNaN(r.ScalingFactor) || math.IsInf(r.ScalingFactor, 0) {
		return fmt.Errorf("%w: scaling_factor must be a finite non-zero number", ErrInvalidRegister)
	}

	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("%w: min_value %v is greater than max_value %v", ErrInvalidRegister, *r.Min, *r.Max)
	}

	return nil
}

// CheckOverlap rejects a monitored candidate that shares a word with any
// other monitored register in existing. The candidate's own ID is skipped
// so updates can be checked against the stored set.
func CheckOverlap(existing []Register, candidate *Register) error {
	if !candidate.Monitored {
		return nil
	}
	for i := range existing {
		other := &existing[i]
		if other.ID == candidate.ID || !other.Monitored {
			continue
		}
		if candidate.Overlaps(other) {
			return fmt.Errorf("%w: %q (%d-%d) overlaps %q (%d-%d)", ErrRegisterOverlap,
				candidate.Name, candidate.Address, candidate.End(),
				other.Name, other.Address, other.End())
		}
	}
	return nil
}

func validateText(field, value string, maxLen int, required bool) error {
	trimmed := strings.TrimSpace(value)
	if required && trimmed == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds %d characters", field, maxLen)
	}
	return nil
}
