package plc

import "errors"

// Domain errors for the plc package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, plc.ErrControllerNotFound) {
//	    // handle not found case
//	}
var (
	// ErrControllerNotFound is returned when a controller ID does not exist.
	ErrControllerNotFound = errors.New("plc: controller not found")

	// ErrControllerExists is returned when a controller name is already taken.
	ErrControllerExists = errors.New("plc: controller name already exists")

	// ErrInvalidController is returned when controller validation fails.
	ErrInvalidController = errors.New("plc: invalid controller")

	// ErrRegisterNotFound is returned when a register ID does not exist on a controller.
	ErrRegisterNotFound = errors.New("plc: register not found")

	// ErrRegisterExists is returned when creating a register with an existing ID.
	ErrRegisterExists = errors.New("plc: register already exists")

	// ErrInvalidRegister is returned when register validation fails.
	ErrInvalidRegister = errors.New("plc: invalid register")

	// ErrRegisterOverlap is returned when a monitored register shares a word
	// with another monitored register on the same controller.
	ErrRegisterOverlap = errors.New("plc: register overlaps an existing monitored register")
)
