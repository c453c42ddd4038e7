package feeding

import (
	"errors"
	"fmt"
)

// Sentinel errors for the feeding engine.
var (
	// ErrMotorBlocked matches a MachineError raised by the motor watchdog.
	ErrMotorBlocked = errors.New("feeding: motor blocked")

	// ErrDispenserEmpty matches a MachineError raised after too many empty rounds.
	ErrDispenserEmpty = errors.New("feeding: dispenser empty")

	// ErrMachineFault matches any other MachineError.
	ErrMachineFault = errors.New("feeding: machine fault")

	// ErrInvalidPortions is returned when a job is created with fewer than one portion.
	ErrInvalidPortions = errors.New("feeding: portions must be at least 1")

	// ErrJobStarted is returned when Feed is called twice on the same job.
	ErrJobStarted = errors.New("feeding: job already started")

	// ErrMachineClosed is returned by operations on a closed machine.
	ErrMachineClosed = errors.New("feeding: machine closed")
)

// ErrorCode is the short machine-readable failure code reported to
// collaborators.
type ErrorCode string

// Failure codes.
const (
	CodeBlocked ErrorCode = "blocked"
	CodeEmpty   ErrorCode = "empty"
	CodeError   ErrorCode = "error"
)

// MachineError describes why a machine's sequence failed.
type MachineError struct {
	Machine    string
	RoundsLeft int
	Message    string
	Code       ErrorCode

	// Err is the underlying hardware error, if any.
	Err error
}

func (e *MachineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("machine %s: %s (%d rounds left): %v", e.Machine, e.Message, e.RoundsLeft, e.Err)
	}
	return fmt.Sprintf("machine %s: %s (%d rounds left)", e.Machine, e.Message, e.RoundsLeft)
}

// Unwrap returns the underlying hardware error.
func (e *MachineError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's code.
func (e *MachineError) Is(target error) bool {
	switch target {
	case ErrMotorBlocked:
		return e.Code == CodeBlocked
	case ErrDispenserEmpty:
		return e.Code == CodeEmpty
	case ErrMachineFault:
		return e.Code == CodeError
	}
	return false
}
