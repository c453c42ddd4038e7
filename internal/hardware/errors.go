package hardware

import "errors"

var (
	// ErrLineRequest is returned when a GPIO line cannot be requested.
	ErrLineRequest = errors.New("hardware: line request failed")

	// ErrIncompleteFoodSensor is returned when only one food sensor pin is set.
	ErrIncompleteFoodSensor = errors.New("hardware: food sensor needs both out and in pins")
)
