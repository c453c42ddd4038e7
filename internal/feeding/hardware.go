package feeding

import (
	"errors"
	"io"
)

// Actuator is an output that can be switched on and off, such as the motor.
type Actuator interface {
	On() error
	Off() error
}

// PositionSensor reports the end of a motor cycle. The handler is called
// from the sensor's own goroutine; passing nil removes it.
type PositionSensor interface {
	SetHandler(fn func())
}

// FoodSensor is the optional food-presence sensor pair. Arm starts the
// emitter for a round, Disarm stops it, and Detected reports whether the
// receiver saw food pass since the last Arm.
type FoodSensor interface {
	Arm() error
	Disarm() error
	Detected() bool
}

// Hardware groups the handles owned by one machine. Any part may be nil:
// without a Motor the cycle is driven by time only, without a Position
// sensor a simulated cycle timer stands in, and without a Food sensor every
// round is assumed to dispense.
type Hardware struct {
	Motor    Actuator
	Position PositionSensor
	Food     FoodSensor
}

// Close releases every part that implements io.Closer.
func (h Hardware) Close() error {
	var errs []error
	for _, part := range []any{h.Motor, h.Position, h.Food} {
		if c, ok := part.(io.Closer); ok && c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
