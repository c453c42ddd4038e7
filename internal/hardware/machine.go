package hardware

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/catfeeder/internal/feeding"
	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
)

// Motor switches a motor output line.
type Motor struct {
	line OutputLine
}

// On starts the motor.
func (m *Motor) On() error { return m.line.SetValue(1) }

// Off stops the motor.
func (m *Motor) Off() error { return m.line.SetValue(0) }

// Close releases the line.
func (m *Motor) Close() error { return m.line.Close() }

// PositionSensor forwards falling edges of the motor position switch to
// the registered handler.
type PositionSensor struct {
	line InputLine

	mu      sync.Mutex
	handler func()
}

// SetHandler registers fn. A nil fn drops subsequent edges.
func (p *PositionSensor) SetHandler(fn func()) {
	p.mu.Lock()
	p.handler = fn
	p.mu.Unlock()
}

func (p *PositionSensor) edge(_ bool) {
	p.mu.Lock()
	fn := p.handler
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close releases the line.
func (p *PositionSensor) Close() error {
	if p.line == nil {
		return nil
	}
	return p.line.Close()
}

// FoodSensor drives the emitter and latches any edge on the receiver
// between Arm and the next Arm.
type FoodSensor struct {
	emitter  OutputLine
	receiver InputLine
	verify   bool
	seen     atomic.Bool
}

// Arm clears the latch and switches the emitter on.
func (f *FoodSensor) Arm() error {
	f.seen.Store(false)
	return f.emitter.SetValue(1)
}

// Disarm switches the emitter off.
func (f *FoodSensor) Disarm() error {
	return f.emitter.SetValue(0)
}

// Detected reports whether food passed since Arm. Without verification the
// sensor never vetoes a round.
func (f *FoodSensor) Detected() bool {
	if !f.verify {
		return true
	}
	return f.seen.Load()
}

func (f *FoodSensor) edge(_ bool) {
	f.seen.Store(true)
}

// Close releases both lines.
func (f *FoodSensor) Close() error {
	var errs []error
	if f.emitter != nil {
		errs = append(errs, f.emitter.Close())
	}
	if f.receiver != nil {
		errs = append(errs, f.receiver.Close())
	}
	return errors.Join(errs...)
}

// openMachine requests the lines for one machine. A machine without a
// motor sensor pin gets no position sensor and runs the simulated cycle.
// Lines already requested are released if a later request fails.
func openMachine(chip Chip, cfg config.MachineConfig) (hw feeding.Hardware, err error) {
	defer func() {
		if err != nil {
			hw.Close() //nolint:errcheck // best effort on the failure path
			hw = feeding.Hardware{}
		}
	}()

	if (cfg.FoodSensorOutPin == nil) != (cfg.FoodSensorInPin == nil) {
		return hw, ErrIncompleteFoodSensor
	}

	motorLine, err := chip.Output(cfg.MotorPin, 0)
	if err != nil {
		return hw, err
	}
	hw.Motor = &Motor{line: motorLine}

	if cfg.MotorSensorPin != nil {
		sensor := &PositionSensor{}
		line, err := chip.Watch(*cfg.MotorSensorPin, EdgeFalling, sensor.edge)
		if err != nil {
			return hw, err
		}
		sensor.line = line
		hw.Position = sensor
	}

	if cfg.FoodSensorOutPin != nil {
		food := &FoodSensor{verify: cfg.VerifyFood}
		if food.emitter, err = chip.Output(*cfg.FoodSensorOutPin, 0); err != nil {
			return hw, err
		}
		hw.Food = food
		if food.receiver, err = chip.Watch(*cfg.FoodSensorInPin, EdgeRising, food.edge); err != nil {
			return hw, err
		}
	}

	return hw, nil
}
