package hardware

import (
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/catfeeder/internal/feeding"
	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
)

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Provider opens the hardware for machines and the front panel controls.
type Provider interface {
	// OpenMachine requests the lines described by cfg.
	OpenMachine(cfg config.MachineConfig) (feeding.Hardware, error)

	// OpenLight returns the status light on pin. A nil pin yields a light
	// that only logs.
	OpenLight(pin *int) (Light, error)

	// OpenButton watches the manual feed button on pin. A nil pin yields a
	// no-op closer.
	OpenButton(pin *int, hold time.Duration, h ButtonHandlers) (io.Closer, error)
}

// Option configures a provider.
type Option func(*options)

type options struct {
	logger Logger
	clock  feeding.Clock
}

// WithLogger sets the provider's logger.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the clock used for button hold detection.
func WithClock(c feeding.Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{logger: noopLogger{}, clock: feeding.SystemClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ─── GPIO ──────────────────────────────────────────────────────────

// GPIO opens lines on a GPIO character device chip.
type GPIO struct {
	chip Chip
	opts options
}

// NewGPIO creates a provider for the chip named in cfg.
func NewGPIO(cfg config.HardwareConfig, opts ...Option) *GPIO {
	return newGPIOWithChip(gpioChip{name: cfg.Chip, debounce: cfg.Debounce}, opts...)
}

func newGPIOWithChip(chip Chip, opts ...Option) *GPIO {
	return &GPIO{chip: chip, opts: buildOptions(opts)}
}

// OpenMachine implements Provider.
func (g *GPIO) OpenMachine(cfg config.MachineConfig) (feeding.Hardware, error) {
	hw, err := openMachine(g.chip, cfg)
	if err != nil {
		return feeding.Hardware{}, fmt.Errorf("machine %s: %w", cfg.Name, err)
	}
	return hw, nil
}

// OpenLight implements Provider.
func (g *GPIO) OpenLight(pin *int) (Light, error) {
	if pin == nil {
		return logLight{logger: g.opts.logger}, nil
	}
	line, err := g.chip.Output(*pin, 0)
	if err != nil {
		return nil, fmt.Errorf("status led: %w", err)
	}
	return newLED(line, g.opts.logger), nil
}

// OpenButton implements Provider.
func (g *GPIO) OpenButton(pin *int, hold time.Duration, h ButtonHandlers) (io.Closer, error) {
	if pin == nil {
		return nopCloser{}, nil
	}
	button := newButton(g.opts.clock, hold, h)
	line, err := g.chip.Watch(*pin, EdgeBoth, button.edge)
	if err != nil {
		return nil, fmt.Errorf("manual button: %w", err)
	}
	button.line = line
	return button, nil
}

// ─── Simulated ─────────────────────────────────────────────────────

// Simulated is a provider with no hardware at all.
type Simulated struct {
	opts options
}

// NewSimulated creates the simulated provider.
func NewSimulated(opts ...Option) *Simulated {
	return &Simulated{opts: buildOptions(opts)}
}

// OpenMachine returns empty hardware, so the machine runs the simulated
// motor cycle.
func (s *Simulated) OpenMachine(cfg config.MachineConfig) (feeding.Hardware, error) {
	s.opts.logger.Debug("simulated machine opened", "machine", cfg.Name)
	return feeding.Hardware{}, nil
}

// OpenLight returns a log-only light.
func (s *Simulated) OpenLight(_ *int) (Light, error) {
	return logLight{logger: s.opts.logger}, nil
}

// OpenButton returns a no-op closer.
func (s *Simulated) OpenButton(_ *int, _ time.Duration, _ ButtonHandlers) (io.Closer, error) {
	return nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns the provider selected by cfg.Driver.
func New(cfg config.HardwareConfig, opts ...Option) Provider {
	if cfg.Driver == "simulated" {
		return NewSimulated(opts...)
	}
	return NewGPIO(cfg, opts...)
}
