package hardware

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "catfeeder"

// Edge selects which input transitions are reported.
type Edge int

// Edge selections.
const (
	EdgeFalling Edge = iota
	EdgeRising
	EdgeBoth
)

// OutputLine is a requested output.
type OutputLine interface {
	SetValue(value int) error
	Close() error
}

// InputLine is a requested input being watched for edges.
type InputLine interface {
	Close() error
}

// EdgeHandler receives input edges. rising is false for a falling edge.
type EdgeHandler func(rising bool)

// Chip requests lines. It is implemented by the gpiocdev chip and by fakes
// in tests.
type Chip interface {
	Output(offset, initial int) (OutputLine, error)
	Watch(offset int, edge Edge, handler EdgeHandler) (InputLine, error)
}

// gpioChip requests lines from a character device chip such as "gpiochip0".
type gpioChip struct {
	name     string
	debounce time.Duration
}

func (c gpioChip) Output(offset, initial int) (OutputLine, error) {
	line, err := gpiocdev.RequestLine(c.name, offset,
		gpiocdev.AsOutput(initial),
		gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("%w: output %s:%d: %w", ErrLineRequest, c.name, offset, err)
	}
	return line, nil
}

func (c gpioChip) Watch(offset int, edge Edge, handler EdgeHandler) (InputLine, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(evt.Type == gpiocdev.LineEventRisingEdge)
		}),
	}
	switch edge {
	case EdgeRising:
		opts = append(opts, gpiocdev.WithPullDown, gpiocdev.WithRisingEdge)
	case EdgeBoth:
		opts = append(opts, gpiocdev.WithPullUp, gpiocdev.WithBothEdges)
	default:
		opts = append(opts, gpiocdev.WithPullUp, gpiocdev.WithFallingEdge)
	}
	if c.debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(c.debounce))
	}

	line, err := gpiocdev.RequestLine(c.name, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: input %s:%d: %w", ErrLineRequest, c.name, offset, err)
	}
	return line, nil
}
