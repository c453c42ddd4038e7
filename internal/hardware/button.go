package hardware

import (
	"sync"
	"time"

	"github.com/nerrad567/catfeeder/internal/feeding"
)

// ButtonHandlers are called from the line's event goroutine.
type ButtonHandlers struct {
	// Pressed fires as soon as the button goes down.
	Pressed func()
	// Held fires once if the button stays down for the hold time.
	Held func()
}

// Button reports presses and holds of an active-low push button.
type Button struct {
	line     InputLine
	clock    feeding.Clock
	hold     time.Duration
	handlers ButtonHandlers

	mu      sync.Mutex
	down    bool
	holdTmr feeding.Timer
	holdSeq uint64
}

func newButton(clock feeding.Clock, hold time.Duration, h ButtonHandlers) *Button {
	return &Button{clock: clock, hold: hold, handlers: h}
}

func (b *Button) edge(rising bool) {
	if rising {
		b.release()
		return
	}
	b.press()
}

func (b *Button) press() {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return
	}
	b.down = true
	b.holdSeq++
	seq := b.holdSeq
	b.holdTmr = b.clock.AfterFunc(b.hold, func() { b.held(seq) })
	b.mu.Unlock()

	if b.handlers.Pressed != nil {
		b.handlers.Pressed()
	}
}

func (b *Button) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = false
	b.holdSeq++
	if b.holdTmr != nil {
		b.holdTmr.Stop()
		b.holdTmr = nil
	}
}

func (b *Button) held(seq uint64) {
	b.mu.Lock()
	fire := b.down && seq == b.holdSeq
	b.mu.Unlock()

	if fire && b.handlers.Held != nil {
		b.handlers.Held()
	}
}

// Close releases the line and cancels a pending hold.
func (b *Button) Close() error {
	b.release()
	if b.line == nil {
		return nil
	}
	return b.line.Close()
}
