package hardware

import (
	"sync"
	"time"
)

// Light is a status indicator.
type Light interface {
	On()
	Off()
	// Blink toggles the light n times (n <= 0 blinks until the next call).
	Blink(on, off time.Duration, n int)
	Close() error
}

// LED drives a status LED on an output line. Each call replaces any
// pattern still running.
type LED struct {
	line   OutputLine
	logger Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func newLED(line OutputLine, logger Logger) *LED {
	return &LED{line: line, logger: logger}
}

// On lights the LED.
func (l *LED) On() {
	l.cancelBlink()
	l.set(1)
}

// Off turns the LED off.
func (l *LED) Off() {
	l.cancelBlink()
	l.set(0)
}

// Blink starts a blink pattern and returns immediately. The LED is left
// off when the pattern ends.
func (l *LED) Blink(on, off time.Duration, n int) {
	l.cancelBlink()

	stop := make(chan struct{})
	done := make(chan struct{})
	l.mu.Lock()
	l.stop, l.done = stop, done
	l.mu.Unlock()

	go func() {
		defer close(done)
		defer l.set(0)
		for i := 0; n <= 0 || i < n; i++ {
			l.set(1)
			if !sleep(on, stop) {
				return
			}
			l.set(0)
			if !sleep(off, stop) {
				return
			}
		}
	}()
}

// Close stops any pattern and releases the line.
func (l *LED) Close() error {
	l.Off()
	return l.line.Close()
}

func (l *LED) cancelBlink() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// wait blocks until the current pattern, if any, has ended.
func (l *LED) wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (l *LED) set(v int) {
	if err := l.line.SetValue(v); err != nil {
		l.logger.Warn("status led write failed", "error", err)
	}
}

func sleep(d time.Duration, stop <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}

// logLight stands in for a missing LED.
type logLight struct {
	logger Logger
}

func (l logLight) On()  { l.logger.Debug("status light on") }
func (l logLight) Off() { l.logger.Debug("status light off") }
func (l logLight) Blink(on, off time.Duration, n int) {
	l.logger.Debug("status light blink", "on", on, "off", off, "count", n)
}
func (logLight) Close() error { return nil }
