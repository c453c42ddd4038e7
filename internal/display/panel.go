package display

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
)

// ScheduleSlots is the number of schedule slots the panel shows.
const ScheduleSlots = 6

// Slot flags in a schedule frame.
const (
	slotDisabled = 16
	slotEnabled  = 17
)

// manualFeedPattern is the touch sequence that requests a manual feed.
var manualFeedPattern = []byte{0, 1, 0, 1, 0, 1}

// Host supplies what the panel shows and receives what it requests.
type Host interface {
	ManualFeed()
	Schedule() []config.ScheduleEntry
}

// Logger is the logging interface used by the panel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures a Panel.
type Option func(*Panel)

// WithLogger sets the panel's logger.
func WithLogger(l Logger) Option {
	return func(p *Panel) { p.logger = l }
}

// WithNow replaces the time source for clock frames.
func WithNow(now func() time.Time) Option {
	return func(p *Panel) { p.now = now }
}

// WithReplyDelay sets the pause before answers the panel needs time for.
func WithReplyDelay(d time.Duration) Option {
	return func(p *Panel) { p.replyDelay = d }
}

// Panel is a connected touch panel.
type Panel struct {
	port       io.ReadWriteCloser
	host       Host
	logger     Logger
	now        func() time.Time
	replyDelay time.Duration

	writeMu sync.Mutex
	pending sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens the serial port named in cfg at 8N1.
func Open(cfg config.DisplayConfig, host Host, opts ...Option) (*Panel, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotOpen, cfg.Port, err)
	}
	opts = append([]Option{WithReplyDelay(cfg.ReplyDelay)}, opts...)
	return New(port, host, opts...), nil
}

// New wraps an already open port.
func New(port io.ReadWriteCloser, host Host, opts ...Option) *Panel {
	p := &Panel{
		port:       port,
		host:       host,
		logger:     noopLogger{},
		now:        time.Now,
		replyDelay: time.Second,
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Install sends status, clock and schedule, as after power-up.
func (p *Panel) Install() error {
	return errors.Join(p.SendStatus(), p.SendTime(), p.SendSchedule(p.host.Schedule()))
}

// SendStatus sends a status frame.
func (p *Panel) SendStatus() error {
	return p.send(MethodStatus, 0)
}

// SendTime sends the current wall clock.
func (p *Panel) SendTime() error {
	now := p.now()
	return p.send(MethodTime, 0, 0, 0, byte(now.Hour()), byte(now.Minute()), byte(now.Second()))
}

// SendFeedingDone tells the panel a feeding finished. slot is the 1-based
// schedule slot, or 0 for an unscheduled feeding. Slots the panel cannot
// show are sent as 0.
func (p *Panel) SendFeedingDone(slot int) error {
	if slot < 0 || slot > ScheduleSlots {
		slot = 0
	}
	return p.send(MethodFeedingDone, byte(slot))
}

// SendSchedule sends a header, one frame per panel slot and a trailer.
// Entries beyond the panel's slots are not shown.
func (p *Panel) SendSchedule(entries []config.ScheduleEntry) error {
	blank := make([]byte, 7)
	if err := p.send(MethodSchedule, blank...); err != nil {
		return err
	}
	for i := 1; i <= ScheduleSlots; i++ {
		data := []byte{0, 0, 0, 0, slotDisabled, byte(i), 1}
		if i <= len(entries) {
			e := entries[i-1]
			t, err := time.Parse("15:04", e.Time)
			if err != nil {
				return fmt.Errorf("slot %d time %q: %w", i, e.Time, err)
			}
			portions := min(max(e.Portions, 0), 255)
			data[0], data[1], data[2] = byte(t.Hour()), byte(t.Minute()), byte(portions)
			if portions > 0 {
				data[4] = slotEnabled
			}
		}
		if err := p.send(MethodSchedule, data...); err != nil {
			return err
		}
	}
	return p.send(MethodSchedule, blank...)
}

func (p *Panel) send(m Method, data ...byte) error {
	frame := encode(Frame{Method: m, Data: data})
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.port.Write(frame); err != nil {
		return fmt.Errorf("writing display frame %d: %w", m, err)
	}
	return nil
}

// Listen reads frames until ctx is cancelled or the panel is closed.
func (p *Panel) Listen(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { p.Close() }) //nolint:errcheck // shutdown path
	defer stop()

	r := bufio.NewReader(p.port)
	for {
		f, err := ReadFrame(r)
		switch {
		case err == nil:
			p.handle(f)
		case errors.Is(err, ErrChecksum):
			p.logger.Warn("display frame dropped", "error", err)
		case p.isClosed(), errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("reading display: %w", err)
		}
	}
}

// handle reacts to one inbound frame.
func (p *Panel) handle(f Frame) {
	p.logger.Debug("display frame received", "method", int(f.Method), "data", f.Data)

	switch f.Method {
	case MethodTouch:
		if len(f.Data) < 2 {
			return
		}
		p.reply(MethodTouch, ack)
		switch {
		case bytes.Equal(f.Data[1:], manualFeedPattern):
			p.logger.Info("manual feeding requested from display")
			p.host.ManualFeed()
		case f.Data[0] <= 24 && len(f.Data) > 5 && f.Data[5] == ScheduleSlots:
			p.later(func() error { return p.SendSchedule(p.host.Schedule()) })
		}
	case MethodSchedule:
		if err := p.SendSchedule(p.host.Schedule()); err != nil {
			p.logger.Warn("display schedule not sent", "error", err)
		}
	case MethodStatus:
		if err := p.SendStatus(); err != nil {
			p.logger.Warn("display status not sent", "error", err)
		}
	case MethodSync:
		p.reply(MethodSync, ack)
		p.later(p.SendTime)
	case MethodTime:
		if len(f.Data) > 0 && f.Data[0] == 0xFF {
			if err := p.SendTime(); err != nil {
				p.logger.Warn("display time not sent", "error", err)
			}
		}
	case MethodSound:
		p.logger.Debug("display touch sound")
	case MethodRecord:
		if len(f.Data) > 0 {
			switch f.Data[0] {
			case 0xFF:
				p.logger.Debug("display recording started")
			case 0:
				p.logger.Debug("display recording stopped")
			}
		}
	case MethodPlayback:
		p.logger.Debug("display playback requested")
	default:
		p.logger.Warn("unknown display frame", "method", int(f.Method), "data", f.Data)
	}
}

// reply sends an acknowledgement.
func (p *Panel) reply(m Method, data ...byte) {
	if err := p.send(m, data...); err != nil {
		p.logger.Warn("display ack not sent", "method", int(m), "error", err)
	}
}

// later runs fn after the reply delay unless the panel closes first.
func (p *Panel) later(fn func() error) {
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		t := time.NewTimer(p.replyDelay)
		defer t.Stop()
		select {
		case <-t.C:
			if err := fn(); err != nil {
				p.logger.Warn("delayed display reply failed", "error", err)
			}
		case <-p.closed:
		}
	}()
}

func (p *Panel) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Close cancels pending replies and closes the port.
func (p *Panel) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.port.Close()
		p.pending.Wait()
	})
	return err
}
