// Package schedule runs the daily feeding slots and the feeder's periodic
// housekeeping on a cron scheduler.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
)

// ErrInvalidClock is returned for a time of day that is not HH:MM.
var ErrInvalidClock = errors.New("schedule: time must be HH:MM")

// Slot is one configured feeding time.
type Slot struct {
	// Index is the 1-based position in the configured schedule.
	Index    int
	Time     string
	Portions int

	spec cron.Schedule
}

// Enabled reports whether the slot dispenses anything.
func (s Slot) Enabled() bool { return s.Portions > 0 }

// Logger is the logging interface used by the scheduler.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// cronLogger adapts Logger to cron's logger so panics in jobs are logged.
type cronLogger struct{ l Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Info("cron: "+msg, kv...) }
func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}

// Scheduler owns a cron instance in the feeder's time zone.
type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	logger Logger

	mu      sync.Mutex
	slots   []Slot
	feedIDs []cron.EntryID
}

// New creates a stopped scheduler. logger may be nil.
func New(loc *time.Location, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		loc:    loc,
		logger: logger,
	}
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return t.Hour(), t.Minute(), nil
}

func (s *Scheduler) daily(clock string) (cron.Schedule, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	spec, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, fmt.Errorf("building schedule for %s: %w", clock, err)
	}
	return spec, nil
}

// Load replaces the feeding slots. Every slot is kept for display, but
// only slots with portions get a cron entry. run is called from the cron
// goroutine at each slot's time. On error the previous slots stay active.
func (s *Scheduler) Load(entries []config.ScheduleEntry, run func(Slot)) error {
	slots := make([]Slot, 0, len(entries))
	for i, e := range entries {
		spec, err := s.daily(e.Time)
		if err != nil {
			return fmt.Errorf("slot %d: %w", i+1, err)
		}
		slots = append(slots, Slot{Index: i + 1, Time: e.Time, Portions: e.Portions, spec: spec})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.feedIDs {
		s.cron.Remove(id)
	}
	s.feedIDs = s.feedIDs[:0]
	s.slots = slots

	for _, slot := range slots {
		if !slot.Enabled() {
			s.logger.Info("feeding slot disabled", "slot", slot.Index, "time", slot.Time)
			continue
		}
		s.logger.Info("feeding scheduled", "slot", slot.Index, "time", slot.Time, "portions", slot.Portions)
		s.feedIDs = append(s.feedIDs, s.cron.Schedule(slot.spec, cron.FuncJob(func() { run(slot) })))
	}
	return nil
}

// Slots returns every configured slot, including disabled ones.
func (s *Scheduler) Slots() []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Slot(nil), s.slots...)
}

// Next returns the first enabled slot after now and when it runs.
// ok is false when no slot is enabled.
func (s *Scheduler) Next(now time.Time) (slot Slot, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, candidate := range s.slots {
		if !candidate.Enabled() {
			continue
		}
		t := candidate.spec.Next(now.In(s.loc))
		if !ok || t.Before(at) {
			slot, at, ok = candidate, t, true
		}
	}
	return slot, at, ok
}

// Every runs fn at a fixed interval (rounded to whole seconds by cron).
func (s *Scheduler) Every(interval time.Duration, fn func()) cron.EntryID {
	return s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
}

// Daily runs fn every day at clock ("HH:MM").
func (s *Scheduler) Daily(clock string, fn func()) (cron.EntryID, error) {
	spec, err := s.daily(clock)
	if err != nil {
		return 0, err
	}
	return s.cron.Schedule(spec, cron.FuncJob(fn)), nil
}

// Remove drops an entry added with Every or Daily.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done once running
// jobs have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Location returns the scheduler's time zone.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}
