package feeding

import (
	"sync"
	"time"
)

// ─── Manual clock ──────────────────────────────────────────────────

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves the clock forward, firing due timers one at a time in
// deadline order. settle is called after each timer so the receiver can
// process it before the next one is considered.
func (c *fakeClock) Advance(d time.Duration, settle func()) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()

		next.f()
		if settle != nil {
			settle()
		}
	}
}

// FireCancelled invokes the callbacks of every stopped timer, as if they
// had raced with their cancellation.
func (c *fakeClock) FireCancelled(settle func()) int {
	c.mu.Lock()
	var stale []*fakeTimer
	for _, t := range c.timers {
		if t.stopped && !t.fired {
			stale = append(stale, t)
		}
	}
	c.mu.Unlock()

	for _, t := range stale {
		t.f()
		if settle != nil {
			settle()
		}
	}
	return len(stale)
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ─── Hardware ──────────────────────────────────────────────────────

type fakeMotor struct {
	mu     sync.Mutex
	ons    int
	offs   int
	closed int
	onErr  error
}

func (m *fakeMotor) On() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onErr != nil {
		return m.onErr
	}
	m.ons++
	return nil
}

func (m *fakeMotor) Off() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offs++
	return nil
}

func (m *fakeMotor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMotor) counts() (ons, offs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ons, m.offs
}

type fakePosition struct {
	mu      sync.Mutex
	handler func()
}

func (p *fakePosition) SetHandler(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
}

func (p *fakePosition) Pulse() {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

type fakeFood struct {
	mu       sync.Mutex
	arms     int
	disarms  int
	detected bool
}

func (f *fakeFood) Arm() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arms++
	return nil
}

func (f *fakeFood) Disarm() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarms++
	return nil
}

func (f *fakeFood) Detected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detected
}

func (f *fakeFood) armCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.arms
}

// ─── Observers ─────────────────────────────────────────────────────

type sequenceRecorder struct {
	mu        sync.Mutex
	failed    []*MachineError
	succeeded int
	finished  int
}

func (r *sequenceRecorder) SequenceFailed(err *MachineError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *sequenceRecorder) SequenceSucceeded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded++
}

func (r *sequenceRecorder) SequenceFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
}

func (r *sequenceRecorder) snapshot() (failed []*MachineError, succeeded, finished int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*MachineError(nil), r.failed...), r.succeeded, r.finished
}

// fakeRunner is a SequenceRunner whose outcome is driven by the test.
type fakeRunner struct {
	name   string
	refuse bool

	mu     sync.Mutex
	calls  int
	rounds int
	obs    SequenceObserver
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) RunSequence(rounds int, obs SequenceObserver) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.refuse {
		return false
	}
	r.rounds = rounds
	r.obs = obs
	return true
}

func (r *fakeRunner) observer() SequenceObserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.obs
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRunner) succeed() {
	obs := r.observer()
	obs.SequenceSucceeded()
	obs.SequenceFinished()
}

func (r *fakeRunner) fail(code ErrorCode, roundsLeft int) {
	obs := r.observer()
	obs.SequenceFailed(&MachineError{Machine: r.name, RoundsLeft: roundsLeft, Message: "test failure", Code: code})
	obs.SequenceFinished()
}
