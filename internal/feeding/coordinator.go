package feeding

import (
	"fmt"
	"sync"
	"time"
)

// Status is the outcome reported for the most recent job.
type Status string

// Job statuses.
const (
	StatusNone       Status = ""
	StatusRunning    Status = "running"
	StatusSuccessful Status = "successful"
	StatusBlocked    Status = "blocked"
	StatusEmpty      Status = "empty"
	StatusError      Status = "error"
)

// StatusFor maps a failure code to the job status it produces.
func StatusFor(code ErrorCode) Status {
	switch code {
	case CodeBlocked:
		return StatusBlocked
	case CodeEmpty:
		return StatusEmpty
	default:
		return StatusError
	}
}

// Summary describes the most recent job. It is kept after the job clears.
type Summary struct {
	JobID      string
	Trigger    Trigger
	Slot       string
	SlotIndex  int
	Portions   int
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
}

// TransitionKind names a Coordinator transition.
type TransitionKind string

// Transition kinds.
const (
	TransitionStarted          TransitionKind = "started"
	TransitionMachineFailed    TransitionKind = "machine_failed"
	TransitionMachineSucceeded TransitionKind = "machine_succeeded"
	TransitionFinished         TransitionKind = "finished"
)

// Transition is delivered to the Listener for every change of the active
// job. Summary is the state right after the change.
type Transition struct {
	Kind    TransitionKind
	Job     *Job
	Machine string
	Err     *MachineError
	Summary Summary
}

// Listener receives Coordinator transitions in the order they happened.
type Listener interface {
	HandleTransition(t Transition)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(t Transition)

// HandleTransition calls f(t).
func (f ListenerFunc) HandleTransition(t Transition) { f(t) }

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock replaces the clock used for job timestamps.
func WithCoordinatorClock(c Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

// WithCoordinatorLogger sets the coordinator's logger.
func WithCoordinatorLogger(l Logger) CoordinatorOption {
	return func(co *Coordinator) { co.logger = l }
}

// Coordinator runs at most one Job at a time and tracks the last job's
// summary. Transitions are handed to the Listener on a dedicated goroutine.
type Coordinator struct {
	clock    Clock
	logger   Logger
	listener Listener

	mu      sync.Mutex
	active  *Job
	summary Summary
	closed  bool
	queue   []Transition

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewCoordinator creates a Coordinator and starts its dispatch goroutine.
// listener may be nil.
func NewCoordinator(listener Listener, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		clock:    SystemClock(),
		logger:   noopLogger{},
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.dispatch()
	return c
}

// TryRun starts job if no other job is active. It returns false, with no
// side effects, when the coordinator is busy or closed.
//
// Parameters:
//   - job: Job to start; its machines are not touched when rejected
//
// Returns:
//   - bool: Whether job became the active job
func (c *Coordinator) TryRun(job *Job) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.active != nil {
		busy := c.active.ID()
		c.mu.Unlock()
		c.logger.Warn("feeding job rejected, another job is running",
			"job_id", job.ID(),
			"active_job_id", busy,
			"trigger", string(job.Trigger()))
		return false
	}

	c.active = job
	c.summary = Summary{
		JobID:     job.ID(),
		Trigger:   job.Trigger(),
		Slot:      job.Slot(),
		SlotIndex: job.SlotIndex(),
		Portions:  job.Portions(),
		Status:    StatusRunning,
		StartedAt: c.clock.Now(),
	}
	c.enqueueLocked(Transition{Kind: TransitionStarted, Job: job, Summary: c.summary})
	c.mu.Unlock()

	if err := job.Feed(c); err != nil {
		c.logger.Error("feeding job could not start", "job_id", job.ID(), "error", err)
		c.mu.Lock()
		if c.active == job {
			c.active = nil
			c.summary.Status = StatusError
			c.summary.FinishedAt = c.clock.Now()
			c.enqueueLocked(Transition{Kind: TransitionFinished, Job: job, Summary: c.summary})
		}
		c.mu.Unlock()
		return false
	}
	return true
}

// Busy reports whether a job is active.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Summary returns the summary of the active or most recent job.
func (c *Coordinator) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Restore seeds the summary, typically from persisted state at startup.
// It is ignored while a job is active.
func (c *Coordinator) Restore(s Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.summary = s
	}
}

// Close stops accepting jobs and waits for queued transitions to be
// delivered.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		<-c.stopped
	})
}

// ─── JobObserver ───────────────────────────────────────────────────

// MachineFailed records the machine's failure code as the job status. A
// later failure overwrites an earlier one.
func (c *Coordinator) MachineFailed(job *Job, machine string, err *MachineError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != job {
		return
	}
	c.summary.Status = StatusFor(err.Code)
	c.enqueueLocked(Transition{Kind: TransitionMachineFailed, Job: job, Machine: machine, Err: err, Summary: c.summary})
}

// MachineSucceeded forwards a machine success to the listener.
func (c *Coordinator) MachineSucceeded(job *Job, machine string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != job {
		return
	}
	c.enqueueLocked(Transition{Kind: TransitionMachineSucceeded, Job: job, Machine: machine, Summary: c.summary})
}

// JobFinished clears the active job. The status becomes successful unless
// a machine failure already set it.
func (c *Coordinator) JobFinished(job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != job {
		return
	}
	c.active = nil
	if c.summary.Status == StatusRunning {
		c.summary.Status = StatusSuccessful
	}
	c.summary.FinishedAt = c.clock.Now()
	c.logger.Info("feeding job complete", "job_id", job.ID(), "status", string(c.summary.Status))
	c.enqueueLocked(Transition{Kind: TransitionFinished, Job: job, Summary: c.summary})
}

// ─── Dispatch ──────────────────────────────────────────────────────

func (c *Coordinator) enqueueLocked(t Transition) {
	c.queue = append(c.queue, t)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) dispatch() {
	defer close(c.stopped)
	for {
		select {
		case <-c.wake:
			c.drain()
		case <-c.done:
			c.drain()
			return
		}
	}
}

func (c *Coordinator) drain() {
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, t := range batch {
			c.deliver(t)
		}
	}
}

func (c *Coordinator) deliver(t Transition) {
	if c.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("transition listener panicked",
				"kind", string(t.Kind),
				"panic", fmt.Sprint(r))
		}
	}()
	c.listener.HandleTransition(t)
}
