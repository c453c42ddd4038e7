package feeding

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trigger identifies what requested a feeding.
type Trigger string

// Known triggers.
const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerButton   Trigger = "button"
	TriggerRemote   Trigger = "remote"
	TriggerDisplay  Trigger = "display"
	TriggerAPI      Trigger = "api"
	TriggerSignal   Trigger = "signal"
)

// JobObserver receives the aggregated outcome of a Job. MachineFailed and
// MachineSucceeded are called at most once per machine; JobFinished is
// called exactly once, after every machine has finished.
type JobObserver interface {
	MachineFailed(job *Job, machine string, err *MachineError)
	MachineSucceeded(job *Job, machine string)
	JobFinished(job *Job)
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithTrigger records what requested the job.
func WithTrigger(t Trigger) JobOption {
	return func(j *Job) { j.trigger = t }
}

// WithSlot binds the job to a schedule slot. label is the slot's "HH:MM"
// time and index its 1-based position in the schedule.
func WithSlot(label string, index int) JobOption {
	return func(j *Job) {
		j.slot = label
		j.slotIndex = index
	}
}

// WithJobLogger sets the job's logger.
func WithJobLogger(l Logger) JobOption {
	return func(j *Job) { j.logger = l }
}

// Job is one feeding request spanning a fixed set of machines.
type Job struct {
	id        string
	portions  int
	trigger   Trigger
	slot      string
	slotIndex int
	createdAt time.Time
	machines  []SequenceRunner
	logger    Logger

	mu       sync.Mutex
	started  bool
	finished int
	done     bool
	observer JobObserver
}

// NewJob creates a job that dispenses portions rounds on each of machines.
// The machine list is copied, so later reloads do not affect the job.
//
// Parameters:
//   - portions: Rounds to dispense on each machine
//   - machines: Target machines
//   - opts: Trigger, slot and logger options
//
// Returns:
//   - *Job: Job ready for Feed
//   - error: ErrInvalidPortions if portions is below one
func NewJob(portions int, machines []SequenceRunner, opts ...JobOption) (*Job, error) {
	if portions < 1 {
		return nil, ErrInvalidPortions
	}
	j := &Job{
		id:        uuid.NewString(),
		portions:  portions,
		trigger:   TriggerManual,
		createdAt: time.Now(),
		machines:  append([]SequenceRunner(nil), machines...),
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Portions returns the requested portion count per machine.
func (j *Job) Portions() int { return j.portions }

// Trigger returns what requested the job.
func (j *Job) Trigger() Trigger { return j.trigger }

// Slot returns the schedule slot label, or "" for ad hoc jobs.
func (j *Job) Slot() string { return j.slot }

// SlotIndex returns the 1-based schedule slot index, or 0 for ad hoc jobs.
func (j *Job) SlotIndex() int { return j.slotIndex }

// CreatedAt returns when the job was built.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// Machines returns the names of the target machines.
func (j *Job) Machines() []string {
	names := make([]string, len(j.machines))
	for i, m := range j.machines {
		names[i] = m.Name()
	}
	return names
}

// Feed starts every target machine and returns without waiting for them.
// A machine that refuses to start is reported as failed and finished.
//
// Parameters:
//   - obs: Receives machine outcomes and the job's completion
//
// Returns:
//   - error: ErrJobStarted if Feed was already called
func (j *Job) Feed(obs JobObserver) error {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return ErrJobStarted
	}
	j.started = true
	j.observer = obs
	j.mu.Unlock()

	j.logger.Info("feeding job started",
		"job_id", j.id,
		"portions", j.portions,
		"trigger", string(j.trigger),
		"machines", len(j.machines))

	if len(j.machines) == 0 {
		j.complete()
		return nil
	}

	for _, m := range j.machines {
		adapter := &machineObserver{job: j, machine: m.Name()}
		if !m.RunSequence(j.portions, adapter) {
			adapter.SequenceFailed(&MachineError{
				Machine:    m.Name(),
				RoundsLeft: j.portions,
				Message:    "sequence could not be started",
				Code:       CodeError,
				Err:        ErrMachineFault,
			})
			adapter.SequenceFinished()
		}
	}
	return nil
}

func (j *Job) machineFinished() {
	j.mu.Lock()
	j.finished++
	last := j.finished == len(j.machines)
	j.mu.Unlock()

	if last {
		j.complete()
	}
}

func (j *Job) complete() {
	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return
	}
	j.done = true
	obs := j.observer
	j.mu.Unlock()

	j.logger.Info("feeding job finished", "job_id", j.id)
	if obs != nil {
		obs.JobFinished(j)
	}
}

// machineObserver adapts one machine's sequence callbacks to the job.
type machineObserver struct {
	job     *Job
	machine string

	mu       sync.Mutex
	reported bool
	finished bool
}

func (a *machineObserver) SequenceFailed(err *MachineError) {
	if !a.report() {
		return
	}
	j := a.job
	j.logger.Error("machine failed",
		"job_id", j.id,
		"machine", a.machine,
		"portion", j.portions-err.RoundsLeft+1,
		"code", string(err.Code),
		"error", err.Message)
	if obs := j.observerRef(); obs != nil {
		obs.MachineFailed(j, a.machine, err)
	}
}

func (a *machineObserver) SequenceSucceeded() {
	if !a.report() {
		return
	}
	if obs := a.job.observerRef(); obs != nil {
		obs.MachineSucceeded(a.job, a.machine)
	}
}

func (a *machineObserver) SequenceFinished() {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.finished = true
	a.mu.Unlock()

	a.job.machineFinished()
}

func (a *machineObserver) report() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reported {
		return false
	}
	a.reported = true
	return true
}

func (j *Job) observerRef() JobObserver {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.observer
}
