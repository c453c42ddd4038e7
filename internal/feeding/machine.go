package feeding

import (
	"sync"
	"time"
)

// State is the phase a machine is in.
type State string

// Machine states.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Timing holds the thresholds of a dispensing sequence.
type Timing struct {
	// MotorTimeout bounds how long one round may take before the motor is
	// declared blocked.
	MotorTimeout time.Duration

	// RearmDelay is how long position pulses are ignored after a round
	// starts, so the start of a cycle is not read as its end.
	RearmDelay time.Duration

	// StopGrace delays stopping the motor after the last round so the
	// position sensor can release.
	StopGrace time.Duration

	// SimulatedCycle is the cycle length used when there is no position
	// sensor.
	SimulatedCycle time.Duration

	// MaxEmptyAttempts is the number of rounds without food after which the
	// dispenser is reported empty.
	MaxEmptyAttempts int
}

// DefaultTiming returns the thresholds used by the stock dispenser.
func DefaultTiming() Timing {
	return Timing{
		MotorTimeout:     5 * time.Second,
		RearmDelay:       500 * time.Millisecond,
		StopGrace:        300 * time.Millisecond,
		SimulatedCycle:   3 * time.Second,
		MaxEmptyAttempts: 5,
	}
}

// SequenceObserver receives the outcome of one RunSequence call.
// SequenceFailed and SequenceSucceeded are mutually exclusive and precede
// SequenceFinished, which is always called exactly once.
type SequenceObserver interface {
	SequenceFailed(err *MachineError)
	SequenceSucceeded()
	SequenceFinished()
}

// SequenceRunner is anything a Job can drive. *Machine implements it.
type SequenceRunner interface {
	Name() string
	RunSequence(rounds int, obs SequenceObserver) bool
}

// MachineStatus is a point-in-time view of a machine.
type MachineStatus struct {
	Name            string `json:"name"`
	State           State  `json:"state"`
	RoundsRemaining int    `json:"rounds_remaining"`
	MotorActive     bool   `json:"motor_active"`
	SensorArmed     bool   `json:"sensor_armed"`
	FoodDispensed   bool   `json:"food_dispensed"`
	EmptyAttempts   int    `json:"empty_attempts"`
	Simulated       bool   `json:"simulated"`
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithClock replaces the wall clock.
func WithClock(c Clock) MachineOption {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the machine's logger.
func WithLogger(l Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

type eventKind int

const (
	evStart eventKind = iota
	evPosition
	evTimer
	evSnapshot
	evClose
)

type timerKind int

const (
	timerWatchdog timerKind = iota
	timerRearm
	timerGrace
	timerSimulated
	timerCount
)

var timerNames = [timerCount]string{"watchdog", "rearm", "grace", "simulated"}

type event struct {
	kind  eventKind
	timer timerKind
	token uint64

	rounds   int
	observer SequenceObserver
	accepted chan bool
	status   chan MachineStatus
	closed   chan error
}

type pendingTimer struct {
	timer Timer
	token uint64
}

// Machine runs dispensing sequences on one dispenser.
//
// All exported methods are safe for concurrent use and never wait for
// hardware: work is queued on the machine's event loop.
type Machine struct {
	name   string
	hw     Hardware
	timing Timing
	clock  Clock
	logger Logger

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// Owned by the loop goroutine.
	state     State
	rounds    int
	attempts  int
	armed     bool
	dispensed bool
	motorOn   bool
	observer  SequenceObserver
	timers    [timerCount]pendingTimer
	nextToken uint64
}

// NewMachine creates a machine and starts its event loop. The machine takes
// ownership of hw and releases it on Close.
//
// Parameters:
//   - name: Machine name used in logs and summaries
//   - hw: Motor, position and food sensors; a nil Position runs simulated
//   - timing: Motor timeout, re-arm delay and stop grace
//   - opts: Clock and logger options
//
// Returns:
//   - *Machine: Idle machine with its loop running
func NewMachine(name string, hw Hardware, timing Timing, opts ...MachineOption) *Machine {
	m := &Machine{
		name:   name,
		hw:     hw,
		timing: timing,
		clock:  SystemClock(),
		logger: noopLogger{},
		events: make(chan event, 16),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.timing.MaxEmptyAttempts < 1 {
		m.timing.MaxEmptyAttempts = 1
	}

	if hw.Position != nil {
		hw.Position.SetHandler(m.MotorPositionSensed)
	}

	go m.loop()
	return m
}

// Name returns the machine's configured name.
func (m *Machine) Name() string {
	return m.name
}

// Simulated reports whether the machine runs without a position sensor.
func (m *Machine) Simulated() bool {
	return m.hw.Position == nil
}

// RunSequence starts dispensing the given number of rounds and returns
// immediately. It returns false, without touching hardware or calling obs,
// when rounds is below one, the machine is busy, or it has been closed.
// A nil obs discards the outcome.
//
// Parameters:
//   - rounds: Number of portions to dispense
//   - obs: Receives exactly one outcome once the sequence ends
//
// Returns:
//   - bool: Whether the sequence was started
func (m *Machine) RunSequence(rounds int, obs SequenceObserver) bool {
	if rounds < 1 {
		m.logger.Warn("ignoring feeding sequence with no rounds", "machine", m.name, "rounds", rounds)
		return false
	}
	if obs == nil {
		obs = discardObserver{}
	}

	reply := make(chan bool, 1)
	if !m.post(event{kind: evStart, rounds: rounds, observer: obs, accepted: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-m.done:
		return false
	}
}

// MotorPositionSensed records a pulse from the motor position sensor.
func (m *Machine) MotorPositionSensed() {
	m.post(event{kind: evPosition})
}

// Status returns a snapshot of the machine's sequence state. Because it is
// answered by the event loop, every event queued before the call has been
// handled when it returns.
func (m *Machine) Status() MachineStatus {
	reply := make(chan MachineStatus, 1)
	if m.post(event{kind: evSnapshot, status: reply}) {
		select {
		case s := <-reply:
			return s
		case <-m.done:
		}
	}
	return MachineStatus{Name: m.name, State: StateIdle, Simulated: m.Simulated()}
}

// Close stops a running sequence, reporting it as failed, and releases the
// hardware. Further calls return the first result.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		reply := make(chan error, 1)
		m.events <- event{kind: evClose, closed: reply}
		m.closeErr = <-reply
	})
	return m.closeErr
}

func (m *Machine) post(ev event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Machine) loop() {
	for ev := range m.events {
		switch ev.kind {
		case evStart:
			ev.accepted <- m.start(ev.rounds, ev.observer)
		case evPosition:
			m.positionSensed("sensor")
		case evTimer:
			m.timerFired(ev.timer, ev.token)
		case evSnapshot:
			ev.status <- m.snapshot()
		case evClose:
			ev.closed <- m.shutdown()
			return
		}
	}
}

// ─── Sequence ──────────────────────────────────────────────────────

func (m *Machine) start(rounds int, obs SequenceObserver) bool {
	if m.state != StateIdle {
		m.logger.Warn("machine busy, sequence not started", "machine", m.name, "state", m.state)
		return false
	}

	m.state = StateRunning
	m.rounds = rounds
	m.attempts = 0
	m.observer = obs
	m.logger.Info("starting feeding sequence", "machine", m.name, "rounds", rounds)

	m.nextRound()
	return true
}

func (m *Machine) nextRound() {
	m.arm(timerWatchdog, m.timing.MotorTimeout)

	m.armed = false
	m.arm(timerRearm, m.timing.RearmDelay)

	if m.hw.Food != nil {
		if err := m.hw.Food.Arm(); err != nil {
			m.fail(CodeError, "failed to start food sensor", err)
			return
		}
	}
	m.dispensed = true

	if !m.motorOn {
		if m.hw.Motor != nil {
			if err := m.hw.Motor.On(); err != nil {
				m.fail(CodeError, "failed to start motor", err)
				return
			}
		}
		m.motorOn = true
	}

	if m.hw.Position == nil {
		m.arm(timerSimulated, m.timing.SimulatedCycle)
	}
}

func (m *Machine) positionSensed(source string) {
	if m.state != StateRunning || !m.armed {
		m.logger.Debug("position pulse ignored", "machine", m.name, "source", source, "state", m.state)
		return
	}

	m.cancel(timerWatchdog)
	m.cancel(timerSimulated)
	m.armed = false

	dispensed := m.dispensed
	if dispensed && m.hw.Food != nil && !m.hw.Food.Detected() {
		dispensed = false
	}
	m.dispensed = false

	if !dispensed {
		m.attempts++
		if m.attempts >= m.timing.MaxEmptyAttempts {
			m.fail(CodeEmpty, "too many attempts, dispenser possibly empty", nil)
			return
		}
		m.logger.Warn("no food dispensed, retrying round",
			"machine", m.name,
			"attempt", m.attempts,
			"max_attempts", m.timing.MaxEmptyAttempts)
		m.nextRound()
		return
	}

	m.rounds--
	m.logger.Debug("round complete", "machine", m.name, "rounds_left", m.rounds)
	if m.rounds <= 0 || !m.motorOn {
		m.state = StateStopping
		m.cancel(timerRearm)
		m.arm(timerGrace, m.timing.StopGrace)
		return
	}
	m.nextRound()
}

func (m *Machine) timerFired(kind timerKind, token uint64) {
	if m.timers[kind].token != token {
		m.logger.Debug("stale timer ignored", "machine", m.name, "timer", timerNames[kind])
		return
	}
	m.timers[kind] = pendingTimer{}

	switch kind {
	case timerWatchdog:
		if m.state == StateRunning && m.motorOn {
			m.fail(CodeBlocked, "motor took too long, possibly blocked", nil)
		}
	case timerRearm:
		if m.state == StateRunning {
			m.armed = true
		}
	case timerGrace:
		if m.state == StateStopping {
			m.logger.Info("feeding sequence successful", "machine", m.name)
			m.finish(true)
		}
	case timerSimulated:
		m.positionSensed("simulated")
	}
}

// fail reports err to the observer and tears the sequence down.
func (m *Machine) fail(code ErrorCode, msg string, cause error) {
	if m.state == StateIdle {
		return
	}
	merr := &MachineError{
		Machine:    m.name,
		RoundsLeft: m.rounds,
		Message:    msg,
		Code:       code,
		Err:        cause,
	}
	m.logger.Error("feeding sequence failed",
		"machine", m.name,
		"code", string(code),
		"rounds_left", m.rounds,
		"error", merr)
	m.observer.SequenceFailed(merr)
	m.finish(false)
}

// finish stops all hardware and timers and calls SequenceFinished. It is a
// no-op when the machine is already idle.
func (m *Machine) finish(succeeded bool) {
	if m.state == StateIdle {
		return
	}

	for k := range m.timers {
		m.cancel(timerKind(k))
	}
	if m.hw.Food != nil {
		if err := m.hw.Food.Disarm(); err != nil {
			m.logger.Warn("failed to stop food sensor", "machine", m.name, "error", err)
		}
	}
	if m.motorOn {
		if m.hw.Motor != nil {
			if err := m.hw.Motor.Off(); err != nil {
				m.logger.Error("failed to stop motor", "machine", m.name, "error", err)
			}
		}
		m.motorOn = false
	}

	obs := m.observer
	m.state = StateIdle
	m.rounds = 0
	m.attempts = 0
	m.armed = false
	m.dispensed = false
	m.observer = nil

	if succeeded {
		obs.SequenceSucceeded()
	}
	obs.SequenceFinished()
}

func (m *Machine) shutdown() error {
	switch m.state {
	case StateStopping:
		// Every round has dispensed; only the grace delay was left.
		m.logger.Info("feeding sequence successful", "machine", m.name)
		m.finish(true)
	case StateRunning:
		m.fail(CodeError, "machine closed during sequence", ErrMachineClosed)
	}
	close(m.done)

	if m.hw.Position != nil {
		m.hw.Position.SetHandler(nil)
	}
	return m.hw.Close()
}

func (m *Machine) snapshot() MachineStatus {
	return MachineStatus{
		Name:            m.name,
		State:           m.state,
		RoundsRemaining: m.rounds,
		MotorActive:     m.motorOn,
		SensorArmed:     m.armed,
		FoodDispensed:   m.dispensed,
		EmptyAttempts:   m.attempts,
		Simulated:       m.hw.Position == nil,
	}
}

// ─── Timers ────────────────────────────────────────────────────────

func (m *Machine) arm(kind timerKind, d time.Duration) {
	m.cancel(kind)
	m.nextToken++
	token := m.nextToken
	m.timers[kind] = pendingTimer{
		token: token,
		timer: m.clock.AfterFunc(d, func() {
			m.post(event{kind: evTimer, timer: kind, token: token})
		}),
	}
}

func (m *Machine) cancel(kind timerKind) {
	if t := m.timers[kind].timer; t != nil {
		t.Stop()
	}
	m.timers[kind] = pendingTimer{}
}

type discardObserver struct{}

func (discardObserver) SequenceFailed(*MachineError) {}
func (discardObserver) SequenceSucceeded()           {}
func (discardObserver) SequenceFinished()            {}
