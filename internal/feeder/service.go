package feeder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/catfeeder/internal/feeding"
	"github.com/nerrad567/catfeeder/internal/hardware"
	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
	"github.com/nerrad567/catfeeder/internal/infrastructure/influxdb"
	"github.com/nerrad567/catfeeder/internal/metrics"
	"github.com/nerrad567/catfeeder/internal/schedule"
	"github.com/nerrad567/catfeeder/internal/state"
)

// Timeouts for collaborator I/O done from the listener.
const (
	persistTimeout = 5 * time.Second
)

// Panel is the part of the display the service drives.
type Panel interface {
	SendTime() error
	SendSchedule(entries []config.ScheduleEntry) error
	SendFeedingDone(slot int) error
}

// StatusPublisher announces the feeder status, e.g. over MQTT.
type StatusPublisher interface {
	PublishStatus() error
}

// Telemetry records feeding outcomes in a time-series store.
type Telemetry interface {
	WriteFeedJob(p influxdb.FeedJobPoint)
	WriteMachineOutcome(p influxdb.MachineOutcomePoint)
}

// Deps are the service's collaborators. Config and Hardware are required.
type Deps struct {
	Config   *config.Config
	Loader   func() (*config.Config, error)
	Hardware hardware.Provider

	Store     state.Repository
	Metrics   *metrics.Metrics
	Telemetry Telemetry
	Logger    feeding.Logger
	Clock     feeding.Clock
}

// Service runs feeding jobs for one feeder.
type Service struct {
	loader    func() (*config.Config, error)
	provider  hardware.Provider
	store     state.Repository
	metrics   *metrics.Metrics
	telemetry Telemetry
	logger    feeding.Logger
	clock     feeding.Clock

	coord *feeding.Coordinator
	sched *schedule.Scheduler

	mu        sync.RWMutex
	cfg       *config.Config
	machines  []*feeding.Machine
	light     hardware.Light
	button    io.Closer
	panel     Panel
	publisher StatusPublisher
	watchers  []feeding.Listener
	housekeep []cron.EntryID
	closed    bool

	reloadMu sync.Mutex
}

// New creates a service. Hardware is not touched until Start.
//
// Parameters:
//   - deps: Config and hardware provider are required; the rest are optional
//
// Returns:
//   - *Service: Service ready to Start
//   - error: If a required dependency is missing
func New(deps Deps) (*Service, error) {
	if deps.Config == nil || deps.Hardware == nil {
		return nil, errors.New("feeder: config and hardware provider are required")
	}
	s := &Service{
		loader:    deps.Loader,
		provider:  deps.Hardware,
		store:     deps.Store,
		metrics:   deps.Metrics,
		telemetry: deps.Telemetry,
		logger:    deps.Logger,
		clock:     deps.Clock,
		cfg:       deps.Config,
	}
	if s.logger == nil {
		s.logger = discardLogger{}
	}
	if s.clock == nil {
		s.clock = feeding.SystemClock()
	}
	s.coord = feeding.NewCoordinator(s,
		feeding.WithCoordinatorClock(s.clock),
		feeding.WithCoordinatorLogger(s.logger))
	s.sched = schedule.New(deps.Config.Location(), s.logger)
	return s, nil
}

// SetPanel attaches the display. It may be called before or after Start.
func (s *Service) SetPanel(p Panel) {
	s.mu.Lock()
	s.panel = p
	s.mu.Unlock()
}

// SetPublisher attaches the status publisher.
func (s *Service) SetPublisher(p StatusPublisher) {
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

// Watch adds a listener that sees every transition before the service
// handles it. Watchers run on the dispatch goroutine and must not block.
func (s *Service) Watch(l feeding.Listener) {
	s.mu.Lock()
	s.watchers = append(s.watchers, l)
	s.mu.Unlock()
}

// Start restores the last job summary, opens the hardware, and starts the
// schedule.
func (s *Service) Start(ctx context.Context) error {
	if s.store != nil {
		last, err := s.store.LoadLast(ctx)
		switch {
		case err == nil:
			if last.Status == feeding.StatusRunning {
				// The process stopped mid-job.
				last.Status = feeding.StatusError
			}
			s.coord.Restore(last)
		case errors.Is(err, state.ErrNoHistory):
		default:
			s.logger.Warn("last feeding not restored", "error", err)
		}
	}

	s.mu.Lock()
	cfg := s.cfg
	err := s.openLocked(cfg)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.sched.Load(cfg.Feeder.Schedule, s.RunScheduled); err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}
	s.startHousekeeping(cfg)
	s.sched.Start()

	s.logNextFeeding()
	return nil
}

// openLocked builds machines, LED and button from cfg. On error everything
// opened so far is closed again.
func (s *Service) openLocked(cfg *config.Config) error {
	timing := timingFrom(cfg.Feeder.Timing)

	var machines []*feeding.Machine
	for _, mc := range cfg.Feeder.Machines {
		if !mc.IsEnabled() {
			s.logger.Info("machine disabled", "machine", mc.Name)
			continue
		}
		hw, err := s.provider.OpenMachine(mc)
		if err != nil {
			closeMachines(machines)
			return fmt.Errorf("opening machine %s: %w", mc.Name, err)
		}
		machines = append(machines, feeding.NewMachine(mc.Name, hw, timing,
			feeding.WithClock(s.clock),
			feeding.WithLogger(s.logger)))
	}

	light, err := s.provider.OpenLight(cfg.Feeder.StatusLEDPin)
	if err != nil {
		closeMachines(machines)
		return fmt.Errorf("opening status light: %w", err)
	}

	button, err := s.provider.OpenButton(cfg.Feeder.ManualButtonPin, cfg.Feeder.ButtonHold, hardware.ButtonHandlers{
		Pressed: func() { s.logNextFeeding() },
		Held: func() {
			if _, err := s.Feed(feeding.TriggerButton, 1); err != nil {
				s.logger.Warn("button feeding not started", "error", err)
			}
		},
	})
	if err != nil {
		closeMachines(machines)
		light.Close() //nolint:errcheck // failure path
		return fmt.Errorf("opening manual button: %w", err)
	}

	s.machines = machines
	s.light = light
	s.button = button
	s.logger.Info("feeding machines ready", "count", len(machines))
	return nil
}

// closeHardwareLocked releases every line the service holds.
func (s *Service) closeHardwareLocked() error {
	errs := []error{closeMachines(s.machines)}
	s.machines = nil
	if s.light != nil {
		errs = append(errs, s.light.Close())
		s.light = nil
	}
	if s.button != nil {
		errs = append(errs, s.button.Close())
		s.button = nil
	}
	return errors.Join(errs...)
}

func closeMachines(machines []*feeding.Machine) error {
	var errs []error
	for _, m := range machines {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("machine %s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) startHousekeeping(cfg *config.Config) {
	for _, id := range s.housekeep {
		s.sched.Remove(id)
	}
	s.housekeep = s.housekeep[:0]

	if cfg.Feeder.HeartbeatInterval > 0 {
		s.housekeep = append(s.housekeep, s.sched.Every(cfg.Feeder.HeartbeatInterval, s.heartbeat))
	}
	id, err := s.sched.Daily("00:00", s.syncPanelClock)
	if err != nil {
		s.logger.Warn("display clock sync not scheduled", "error", err)
		return
	}
	s.housekeep = append(s.housekeep, id)
}

// Reload loads a fresh configuration, reopens the hardware and replaces the
// schedule. A running job is torn down with its machines.
//
// Returns:
//   - error: ErrNoLoader, ErrClosed, or the load, hardware or schedule error;
//     a config that fails to load leaves the running one in place
func (s *Service) Reload() error {
	if s.loader == nil {
		return ErrNoLoader
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cfg, err := s.loader()
	if err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.coord.Busy() {
		s.logger.Warn("reloading during a feeding job, the job will fail")
	}
	if s.light != nil {
		s.light.Blink(500*time.Millisecond, 500*time.Millisecond, 3)
	}
	if err := s.closeHardwareLocked(); err != nil {
		s.logger.Warn("closing hardware for reload", "error", err)
	}
	if cfg.Device.Timezone != s.cfg.Device.Timezone {
		s.logger.Warn("time zone change takes effect after restart", "timezone", cfg.Device.Timezone)
	}
	s.cfg = cfg
	err = s.openLocked(cfg)
	panel := s.panel
	publisher := s.publisher
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.sched.Load(cfg.Feeder.Schedule, s.RunScheduled); err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}
	s.startHousekeeping(cfg)

	if panel != nil {
		if err := panel.SendSchedule(cfg.Feeder.Schedule); err != nil {
			s.logger.Warn("display schedule not sent", "error", err)
		}
	}
	if publisher != nil {
		if err := publisher.PublishStatus(); err != nil {
			s.logger.Warn("status not published", "error", err)
		}
	}
	s.logger.Info("configuration reloaded")
	s.logNextFeeding()
	return nil
}

// Feed starts a job of portions on every machine. It returns the job ID, or
// ErrBusy while another job runs.
func (s *Service) Feed(trigger feeding.Trigger, portions int) (string, error) {
	return s.run(portions, feeding.WithTrigger(trigger))
}

// RunScheduled starts the job for a schedule slot. A fresh job is built
// for every tick.
func (s *Service) RunScheduled(slot schedule.Slot) {
	_, err := s.run(slot.Portions,
		feeding.WithTrigger(feeding.TriggerSchedule),
		feeding.WithSlot(slot.Time, slot.Index))
	if err != nil {
		s.logger.Warn("scheduled feeding skipped", "slot", slot.Index, "time", slot.Time, "error", err)
	}
}

func (s *Service) run(portions int, opts ...feeding.JobOption) (string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", ErrClosed
	}
	runners := make([]feeding.SequenceRunner, len(s.machines))
	for i, m := range s.machines {
		runners[i] = m
	}
	s.mu.RUnlock()

	job, err := feeding.NewJob(portions, runners, append(opts, feeding.WithJobLogger(s.logger))...)
	if err != nil {
		return "", err
	}
	if !s.coord.TryRun(job) {
		if s.metrics != nil {
			s.metrics.JobRejected(string(job.Trigger()))
		}
		return "", ErrBusy
	}
	return job.ID(), nil
}

// ManualFeed feeds one portion on request of the display panel.
func (s *Service) ManualFeed() {
	if _, err := s.Feed(feeding.TriggerDisplay, 1); err != nil {
		s.logger.Warn("cannot feed now", "trigger", string(feeding.TriggerDisplay), "error", err)
	}
}

// Schedule returns the configured schedule entries.
func (s *Service) Schedule() []config.ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]config.ScheduleEntry(nil), s.cfg.Feeder.Schedule...)
}

// Device returns the configured device identity.
func (s *Service) Device() config.DeviceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Device
}

// MaxRemotePortions is the cap on remotely requested portions.
func (s *Service) MaxRemotePortions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Feeder.MaxRemotePortions
}

// Machines returns a snapshot of every machine.
func (s *Service) Machines() []feeding.MachineStatus {
	s.mu.RLock()
	machines := append([]*feeding.Machine(nil), s.machines...)
	s.mu.RUnlock()

	out := make([]feeding.MachineStatus, 0, len(machines))
	for _, m := range machines {
		out = append(out, m.Status())
	}
	return out
}

// Busy reports whether a job is running.
func (s *Service) Busy() bool {
	return s.coord.Busy()
}

// TimeUntilNextFeeding returns the wait until the next enabled slot.
func (s *Service) TimeUntilNextFeeding() (time.Duration, bool) {
	now := s.clock.Now()
	_, at, ok := s.sched.Next(now)
	if !ok {
		return 0, false
	}
	return max(at.Sub(now), 0), true
}

func (s *Service) logNextFeeding() {
	d, ok := s.TimeUntilNextFeeding()
	if !ok {
		s.logger.Info("no feeding scheduled")
		return
	}
	s.logger.Info("next feeding", "minutes", float64(d.Round(6*time.Second))/float64(time.Minute))
}

func (s *Service) heartbeat() {
	if s.coord.Busy() {
		return
	}
	s.mu.RLock()
	light := s.light
	s.mu.RUnlock()
	if light != nil {
		light.Blink(100*time.Millisecond, time.Second, 1)
	}
}

func (s *Service) syncPanelClock() {
	s.mu.RLock()
	panel := s.panel
	s.mu.RUnlock()
	if panel == nil {
		return
	}
	if err := panel.SendTime(); err != nil {
		s.logger.Warn("display clock not synced", "error", err)
	}
}

// Close stops the schedule, waits for pending transitions and releases all
// hardware. A running job is failed by its machines closing.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	<-s.sched.Stop().Done()

	s.mu.Lock()
	err := s.closeHardwareLocked()
	s.mu.Unlock()

	s.coord.Close()
	return err
}

func timingFrom(t config.TimingConfig) feeding.Timing {
	d := feeding.DefaultTiming()
	if t.MotorTimeout > 0 {
		d.MotorTimeout = t.MotorTimeout
	}
	if t.RearmDelay > 0 {
		d.RearmDelay = t.RearmDelay
	}
	if t.StopGrace > 0 {
		d.StopGrace = t.StopGrace
	}
	if t.SimulatedCycle > 0 {
		d.SimulatedCycle = t.SimulatedCycle
	}
	if t.MaxEmptyAttempts > 0 {
		d.MaxEmptyAttempts = t.MaxEmptyAttempts
	}
	return d
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
