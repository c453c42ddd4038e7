package feeder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/catfeeder/internal/feeding"
	"github.com/nerrad567/catfeeder/internal/hardware"
	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
	"github.com/nerrad567/catfeeder/internal/infrastructure/influxdb"
	"github.com/nerrad567/catfeeder/internal/metrics"
	"github.com/nerrad567/catfeeder/internal/schedule"
	"github.com/nerrad567/catfeeder/internal/state"
)

// ─── Fakes ─────────────────────────────────────────────────────────

type fakeStore struct {
	mu       sync.Mutex
	last     *feeding.Summary
	finished chan feeding.Summary
}

func newFakeStore() *fakeStore {
	return &fakeStore{finished: make(chan feeding.Summary, 8)}
}

func (f *fakeStore) SaveLast(_ context.Context, s feeding.Summary) error {
	f.mu.Lock()
	f.last = &s
	f.mu.Unlock()
	if s.Status != feeding.StatusRunning {
		f.finished <- s
	}
	return nil
}

func (f *fakeStore) LoadLast(_ context.Context) (feeding.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return feeding.Summary{}, state.ErrNoHistory
	}
	return *f.last, nil
}

func (f *fakeStore) wait(t *testing.T) feeding.Summary {
	t.Helper()
	select {
	case s := <-f.finished:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("job did not finish")
		return feeding.Summary{}
	}
}

type fakePanel struct {
	mu        sync.Mutex
	times     int
	schedules int
	done      []int
}

func (p *fakePanel) SendTime() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.times++
	return nil
}

func (p *fakePanel) SendSchedule([]config.ScheduleEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedules++
	return nil
}

func (p *fakePanel) SendFeedingDone(slot int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = append(p.done, slot)
	return nil
}

func (p *fakePanel) doneSlots() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.done...)
}

type fakePublisher struct {
	mu    sync.Mutex
	count int
}

func (p *fakePublisher) PublishStatus() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return nil
}

func (p *fakePublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

type fakeTelemetry struct {
	mu       sync.Mutex
	jobs     []influxdb.FeedJobPoint
	outcomes []influxdb.MachineOutcomePoint
}

func (f *fakeTelemetry) WriteFeedJob(p influxdb.FeedJobPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, p)
}

func (f *fakeTelemetry) WriteMachineOutcome(p influxdb.MachineOutcomePoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, p)
}

type fakeLight struct {
	mu     sync.Mutex
	events []string
}

func (l *fakeLight) record(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *fakeLight) On()                             { l.record("on") }
func (l *fakeLight) Off()                            { l.record("off") }
func (l *fakeLight) Blink(_, _ time.Duration, n int) { l.record("blink") }
func (l *fakeLight) Close() error                    { l.record("close"); return nil }

func (l *fakeLight) has(e string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.events {
		if got == e {
			return true
		}
	}
	return false
}

type failingMotor struct{}

func (failingMotor) On() error  { return errors.New("relay stuck") }
func (failingMotor) Off() error { return nil }

// fakeProvider opens simulated machines, or machines whose motor fails.
type fakeProvider struct {
	light       *fakeLight
	failMotor   bool
	mu          sync.Mutex
	openedNames []string
}

func (p *fakeProvider) OpenMachine(cfg config.MachineConfig) (feeding.Hardware, error) {
	p.mu.Lock()
	p.openedNames = append(p.openedNames, cfg.Name)
	p.mu.Unlock()
	if p.failMotor {
		return feeding.Hardware{Motor: failingMotor{}}, nil
	}
	return feeding.Hardware{}, nil
}

func (p *fakeProvider) OpenLight(*int) (hardware.Light, error) { return p.light, nil }

func (p *fakeProvider) OpenButton(*int, time.Duration, hardware.ButtonHandlers) (io.Closer, error) {
	return io.NopCloser(nil), nil
}

type fixedNowClock struct {
	feeding.Clock
	now time.Time
}

func (c fixedNowClock) Now() time.Time { return c.now }

func testConfig() *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{ID: "test-feeder", Timezone: "UTC"},
		Feeder: config.FeederConfig{
			Timing: config.TimingConfig{
				MotorTimeout:     time.Second,
				RearmDelay:       time.Millisecond,
				StopGrace:        time.Millisecond,
				SimulatedCycle:   10 * time.Millisecond,
				MaxEmptyAttempts: 5,
			},
			MaxRemotePortions: 5,
			Machines: []config.MachineConfig{
				{Name: "left", MotorPin: 1},
				{Name: "right", MotorPin: 2},
			},
			Schedule: []config.ScheduleEntry{
				{Time: "07:30", Portions: 2},
				{Time: "19:00", Portions: 1},
			},
		},
	}
}

type harness struct {
	svc       *Service
	store     *fakeStore
	panel     *fakePanel
	publisher *fakePublisher
	telemetry *fakeTelemetry
	provider  *fakeProvider
}

func newHarness(t *testing.T, cfg *config.Config, mutate ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store:     newFakeStore(),
		panel:     &fakePanel{},
		publisher: &fakePublisher{},
		telemetry: &fakeTelemetry{},
		provider:  &fakeProvider{light: &fakeLight{}},
	}
	deps := Deps{
		Config:    cfg,
		Hardware:  h.provider,
		Store:     h.store,
		Metrics:   metrics.New(),
		Telemetry: h.telemetry,
	}
	for _, m := range mutate {
		m(&deps)
	}

	svc, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	svc.SetPanel(h.panel)
	svc.SetPublisher(h.publisher)
	t.Cleanup(func() { svc.Close() })

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.svc = svc
	return h
}

// ─── Tests ─────────────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Config: testConfig()}); err == nil {
		t.Error("New() without hardware should fail")
	}
}

func TestFeed_Success(t *testing.T) {
	h := newHarness(t, testConfig())

	id, err := h.svc.Feed(feeding.TriggerManual, 2)
	if err != nil || id == "" {
		t.Fatalf("Feed() = %q, %v", id, err)
	}

	sum := h.store.wait(t)
	if sum.Status != feeding.StatusSuccessful || sum.JobID != id || sum.Portions != 2 {
		t.Errorf("summary = %+v, want successful job %s", sum, id)
	}
	if got := h.panel.doneSlots(); len(got) != 1 || got[0] != 0 {
		t.Errorf("display done = %v, want [0]", got)
	}
	if !h.provider.light.has("on") || !h.provider.light.has("off") {
		t.Errorf("light events = %v, want on then off", h.provider.light.events)
	}

	h.telemetry.mu.Lock()
	outcomes, jobs := len(h.telemetry.outcomes), len(h.telemetry.jobs)
	h.telemetry.mu.Unlock()
	if outcomes != 2 || jobs != 1 {
		t.Errorf("telemetry = %d outcomes, %d jobs, want 2 and 1", outcomes, jobs)
	}
	if h.publisher.published() < 2 {
		t.Errorf("status published %d times, want start and finish", h.publisher.published())
	}

	st := h.svc.Status()
	if st.LastFeedStatus == nil || *st.LastFeedStatus != "successful" {
		t.Errorf("LastFeedStatus = %v", st.LastFeedStatus)
	}
	if st.LastFeedPortions == nil || *st.LastFeedPortions != 2 {
		t.Errorf("LastFeedPortions = %v", st.LastFeedPortions)
	}
}

func TestFeed_Busy(t *testing.T) {
	cfg := testConfig()
	cfg.Feeder.Timing.SimulatedCycle = 300 * time.Millisecond
	h := newHarness(t, cfg)

	if _, err := h.svc.Feed(feeding.TriggerManual, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Feed(feeding.TriggerRemote, 1); !errors.Is(err, ErrBusy) {
		t.Errorf("second Feed() error = %v, want ErrBusy", err)
	}
	if !h.svc.Busy() {
		t.Error("Busy() = false during a job")
	}
	h.store.wait(t)
}

func TestFeed_InvalidPortions(t *testing.T) {
	h := newHarness(t, testConfig())
	if _, err := h.svc.Feed(feeding.TriggerAPI, 0); !errors.Is(err, feeding.ErrInvalidPortions) {
		t.Errorf("Feed(0) error = %v, want ErrInvalidPortions", err)
	}
}

func TestFeed_MachineFailure(t *testing.T) {
	h := newHarness(t, testConfig(), func(d *Deps) {
		d.Hardware = &fakeProvider{light: &fakeLight{}, failMotor: true}
	})
	light := h.svc.light.(*fakeLight)

	if _, err := h.svc.Feed(feeding.TriggerManual, 1); err != nil {
		t.Fatal(err)
	}
	sum := h.store.wait(t)
	if sum.Status != feeding.StatusError {
		t.Errorf("status = %s, want error", sum.Status)
	}
	if len(h.panel.doneSlots()) != 0 {
		t.Error("display told about a failed feeding")
	}
	if !light.has("blink") {
		t.Error("failure blink not started")
	}
}

func TestRunScheduled(t *testing.T) {
	h := newHarness(t, testConfig())

	h.svc.RunScheduled(schedule.Slot{Index: 2, Time: "19:00", Portions: 1})

	sum := h.store.wait(t)
	if sum.Trigger != feeding.TriggerSchedule || sum.Slot != "19:00" || sum.SlotIndex != 2 {
		t.Errorf("summary = %+v, want schedule slot 2", sum)
	}
	if got := h.panel.doneSlots(); len(got) != 1 || got[0] != 2 {
		t.Errorf("display done = %v, want [2]", got)
	}
}

func TestRunScheduled_SlotPastPanel(t *testing.T) {
	cfg := testConfig()
	cfg.Feeder.Schedule = nil
	for hour := 1; hour <= 8; hour++ {
		cfg.Feeder.Schedule = append(cfg.Feeder.Schedule,
			config.ScheduleEntry{Time: fmt.Sprintf("%02d:00", hour), Portions: 1})
	}
	h := newHarness(t, cfg)

	h.svc.RunScheduled(schedule.Slot{Index: 7, Time: "07:00", Portions: 1})

	if sum := h.store.wait(t); sum.Status != feeding.StatusSuccessful {
		t.Fatalf("status = %s, want successful", sum.Status)
	}
	if got := h.panel.doneSlots(); len(got) != 1 || got[0] != 0 {
		t.Errorf("display done = %v, want [0]", got)
	}
}

func TestRunScheduled_ReorderedSchedule(t *testing.T) {
	next := testConfig()
	next.Feeder.Schedule = []config.ScheduleEntry{
		{Time: "19:00", Portions: 1},
		{Time: "07:30", Portions: 2},
	}
	h := newHarness(t, testConfig(), func(d *Deps) {
		d.Loader = func() (*config.Config, error) { return next, nil }
	})
	if err := h.svc.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	// Fired with the position it had before the reload.
	h.svc.RunScheduled(schedule.Slot{Index: 2, Time: "19:00", Portions: 1})

	if sum := h.store.wait(t); sum.Status != feeding.StatusSuccessful {
		t.Fatalf("status = %s, want successful", sum.Status)
	}
	if got := h.panel.doneSlots(); len(got) != 1 || got[0] != 1 {
		t.Errorf("display done = %v, want [1]", got)
	}
}

func TestPanelSlot(t *testing.T) {
	entries := []config.ScheduleEntry{{Time: "07:30"}, {Time: "12:00"}, {Time: "19:00"}}
	tests := []struct {
		label string
		want  int
	}{
		{"", 0},
		{"07:30", 1},
		{"19:00", 3},
		{"21:00", 0},
	}
	for _, tt := range tests {
		if got := panelSlot(tt.label, entries); got != tt.want {
			t.Errorf("panelSlot(%q) = %d, want %d", tt.label, got, tt.want)
		}
	}
}

func TestStart_RestoresInterruptedJobAsError(t *testing.T) {
	store := newFakeStore()
	store.last = &feeding.Summary{JobID: "old", Trigger: feeding.TriggerSchedule, Portions: 3, Status: feeding.StatusRunning, StartedAt: time.Now()}

	h := newHarness(t, testConfig(), func(d *Deps) { d.Store = store })

	st := h.svc.Status()
	if st.LastFeedStatus == nil || *st.LastFeedStatus != "error" {
		t.Errorf("LastFeedStatus = %v, want error", st.LastFeedStatus)
	}
	if h.svc.Busy() {
		t.Error("restored summary must not mark the service busy")
	}
}

func TestStatus_NextFeed(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	h := newHarness(t, testConfig(), func(d *Deps) {
		d.Clock = fixedNowClock{Clock: feeding.SystemClock(), now: now}
	})

	st := h.svc.Status()
	if st.NextFeed == nil || *st.NextFeed != "2026-01-01T19:00:00" {
		t.Errorf("NextFeed = %v, want 2026-01-01T19:00:00", st.NextFeed)
	}
	if st.NextFeedPortions == nil || *st.NextFeedPortions != 1 {
		t.Errorf("NextFeedPortions = %v, want 1", st.NextFeedPortions)
	}
	if !st.ScheduleEnabled {
		t.Error("ScheduleEnabled = false")
	}
	if st.LastFeed != nil {
		t.Errorf("LastFeed = %v, want nil before any job", *st.LastFeed)
	}

	d, ok := h.svc.TimeUntilNextFeeding()
	if !ok || d != 11*time.Hour {
		t.Errorf("TimeUntilNextFeeding() = %v, %v, want 11h", d, ok)
	}
}

func TestStatus_NoSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Feeder.Schedule = []config.ScheduleEntry{{Time: "07:30", Portions: 0}}
	h := newHarness(t, cfg)

	st := h.svc.Status()
	if st.ScheduleEnabled || st.NextFeed != nil {
		t.Errorf("status = %+v, want no next feed", st)
	}
	if _, ok := h.svc.TimeUntilNextFeeding(); ok {
		t.Error("TimeUntilNextFeeding() ok with no enabled slot")
	}
}

func TestReload(t *testing.T) {
	next := testConfig()
	next.Feeder.Machines = []config.MachineConfig{{Name: "solo", MotorPin: 4}}

	h := newHarness(t, testConfig(), func(d *Deps) {
		d.Loader = func() (*config.Config, error) { return next, nil }
	})

	if err := h.svc.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	machines := h.svc.Machines()
	if len(machines) != 1 || machines[0].Name != "solo" {
		t.Errorf("Machines() = %+v, want solo", machines)
	}
	if h.panel.schedules != 1 {
		t.Errorf("schedules sent = %d, want 1", h.panel.schedules)
	}
	if h.publisher.published() != 1 {
		t.Errorf("status published = %d, want 1", h.publisher.published())
	}
	if !h.provider.light.has("close") {
		t.Error("old light not closed before reopening")
	}
}

func TestReload_Errors(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.svc.Reload(); !errors.Is(err, ErrNoLoader) {
		t.Errorf("Reload() error = %v, want ErrNoLoader", err)
	}

	loadErr := errors.New("bad yaml")
	h2 := newHarness(t, testConfig(), func(d *Deps) {
		d.Loader = func() (*config.Config, error) { return nil, loadErr }
	})
	if err := h2.svc.Reload(); !errors.Is(err, loadErr) {
		t.Errorf("Reload() error = %v, want loader error", err)
	}
	if len(h2.svc.Machines()) != 2 {
		t.Error("failed reload should keep the running machines")
	}
}

func TestDisabledMachineSkipped(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.Feeder.Machines[1].Enabled = &off
	h := newHarness(t, cfg)

	if got := len(h.svc.Machines()); got != 1 {
		t.Errorf("Machines() = %d, want 1", got)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := h.svc.Feed(feeding.TriggerManual, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Feed() after Close = %v, want ErrClosed", err)
	}
	if err := h.svc.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if err := h.svc.Reload(); !errors.Is(err, ErrNoLoader) {
		t.Errorf("Reload() after Close = %v", err)
	}
}

func TestWatch_SeesEveryTransition(t *testing.T) {
	h := newHarness(t, testConfig())

	var mu sync.Mutex
	var kinds []feeding.TransitionKind
	h.svc.Watch(feeding.ListenerFunc(func(tr feeding.Transition) {
		mu.Lock()
		kinds = append(kinds, tr.Kind)
		mu.Unlock()
	}))

	if _, err := h.svc.Feed(feeding.TriggerManual, 1); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	h.store.wait(t)

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 4 {
		t.Fatalf("kinds = %v, want 4 transitions", kinds)
	}
	if kinds[0] != feeding.TransitionStarted || kinds[3] != feeding.TransitionFinished {
		t.Errorf("kinds = %v, want started first and finished last", kinds)
	}
}
