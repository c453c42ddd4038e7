package feeding

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type transitionSink struct {
	ch chan Transition
}

func newTransitionSink() *transitionSink {
	return &transitionSink{ch: make(chan Transition, 64)}
}

func (s *transitionSink) HandleTransition(t Transition) {
	s.ch <- t
}

func (s *transitionSink) next(t *testing.T) Transition {
	t.Helper()
	select {
	case tr := <-s.ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transition")
		return Transition{}
	}
}

func (s *transitionSink) waitFor(t *testing.T, kind TransitionKind) Transition {
	t.Helper()
	for {
		if tr := s.next(t); tr.Kind == kind {
			return tr
		}
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *transitionSink) {
	t.Helper()
	sink := newTransitionSink()
	c := NewCoordinator(sink, WithCoordinatorClock(newFakeClock()))
	t.Cleanup(c.Close)
	return c, sink
}

func TestCoordinator_RejectsWhileBusy(t *testing.T) {
	c, sink := newTestCoordinator(t)

	first, firstFakes := runners("a")
	second, secondFakes := runners("b")
	job1, _ := NewJob(1, first)
	job2, _ := NewJob(1, second)

	if !c.TryRun(job1) {
		t.Fatal("first TryRun rejected")
	}
	if c.TryRun(job2) {
		t.Fatal("second TryRun accepted while busy")
	}
	if !c.Busy() {
		t.Error("Busy() = false with an active job")
	}
	if firstFakes[0].callCount() != 1 {
		t.Error("first job's machine not started")
	}
	if secondFakes[0].callCount() != 0 {
		t.Error("rejected job actuated its machine")
	}
	if got := c.Summary().JobID; got != job1.ID() {
		t.Errorf("Summary().JobID = %q, want first job", got)
	}

	firstFakes[0].succeed()
	sink.waitFor(t, TransitionFinished)

	job3, _ := NewJob(1, second)
	if !c.TryRun(job3) {
		t.Error("TryRun rejected after the active job finished")
	}
}

func TestCoordinator_ConcurrentTryRunAcceptsOne(t *testing.T) {
	c, _ := newTestCoordinator(t)

	const callers = 64
	jobs := make([]*Job, callers)
	fakes := make([]*fakeRunner, callers)
	for i := range jobs {
		machines, f := runners(fmt.Sprintf("m%d", i))
		jobs[i], _ = NewJob(1, machines)
		fakes[i] = f[0]
	}

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		accepted = make([]bool, callers)
	)
	for i := range jobs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			accepted[i] = c.TryRun(jobs[i])
		}(i)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, ok := range accepted {
		if !ok {
			continue
		}
		if winner >= 0 {
			t.Fatalf("jobs %d and %d both accepted", winner, i)
		}
		winner = i
	}
	if winner < 0 {
		t.Fatal("no job accepted")
	}
	for i, f := range fakes {
		want := 0
		if i == winner {
			want = 1
		}
		if got := f.callCount(); got != want {
			t.Errorf("runner %d called %d times, want %d", i, got, want)
		}
	}
	if got := c.Summary().JobID; got != jobs[winner].ID() {
		t.Errorf("Summary().JobID = %q, want the accepted job", got)
	}
}

func TestCoordinator_SuccessfulJob(t *testing.T) {
	c, sink := newTestCoordinator(t)
	rs, fakes := runners("a", "b")
	job, _ := NewJob(2, rs, WithTrigger(TriggerSchedule), WithSlot("08:00", 2))

	c.TryRun(job)
	started := sink.next(t)
	if started.Kind != TransitionStarted || started.Summary.Status != StatusRunning {
		t.Fatalf("first transition = %s/%s, want started/running", started.Kind, started.Summary.Status)
	}
	if started.Summary.Portions != 2 || started.Summary.SlotIndex != 2 {
		t.Errorf("summary = %+v", started.Summary)
	}

	fakes[0].succeed()
	fakes[1].succeed()
	done := sink.waitFor(t, TransitionFinished)

	if done.Summary.Status != StatusSuccessful {
		t.Errorf("status = %q, want successful", done.Summary.Status)
	}
	if c.Busy() {
		t.Error("Busy() = true after finish")
	}
	if c.Summary().FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}
}

func TestCoordinator_LastFailureWins(t *testing.T) {
	c, sink := newTestCoordinator(t)
	rs, fakes := runners("a", "b", "c")
	job, _ := NewJob(1, rs)
	c.TryRun(job)

	fakes[0].fail(CodeBlocked, 1)
	fakes[1].succeed()
	fakes[2].fail(CodeEmpty, 1)

	var kinds []TransitionKind
	for {
		tr := sink.next(t)
		kinds = append(kinds, tr.Kind)
		if tr.Kind == TransitionFinished {
			if tr.Summary.Status != StatusEmpty {
				t.Errorf("status = %q, want empty", tr.Summary.Status)
			}
			break
		}
	}
	want := []TransitionKind{
		TransitionStarted,
		TransitionMachineFailed,
		TransitionMachineSucceeded,
		TransitionMachineFailed,
		TransitionFinished,
	}
	if len(kinds) != len(want) {
		t.Fatalf("transitions = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestCoordinator_ReusedJobIsRejected(t *testing.T) {
	c, sink := newTestCoordinator(t)
	job, _ := NewJob(1, nil)
	if !c.TryRun(job) {
		t.Fatal("TryRun rejected empty job")
	}
	sink.waitFor(t, TransitionFinished)

	if c.TryRun(job) {
		t.Error("TryRun accepted a job that already ran")
	}
	if c.Busy() {
		t.Error("coordinator left busy by a rejected job")
	}
}

func TestCoordinator_Restore(t *testing.T) {
	c, _ := newTestCoordinator(t)
	s := Summary{JobID: "persisted", Portions: 2, Status: StatusBlocked}
	c.Restore(s)
	if got := c.Summary(); got.JobID != "persisted" || got.Status != StatusBlocked {
		t.Errorf("Summary() = %+v, want restored", got)
	}
}

func TestCoordinator_ClosedRejects(t *testing.T) {
	c := NewCoordinator(nil)
	c.Close()
	job, _ := NewJob(1, nil)
	if c.TryRun(job) {
		t.Error("closed coordinator accepted a job")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want Status
	}{
		{CodeBlocked, StatusBlocked},
		{CodeEmpty, StatusEmpty},
		{CodeError, StatusError},
		{ErrorCode("weird"), StatusError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.code); got != tt.want {
			t.Errorf("StatusFor(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

// Full engine: two real machines dispensing three portions each.
func TestCoordinator_MachinesRoundTrip(t *testing.T) {
	clock := newFakeClock()
	sink := newTransitionSink()
	c := NewCoordinator(sink, WithCoordinatorClock(clock))
	defer c.Close()

	left := &fakePosition{}
	right := &fakePosition{}
	mLeft := NewMachine("left", Hardware{Motor: &fakeMotor{}, Position: left}, DefaultTiming(), WithClock(clock))
	mRight := NewMachine("right", Hardware{Motor: &fakeMotor{}, Position: right}, DefaultTiming(), WithClock(clock))
	defer mLeft.Close()
	defer mRight.Close()

	settle := func() {
		mLeft.Status()
		mRight.Status()
	}

	job, _ := NewJob(3, []SequenceRunner{mLeft, mRight})
	if !c.TryRun(job) {
		t.Fatal("TryRun rejected")
	}
	for i := 0; i < 3; i++ {
		clock.Advance(500*time.Millisecond, settle)
		left.Pulse()
		right.Pulse()
		settle()
	}
	for _, m := range []*Machine{mLeft, mRight} {
		if st := m.Status(); st.RoundsRemaining != 0 {
			t.Errorf("%s RoundsRemaining = %d, want 0", m.Name(), st.RoundsRemaining)
		}
	}
	clock.Advance(300*time.Millisecond, settle)

	done := sink.waitFor(t, TransitionFinished)
	if done.Summary.Status != StatusSuccessful {
		t.Errorf("status = %q, want successful", done.Summary.Status)
	}
}
