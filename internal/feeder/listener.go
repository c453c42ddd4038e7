package feeder

import (
	"context"
	"time"

	"github.com/nerrad567/catfeeder/internal/display"
	"github.com/nerrad567/catfeeder/internal/feeding"
	"github.com/nerrad567/catfeeder/internal/infrastructure/config"
	"github.com/nerrad567/catfeeder/internal/infrastructure/influxdb"
)

// HandleTransition implements feeding.Listener. It runs on the
// Coordinator's dispatch goroutine, one transition at a time.
func (s *Service) HandleTransition(t feeding.Transition) {
	s.mu.RLock()
	light := s.light
	panel := s.panel
	publisher := s.publisher
	feederID := s.cfg.Device.ID
	watchers := s.watchers
	entries := s.cfg.Feeder.Schedule
	s.mu.RUnlock()

	for _, w := range watchers {
		w.HandleTransition(t)
	}

	switch t.Kind {
	case feeding.TransitionStarted:
		if light != nil {
			light.On()
		}
		if s.metrics != nil {
			s.metrics.JobStarted(string(t.Summary.Trigger))
		}
		if panel != nil {
			if err := panel.SendTime(); err != nil {
				s.logger.Warn("display clock not synced", "error", err)
			}
		}
		s.persist(t.Summary)
		s.publish(publisher)

	case feeding.TransitionMachineFailed:
		if light != nil {
			light.Blink(100*time.Millisecond, 200*time.Millisecond, 30)
		}
		if s.metrics != nil {
			s.metrics.MachineFailed(t.Machine, string(t.Err.Code))
		}
		if s.telemetry != nil {
			s.telemetry.WriteMachineOutcome(influxdb.MachineOutcomePoint{
				FeederID:   feederID,
				JobID:      t.Summary.JobID,
				Machine:    t.Machine,
				Outcome:    string(t.Err.Code),
				RoundsLeft: t.Err.RoundsLeft,
				At:         s.clock.Now(),
			})
		}

	case feeding.TransitionMachineSucceeded:
		if s.metrics != nil {
			s.metrics.PortionsDispensed(t.Machine, t.Summary.Portions)
		}
		if s.telemetry != nil {
			s.telemetry.WriteMachineOutcome(influxdb.MachineOutcomePoint{
				FeederID: feederID,
				JobID:    t.Summary.JobID,
				Machine:  t.Machine,
				Outcome:  string(feeding.StatusSuccessful),
				At:       s.clock.Now(),
			})
		}

	case feeding.TransitionFinished:
		succeeded := t.Summary.Status == feeding.StatusSuccessful
		// A failure blink is left to run out.
		if light != nil && succeeded {
			light.Off()
		}
		if panel != nil && succeeded {
			if err := panel.SendFeedingDone(panelSlot(t.Summary.Slot, entries)); err != nil {
				s.logger.Warn("display not told about feeding", "error", err)
			}
		}
		if s.metrics != nil {
			s.metrics.JobFinished(string(t.Summary.Status), t.Summary.FinishedAt.Sub(t.Summary.StartedAt).Seconds())
		}
		if s.telemetry != nil {
			s.telemetry.WriteFeedJob(influxdb.FeedJobPoint{
				FeederID:   feederID,
				JobID:      t.Summary.JobID,
				Trigger:    string(t.Summary.Trigger),
				Status:     string(t.Summary.Status),
				Portions:   t.Summary.Portions,
				Machines:   len(t.Job.Machines()),
				StartedAt:  t.Summary.StartedAt,
				FinishedAt: t.Summary.FinishedAt,
			})
		}
		s.publish(publisher)
		s.logNextFeeding()
		s.persist(t.Summary)
	}
}

// panelSlot returns the 1-based position of the entry timed label, or 0 when
// no entry matches or the panel cannot show it.
func panelSlot(label string, entries []config.ScheduleEntry) int {
	if label == "" {
		return 0
	}
	for i, e := range entries {
		if e.Time == label {
			if i+1 > display.ScheduleSlots {
				return 0
			}
			return i + 1
		}
	}
	return 0
}

func (s *Service) persist(sum feeding.Summary) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.SaveLast(ctx, sum); err != nil {
		s.logger.Error("last feeding not saved", "job_id", sum.JobID, "error", err)
	}
}

func (s *Service) publish(p StatusPublisher) {
	if p == nil {
		return
	}
	if err := p.PublishStatus(); err != nil {
		s.logger.Warn("status not published", "error", err)
	}
}
