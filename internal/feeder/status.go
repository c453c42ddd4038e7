package feeder

import "github.com/nerrad567/catfeeder/internal/feeding"

// timestampLayout is the local wall-clock format used in status reports.
const timestampLayout = "2006-01-02T15:04:05"

// StatusReport is the feeder status shared over MQTT and the HTTP API.
// Fields without a value are null.
type StatusReport struct {
	LastFeed         *string `json:"last_feed"`
	LastFeedPortions *int    `json:"last_feed_portions"`
	LastFeedStatus   *string `json:"last_feed_status"`
	NextFeed         *string `json:"next_feed"`
	NextFeedPortions *int    `json:"next_feed_portions"`
	ScheduleEnabled  bool    `json:"schedule_enabled"`
}

// Status builds the current report.
func (s *Service) Status() StatusReport {
	var r StatusReport

	if last := s.coord.Summary(); last.Status != feeding.StatusNone {
		when := last.StartedAt.In(s.sched.Location()).Format(timestampLayout)
		portions := last.Portions
		status := string(last.Status)
		r.LastFeed, r.LastFeedPortions, r.LastFeedStatus = &when, &portions, &status
	}

	if slot, at, ok := s.sched.Next(s.clock.Now()); ok {
		when := at.Format(timestampLayout)
		portions := slot.Portions
		r.NextFeed, r.NextFeedPortions = &when, &portions
		r.ScheduleEnabled = true
	}
	return r
}

// LastFeeding returns the summary of the active or most recent job.
func (s *Service) LastFeeding() feeding.Summary {
	return s.coord.Summary()
}
