package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// FeedJobPoint describes one finished feeding job.
type FeedJobPoint struct {
	FeederID   string
	JobID      string
	Trigger    string
	Status     string
	Portions   int
	Machines   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// MachineOutcomePoint describes how one machine fared in a job.
type MachineOutcomePoint struct {
	FeederID   string
	JobID      string
	Machine    string
	Outcome    string // "successful" or a failure code
	RoundsLeft int
	At         time.Time
}

// WriteFeedJob queues a feed_job point. A nil or closed client drops it.
func (c *Client) WriteFeedJob(p FeedJobPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(feedJobPoint(p))
}

// WriteMachineOutcome queues a feed_machine point.
func (c *Client) WriteMachineOutcome(p MachineOutcomePoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(machineOutcomePoint(p))
}

func feedJobPoint(p FeedJobPoint) *write.Point {
	return write.NewPoint(
		"feed_job",
		map[string]string{
			"feeder":  p.FeederID,
			"trigger": p.Trigger,
			"status":  p.Status,
		},
		map[string]interface{}{
			"job_id":      p.JobID,
			"portions":    p.Portions,
			"machines":    p.Machines,
			"duration_ms": p.FinishedAt.Sub(p.StartedAt).Milliseconds(),
		},
		p.FinishedAt,
	)
}

func machineOutcomePoint(p MachineOutcomePoint) *write.Point {
	return write.NewPoint(
		"feed_machine",
		map[string]string{
			"feeder":  p.FeederID,
			"machine": p.Machine,
			"outcome": p.Outcome,
		},
		map[string]interface{}{
			"job_id":      p.JobID,
			"rounds_left": p.RoundsLeft,
		},
		p.At,
	)
}
