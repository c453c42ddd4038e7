// Package metrics exposes feeding counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catfeeder"

// Metrics holds the feeder's collectors in a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsStarted       *prometheus.CounterVec
	jobsRejected      *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	machineFailures   *prometheus.CounterVec
	portionsDispensed *prometheus.CounterVec
	jobActive         prometheus.Gauge
	jobDuration       prometheus.Histogram
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Feeding jobs accepted, by trigger.",
		}, []string{"trigger"}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Feeding requests rejected because a job was running, by trigger.",
		}, []string{"trigger"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Feeding jobs finished, by final status.",
		}, []string{"status"}),
		machineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "machine_failures_total",
			Help:      "Machine sequence failures, by machine and code.",
		}, []string{"machine", "code"}),
		portionsDispensed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portions_dispensed_total",
			Help:      "Portions dispensed by successful machine sequences.",
		}, []string{"machine"}),
		jobActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_active",
			Help:      "1 while a feeding job is running.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from job start to finish.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
	}

	m.registry.MustRegister(
		m.jobsStarted,
		m.jobsRejected,
		m.jobsFinished,
		m.machineFailures,
		m.portionsDispensed,
		m.jobActive,
		m.jobDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// JobStarted counts an accepted job.
func (m *Metrics) JobStarted(trigger string) {
	m.jobsStarted.WithLabelValues(trigger).Inc()
	m.jobActive.Set(1)
}

// JobRejected counts a request turned away by a running job.
func (m *Metrics) JobRejected(trigger string) {
	m.jobsRejected.WithLabelValues(trigger).Inc()
}

// JobFinished counts a finished job and records its duration.
func (m *Metrics) JobFinished(status string, seconds float64) {
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobActive.Set(0)
	if seconds >= 0 {
		m.jobDuration.Observe(seconds)
	}
}

// MachineFailed counts one machine failure.
func (m *Metrics) MachineFailed(machine, code string) {
	m.machineFailures.WithLabelValues(machine, code).Inc()
}

// PortionsDispensed adds a machine's completed portions.
func (m *Metrics) PortionsDispensed(machine string, portions int) {
	m.portionsDispensed.WithLabelValues(machine).Add(float64(portions))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
