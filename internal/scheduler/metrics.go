package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"genqueue/internal/domain"
)

// Metrics exposes scheduler state to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	jobs       *prometheus.GaugeVec
	admissions prometheus.Counter
	outcomes   *prometheus.CounterVec
	duration   prometheus.Histogram
}

// NewMetrics registers the scheduler collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "genqueue",
			Name:      "jobs",
			Help:      "Jobs currently held by the store, by status.",
		}, []string{"status"}),
		admissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genqueue",
			Name:      "admissions_total",
			Help:      "Jobs moved from queued to processing.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genqueue",
			Name:      "job_outcomes_total",
			Help:      "Terminal job outcomes by result (completed, pending or failure kind).",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "genqueue",
			Name:      "provider_call_seconds",
			Help:      "Duration of provider calls made for admitted jobs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.jobs, m.admissions, m.outcomes, m.duration)
	}
	return m
}

func (m *Metrics) observeCounts(counts map[domain.JobStatus]int) {
	if m == nil {
		return
	}
	for _, status := range []domain.JobStatus{
		domain.JobStatusQueued,
		domain.JobStatusProcessing,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	} {
		m.jobs.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (m *Metrics) admitted() {
	if m == nil {
		return
	}
	m.admissions.Inc()
}

func (m *Metrics) finished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}
