package cleaner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for cleaner invocations.
// A nil *Metrics records nothing.
type Metrics struct {
	invocations     *prometheus.CounterVec
	versionsDeleted *prometheus.CounterVec
	duration        *prometheus.HistogramVec
}

// NewMetrics registers the cleaner collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vclean_cleaner_invocations_total",
				Help: "Total number of cleaner job invocations by resulting status",
			},
			[]string{"record_type", "status"},
		),

		versionsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vclean_cleaner_versions_deleted_total",
				Help: "Total number of version rows deleted",
			},
			[]string{"record_type"},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vclean_cleaner_invocation_duration_seconds",
				Help:    "Duration of cleaner job invocations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"record_type"},
		),
	}
}

// persistFailedLabel is the status label of invocations whose final state
// could not be written, leaving the job Running
const persistFailedLabel = "PersistFailed"

// RecordInvocation records the outcome of one invocation
func (m *Metrics) RecordInvocation(recordType string, status Status, deleted int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(recordType, string(status)).Inc()
	m.versionsDeleted.WithLabelValues(recordType).Add(float64(deleted))
	m.duration.WithLabelValues(recordType).Observe(elapsed.Seconds())
}

// RecordPersistFailure records an invocation whose final job state was not saved
func (m *Metrics) RecordPersistFailure(recordType string, deleted int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(recordType, persistFailedLabel).Inc()
	m.versionsDeleted.WithLabelValues(recordType).Add(float64(deleted))
	m.duration.WithLabelValues(recordType).Observe(elapsed.Seconds())
}
