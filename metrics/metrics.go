package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ValidationMetrics counts validation outcomes. Rejections are labelled by
// the validator's closed reason set, so dashboards can break down exactly
// which rule fires.
type ValidationMetrics struct {
	BlocksAccepted    prometheus.Counter
	BlocksRejected    *prometheus.CounterVec
	ValidationSeconds prometheus.Histogram
}

// NewValidationMetrics registers the validation collectors with reg.
func NewValidationMetrics(reg prometheus.Registerer) *ValidationMetrics {
	factory := promauto.With(reg)
	return &ValidationMetrics{
		BlocksAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "toychain",
			Name:      "blocks_accepted_total",
			Help:      "Number of candidate blocks that passed all consensus checks.",
		}),
		BlocksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toychain",
			Name:      "blocks_rejected_total",
			Help:      "Number of rejected candidate blocks by rejection reason.",
		}, []string{"reason"}),
		ValidationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "toychain",
			Name:      "validation_duration_seconds",
			Help:      "Time spent validating a single candidate block.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveValidation records one validation outcome.
func (m *ValidationMetrics) ObserveValidation(accepted bool, reason string, seconds float64) {
	if m == nil {
		return
	}
	if accepted {
		m.BlocksAccepted.Inc()
	} else {
		m.BlocksRejected.WithLabelValues(reason).Inc()
	}
	m.ValidationSeconds.Observe(seconds)
}
