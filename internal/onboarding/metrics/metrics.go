// Package metrics provides observability for the onboarding module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks onboarding lifecycle counts and critical path durations.
type Metrics struct {
	PropertiesCreated    prometheus.Counter
	PropertyVerdicts     *prometheus.CounterVec
	PropertiesTokenized  prometheus.Counter
	KYCVerdicts          *prometheus.CounterVec
	VerificationDuration prometheus.Histogram
	TokenizationDuration prometheus.Histogram
}

// New creates a Metrics instance with all onboarding metrics registered.
func New() *Metrics {
	return &Metrics{
		PropertiesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deedgate_properties_created_total",
			Help: "Total number of property onboarding records created",
		}),
		PropertyVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deedgate_property_verdicts_total",
			Help: "Property verification outcomes by verdict",
		}, []string{"verdict"}),
		PropertiesTokenized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deedgate_properties_tokenized_total",
			Help: "Total number of properties minted and listed",
		}),
		KYCVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deedgate_kyc_verdicts_total",
			Help: "User KYC outcomes by verdict",
		}, []string{"verdict"}),
		VerificationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "deedgate_verification_duration_seconds",
			Help:    "Duration of verification submissions including the oracle round trip",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		TokenizationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "deedgate_tokenization_duration_seconds",
			Help:    "Duration of tokenize operations including the registry call",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
	}
}

// IncrementPropertyCreated records a new property onboarding record.
func (m *Metrics) IncrementPropertyCreated() {
	m.PropertiesCreated.Inc()
}

// RecordPropertyVerdict records a completed property verification.
func (m *Metrics) RecordPropertyVerdict(verdict string, start time.Time) {
	m.PropertyVerdicts.WithLabelValues(verdict).Inc()
	m.VerificationDuration.Observe(time.Since(start).Seconds())
}

// IncrementPropertyTokenized records a completed listing.
func (m *Metrics) IncrementPropertyTokenized(start time.Time) {
	m.PropertiesTokenized.Inc()
	m.TokenizationDuration.Observe(time.Since(start).Seconds())
}

// RecordKYCVerdict records a completed user verification.
func (m *Metrics) RecordKYCVerdict(verdict string, start time.Time) {
	m.KYCVerdicts.WithLabelValues(verdict).Inc()
	m.VerificationDuration.Observe(time.Since(start).Seconds())
}
