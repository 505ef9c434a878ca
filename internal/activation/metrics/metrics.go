package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for beneficiary activation.
type Metrics struct {
	// Workflow outcomes by kind ("activated", "rejected", ...)
	Outcomes *prometheus.CounterVec

	// Deposits granted by eligibility type and policy version
	DepositsGranted *prometheus.CounterVec

	// Identity-check provider failures
	FetchFailures prometheus.Counter

	// End-to-end Process latency
	ProcessLatency prometheus.Histogram
}

// New creates a new Metrics instance with all activation metrics registered.
func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passculture_activation_outcomes_total",
			Help: "Beneficiary activation outcomes by kind",
		}, []string{"outcome"}),

		DepositsGranted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passculture_deposits_granted_total",
			Help: "Deposits granted by eligibility type and policy version",
		}, []string{"type", "version"}),

		FetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "passculture_identity_check_fetch_failures_total",
			Help: "Identity-check application fetches that failed",
		}),

		ProcessLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "passculture_activation_process_duration_seconds",
			Help:    "Duration of one activation run including the provider fetch",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementDepositGranted(depositType string, version int) {
	if m != nil {
		m.DepositsGranted.WithLabelValues(depositType, strconv.Itoa(version)).Inc()
	}
}

func (m *Metrics) IncrementFetchFailure() {
	if m != nil {
		m.FetchFailures.Inc()
	}
}

func (m *Metrics) ObserveProcessLatency(d time.Duration) {
	if m != nil {
		m.ProcessLatency.Observe(d.Seconds())
	}
}
