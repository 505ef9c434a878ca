package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementOutcome("activated")
		m.IncrementDepositGranted("AGE18", 2)
		m.IncrementFetchFailure()
		m.ObserveProcessLatency(time.Second)
	})
}

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.IncrementOutcome("activated")
	m.IncrementOutcome("activated")
	m.IncrementDepositGranted("AGE18", 2)
	m.IncrementFetchFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("activated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DepositsGranted.WithLabelValues("AGE18", "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures))
}
