package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("contracts:expire").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("contracts:expire").End(boom), boom)

	assert.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("contracts:expire", "success")))
	assert.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("contracts:expire", "failure")))
	assert.Equal(t, 1.0, counterValue(t, m.failures.WithLabelValues("contracts:expire")))
}

func TestAddExpired(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddExpired("proforma", 3)
	m.AddExpired("proforma", 0)
	assert.Equal(t, 3.0, counterValue(t, m.expired.WithLabelValues("proforma")))

	var nilMetrics *Metrics
	nilMetrics.AddExpired("contract", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
