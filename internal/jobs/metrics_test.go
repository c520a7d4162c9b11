package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:reconcile").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:reconcile", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:reconcile", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger:reconcile")))
}

func TestAddAnomalies(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddAnomalies("lot_exhaustion", 4, 2)
	m.AddAnomalies("lot_exhaustion", 4, 0)
	m.AddAnomalies("ledger_discrepancy", 0, 1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.anomalies.WithLabelValues("lot_exhaustion", "4")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.anomalies.WithLabelValues("ledger_discrepancy", "0")))

	var nilMetrics *Metrics
	nilMetrics.AddAnomalies("lot_exhaustion", 1, 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
