package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("cashbook:warmup").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("cashbook:warmup").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, reg, "backoffice_jobs_total", map[string]string{"job": "cashbook:warmup", "status": "success"}))
	require.Equal(t, 1.0, counterValue(t, reg, "backoffice_jobs_total", map[string]string{"job": "cashbook:warmup", "status": "failure"}))
	require.Equal(t, 1.0, counterValue(t, reg, "backoffice_jobs_failures_total", map[string]string{"job": "cashbook:warmup"}))
}

func TestAddRecordsIgnoresEmptyRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddRecords("idempotency:cleanup", 0)
	m.AddRecords("idempotency:cleanup", 4)
	require.Equal(t, 4.0, counterValue(t, reg, "backoffice_job_records_total", map[string]string{"job": "idempotency:cleanup"}))

	var nilMetrics *Metrics
	nilMetrics.AddRecords("x", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
