package jobmetrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, registry *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	require.NoError(t, m.Track("ledger:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:reconcile").End(boom), boom)
	skip := fmt.Errorf("%w: item gone", asynq.SkipRetry)
	require.ErrorIs(t, m.Track("ledger:reconcile").End(skip), asynq.SkipRetry)

	body := scrape(t, registry)
	require.Contains(t, body, `stockledger_jobs_total{job="ledger:reconcile",status="success"} 1`)
	require.Contains(t, body, `stockledger_jobs_total{job="ledger:reconcile",status="failure"} 1`)
	require.Contains(t, body, `stockledger_jobs_total{job="ledger:reconcile",status="skipped"} 1`)
	require.Contains(t, body, `stockledger_jobs_failures_total{job="ledger:reconcile"} 1`)
}

func TestAddDiscrepancies(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.AddDiscrepancies("chain", 2)
	m.AddDiscrepancies("chain", 0)
	require.Contains(t, scrape(t, registry), `stockledger_ledger_discrepancies_total{kind="chain"} 2`)

	var nilMetrics *Metrics
	nilMetrics.AddDiscrepancies("chain", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
