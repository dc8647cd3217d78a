package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `backoffice_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `backoffice_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveAdjustment("damage", "pending")
	metrics.ObserveAdjustment("damage", "approved")
	metrics.ObserveAdjustment("damage", "approved")
	metrics.ObserveLedgerBuild(2*time.Millisecond, 14)
	metrics.SetCashBalance(110.5)

	body := scrape(t, metrics)
	require.Contains(t, body, `backoffice_adjustments_total{status="approved",type="damage"} 2`)
	require.Contains(t, body, `backoffice_adjustments_total{status="pending",type="damage"} 1`)
	require.Contains(t, body, "backoffice_cash_ledger_build_seconds_count 1")
	require.Contains(t, body, "backoffice_cash_ledger_entries 14")
	require.Contains(t, body, "backoffice_cash_closing_balance 110.5")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveAdjustment("loss", "approved")
	metrics.ObserveLedgerBuild(time.Millisecond, 1)
	metrics.SetCashBalance(1)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
