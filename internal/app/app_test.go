package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/jobs"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("LEDGER_CACHE_TTL", "90s")
	t.Setenv("APP_ENV", "production")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.LedgerCacheTTL)
	require.Equal(t, 30*time.Second, cfg.ApprovalLockTTL)
	require.Equal(t, "backoffice.changes", cfg.NotifyChannel)
	require.True(t, cfg.IsProduction())

	t.Setenv("APPROVAL_LOCK_TTL", "0s")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestRuntimeTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	require.True(t, RefreshTestMode())
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	require.False(t, RefreshTestMode())
	require.False(t, InTestMode())
}

func TestActorMiddleware(t *testing.T) {
	var seen int64
	var present bool
	h := ActorMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, present = shared.ActorFromContext(r.Context())
	}))

	for _, tc := range []struct {
		header string
		want   int64
		ok     bool
	}{
		{"42", 42, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-3", 0, false},
	} {
		seen, present = 0, false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set(ActorHeader, tc.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		require.Equal(t, tc.ok, present, tc.header)
		require.Equal(t, tc.want, seen, tc.header)
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:     nil,
		Config:     &Config{AppRequestTimeout: time.Second},
		Metrics:    observability.NewMetrics(),
		JobHandler: jobs.NewHandler(nil, nil),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `backoffice_http_requests_total{code="200",route="/healthz"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adjustments", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
