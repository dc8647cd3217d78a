package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the back office.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	adjustments     *prometheus.CounterVec
	ledgerBuild     prometheus.Histogram
	ledgerEntries   prometheus.Gauge
	cashBalance     prometheus.Gauge
}

// NewMetrics initialises the registry with HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_adjustments_total",
		Help: "Inventory adjustments entering a status, by adjustment type.",
	}, []string{"type", "status"})
	ledgerBuild := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "backoffice_cash_ledger_build_seconds",
		Help:    "Time spent merging cash ledger sources.",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	})
	ledgerEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backoffice_cash_ledger_entries",
		Help: "Entries in the most recently built cash ledger.",
	})
	cashBalance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backoffice_cash_closing_balance",
		Help: "Closing balance of the watched cash ledger window.",
	})
	registry.MustRegister(requests, duration, adjustments, ledgerBuild, ledgerEntries, cashBalance)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		adjustments:     adjustments,
		ledgerBuild:     ledgerBuild,
		ledgerEntries:   ledgerEntries,
		cashBalance:     cashBalance,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAdjustment counts an adjustment reaching status.
func (m *Metrics) ObserveAdjustment(adjType, status string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(adjType, status).Inc()
}

// ObserveLedgerBuild records one ledger merge.
func (m *Metrics) ObserveLedgerBuild(elapsed time.Duration, entries int) {
	if m == nil {
		return
	}
	m.ledgerBuild.Observe(elapsed.Seconds())
	m.ledgerEntries.Set(float64(entries))
}

// SetCashBalance publishes the watched window's closing balance.
func (m *Metrics) SetCashBalance(balance float64) {
	if m == nil {
		return
	}
	m.cashBalance.Set(balance)
}

// Registerer exposes the registry for extra collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
