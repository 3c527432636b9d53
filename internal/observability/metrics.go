package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the API and the ledger.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	closures        *prometheus.CounterVec
	classifications *prometheus.CounterVec
	postings        *prometheus.CounterVec
	violations      *prometheus.CounterVec
}

// NewMetrics initialises the registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stationledger_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stationledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	closures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stationledger_shift_closures_total",
		Help: "Shift closure attempts by outcome.",
	}, []string{"result"})
	classifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stationledger_variance_classifications_total",
		Help: "Attendant variance classifications recorded at closure.",
	}, []string{"classification"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stationledger_safe_postings_total",
		Help: "Safe ledger entries committed by type.",
	}, []string{"type"})
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stationledger_safe_chain_violations_total",
		Help: "Ledger chain violations that halted a safe.",
	}, []string{"station"})
	registry.MustRegister(requests, duration, closures, classifications, postings, violations)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		closures:        closures,
		classifications: classifications,
		postings:        postings,
		violations:      violations,
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

// Middleware records metrics for every HTTP request.
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

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveClosure counts a shift closure attempt.
func (m *Metrics) ObserveClosure(result string) {
	if m == nil {
		return
	}
	m.closures.WithLabelValues(result).Inc()
}

// ObserveClassification counts an attendant's variance classification.
func (m *Metrics) ObserveClassification(classification string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(classification).Inc()
}

// ObservePosting counts a committed safe entry.
func (m *Metrics) ObservePosting(txType string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(txType).Inc()
}

// ObserveChainViolation counts a safe halted by a chain violation.
func (m *Metrics) ObserveChainViolation(stationID int64) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(strconv.FormatInt(stationID, 10)).Inc()
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
