package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP collectors and the registry served on /metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
}

// Posting calls sit well above the default buckets when a batch runs.
var latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// NewMetrics builds a private registry with request counters and latency,
// labelled by module (bookings, accruals, jobs, system).
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stayledger_http_requests_total",
		Help: "HTTP requests by module, route, method and status code.",
	}, []string{"module", "route", "method", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stayledger_http_request_duration_seconds",
		Help:    "HTTP request latency by module and route.",
		Buckets: latencyBuckets,
	}, []string{"module", "route"})
	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stayledger_http_in_flight_requests",
		Help: "Requests currently being served by module.",
	}, []string{"module"})
	registry.MustRegister(requests, duration, inFlight)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		inFlight:        inFlight,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records one observation per request, keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		pathModule := moduleOf(r.URL.Path)
		gauge := m.inFlight.WithLabelValues(pathModule)
		gauge.Inc()
		defer gauge.Dec()

		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		module := moduleOf(route)
		if route == "unknown" {
			module = pathModule
		}
		m.requestsTotal.WithLabelValues(module, route, r.Method, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(module, route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry so job and posting metrics share /metrics.
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

// moduleOf maps a path or route pattern to the module serving it.
func moduleOf(path string) string {
	rest := strings.TrimPrefix(path, "/api")
	switch {
	case strings.HasPrefix(rest, "/bookings"):
		return "bookings"
	case strings.HasPrefix(rest, "/accruals"):
		return "accruals"
	case strings.HasPrefix(path, "/jobs"):
		return "jobs"
	}
	return "system"
}
