package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. All Record methods are safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Backend registry metrics
	RegistryRequestsTotal   *prometheus.CounterVec
	RegistryRequestDuration *prometheus.HistogramVec
	BackendUp               prometheus.Gauge

	// Session and authorization metrics
	SessionTransitionsTotal *prometheus.CounterVec
	LoginAttemptsTotal      *prometheus.CounterVec
	AccessDeniedTotal       *prometheus.CounterVec
	FilteredModulesTotal    prometheus.Counter

	// Business metrics
	RepositoryRegistrationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tfgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RegistryRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfgate_registry_requests_total",
				Help: "Total number of calls to the backend registry",
			},
			[]string{"operation", "outcome"},
		),
		RegistryRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tfgate_registry_request_duration_seconds",
				Help:    "Backend registry call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BackendUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tfgate_backend_up",
				Help: "Whether the last backend probe succeeded (1) or failed (0)",
			},
		),

		SessionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfgate_session_transitions_total",
				Help: "Session state machine transitions",
			},
			[]string{"transition"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfgate_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfgate_access_denied_total",
				Help: "Requests denied by namespace or permission checks",
			},
			[]string{"reason"},
		),
		FilteredModulesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tfgate_filtered_modules_total",
				Help: "Search results removed because their namespace is not accessible",
			},
		),

		RepositoryRegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfgate_repository_registrations_total",
				Help: "Repository registration attempts by outcome",
			},
			[]string{"outcome"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RegistryRequestsTotal,
		m.RegistryRequestDuration,
		m.BackendUp,
		m.SessionTransitionsTotal,
		m.LoginAttemptsTotal,
		m.AccessDeniedTotal,
		m.FilteredModulesTotal,
		m.RepositoryRegistrationsTotal,
	)

	return m
}

// RecordRegistryRequest records one backend call
func (m *Metrics) RecordRegistryRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RegistryRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.RegistryRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSessionTransition records a session state transition
func (m *Metrics) RecordSessionTransition(transition string) {
	if m == nil {
		return
	}
	m.SessionTransitionsTotal.WithLabelValues(transition).Inc()
}

// RecordLogin records a login attempt outcome
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordAccessDenied records a denied request
func (m *Metrics) RecordAccessDenied(reason string) {
	if m == nil {
		return
	}
	m.AccessDeniedTotal.WithLabelValues(reason).Inc()
}

// RecordFilteredModules records search results dropped by the namespace filter
func (m *Metrics) RecordFilteredModules(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.FilteredModulesTotal.Add(float64(count))
}

// RecordRepositoryRegistration records a registration outcome
func (m *Metrics) RecordRepositoryRegistration(outcome string) {
	if m == nil {
		return
	}
	m.RepositoryRegistrationsTotal.WithLabelValues(outcome).Inc()
}

// SetBackendUp records the result of a backend probe
func (m *Metrics) SetBackendUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.BackendUp.Set(1)
	} else {
		m.BackendUp.Set(0)
	}
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The path label is the mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := "unmatched"
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
