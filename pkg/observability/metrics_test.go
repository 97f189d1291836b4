package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	t.Run("registers on provided registry", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)
		require.NotNil(t, metrics)

		metrics.RecordLogin("success")

		families, err := registry.Gather()
		require.NoError(t, err)
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "tfgate_login_attempts_total")
	})

	t.Run("nil registry creates one", func(t *testing.T) {
		assert.NotNil(t, NewMetrics(nil))
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRegistryRequest("verify", "ok", time.Millisecond)
		m.RecordSessionTransition("refreshed")
		m.RecordLogin("success")
		m.RecordAccessDenied("namespace")
		m.RecordFilteredModules(3)
		m.RecordRepositoryRegistration("created")
		m.SetBackendUp(true)
	})
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRegistryRequest("verify", "ok", 10*time.Millisecond)
	m.RecordRegistryRequest("verify", "ok", 10*time.Millisecond)
	m.RecordRegistryRequest("refresh", "unauthorized", time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RegistryRequestsTotal.WithLabelValues("verify", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryRequestsTotal.WithLabelValues("refresh", "unauthorized")))

	m.RecordSessionTransition("forced_logout")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitionsTotal.WithLabelValues("forced_logout")))

	m.RecordAccessDenied("namespace")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessDeniedTotal.WithLabelValues("namespace")))

	m.RecordFilteredModules(4)
	m.RecordFilteredModules(0)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FilteredModulesTotal))

	m.RecordRepositoryRegistration("duplicate")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepositoryRegistrationsTotal.WithLabelValues("duplicate")))

	m.SetBackendUp(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendUp))
	m.SetBackendUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendUp))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/v1/modules/{namespace}/{name}/{provider}/versions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/modules/acme/vpc/aws/versions", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(
		http.MethodGet, "/v1/modules/{namespace}/{name}/{provider}/versions", "403"))
	assert.Equal(t, 1.0, count)
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	HTTPMetricsMiddleware(nil)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetBackendUp(true)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "tfgate_backend_up 1"))
}
