package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DefaultReadinessTimeout bounds one readiness check across all dependencies
const DefaultReadinessTimeout = 5 * time.Second

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Required  bool      `json:"required"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// dependency is one named readiness check. A failing required dependency
// makes the proxy unhealthy; any other failure only degrades it.
type dependency struct {
	name     string
	required bool
	check    func(ctx context.Context) (status, message string)
}

// HealthChecker serves liveness and readiness for the proxy. The credential
// store is required. Redis and the backend registry are optional because
// the login limiter and the session authorizer both fail open without them.
type HealthChecker struct {
	deps    []dependency
	version string
	timeout time.Duration
}

// NewHealthChecker creates a health checker. Any dependency may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, backend Pinger) *HealthChecker {
	h := &HealthChecker{
		version: "dev",
		timeout: DefaultReadinessTimeout,
	}
	if db != nil {
		h.deps = append(h.deps, dependency{name: "database", required: true, check: databaseCheck(db)})
	}
	if redisClient != nil {
		h.deps = append(h.deps, dependency{name: "redis", check: pingCheck(redisPinger{redisClient})})
	}
	if backend != nil {
		h.deps = append(h.deps, dependency{name: "registry", check: pingCheck(backend)})
	}
	return h
}

// SetVersion sets the version reported by health checks
func (h *HealthChecker) SetVersion(version string) {
	h.version = version
}

// Liveness answers 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// Readiness checks every dependency. Unhealthy answers 503; degraded still
// answers 200 so the proxy keeps receiving traffic.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// Check runs all dependency checks concurrently and folds them into one status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	results := make([]DependencyStatus, len(h.deps))

	var g errgroup.Group
	for i, dep := range h.deps {
		g.Go(func() error {
			start := time.Now()
			st, msg := dep.check(ctx)
			results[i] = DependencyStatus{
				Status:    st,
				Required:  dep.required,
				Message:   msg,
				LatencyMS: time.Since(start).Milliseconds(),
				Timestamp: start,
			}
			return nil
		})
	}
	g.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}
	for i, dep := range h.deps {
		res := results[i]
		status.Dependencies[dep.name] = res
		switch {
		case res.Status == StatusHealthy:
		case res.Status == StatusUnhealthy && dep.required:
			status.Status = StatusUnhealthy
		case status.Status != StatusUnhealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

// databaseCheck pings the store, runs SELECT 1 and flags an exhausted pool
func databaseCheck(db *sql.DB) func(ctx context.Context) (string, string) {
	return func(ctx context.Context) (string, string) {
		if err := db.PingContext(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}

		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return StatusUnhealthy, "query failed: " + err.Error()
		}

		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return StatusDegraded, "connection pool exhausted"
		}
		return StatusHealthy, ""
	}
}

func pingCheck(p Pinger) func(ctx context.Context) (string, string) {
	return func(ctx context.Context) (string, string) {
		if err := p.Ping(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
}
