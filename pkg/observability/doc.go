// Package observability provides logging, metrics, health checks and
// shutdown handling for the proxy.
//
// # Logging
//
// Logger is a small structured-logging facade over logrus that writes JSON
// lines. Request-scoped loggers are stored on the context by
// httputil.LoggingMiddleware and retrieved with FromContext, which adds the
// request_id and user_id fields.
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("namespace", ns).Warn("namespace access denied")
//
// # Metrics
//
// NewMetrics registers the tfgate_* collectors on a prometheus registry.
// Every Record method is nil-safe.
//
// # Health
//
// HealthChecker serves /healthz (liveness) and /readyz (database, redis and
// backend registry). The database is the only hard dependency; an
// unreachable backend reports "degraded" because request verification fails
// open on connectivity errors.
//
// BackendProbe runs a cron schedule that keeps the tfgate_backend_up gauge
// current.
package observability
