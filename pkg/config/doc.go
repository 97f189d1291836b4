// Package config provides application configuration management from a YAML
// file and environment variables.
//
// # Overview
//
// Defaults are applied first, then the file named by TFGATE_CONFIG_FILE (if
// any), then TFGATE_* environment variables. The result is validated before
// it is returned.
//
// # Configuration Structure
//
// Server settings:
//
//	TFGATE_HOST="0.0.0.0"
//	TFGATE_PORT="8080"
//	TFGATE_HEALTH_PORT="9090"
//	TFGATE_READ_TIMEOUT="15s"
//	TFGATE_WRITE_TIMEOUT="15s"
//
// Backend registry:
//
//	TFGATE_REGISTRY_URL="http://localhost:8000"
//	TFGATE_REGISTRY_TIMEOUT="10s"
//	TFGATE_DISCOVERY_CACHE_TTL="5m"
//
// Sessions:
//
//	TFGATE_SECRET_KEY="at-least-16-characters"
//	TFGATE_ADMIN_EMAIL="admin@example.com"
//	TFGATE_SESSION_TTL="24h"
//	TFGATE_LOGIN_RATE_LIMIT="10"
//	TFGATE_LOGIN_RATE_WINDOW="1m"
//
// Storage settings:
//
//	TFGATE_DATABASE_DRIVER="postgres"  # postgres, sqlite3
//	TFGATE_DATABASE_URL="postgres://localhost/tfgate?sslmode=disable"
//	TFGATE_REDIS_URL="localhost:6379"  # optional, enables shared rate limits
//
// Observability settings:
//
//	TFGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	TFGATE_METRICS_ENABLED="true"
//	TFGATE_PROBE_SCHEDULE="@every 30s"
//
// The same keys in a YAML file:
//
//	registry:
//	  url: https://registry.internal
//	auth:
//	  secret_key: change-me-to-something-long
//	namespaces:
//	  default_namespaces: [hashicorp, acme]
package config
