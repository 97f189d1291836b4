package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tfgate/pkg/observability"
	"gopkg.in/yaml.v3"
)

// MinSecretKeyLength is the shortest accepted session signing key
const MinSecretKeyLength = 16

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Backend registry
	Registry RegistryConfig `yaml:"registry"`

	// Sessions and login
	Auth AuthConfig `yaml:"auth"`

	// Credential store
	Database DatabaseConfig `yaml:"database"`

	// Optional shared rate limiting
	Redis RedisConfig `yaml:"redis"`

	// Namespaces granted to users without an explicit list
	Namespaces NamespacesConfig `yaml:"namespaces"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// RegistryConfig points at the backend module registry
type RegistryConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	DiscoveryTTL time.Duration `yaml:"discovery_cache_ttl"`
}

// AuthConfig holds session and login settings
type AuthConfig struct {
	SecretKey       string        `yaml:"secret_key"`
	AdminEmail      string        `yaml:"admin_email"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	CookieSecure    bool          `yaml:"cookie_secure"`
	LoginRateLimit  int           `yaml:"login_rate_limit"`
	LoginRateWindow time.Duration `yaml:"login_rate_window"`
	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig holds credential store settings
type DatabaseConfig struct {
	Driver   string        `yaml:"driver"`
	URL      string        `yaml:"url"`
	MaxConns int           `yaml:"max_conns"`
	MinConns int           `yaml:"min_conns"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig holds redis settings. An empty URL disables redis.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// NamespacesConfig holds the defaults shown to users
type NamespacesConfig struct {
	DefaultNamespaces []string `yaml:"default_namespaces"`
	DefaultProviders  []string `yaml:"default_providers"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	ProbeSchedule  string `yaml:"probe_schedule"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Registry: RegistryConfig{
			URL:          "http://localhost:8000",
			Timeout:      10 * time.Second,
			DiscoveryTTL: 5 * time.Minute,
		},
		Auth: AuthConfig{
			SessionTTL:      24 * time.Hour,
			LoginRateLimit:  10,
			LoginRateWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Driver:   "sqlite3",
			URL:      "tfgate.db",
			MaxConns: 10,
			MinConns: 1,
			Timeout:  5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Namespaces: NamespacesConfig{
			DefaultNamespaces: []string{"hashicorp", "terraform-aws-modules", "terraform-google-modules"},
			DefaultProviders:  []string{"aws", "azure", "gcp", "kubernetes"},
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			ProbeSchedule:  "@every 30s",
		},
	}
}

// LoadConfig loads configuration from the optional TFGATE_CONFIG_FILE and
// then from environment variables, which take precedence
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("TFGATE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML file onto cfg
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides every field that has a TFGATE_ variable set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("TFGATE_HOST", s.Host)
	s.Port = getEnv("TFGATE_PORT", s.Port)
	s.HealthPort = getEnv("TFGATE_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("TFGATE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("TFGATE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("TFGATE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("TFGATE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	r := &c.Registry
	r.URL = getEnv("TFGATE_REGISTRY_URL", r.URL)
	r.Timeout = getEnvDuration("TFGATE_REGISTRY_TIMEOUT", r.Timeout)
	r.DiscoveryTTL = getEnvDuration("TFGATE_DISCOVERY_CACHE_TTL", r.DiscoveryTTL)

	a := &c.Auth
	a.SecretKey = getEnv("TFGATE_SECRET_KEY", a.SecretKey)
	a.AdminEmail = getEnv("TFGATE_ADMIN_EMAIL", a.AdminEmail)
	a.SessionTTL = getEnvDuration("TFGATE_SESSION_TTL", a.SessionTTL)
	a.CookieSecure = getEnvBool("TFGATE_COOKIE_SECURE", a.CookieSecure)
	a.LoginRateLimit = getEnvInt("TFGATE_LOGIN_RATE_LIMIT", a.LoginRateLimit)
	a.LoginRateWindow = getEnvDuration("TFGATE_LOGIN_RATE_WINDOW", a.LoginRateWindow)
	a.TrustedProxies = getEnvList("TFGATE_TRUSTED_PROXIES", a.TrustedProxies)

	d := &c.Database
	d.Driver = getEnv("TFGATE_DATABASE_DRIVER", d.Driver)
	d.URL = getEnv("TFGATE_DATABASE_URL", d.URL)
	d.MaxConns = getEnvInt("TFGATE_DATABASE_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("TFGATE_DATABASE_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("TFGATE_DATABASE_TIMEOUT", d.Timeout)

	rd := &c.Redis
	rd.URL = getEnv("TFGATE_REDIS_URL", rd.URL)
	rd.Password = getEnv("TFGATE_REDIS_PASSWORD", rd.Password)
	rd.DB = getEnvInt("TFGATE_REDIS_DB", rd.DB)
	rd.PoolSize = getEnvInt("TFGATE_REDIS_POOL_SIZE", rd.PoolSize)

	n := &c.Namespaces
	n.DefaultNamespaces = getEnvList("TFGATE_DEFAULT_NAMESPACES", n.DefaultNamespaces)
	n.DefaultProviders = getEnvList("TFGATE_DEFAULT_PROVIDERS", n.DefaultProviders)

	o := &c.Observability
	o.LogLevel = getEnv("TFGATE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("TFGATE_METRICS_ENABLED", o.MetricsEnabled)
	o.ProbeSchedule = getEnv("TFGATE_PROBE_SCHEDULE", o.ProbeSchedule)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate registry config
	u, err := url.Parse(c.Registry.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("registry URL must be an absolute http(s) URL: %q", c.Registry.URL)
	}

	// Validate auth config
	if len(c.Auth.SecretKey) < MinSecretKeyLength {
		return fmt.Errorf("secret key must be at least %d characters", MinSecretKeyLength)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.LoginRateLimit < 0 {
		return fmt.Errorf("login rate limit must not be negative")
	}
	if c.Auth.LoginRateLimit > 0 && c.Auth.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate window must be positive when rate limiting is enabled")
	}

	// Validate database config based on driver
	switch c.Database.Driver {
	case "postgres", "sqlite3":
		if c.Database.URL == "" {
			return fmt.Errorf("database URL is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
