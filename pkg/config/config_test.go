package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/tfgate/pkg/observability"
)

const testSecret = "0123456789abcdef"

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"false", true, false},
		{"yes", true, false},
		{"", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

// TestGetEnvIntAndDuration tests numeric parsing with fallback on bad input
func TestGetEnvIntAndDuration(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	t.Setenv("TEST_INT", "not-a-number")
	if got := getEnvInt("TEST_INT", 1); got != 1 {
		t.Errorf("getEnvInt() = %d, want default 1", got)
	}

	t.Setenv("TEST_DURATION", "90s")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	t.Setenv("TEST_DURATION", "soon")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() = %v, want default 1s", got)
	}
}

// TestGetEnvList tests comma separated lists
func TestGetEnvList(t *testing.T) {
	def := []string{"hashicorp"}

	t.Setenv("TEST_LIST", " acme, , hashicorp ,")
	if got := getEnvList("TEST_LIST", def); !reflect.DeepEqual(got, []string{"acme", "hashicorp"}) {
		t.Errorf("getEnvList() = %v", got)
	}

	t.Setenv("TEST_LIST", "")
	if got := getEnvList("TEST_LIST", def); !reflect.DeepEqual(got, def) {
		t.Errorf("getEnvList() = %v, want default", got)
	}
}

// TestLoadConfig tests the layering of defaults, file and environment
func TestLoadConfig(t *testing.T) {
	t.Run("defaults with secret", func(t *testing.T) {
		t.Setenv("TFGATE_SECRET_KEY", testSecret)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
			t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
		}
		if cfg.Registry.DiscoveryTTL != 5*time.Minute {
			t.Errorf("DiscoveryTTL = %v, want 5m", cfg.Registry.DiscoveryTTL)
		}
		wantNS := []string{"hashicorp", "terraform-aws-modules", "terraform-google-modules"}
		if !reflect.DeepEqual(cfg.Namespaces.DefaultNamespaces, wantNS) {
			t.Errorf("DefaultNamespaces = %v", cfg.Namespaces.DefaultNamespaces)
		}
		wantProviders := []string{"aws", "azure", "gcp", "kubernetes"}
		if !reflect.DeepEqual(cfg.Namespaces.DefaultProviders, wantProviders) {
			t.Errorf("DefaultProviders = %v", cfg.Namespaces.DefaultProviders)
		}
		if cfg.Observability.Level() != observability.InfoLevel {
			t.Errorf("Level() = %v, want info", cfg.Observability.Level())
		}
		if len(cfg.Auth.TrustedProxies) != 0 {
			t.Errorf("TrustedProxies = %v, want none by default", cfg.Auth.TrustedProxies)
		}
	})

	t.Run("trusted proxies from env", func(t *testing.T) {
		t.Setenv("TFGATE_SECRET_KEY", testSecret)
		t.Setenv("TFGATE_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		want := []string{"10.0.0.0/8", "192.0.2.1"}
		if !reflect.DeepEqual(cfg.Auth.TrustedProxies, want) {
			t.Errorf("TrustedProxies = %v, want %v", cfg.Auth.TrustedProxies, want)
		}
	})

	t.Run("missing secret fails", func(t *testing.T) {
		t.Setenv("TFGATE_SECRET_KEY", "")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for missing secret key")
		}
	})

	t.Run("file then env", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tfgate.yaml")
		content := `
server:
  port: "8000"
registry:
  url: https://registry.internal
  timeout: 3s
auth:
  secret_key: from-file-secret-key
  admin_email: admin@example.com
database:
  driver: postgres
  url: postgres://localhost/tfgate
namespaces:
  default_namespaces: [acme]
observability:
  log_level: debug
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("TFGATE_CONFIG_FILE", path)
		t.Setenv("TFGATE_SECRET_KEY", "")
		t.Setenv("TFGATE_PORT", "8181")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Server.Port != "8181" {
			t.Errorf("env should override file port, got %s", cfg.Server.Port)
		}
		if cfg.Registry.URL != "https://registry.internal" || cfg.Registry.Timeout != 3*time.Second {
			t.Errorf("registry = %+v", cfg.Registry)
		}
		if cfg.Auth.SecretKey != "from-file-secret-key" {
			t.Errorf("SecretKey = %q", cfg.Auth.SecretKey)
		}
		if cfg.Database.Driver != "postgres" {
			t.Errorf("Driver = %q", cfg.Database.Driver)
		}
		if !reflect.DeepEqual(cfg.Namespaces.DefaultNamespaces, []string{"acme"}) {
			t.Errorf("DefaultNamespaces = %v", cfg.Namespaces.DefaultNamespaces)
		}
		// untouched sections keep their defaults
		if cfg.Server.HealthPort != "9090" {
			t.Errorf("HealthPort = %s", cfg.Server.HealthPort)
		}
		if cfg.Observability.Level() != observability.DebugLevel {
			t.Errorf("Level() = %v, want debug", cfg.Observability.Level())
		}
	})

	t.Run("unreadable file", func(t *testing.T) {
		t.Setenv("TFGATE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("TFGATE_SECRET_KEY", testSecret)
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Auth.SecretKey = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = c.Server.Port }, wantErr: "must be different"},
		{name: "relative registry URL", mutate: func(c *Config) { c.Registry.URL = "localhost:8000" }, wantErr: "registry URL"},
		{name: "ftp registry URL", mutate: func(c *Config) { c.Registry.URL = "ftp://registry" }, wantErr: "registry URL"},
		{name: "short secret", mutate: func(c *Config) { c.Auth.SecretKey = "short" }, wantErr: "secret key"},
		{name: "zero session TTL", mutate: func(c *Config) { c.Auth.SessionTTL = 0 }, wantErr: "session TTL"},
		{name: "rate limit without window", mutate: func(c *Config) { c.Auth.LoginRateWindow = 0 }, wantErr: "rate window"},
		{name: "rate limiting disabled", mutate: func(c *Config) { c.Auth.LoginRateLimit = 0; c.Auth.LoginRateWindow = 0 }},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "invalid database driver"},
		{name: "missing database URL", mutate: func(c *Config) { c.Database.URL = "" }, wantErr: "database URL"},
		{name: "min over max", mutate: func(c *Config) { c.Database.MinConns = 20 }, wantErr: "exceeds max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
