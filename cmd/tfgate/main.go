package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/tfgate/pkg/accounts"
	"github.com/platinummonkey/tfgate/pkg/api"
	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/config"
	"github.com/platinummonkey/tfgate/pkg/middleware"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/rbac"
	"github.com/platinummonkey/tfgate/pkg/registry"
	"github.com/platinummonkey/tfgate/pkg/repositories"
	"github.com/platinummonkey/tfgate/pkg/session"
	"github.com/platinummonkey/tfgate/pkg/storage"
	"github.com/platinummonkey/tfgate/pkg/storage/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides TFGATE_CONFIG_FILE)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *configFile != "" {
		os.Setenv("TFGATE_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tfgate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	// Credential store
	store, err := sqlstore.Open(ctx, sqlstore.ConnectionConfig{
		Driver:   cfg.Database.Driver,
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return err
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Credential store ready")

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.Auth.TrustedProxies)
	if err != nil {
		store.Close()
		return err
	}

	// Optional redis for a login limiter shared across replicas
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = storage.NewRedisClient(ctx, storage.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			store.Close()
			return err
		}
		logger.Info("Connected to redis")
	}

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	var loginLimiter middleware.Limiter
	if cfg.Auth.LoginRateLimit > 0 {
		limitConfig := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Auth.LoginRateLimit,
			WindowDuration:    cfg.Auth.LoginRateWindow,
			BurstSize:         cfg.Auth.LoginRateLimit,
		}
		if redisClient != nil {
			loginLimiter = middleware.NewDistributedRateLimiter(redisClient, limitConfig, "")
		} else {
			local := middleware.NewRateLimiter(limitConfig)
			local.StartCleanup(limiterCtx)
			loginLimiter = local
		}
	}

	registryClient := registry.NewClient(cfg.Registry.URL,
		registry.WithTimeout(cfg.Registry.Timeout),
		registry.WithDiscoveryTTL(cfg.Registry.DiscoveryTTL),
		registry.WithMetrics(metrics),
		registry.WithLogger(logger),
	)

	checker := rbac.NewChecker(cfg.Namespaces.DefaultNamespaces, metrics)
	codec := auth.NewSessionCodec(cfg.Auth.SecretKey, cfg.Auth.SessionTTL)

	server := api.NewServer(api.Dependencies{
		Authorizer:     session.NewAuthorizer(store, registryClient, checker, codec, session.WithMetrics(metrics)),
		Registry:       registryClient,
		Checker:        checker,
		Accounts:       accounts.NewService(store, checker, cfg.Auth.AdminEmail),
		Repositories:   repositories.NewService(store, checker, metrics),
		Cookies:        session.Cookies{Secure: cfg.Auth.CookieSecure},
		LoginLimiter:   loginLimiter,
		TrustedProxies: trustedProxies,
		Providers:      cfg.Namespaces.DefaultProviders,
		Metrics:        metrics,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics live on their own port for k8s probes
	healthChecker := observability.NewHealthChecker(store.DB(), redisClient, registryClient)
	healthChecker.SetVersion(version)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	probe := observability.NewBackendProbe(registryClient, metrics, logger)
	if err := probe.Start(cfg.Observability.ProbeSchedule); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", cfg.Observability.ProbeSchedule, err)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc(probe.Stop)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		stopLimiter()
		return nil
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return store.Close() })

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, srv := range []*http.Server{httpServer, healthServer} {
		go func(srv *http.Server) {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Errorf("Server on %s failed", srv.Addr)
				cancel()
			}
		}(srv)
	}

	logger.WithField("registry", cfg.Registry.URL).Info("tfgate started")
	return shutdown.WaitForShutdown(serveCtx)
}
