package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/notewise/notewise/pkg/api"
	"github.com/notewise/notewise/pkg/async"
	"github.com/notewise/notewise/pkg/audit"
	"github.com/notewise/notewise/pkg/auth"
	"github.com/notewise/notewise/pkg/billing"
	"github.com/notewise/notewise/pkg/config"
	"github.com/notewise/notewise/pkg/entitlements"
	"github.com/notewise/notewise/pkg/middleware"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/plans"
	"github.com/notewise/notewise/pkg/storage"
	"github.com/notewise/notewise/pkg/transform"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		observability.NewLogger(observability.InfoLevel, os.Stderr).WithError(err).Error("notewise exited with error")
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Storage
	var (
		store       billing.Store
		db          *sql.DB
		redisClient *redis.Client
	)
	switch cfg.Storage.Type {
	case storage.TypePostgres:
		db, err = storage.OpenPostgres(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		pg := billing.NewPostgresStore(db)
		if cfg.Storage.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			logger.Info("Database schema is up to date")
		}
		store = pg
	default:
		logger.Warn("Using in-memory entitlement store; subscriptions are lost on restart")
		store = billing.NewMemoryStore()
	}

	// Postgres deployments prune with notewise-maintenance; the memory store
	// prunes in-process
	var pruner *cron.Cron
	if mem, ok := store.(*billing.MemoryStore); ok {
		pruner, err = billing.SchedulePruning(mem, billing.PruneSchedule{
			Spec:      cfg.Billing.PruneSchedule,
			Retention: cfg.Billing.EventRetention,
		}, logger, metrics)
		if err != nil {
			return err
		}
		pruner.Start()
	}

	if cfg.Storage.RedisURL != "" {
		redisClient, err = storage.OpenRedis(ctx, cfg.Storage)
		if err != nil {
			return err
		}
	}

	runner := async.NewRunner(logger)
	var cache *billing.StatusCache
	if cfg.Storage.CacheEnabled {
		cache = billing.NewStatusCache(billing.StatusCacheConfig{
			Size: cfg.Storage.CacheSize,
			TTL:  cfg.Storage.CacheTTL,
		}, redisClient, runner, logger, metrics)
	}

	auditLogger, err := newAuditLogger(ctx, db, logger)
	if err != nil {
		return err
	}

	// Billing
	catalog, err := loadCatalog(cfg.Billing)
	if err != nil {
		return err
	}

	provider, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:     cfg.Billing.StripeSecretKey,
		WebhookSecret: cfg.Billing.StripeWebhookSecret,
		APIURL:        cfg.Billing.StripeAPIURL,
		MaxRetries:    2,
	}, logger)
	if err != nil {
		return err
	}

	billingService := billing.NewService(store, provider, catalog, billing.ServiceOptions{
		AllowedRedirectHosts: cfg.Billing.AllowedRedirectHosts,
		ProviderTimeout:      cfg.Billing.ProviderTimeout,
		Cache:                cache,
		Audit:                auditLogger,
		Logger:               logger,
		Metrics:              metrics,
	})
	reconciler := billing.NewReconciler(store, provider, catalog, billing.ReconcilerOptions{
		Cache:           cache,
		Audit:           auditLogger,
		ProviderTimeout: cfg.Billing.ProviderTimeout,
		Logger:          logger,
		Metrics:         metrics,
	})
	guard := entitlements.NewGuard(store, catalog, entitlements.WithMetrics(metrics), entitlements.WithLogger(logger))

	// Auth
	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier, logger, metrics)

	// Transformations are only served when a model is configured
	var transformer api.Transformer
	if cfg.LLM.APIKey != "" {
		completer, err := transform.NewOpenAICompleter(transform.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
		})
		if err != nil {
			return err
		}
		transformer = transform.NewService(guard, completer, transform.Config{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, logger, metrics)
	} else {
		logger.Warn("NOTEWISE_OPENAI_API_KEY not set, /transformations is disabled")
	}

	var rateLimit, anonymousRateLimit func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		limits := newRateLimit(ctx, cfg.RateLimit, redisClient, logger, metrics)
		rateLimit = limits.Handler
		anonymousRateLimit = limits.IPHandler
	}

	apiServer := api.NewServer(api.Config{
		Billing:            billingService,
		Webhooks:           reconciler,
		Entitlements:       guard,
		Transformer:        transformer,
		Catalog:            catalog,
		Authenticate:       authMiddleware.Handler,
		RateLimit:          rateLimit,
		AnonymousRateLimit: anonymousRateLimit,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		Logger:             logger,
		Metrics:            metrics,
	})

	var handler http.Handler = apiServer
	if cfg.Observability.OTelEnabled {
		handler = observability.InstrumentHandler(handler, "notewise-api")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port
	checker := observability.NewHealthChecker(version, db, redisClient)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddr(),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc("background tasks", runner.Wait)
	if pruner != nil {
		shutdown.RegisterShutdownFunc("event pruner", func(ctx context.Context) error {
			select {
			case <-pruner.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return auditLogger.Close() })
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("opentelemetry", otelProviders.Shutdown)
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	if db != nil {
		shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	}

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		srv := srv
		go func() {
			defer observability.RecoverPanic(logger, "http server "+srv.Addr)
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErr <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}()
	}

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case err := <-serveErr:
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
			stop()
		case <-waitCtx.Done():
		}
	}()

	logger.WithFields(map[string]interface{}{
		"version": version,
		"storage": cfg.Storage.Type,
		"auth":    cfg.Auth.Mode,
	}).Info("notewise started")

	return shutdown.WaitForShutdown(waitCtx)
}

// newAuditLogger always writes audit lines to the log and additionally to
// the audit_logs table when Postgres is configured
func newAuditLogger(ctx context.Context, db *sql.DB, logger *observability.Logger) (audit.Logger, error) {
	structured := audit.NewStructuredLogger(logger)
	if db == nil {
		return structured, nil
	}
	dbLogger, err := audit.NewDBLogger(ctx, db)
	if err != nil {
		return nil, err
	}
	return audit.NewMultiLogger(dbLogger, structured), nil
}

func loadCatalog(cfg config.BillingConfig) (*plans.Catalog, error) {
	if cfg.CatalogPath != "" {
		return plans.LoadCatalog(cfg.CatalogPath, cfg.Prices)
	}
	return plans.DefaultCatalog(cfg.Prices)
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	switch cfg.Mode {
	case config.AuthModeHMAC:
		return auth.NewHMACVerifier(auth.HMACConfig{
			Secret:   cfg.HMACSecret,
			Issuer:   cfg.IssuerURL,
			Audience: cfg.Audience,
		})
	default:
		return auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
			IssuerURL: cfg.IssuerURL,
			Audience:  cfg.Audience,
		})
	}
}

// newRateLimit shares limits across replicas when Redis is available and
// falls back to per-process buckets otherwise
func newRateLimit(ctx context.Context, cfg config.RateLimitConfig, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *middleware.RateLimitMiddleware {
	userCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.UserPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.UserBurst,
	}
	anonCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.AnonymousPerMinute,
		WindowDuration:    time.Minute,
	}

	if redisClient != nil {
		return middleware.NewRateLimitMiddleware(
			middleware.NewDistributedRateLimiter(redisClient, userCfg, "notewise:ratelimit:user"),
			middleware.NewDistributedRateLimiter(redisClient, anonCfg, "notewise:ratelimit:anon"),
			logger, metrics,
		)
	}

	userLimiter := middleware.NewRateLimiter(userCfg)
	anonLimiter := middleware.NewRateLimiter(anonCfg)
	userLimiter.StartCleanup(ctx)
	anonLimiter.StartCleanup(ctx)
	return middleware.NewRateLimitMiddleware(userLimiter, anonLimiter, logger, metrics)
}
