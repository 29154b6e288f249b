package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notewise/notewise/pkg/billing"
	"github.com/notewise/notewise/pkg/config"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/storage"
)

var version = "dev"

var (
	runOnce  = flag.Bool("run-once", false, "Prune once and exit")
	schedule = flag.String("schedule", "", "Cron schedule for pruning (overrides NOTEWISE_PRUNE_SCHEDULE)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadMaintenanceConfig()
	if err != nil {
		observability.NewLogger(observability.InfoLevel, os.Stderr).WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "notewise-maintenance")

	ctx := context.Background()
	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	store := billing.NewPostgresStore(db)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	prune := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_, err := billing.PruneEvents(ctx, store, cfg.Billing.EventRetention, time.Now().UTC(), logger, metrics)
		return err
	}

	if *runOnce {
		err := prune()
		db.Close()
		if err != nil {
			os.Exit(1)
		}
		return
	}

	cronExpr := cfg.Billing.PruneSchedule
	if *schedule != "" {
		cronExpr = *schedule
	}

	c, err := billing.SchedulePruning(store, billing.PruneSchedule{
		Spec:      cronExpr,
		Retention: cfg.Billing.EventRetention,
		Timeout:   5 * time.Minute,
	}, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("Invalid prune schedule")
		db.Close()
		os.Exit(1)
	}

	// Health and prune metrics for the scheduled mode
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(version, db, nil))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddr(),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		defer observability.RecoverPanic(logger, "health server")
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	c.Start()
	logger.WithFields(map[string]interface{}{
		"schedule":  cronExpr,
		"retention": cfg.Billing.EventRetention.String(),
	}).Info("Maintenance scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Health server shutdown failed")
	}
	<-c.Stop().Done()
	logger.Info("Maintenance scheduler stopped")
}
