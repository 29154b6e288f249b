// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("event_id", ev.ID).Info("webhook applied")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("signature verification failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.WebhookEventsTotal.WithLabelValues(kind, outcome).Inc()
//
// # Health and Shutdown
//
// HealthChecker backs /healthz and /readyz on the health port.
// ShutdownManager drains servers on SIGINT/SIGTERM and then closes the
// registered clients in reverse order.
package observability
