package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/notewise/notewise/pkg/observability"
)

// EventPruner deletes old processed-event records
type EventPruner interface {
	PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}

// PruneEvents removes processed event ids older than retention. Deliveries
// redelivered after the retention window are no longer recognized as
// duplicates, so retention must exceed the provider's retry horizon.
func PruneEvents(ctx context.Context, store EventPruner, retention time.Duration, now time.Time, logger *observability.Logger, metrics *observability.Metrics) (int64, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}

	cutoff := now.Add(-retention)
	n, err := store.PruneProcessedEvents(ctx, cutoff)
	if err != nil {
		logger.WithError(err).Error("Failed to prune processed events")
		return 0, err
	}

	metrics.ProcessedEventsPrunedTotal.Add(float64(n))
	logger.WithFields(map[string]interface{}{
		"pruned": n,
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("Pruned processed events")
	return n, nil
}

// PruneSchedule configures SchedulePruning
type PruneSchedule struct {
	// Spec is a standard five-field cron expression evaluated in UTC
	Spec      string
	Retention time.Duration
	// Timeout bounds a single pass
	Timeout time.Duration
}

// SchedulePruning registers PruneEvents on a cron schedule. Overlapping runs
// are skipped. The caller starts and stops the returned scheduler.
func SchedulePruning(store EventPruner, sched PruneSchedule, logger *observability.Logger, metrics *observability.Metrics) (*cron.Cron, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if sched.Timeout <= 0 {
		sched.Timeout = 5 * time.Minute
	}

	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(sched.Spec, func() {
		defer observability.RecoverPanic(logger, "prune processed events")
		ctx, cancel := context.WithTimeout(context.Background(), sched.Timeout)
		defer cancel()
		_, _ = PruneEvents(ctx, store, sched.Retention, time.Now().UTC(), logger, metrics)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", sched.Spec, err)
	}
	return c, nil
}
