// Package async runs best-effort background work with panic recovery,
// timeouts and a drain point for graceful shutdown.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/notewise/notewise/pkg/observability"
)

// Runner tracks background tasks so shutdown can wait for them
type Runner struct {
	logger *observability.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a Runner that logs failures to logger
func NewRunner(logger *observability.Logger) *Runner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Runner{logger: logger}
}

// Go executes fn in a goroutine with a timeout. The task keeps the values
// of parentCtx but not its cancellation, so work started from an HTTP
// handler survives the response being written.
//
//	runner.Go(r.Context(), 2*time.Second, "status cache fill", func(ctx context.Context) error {
//	    return cache.writeRemote(ctx, sub)
//	})
func (r *Runner) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer observability.RecoverPanic(r.logger, taskName)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			r.logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}

// Wait blocks until all tasks finish or ctx is done
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
