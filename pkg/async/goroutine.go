package async

import (
	"context"
	"time"

	"github.com/platinummonkey/tally/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery, a timeout, and error
// logging. The task context keeps the parent's values but not its
// cancellation, so work started from a request outlives the response.
//
//	async.SafeGo(r.Context(), 2*time.Second, "api key last_used", func(ctx context.Context) error {
//		return repo.TouchLastUsed(ctx, keyID)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)
	detached := context.WithoutCancel(parentCtx)

	go func() {
		ctx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}
