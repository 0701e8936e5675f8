package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/metrics"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

// retryRead runs a read until it succeeds, fails with anything other than
// ErrStoreUnavailable, or runs out of attempts.
func retryRead[T any](ctx context.Context, c *Coordinator, what string, read func() (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := read()
		if err != nil && !errors.Is(err, store.ErrStoreUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReadRetryInitial
	b.MaxInterval = 16 * c.opts.ReadRetryInitial

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.opts.ReadRetryAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.ReadRetries.Inc()
			logger.Debug.Printf("Retrying %s in %s: %v", what, next, err)
		}),
	)
}
