package sink

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/store"
)

// RetryOptions bounds the retry schedule of WithRetry.
type RetryOptions struct {
	// InitialInterval is the first backoff delay. Default 100ms.
	InitialInterval time.Duration
	// MaxElapsedTime caps the total time spent retrying before the
	// error surfaces to the engine. Default 5s. The engine's mutation
	// lock is held for the duration, so keep this short.
	MaxElapsedTime time.Duration
}

// WithRetry wraps an idempotent hook with bounded exponential
// backoff, absorbing transient sink failures (network blips, index
// rebuilds) before the engine sees them. Once the schedule is
// exhausted the last error surfaces and triggers compensation as
// usual. Only wrap hooks that are safe to re-invoke with the same
// (op, fact_id, fact).
func WithRetry(h store.Hook, opts RetryOptions) store.Hook {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = 5 * time.Second
	}
	return func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = opts.InitialInterval
		policy.MaxElapsedTime = opts.MaxElapsedTime
		return backoff.Retry(func() error {
			return h(ctx, op, factID, f)
		}, backoff.WithContext(policy, ctx))
	}
}
