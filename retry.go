package bitemporal

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// withRetry runs fn, retrying on errors tagged KindBackendTransient with
// exponential backoff from cfg.RetryBaseDelay capped at cfg.RetryMaxDelay,
// up to cfg.RetryMaxAttempts attempts total (§5). Errors of any other kind,
// including KindBackendPermanent, are returned immediately without retry.
// The Engine and Executor wrap every Storage call in it, whatever the
// backend; only the dynamodb backend returns KindBackendTransient errors, so
// calls to the in-memory and sql backends are never retried.
func withRetry(ctx context.Context, cfg *Config, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.RetryBaseDelay
	policy.MaxInterval = cfg.RetryMaxDelay
	policy.MaxElapsedTime = 0 // bounded by attempt count below, not elapsed time

	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !IsKind(err, KindBackendTransient) {
			return backoff.Permanent(err)
		}
		if attempts >= cfg.RetryMaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
