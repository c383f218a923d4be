// Package retry runs idempotent operations under a bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Default retries three times starting at 100ms.
var Default = Policy{MaxRetries: 3, InitialInterval: 100 * time.Millisecond}

// Do calls op until it succeeds, retryable(err) is false, the retries are
// spent or ctx is done. onRetry, when non-nil, observes each failed attempt
// that will be retried.
func Do(ctx context.Context, p Policy, op func() error, retryable func(error) bool, onRetry func(err error, wait time.Duration)) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(wrapped, b, onRetry)
}
