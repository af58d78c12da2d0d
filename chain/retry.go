package chain

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tronnode/observability"
)

// RetryPolicy bounds how often a transient failure is retried.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy is used when callers pass a zero policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  10 * time.Second,
}

// NoRetry disables retries entirely.
var NoRetry = RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.InitialInterval <= 0 {
		p = DefaultRetryPolicy
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

// Retry runs op, retrying only failures that wrap ErrUnavailable. Any other error
// is returned immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, operation string, op func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryWithData(func() (T, error) {
		if attempt > 0 {
			observability.Chain().RecordRetry(operation)
		}
		attempt++
		value, err := op(ctx)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, policy.backOff(ctx))
}
