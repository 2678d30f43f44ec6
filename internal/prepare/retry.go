package prepare

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often a failed chunk is re-encoded and how long to
// wait in between. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy allows one retry after five seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: 5 * time.Second}
}

// Do runs op until it succeeds or the attempts are used up. notify is called
// before every retry with the failure that caused it.
func Do[T any](ctx context.Context, p RetryPolicy, op func() (T, error), notify func(err error, wait time.Duration)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return backoff.Retry(ctx, backoff.Operation[T](op), opts...)
}
