// Package backoff retries idempotent calls with exponential backoff.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/ecodeclub/ekit/retry"
)

type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int32
}

// Default suits short HTTP lookups against a collaborator.
var Default = Policy{Initial: 200 * time.Millisecond, Max: 2 * time.Second, MaxRetries: 3}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the policy runs
// out of attempts or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxRetries <= 0 {
		return unwrapPermanent(fn(ctx))
	}
	strategy, err := retry.NewExponentialBackoffRetryStrategy(p.Initial, p.Max, p.MaxRetries)
	if err != nil {
		return err
	}
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		next, ok := strategy.Next()
		if !ok {
			return err
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func unwrapPermanent(err error) error {
	var perm permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}
