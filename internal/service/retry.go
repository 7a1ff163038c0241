package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errNotYet = errors.New("condition not met")

// RetryPolicy bounds how long the webhook waits for a concurrent checkout
// write to become visible: Attempts checks with a fixed Delay between them.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration

	// Timer drives the delay; nil uses real time.
	Timer backoff.Timer
}

// DefaultRetryPolicy is five checks one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Delay: time.Second}
}

// Poll calls check until it reports true or the attempts run out. A check
// error is retried like a miss; if the final attempt errors, that error is
// returned instead of false.
func (p RetryPolicy) Poll(ctx context.Context, check func(ctx context.Context) (bool, error)) (bool, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)
	op := func() error {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errNotYet
		}
		return nil
	}

	err := backoff.RetryNotifyWithTimer(op, b, nil, p.Timer)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotYet):
		return false, nil
	default:
		return false, err
	}
}
