package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings configures the circuit breaker around the provider.
type BreakerSettings struct {
	MaxFailures  uint32
	ResetTimeout time.Duration
	HalfOpenMax  uint32
}

// BreakerProvider guards a Provider with a circuit breaker so a provider
// outage fails fast instead of stacking slow requests. Webhook verification
// is local and bypasses the breaker.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*Intent]
}

// NewBreakerProvider wraps next. Not-found responses do not count as failures.
func NewBreakerProvider(next Provider, s BreakerSettings, logger *zap.Logger) *BreakerProvider {
	cb := gobreaker.NewCircuitBreaker[*Intent](gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: s.HalfOpenMax,
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrIntentNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerProvider{next: next, cb: cb}
}

func (b *BreakerProvider) CreateIntent(ctx context.Context, amount int64, metadata map[string]string) (*Intent, error) {
	return b.execute(func() (*Intent, error) {
		return b.next.CreateIntent(ctx, amount, metadata)
	})
}

func (b *BreakerProvider) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	return b.execute(func() (*Intent, error) {
		return b.next.RetrieveIntent(ctx, id)
	})
}

func (b *BreakerProvider) ModifyIntent(ctx context.Context, id string, update IntentUpdate) (*Intent, error) {
	return b.execute(func() (*Intent, error) {
		return b.next.ModifyIntent(ctx, id, update)
	})
}

func (b *BreakerProvider) CancelIntent(ctx context.Context, id string) error {
	_, err := b.execute(func() (*Intent, error) {
		return nil, b.next.CancelIntent(ctx, id)
	})
	return err
}

func (b *BreakerProvider) ConstructEvent(payload []byte, signature string) (Event, error) {
	return b.next.ConstructEvent(payload, signature)
}

// State reports the breaker state, for health checks.
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}

func (b *BreakerProvider) execute(fn func() (*Intent, error)) (*Intent, error) {
	in, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return in, err
}
