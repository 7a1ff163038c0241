package payment

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// amountTolerancePercent bounds how far an existing intent's amount may drift
// from the current totals before it is replaced instead of modified.
const amountTolerancePercent = 5

// Synchronizer keeps a session's payment intent amount equal to the cart
// totals. Provider trouble never fails checkout: every recoverable error
// falls back to creating a fresh intent.
type Synchronizer struct {
	provider Provider
	logger   *zap.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(provider Provider, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{provider: provider, logger: logger}
}

// Ensure returns a payable intent for amount on checkout page load, reusing
// existingID when it is still awaiting a payment method and within tolerance.
func (s *Synchronizer) Ensure(ctx context.Context, existingID string, amount int64, meta Metadata) (*Intent, error) {
	if existingID == "" {
		return s.create(ctx, amount, meta)
	}

	log := s.logger.With(zap.String("payment_intent", existingID), zap.Int64("amount", amount))

	in, err := s.provider.RetrieveIntent(ctx, existingID)
	if err != nil {
		log.Warn("retrieve intent failed, creating new", zap.Error(err))
		return s.create(ctx, amount, meta)
	}
	if !in.Payable() || !WithinTolerance(in.Amount, amount) {
		log.Info("discarding intent",
			zap.String("status", in.Status),
			zap.Int64("intent_amount", in.Amount),
		)
		return s.create(ctx, amount, meta)
	}
	if in.Amount == amount {
		return in, nil
	}

	md, err := meta.Encode()
	if err != nil {
		return nil, err
	}
	updated, err := s.provider.ModifyIntent(ctx, in.ID, IntentUpdate{Amount: amount, Metadata: md})
	if err != nil {
		log.Warn("modify intent failed, creating new", zap.Error(err))
		return s.create(ctx, amount, meta)
	}
	return updated, nil
}

// Refresh moves the existing intent to a new amount after the delivery method
// changes. Any failure creates a new intent, so the returned intent always
// carries amount.
func (s *Synchronizer) Refresh(ctx context.Context, existingID string, amount int64, meta Metadata) (*Intent, error) {
	if existingID == "" {
		return s.create(ctx, amount, meta)
	}

	md, err := meta.Encode()
	if err != nil {
		return nil, err
	}
	in, err := s.provider.ModifyIntent(ctx, existingID, IntentUpdate{Amount: amount, Metadata: md})
	if err != nil {
		s.logger.Warn("refresh intent failed, creating new",
			zap.String("payment_intent", existingID),
			zap.Error(err),
		)
		return s.create(ctx, amount, meta)
	}
	if in.Amount != amount {
		s.logger.Warn("provider kept stale amount, creating new",
			zap.String("payment_intent", existingID),
			zap.Int64("intent_amount", in.Amount),
			zap.Int64("amount", amount),
		)
		return s.create(ctx, amount, meta)
	}
	return in, nil
}

// SyncForOrder brings the intent in line with the submitted order. An intent
// that has already been charged is left alone; a mismatch is only logged
// because the charged amount is what the webhook will reconcile against.
// Provider errors are returned as is; a replacement intent is never created
// here since the customer has already paid against id.
func (s *Synchronizer) SyncForOrder(ctx context.Context, id string, amount int64, meta Metadata) (*Intent, error) {
	log := s.logger.With(zap.String("payment_intent", id), zap.Int64("amount", amount))

	in, err := s.provider.RetrieveIntent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieve intent %s: %w", id, err)
	}
	if in.Amount == amount {
		return in, nil
	}
	if !in.Mutable() {
		log.Warn("charged amount differs from order total",
			zap.String("status", in.Status),
			zap.Int64("intent_amount", in.Amount),
		)
		return in, nil
	}

	md, err := meta.Encode()
	if err != nil {
		return nil, err
	}
	updated, err := s.provider.ModifyIntent(ctx, id, IntentUpdate{Amount: amount, Metadata: md})
	if err != nil {
		return nil, fmt.Errorf("modify intent %s: %w", id, err)
	}
	return updated, nil
}

// CacheCheckoutData attaches the cart and customer choices to the intent
// identified by clientSecret just before the customer confirms payment.
func (s *Synchronizer) CacheCheckoutData(ctx context.Context, clientSecret string, meta Metadata) error {
	id, err := IntentIDFromSecret(clientSecret)
	if err != nil {
		return err
	}
	md, err := meta.Encode()
	if err != nil {
		return err
	}
	if _, err := s.provider.ModifyIntent(ctx, id, IntentUpdate{Metadata: md}); err != nil {
		return fmt.Errorf("cache checkout data: %w", err)
	}
	return nil
}

// Cancel cancels the intent. Failures are logged and swallowed; an intent
// that already succeeded cannot be cancelled and that is fine.
func (s *Synchronizer) Cancel(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := s.provider.CancelIntent(ctx, id); err != nil {
		s.logger.Info("cancel intent", zap.String("payment_intent", id), zap.Error(err))
	}
}

func (s *Synchronizer) create(ctx context.Context, amount int64, meta Metadata) (*Intent, error) {
	meta.InitiatedFrom = InitiatedFromCheckout
	md, err := meta.Encode()
	if err != nil {
		return nil, err
	}
	in, err := s.provider.CreateIntent(ctx, amount, md)
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	return in, nil
}

// WithinTolerance reports whether current is within amountTolerancePercent of
// desired.
func WithinTolerance(current, desired int64) bool {
	diff := current - desired
	if diff < 0 {
		diff = -diff
	}
	return diff*100 <= desired*amountTolerancePercent
}
