package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/henna-boutique/api/internal/cart"
	"github.com/henna-boutique/api/internal/database"
	"github.com/henna-boutique/api/internal/payment"
	"github.com/henna-boutique/api/internal/totals"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a payment notification that can never produce an
// order. The provider should not redeliver it.
var ErrMalformedEvent = errors.New("malformed payment event")

// IsPermanent reports whether err should be acknowledged to the provider as
// non-retriable.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrProductNotFound)
}

// Outcome says what reconciliation did.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// Payment is a successful payment as reported by the provider.
type Payment struct {
	PaymentIntentID string
	Metadata        payment.Metadata
	Contact         Contact
	// ChargedAmount is what the provider actually charged, in minor units.
	ChargedAmount int64
}

// ReconcileResult is the order that now exists for the payment.
type ReconcileResult struct {
	Outcome Outcome
	Order   database.Order
	Items   []database.OrderItem
}

// Reconciler creates the order for a payment the browser path may or may not
// have recorded already. It is safe to call repeatedly for the same payment.
type Reconciler struct {
	db             DB
	newStore       NewOrderStore
	calc           totals.Calculator
	retry          RetryPolicy
	logger         *zap.Logger
	newOrderNumber func() string
}

// NewReconciler creates a Reconciler.
func NewReconciler(db DB, newStore NewOrderStore, calc totals.Calculator, retry RetryPolicy, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:             db,
		newStore:       newStore,
		calc:           calc,
		retry:          retry,
		logger:         logger,
		newOrderNumber: generateOrderNumber,
	}
}

// Reconcile makes sure exactly one order exists for p.
//
// Totals are rebuilt from the charged amount, never from client data. The
// order is looked up by its full fingerprint, polling per the retry policy in
// case the checkout form submission is still in flight; only then is it
// created. Losing the insert race on stripe_pid also counts as already
// reconciled.
func (r *Reconciler) Reconcile(ctx context.Context, p Payment) (*ReconcileResult, error) {
	if p.PaymentIntentID == "" || p.Metadata.Cart == "" {
		return nil, fmt.Errorf("%w: missing cart or payment intent", ErrMalformedEvent)
	}
	c, err := cart.Decode(p.Metadata.Cart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	lines, err := c.Lines()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty cart", ErrMalformedEvent)
	}

	log := r.logger.With(zap.String("payment_intent", p.PaymentIntentID))
	store := r.newStore(r.db)

	deliveryCost, deliveryID := r.deliveryCost(ctx, store, p.Metadata.DeliveryMethodID, log)

	subtotal, exact := r.calc.SubtotalFromCharged(p.ChargedAmount, deliveryCost)
	if !exact {
		log.Warn("charged amount does not map onto a 2dp subtotal",
			zap.Int64("charged", p.ChargedAmount),
			zap.String("delivery_cost", deliveryCost.StringFixed(2)),
		)
	}
	t := r.calc.Compute(subtotal, deliveryCost)

	fp := database.FindOrderByFingerprintParams{
		FullName:          p.Contact.FullName,
		Email:             p.Contact.Email,
		PhoneNumber:       p.Contact.PhoneNumber,
		Country:           p.Contact.Country,
		Postcode:          p.Contact.Postcode,
		TownOrCity:        p.Contact.TownOrCity,
		StreetAddress1:    p.Contact.StreetAddress1,
		StreetAddress2:    p.Contact.StreetAddress2,
		County:            p.Contact.County,
		GrandTotalWithVat: decimalToNumeric(t.GrandTotalWithVAT),
		OriginalCart:      p.Metadata.Cart,
		StripePid:         p.PaymentIntentID,
	}

	var existing database.Order
	found, err := r.retry.Poll(ctx, func(ctx context.Context) (bool, error) {
		o, err := store.FindOrderByFingerprint(ctx, fp)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		existing = o
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("find existing order: %w", err)
	}
	if found {
		log.Info("order already recorded", zap.String("order_number", existing.OrderNumber))
		return &ReconcileResult{Outcome: OutcomeAlreadyExists, Order: existing}, nil
	}

	params := orderParams(p.Contact, t)
	params.StripePid = p.PaymentIntentID
	params.OriginalCart = p.Metadata.Cart
	params.DeliveryMethodID = deliveryID
	if p.Metadata.Username != "" {
		params.Username = pgtype.Text{String: p.Metadata.Username, Valid: true}
	}

	created, err := createWithRetry(ctx, r.db, r.newStore, r.newOrderNumber, params, lines)
	if isUniqueViolation(err, constraintStripePid) {
		o, lookupErr := store.GetOrderByStripePid(ctx, p.PaymentIntentID)
		if lookupErr != nil {
			return nil, fmt.Errorf("load order after conflict: %w", lookupErr)
		}
		log.Info("order written concurrently", zap.String("order_number", o.OrderNumber))
		return &ReconcileResult{Outcome: OutcomeAlreadyExists, Order: o}, nil
	}
	if err != nil {
		log.Error("create order from payment", zap.Error(err))
		return nil, err
	}

	if !created.ItemsTotal.Equal(t.Subtotal) {
		log.Warn("charged subtotal differs from catalogue prices",
			zap.String("order_number", created.Order.OrderNumber),
			zap.String("subtotal", t.Subtotal.StringFixed(2)),
			zap.String("items_total", created.ItemsTotal.StringFixed(2)),
		)
	}
	log.Info("order created from payment", zap.String("order_number", created.Order.OrderNumber))
	return &ReconcileResult{Outcome: OutcomeCreated, Order: created.Order, Items: created.Items}, nil
}

// deliveryCost resolves the delivery method. Any lookup problem costs zero;
// a delivery lookup never blocks the order.
func (r *Reconciler) deliveryCost(ctx context.Context, store OrderStore, id int64, log *zap.Logger) (decimal.Decimal, pgtype.Int8) {
	if id <= 0 {
		log.Error("no delivery method id in payment metadata")
		return decimal.Zero, pgtype.Int8{}
	}
	dm, err := store.GetDeliveryMethod(ctx, id)
	if err != nil {
		log.Error("delivery method lookup failed", zap.Int64("delivery_method_id", id), zap.Error(err))
		return decimal.Zero, pgtype.Int8{}
	}
	return numericToDecimal(dm.Cost), pgtype.Int8{Int64: dm.ID, Valid: true}
}
