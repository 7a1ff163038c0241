// Package payment talks to the payment provider and keeps payment intents in
// step with the cart totals.
package payment

import (
	"context"
	"errors"
	"strings"
)

// Intent statuses the checkout cares about.
const (
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusRequiresConfirmation  = "requires_confirmation"
	StatusRequiresAction        = "requires_action"
	StatusProcessing            = "processing"
	StatusSucceeded             = "succeeded"
	StatusCanceled              = "canceled"
)

var (
	ErrIntentNotFound      = errors.New("payment intent not found")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidPayload      = errors.New("invalid webhook payload")
	ErrInvalidSecret       = errors.New("invalid client secret")
	ErrMetadataTooLarge    = errors.New("metadata exceeds provider limits")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// Address is a postal address as reported by the provider.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Shipping is the shipping contact attached to an intent or checkout session.
type Shipping struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Address Address `json:"address"`
}

// Intent is the provider's payment intent reduced to the fields checkout uses.
type Intent struct {
	ID             string
	ClientSecret   string
	Amount         int64
	AmountReceived int64
	Currency       string
	Status         string
	Metadata       map[string]string
	Shipping       *Shipping
	BillingEmail   string
}

// Payable reports whether the intent can still be confirmed by the customer.
func (i *Intent) Payable() bool {
	return i.Status == StatusRequiresPaymentMethod
}

// Mutable reports whether the intent amount can still be changed.
func (i *Intent) Mutable() bool {
	switch i.Status {
	case StatusRequiresPaymentMethod, StatusRequiresConfirmation, StatusRequiresAction:
		return true
	}
	return false
}

// IntentUpdate holds the fields sent on modify. A zero Amount leaves the
// amount unchanged and nil Metadata leaves metadata unchanged.
type IntentUpdate struct {
	Amount   int64
	Metadata map[string]string
}

// Provider is the payment provider as seen by checkout.
type Provider interface {
	CreateIntent(ctx context.Context, amount int64, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	ModifyIntent(ctx context.Context, id string, update IntentUpdate) (*Intent, error)
	CancelIntent(ctx context.Context, id string) error
	ConstructEvent(payload []byte, signature string) (Event, error)
}

// IntentIDFromSecret extracts the intent id from a client secret of the form
// "<id>_secret_<suffix>".
func IntentIDFromSecret(clientSecret string) (string, error) {
	id, _, ok := strings.Cut(clientSecret, "_secret_")
	if !ok || id == "" {
		return "", ErrInvalidSecret
	}
	return id, nil
}
