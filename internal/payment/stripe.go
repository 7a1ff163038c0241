package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	api           *client.API
	currency      string
	webhookSecret string
}

// NewStripeProvider creates a provider using the given secret key. Backends
// may be nil to use the default HTTP backends.
func NewStripeProvider(secretKey, webhookSecret, currency string, backends *stripe.Backends) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProvider{api: api, currency: currency, webhookSecret: webhookSecret}
}

func (p *StripeProvider) CreateIntent(ctx context.Context, amount int64, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(p.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		// Empty values unset keys on update and carry nothing on create.
		if v != "" {
			params.AddMetadata(k, v)
		}
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create intent: %w", mapStripeError(err))
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProvider) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe retrieve intent %s: %w", id, mapStripeError(err))
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProvider) ModifyIntent(ctx context.Context, id string, update IntentUpdate) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if update.Amount > 0 {
		params.Amount = stripe.Int64(update.Amount)
	}
	for k, v := range update.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe modify intent %s: %w", id, mapStripeError(err))
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProvider) CancelIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := p.api.PaymentIntents.Cancel(id, params); err != nil {
		return fmt.Errorf("stripe cancel intent %s: %w", id, mapStripeError(err))
	}
	return nil
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (p *StripeProvider) ConstructEvent(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(ev.ID, string(ev.Type), rawData(ev))
}

func rawData(ev stripe.Event) []byte {
	if ev.Data == nil {
		return nil
	}
	return ev.Data.Raw
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	in := &Intent{
		ID:             pi.ID,
		ClientSecret:   pi.ClientSecret,
		Amount:         pi.Amount,
		AmountReceived: pi.AmountReceived,
		Currency:       string(pi.Currency),
		Status:         string(pi.Status),
		Metadata:       pi.Metadata,
	}
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}
	if pi.Shipping != nil {
		in.Shipping = &Shipping{Name: pi.Shipping.Name, Phone: pi.Shipping.Phone}
		if a := pi.Shipping.Address; a != nil {
			in.Shipping.Address = Address{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			}
		}
	}
	if pi.LatestCharge != nil && pi.LatestCharge.BillingDetails != nil {
		in.BillingEmail = pi.LatestCharge.BillingDetails.Email
	}
	return in
}

func mapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrIntentNotFound, se.Msg)
		}
	}
	return err
}
