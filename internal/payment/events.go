package payment

import (
	"encoding/json"
	"fmt"
)

// Event types the webhook reacts to.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
)

// Event is a verified provider notification. The concrete type is one of
// CheckoutSessionCompleted, PaymentIntentSucceeded, PaymentIntentFailed or
// UnhandledEvent.
type Event interface {
	EventID() string
	EventType() string
}

// CheckoutSessionCompleted is sent when a hosted checkout session is paid.
type CheckoutSessionCompleted struct {
	ID              string
	SessionID       string
	PaymentIntentID string
	AmountTotal     int64
	Email           string
	Metadata        map[string]string
	Shipping        *Shipping
}

func (e CheckoutSessionCompleted) EventID() string   { return e.ID }
func (e CheckoutSessionCompleted) EventType() string { return EventCheckoutSessionCompleted }

// PaymentIntentSucceeded is sent when an intent has been charged.
type PaymentIntentSucceeded struct {
	ID     string
	Intent Intent
}

func (e PaymentIntentSucceeded) EventID() string   { return e.ID }
func (e PaymentIntentSucceeded) EventType() string { return EventPaymentIntentSucceeded }

// PaymentIntentFailed is sent when a payment attempt fails.
type PaymentIntentFailed struct {
	ID            string
	Intent        Intent
	FailureReason string
}

func (e PaymentIntentFailed) EventID() string   { return e.ID }
func (e PaymentIntentFailed) EventType() string { return EventPaymentIntentFailed }

// UnhandledEvent is any event type without a handler.
type UnhandledEvent struct {
	ID   string
	Type string
}

func (e UnhandledEvent) EventID() string   { return e.ID }
func (e UnhandledEvent) EventType() string { return e.Type }

type wireSession struct {
	ID              string            `json:"id"`
	PaymentIntent   json.RawMessage   `json:"payment_intent"`
	AmountTotal     int64             `json:"amount_total"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email   string   `json:"email"`
		Name    string   `json:"name"`
		Phone   string   `json:"phone"`
		Address *Address `json:"address"`
	} `json:"customer_details"`
	ShippingDetails      *Shipping `json:"shipping_details"`
	CollectedInformation *struct {
		ShippingDetails *Shipping `json:"shipping_details"`
	} `json:"collected_information"`
}

type wireIntent struct {
	ID               string            `json:"id"`
	ClientSecret     string            `json:"client_secret"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	Shipping         *Shipping         `json:"shipping"`
	ReceiptEmail     string            `json:"receipt_email"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (w wireIntent) intent() Intent {
	md := w.Metadata
	if md == nil {
		md = map[string]string{}
	}
	return Intent{
		ID:             w.ID,
		ClientSecret:   w.ClientSecret,
		Amount:         w.Amount,
		AmountReceived: w.AmountReceived,
		Currency:       w.Currency,
		Status:         w.Status,
		Metadata:       md,
		Shipping:       w.Shipping,
		BillingEmail:   w.ReceiptEmail,
	}
}

// decodeEvent maps a verified event onto its variant.
func decodeEvent(id, typ string, raw []byte) (Event, error) {
	switch typ {
	case EventCheckoutSessionCompleted:
		var s wireSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, typ, err)
		}
		ev := CheckoutSessionCompleted{
			ID:              id,
			SessionID:       s.ID,
			PaymentIntentID: expandableID(s.PaymentIntent),
			AmountTotal:     s.AmountTotal,
			Metadata:        s.Metadata,
			Shipping:        s.ShippingDetails,
		}
		if ev.Shipping == nil && s.CollectedInformation != nil {
			ev.Shipping = s.CollectedInformation.ShippingDetails
		}
		if cd := s.CustomerDetails; cd != nil {
			ev.Email = cd.Email
			if ev.Shipping == nil && cd.Address != nil {
				ev.Shipping = &Shipping{Name: cd.Name, Phone: cd.Phone, Address: *cd.Address}
			} else if ev.Shipping != nil && ev.Shipping.Phone == "" {
				ev.Shipping.Phone = cd.Phone
			}
		}
		return ev, nil

	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		var w wireIntent
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, typ, err)
		}
		if typ == EventPaymentIntentSucceeded {
			return PaymentIntentSucceeded{ID: id, Intent: w.intent()}, nil
		}
		ev := PaymentIntentFailed{ID: id, Intent: w.intent()}
		if w.LastPaymentError != nil {
			ev.FailureReason = w.LastPaymentError.Message
		}
		return ev, nil
	}
	return UnhandledEvent{ID: id, Type: typ}, nil
}

// expandableID reads a field that is either an id string or an expanded
// object with an id.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
