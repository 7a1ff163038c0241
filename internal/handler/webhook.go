package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/henna-boutique/api/internal/enum"
	"github.com/henna-boutique/api/internal/notify"
	"github.com/henna-boutique/api/internal/payment"
	"github.com/henna-boutique/api/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// EventSource verifies webhook deliveries and looks up intents they refer to.
// Satisfied by payment.Provider.
type EventSource interface {
	ConstructEvent(payload []byte, signature string) (payment.Event, error)
	RetrieveIntent(ctx context.Context, id string) (*payment.Intent, error)
}

// PaymentReconciler defines the service method needed by the webhook.
// Satisfied by *service.Reconciler.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, p service.Payment) (*service.ReconcileResult, error)
}

// WebhookHandler receives payment provider notifications.
type WebhookHandler struct {
	events     EventSource
	reconciler PaymentReconciler
	notifier   notify.Notifier
	logger     *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(events EventSource, reconciler PaymentReconciler, notifier notify.Notifier, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{events: events, reconciler: reconciler, notifier: notifier, logger: logger}
}

// RegisterRoutes registers the webhook endpoint. It must not sit behind the
// Session or auth middleware.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Receive)
}

type webhookResponse struct {
	Message     string `json:"message"`
	OrderNumber string `json:"order_number,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
}

// Receive handles POST /checkout/wh.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	event, err := h.events.ConstructEvent(body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		h.logger.Warn("webhook signature rejected")
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	case err != nil:
		h.logger.Warn("webhook payload rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	log := h.logger.With(zap.String("event_id", event.EventID()), zap.String("event_type", event.EventType()))

	switch e := event.(type) {
	case payment.CheckoutSessionCompleted:
		p, err := h.fromSession(r.Context(), e)
		if err != nil {
			log.Error("resolve session payment", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load payment")
			return
		}
		h.reconcile(w, r, log, p)
	case payment.PaymentIntentSucceeded:
		h.reconcile(w, r, log, fromIntent(e.Intent))
	case payment.PaymentIntentFailed:
		log.Info("payment failed",
			zap.String("payment_intent", e.Intent.ID),
			zap.String("reason", e.FailureReason),
		)
		writeJSON(w, http.StatusOK, webhookResponse{Message: "Payment failure recorded: " + e.EventType()})
	default:
		log.Debug("unhandled webhook")
		writeJSON(w, http.StatusOK, webhookResponse{Message: "Unhandled webhook received: " + event.EventType()})
	}
}

func (h *WebhookHandler) reconcile(w http.ResponseWriter, r *http.Request, log *zap.Logger, p service.Payment) {
	log = log.With(zap.String("payment_intent", p.PaymentIntentID))
	// The payment is taken either way, so the order is still recorded.
	if err := p.Contact.Validate(); err != nil {
		log.Warn("payment carries incomplete contact details", zap.Error(err))
	}

	res, err := h.reconciler.Reconcile(r.Context(), p)
	if err != nil {
		if service.IsPermanent(err) {
			// Acknowledge so the provider stops redelivering.
			log.Error("payment cannot become an order", zap.Error(err))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("reconcile payment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not record order")
		return
	}

	if res.Outcome == service.OutcomeCreated {
		msg := notify.NewOrderMessage(notify.EventOrderCreated, res.Order, res.Items)
		msg.Source = enum.OrderSourceWebhook
		if err := h.notifier.Notify(r.Context(), msg); err != nil {
			log.Warn("order notification failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Message:     "Webhook received: " + res.Outcome.String(),
		OrderNumber: res.Order.OrderNumber,
		Outcome:     res.Outcome.String(),
	})
}

// fromSession builds the payment from a completed checkout session. Session
// metadata wins; the intent fills whatever the session lacks.
func (h *WebhookHandler) fromSession(ctx context.Context, e payment.CheckoutSessionCompleted) (service.Payment, error) {
	p := service.Payment{
		PaymentIntentID: e.PaymentIntentID,
		Metadata:        payment.DecodeMetadata(e.Metadata),
		Contact:         contactFromShipping(e.Shipping, e.Email),
		ChargedAmount:   e.AmountTotal,
	}
	if p.Metadata.Cart != "" && p.ChargedAmount > 0 && e.Shipping != nil {
		return p, nil
	}
	if e.PaymentIntentID == "" {
		return p, nil
	}

	intent, err := h.events.RetrieveIntent(ctx, e.PaymentIntentID)
	if err != nil {
		return p, err
	}
	fallback := fromIntent(*intent)
	if p.Metadata.Cart == "" {
		p.Metadata = fallback.Metadata
	}
	if p.ChargedAmount == 0 {
		p.ChargedAmount = fallback.ChargedAmount
	}
	if e.Shipping == nil {
		email := e.Email
		if email == "" {
			email = intent.BillingEmail
		}
		p.Contact = contactFromShipping(intent.Shipping, email)
	}
	return p, nil
}

func fromIntent(in payment.Intent) service.Payment {
	charged := in.AmountReceived
	if charged == 0 {
		charged = in.Amount
	}
	return service.Payment{
		PaymentIntentID: in.ID,
		Metadata:        payment.DecodeMetadata(in.Metadata),
		Contact:         contactFromShipping(in.Shipping, in.BillingEmail),
		ChargedAmount:   charged,
	}
}

func contactFromShipping(s *payment.Shipping, email string) service.Contact {
	c := service.Contact{Email: email}
	if s == nil {
		return c
	}
	c.FullName = s.Name
	c.PhoneNumber = s.Phone
	c.Country = s.Address.Country
	c.Postcode = s.Address.PostalCode
	c.TownOrCity = s.Address.City
	c.StreetAddress1 = s.Address.Line1
	c.StreetAddress2 = s.Address.Line2
	c.County = s.Address.State
	return c
}
