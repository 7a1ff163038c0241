// Package notify fans out order confirmations to downstream consumers.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/henna-boutique/api/internal/database"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderCreated   = "order.created"
)

// Item is one order line as published.
type Item struct {
	ProductID     int64  `json:"product_id"`
	Quantity      int32  `json:"quantity"`
	Size          string `json:"size,omitempty"`
	LineitemTotal string `json:"lineitem_total"`
}

// OrderMessage is the payload every notifier publishes.
type OrderMessage struct {
	Event             string    `json:"event"`
	OrderNumber       string    `json:"order_number"`
	Email             string    `json:"email"`
	FullName          string    `json:"full_name"`
	DeliveryCost      string    `json:"delivery_cost"`
	VatAmount         string    `json:"vat_amount"`
	GrandTotalWithVat string    `json:"grand_total_with_vat"`
	Items             []Item    `json:"items"`
	Source            string    `json:"source,omitempty"` // enum.OrderSource*
	CreatedAt         time.Time `json:"created_at"`
}

// NewOrderMessage builds the published view of a stored order.
func NewOrderMessage(event string, o database.Order, items []database.OrderItem) OrderMessage {
	msg := OrderMessage{
		Event:             event,
		OrderNumber:       o.OrderNumber,
		Email:             o.Email,
		FullName:          o.FullName,
		DeliveryCost:      money(o.DeliveryCost),
		VatAmount:         money(o.VatAmount),
		GrandTotalWithVat: money(o.GrandTotalWithVat),
		Items:             make([]Item, 0, len(items)),
		CreatedAt:         o.CreatedAt,
	}
	for _, it := range items {
		msg.Items = append(msg.Items, Item{
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			Size:          it.Size.String,
			LineitemTotal: money(it.LineitemTotal),
		})
	}
	return msg
}

// Notifier delivers an order message. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, msg OrderMessage) error
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg OrderMessage) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only logs. Used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg OrderMessage) error {
	n.logger.Info("order notification",
		zap.String("event", msg.Event),
		zap.String("order_number", msg.OrderNumber),
		zap.String("email", msg.Email),
		zap.String("grand_total_with_vat", msg.GrandTotalWithVat),
	)
	return nil
}

func money(n pgtype.Numeric) string {
	if !n.Valid || n.Int == nil {
		return decimal.Zero.StringFixed(2)
	}
	return decimal.NewFromBigInt(n.Int, n.Exp).StringFixed(2)
}
