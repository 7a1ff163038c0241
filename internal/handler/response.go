package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/henna-boutique/api/internal/database"
	"github.com/henna-boutique/api/internal/service"
	"github.com/henna-boutique/api/internal/totals"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Customer-facing messages. Details go to the log, never to the client.
const (
	msgEmptyCart          = "Your cart is empty."
	msgInvalidDelivery    = "Selected delivery option is invalid."
	msgPaymentUnavailable = "Sorry, your payment cannot be processed right now. Please try again later."
	msgProductMissing     = "One of the items in your cart wasn't found in our database."
	msgInvalidForm        = "There was an issue with your order form. Please check your details and try again."
	msgInternal           = "internal server error"
)

const (
	redirectCart = "/cart"
)

type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

type deliveryMethodResponse struct {
	ID                    int64  `json:"id"`
	Name                  string `json:"name"`
	Cost                  string `json:"cost"`
	CompanyName           string `json:"company_name"`
	EstimatedDeliveryTime string `json:"estimated_delivery_time"`
}

type cartLineResponse struct {
	ProductID int64  `json:"product_id"`
	Sku       string `json:"sku,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type totalsResponse struct {
	Subtotal              string `json:"total_cost"`
	DeliveryCost          string `json:"delivery_cost"`
	DeliveryName          string `json:"delivery_name"`
	VatAmount             string `json:"vat_amount"`
	GrandTotal            string `json:"grand_total"`
	GrandTotalWithVat     string `json:"grand_total_with_vat"`
	FreeDeliveryThreshold string `json:"free_delivery_threshold"`
	FreeDeliveryDelta     string `json:"free_delivery_delta"`
	IsThresholdMet        bool   `json:"is_threshold_met"`
}

type orderResponse struct {
	ID                uuid.UUID           `json:"id"`
	OrderNumber       string              `json:"order_number"`
	FullName          string              `json:"full_name"`
	Email             string              `json:"email"`
	PhoneNumber       string              `json:"phone_number"`
	Country           string              `json:"country"`
	Postcode          string              `json:"postcode"`
	TownOrCity        string              `json:"town_or_city"`
	StreetAddress1    string              `json:"street_address1"`
	StreetAddress2    string              `json:"street_address2"`
	County            string              `json:"county"`
	DeliveryMethodID  *int64              `json:"delivery_method_id"`
	DeliveryCost      string              `json:"delivery_cost"`
	VatAmount         string              `json:"vat_amount"`
	OrderTotal        string              `json:"order_total"`
	GrandTotal        string              `json:"grand_total"`
	GrandTotalWithVat string              `json:"grand_total_with_vat"`
	CreatedAt         time.Time           `json:"created_at"`
	Items             []orderItemResponse `json:"items"`
}

type orderItemResponse struct {
	ProductID     int64  `json:"product_id"`
	Quantity      int32  `json:"quantity"`
	Size          string `json:"size,omitempty"`
	UnitPrice     string `json:"unit_price"`
	LineitemTotal string `json:"lineitem_total"`
}

func toOrderResponse(o database.Order, items []database.OrderItem) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		FullName:          o.FullName,
		Email:             o.Email,
		PhoneNumber:       o.PhoneNumber,
		Country:           o.Country,
		Postcode:          o.Postcode,
		TownOrCity:        o.TownOrCity,
		StreetAddress1:    o.StreetAddress1,
		StreetAddress2:    o.StreetAddress2,
		County:            o.County,
		DeliveryCost:      numericToString(o.DeliveryCost),
		VatAmount:         numericToString(o.VatAmount),
		OrderTotal:        numericToString(o.OrderTotal),
		GrandTotal:        numericToString(o.GrandTotal),
		GrandTotalWithVat: numericToString(o.GrandTotalWithVat),
		CreatedAt:         o.CreatedAt,
		Items:             make([]orderItemResponse, len(items)),
	}
	if o.DeliveryMethodID.Valid {
		id := o.DeliveryMethodID.Int64
		resp.DeliveryMethodID = &id
	}
	for i, it := range items {
		resp.Items[i] = orderItemResponse{
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			Size:          it.Size.String,
			UnitPrice:     numericToString(it.UnitPrice),
			LineitemTotal: numericToString(it.LineitemTotal),
		}
	}
	return resp
}

func toDeliveryMethodResponse(d database.DeliveryMethod) deliveryMethodResponse {
	return deliveryMethodResponse{
		ID:                    d.ID,
		Name:                  d.Name,
		Cost:                  numericToString(d.Cost),
		CompanyName:           d.CompanyName,
		EstimatedDeliveryTime: d.EstimatedDeliveryTime,
	}
}

func toCartLines(contents *service.CartContents) []cartLineResponse {
	lines := make([]cartLineResponse, len(contents.Lines))
	for i, l := range contents.Lines {
		lines[i] = cartLineResponse{
			ProductID: l.ProductID,
			Sku:       l.Product.Sku.String,
			Name:      l.Product.Name,
			Quantity:  l.Quantity,
			Size:      l.Size,
			UnitPrice: l.UnitPrice.StringFixed(2),
			LineTotal: l.LineTotal.StringFixed(2),
		}
	}
	return lines
}

func toTotalsResponse(calc totals.Calculator, t totals.Totals) totalsResponse {
	return totalsResponse{
		Subtotal:              t.Subtotal.StringFixed(2),
		DeliveryCost:          t.DeliveryCost.StringFixed(2),
		DeliveryName:          t.DeliveryName,
		VatAmount:             t.VATAmount.StringFixed(2),
		GrandTotal:            t.GrandTotal.StringFixed(2),
		GrandTotalWithVat:     t.GrandTotalWithVAT.StringFixed(2),
		FreeDeliveryThreshold: calc.FreeDeliveryThreshold.StringFixed(2),
		FreeDeliveryDelta:     t.FreeDeliveryDelta.StringFixed(2),
		IsThresholdMet:        calc.ThresholdMet(t.Subtotal),
	}
}

func numericToString(n pgtype.Numeric) string {
	return numericToDecimal(n).StringFixed(2)
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeRedirect(w http.ResponseWriter, status int, msg, to string) {
	writeJSON(w, status, errorResponse{Error: msg, Redirect: to})
}
