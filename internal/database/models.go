package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Product struct {
	ID          int64          `json:"id"`
	Sku         pgtype.Text    `json:"sku"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Price       pgtype.Numeric `json:"price"`
	IsAvailable bool           `json:"is_available"`
	CreatedAt   time.Time      `json:"created_at"`
}

type DeliveryMethod struct {
	ID                    int64          `json:"id"`
	Name                  string         `json:"name"`
	Cost                  pgtype.Numeric `json:"cost"`
	Active                bool           `json:"active"`
	CompanyName           string         `json:"company_name"`
	EstimatedDeliveryTime string         `json:"estimated_delivery_time"`
}

type Order struct {
	ID                uuid.UUID      `json:"id"`
	OrderNumber       string         `json:"order_number"`
	FullName          string         `json:"full_name"`
	Email             string         `json:"email"`
	PhoneNumber       string         `json:"phone_number"`
	Country           string         `json:"country"`
	Postcode          string         `json:"postcode"`
	TownOrCity        string         `json:"town_or_city"`
	StreetAddress1    string         `json:"street_address1"`
	StreetAddress2    string         `json:"street_address2"`
	County            string         `json:"county"`
	DeliveryMethodID  pgtype.Int8    `json:"delivery_method_id"`
	OriginalCart      string         `json:"original_cart"`
	StripePid         string         `json:"stripe_pid"`
	DeliveryCost      pgtype.Numeric `json:"delivery_cost"`
	VatAmount         pgtype.Numeric `json:"vat_amount"`
	OrderTotal        pgtype.Numeric `json:"order_total"`
	GrandTotal        pgtype.Numeric `json:"grand_total"`
	GrandTotalWithVat pgtype.Numeric `json:"grand_total_with_vat"`
	Username          pgtype.Text    `json:"username"`
	CreatedAt         time.Time      `json:"created_at"`
}

type OrderItem struct {
	ID            uuid.UUID      `json:"id"`
	OrderID       uuid.UUID      `json:"order_id"`
	ProductID     int64          `json:"product_id"`
	Quantity      int32          `json:"quantity"`
	Size          pgtype.Text    `json:"size"`
	UnitPrice     pgtype.Numeric `json:"unit_price"`
	LineitemTotal pgtype.Numeric `json:"lineitem_total"`
}
