package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_number, full_name, email, phone_number, country, postcode,
    town_or_city, street_address1, street_address2, county, delivery_method_id,
    original_cart, stripe_pid, delivery_cost, vat_amount, order_total, grand_total,
    grand_total_with_vat, username, created_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OrderNumber,
		&i.FullName,
		&i.Email,
		&i.PhoneNumber,
		&i.Country,
		&i.Postcode,
		&i.TownOrCity,
		&i.StreetAddress1,
		&i.StreetAddress2,
		&i.County,
		&i.DeliveryMethodID,
		&i.OriginalCart,
		&i.StripePid,
		&i.DeliveryCost,
		&i.VatAmount,
		&i.OrderTotal,
		&i.GrandTotal,
		&i.GrandTotalWithVat,
		&i.Username,
		&i.CreatedAt,
	)
	return i, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    order_number, full_name, email, phone_number, country, postcode,
    town_or_city, street_address1, street_address2, county, delivery_method_id,
    original_cart, stripe_pid, delivery_cost, vat_amount, order_total,
    grand_total, grand_total_with_vat, username
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
)
RETURNING ` + orderColumns

type CreateOrderParams struct {
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
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OrderNumber,
		arg.FullName,
		arg.Email,
		arg.PhoneNumber,
		arg.Country,
		arg.Postcode,
		arg.TownOrCity,
		arg.StreetAddress1,
		arg.StreetAddress2,
		arg.County,
		arg.DeliveryMethodID,
		arg.OriginalCart,
		arg.StripePid,
		arg.DeliveryCost,
		arg.VatAmount,
		arg.OrderTotal,
		arg.GrandTotal,
		arg.GrandTotalWithVat,
		arg.Username,
	)
	return scanOrder(row)
}

const getOrderByNumber = `-- name: GetOrderByNumber :one
SELECT ` + orderColumns + `
FROM orders
WHERE order_number = $1
`

func (q *Queries) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByNumber, orderNumber))
}

const getOrderByStripePid = `-- name: GetOrderByStripePid :one
SELECT ` + orderColumns + `
FROM orders
WHERE stripe_pid = $1
`

func (q *Queries) GetOrderByStripePid(ctx context.Context, stripePid string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByStripePid, stripePid))
}

const findOrderByFingerprint = `-- name: FindOrderByFingerprint :one
SELECT ` + orderColumns + `
FROM orders
WHERE lower(full_name) = lower($1)
  AND lower(email) = lower($2)
  AND lower(phone_number) = lower($3)
  AND lower(country) = lower($4)
  AND lower(postcode) = lower($5)
  AND lower(town_or_city) = lower($6)
  AND lower(street_address1) = lower($7)
  AND lower(street_address2) = lower($8)
  AND lower(county) = lower($9)
  AND grand_total_with_vat = $10
  AND original_cart = $11
  AND stripe_pid = $12
LIMIT 1
`

type FindOrderByFingerprintParams struct {
	FullName          string         `json:"full_name"`
	Email             string         `json:"email"`
	PhoneNumber       string         `json:"phone_number"`
	Country           string         `json:"country"`
	Postcode          string         `json:"postcode"`
	TownOrCity        string         `json:"town_or_city"`
	StreetAddress1    string         `json:"street_address1"`
	StreetAddress2    string         `json:"street_address2"`
	County            string         `json:"county"`
	GrandTotalWithVat pgtype.Numeric `json:"grand_total_with_vat"`
	OriginalCart      string         `json:"original_cart"`
	StripePid         string         `json:"stripe_pid"`
}

func (q *Queries) FindOrderByFingerprint(ctx context.Context, arg FindOrderByFingerprintParams) (Order, error) {
	row := q.db.QueryRow(ctx, findOrderByFingerprint,
		arg.FullName,
		arg.Email,
		arg.PhoneNumber,
		arg.Country,
		arg.Postcode,
		arg.TownOrCity,
		arg.StreetAddress1,
		arg.StreetAddress2,
		arg.County,
		arg.GrandTotalWithVat,
		arg.OriginalCart,
		arg.StripePid,
	)
	return scanOrder(row)
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (order_id, product_id, quantity, size, unit_price, lineitem_total)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, order_id, product_id, quantity, size, unit_price, lineitem_total
`

type CreateOrderItemParams struct {
	OrderID       uuid.UUID      `json:"order_id"`
	ProductID     int64          `json:"product_id"`
	Quantity      int32          `json:"quantity"`
	Size          pgtype.Text    `json:"size"`
	UnitPrice     pgtype.Numeric `json:"unit_price"`
	LineitemTotal pgtype.Numeric `json:"lineitem_total"`
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.ProductID,
		arg.Quantity,
		arg.Size,
		arg.UnitPrice,
		arg.LineitemTotal,
	)
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.ProductID,
		&i.Quantity,
		&i.Size,
		&i.UnitPrice,
		&i.LineitemTotal,
	)
	return i, err
}

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT id, order_id, product_id, quantity, size, unit_price, lineitem_total
FROM order_items
WHERE order_id = $1
ORDER BY product_id, id
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.ProductID,
			&i.Quantity,
			&i.Size,
			&i.UnitPrice,
			&i.LineitemTotal,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countOrdersByStripePid = `-- name: CountOrdersByStripePid :one
SELECT count(*) FROM orders WHERE stripe_pid = $1
`

func (q *Queries) CountOrdersByStripePid(ctx context.Context, stripePid string) (int64, error) {
	row := q.db.QueryRow(ctx, countOrdersByStripePid, stripePid)
	var count int64
	err := row.Scan(&count)
	return count, err
}
