package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getDeliveryMethod = `-- name: GetDeliveryMethod :one
SELECT id, name, cost, active, company_name, estimated_delivery_time
FROM delivery_methods
WHERE id = $1
`

func (q *Queries) GetDeliveryMethod(ctx context.Context, id int64) (DeliveryMethod, error) {
	row := q.db.QueryRow(ctx, getDeliveryMethod, id)
	var i DeliveryMethod
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Cost,
		&i.Active,
		&i.CompanyName,
		&i.EstimatedDeliveryTime,
	)
	return i, err
}

const listActiveDeliveryMethods = `-- name: ListActiveDeliveryMethods :many
SELECT id, name, cost, active, company_name, estimated_delivery_time
FROM delivery_methods
WHERE active = true
ORDER BY cost, id
`

func (q *Queries) ListActiveDeliveryMethods(ctx context.Context) ([]DeliveryMethod, error) {
	rows, err := q.db.Query(ctx, listActiveDeliveryMethods)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []DeliveryMethod{}
	for rows.Next() {
		var i DeliveryMethod
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Cost,
			&i.Active,
			&i.CompanyName,
			&i.EstimatedDeliveryTime,
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

const createDeliveryMethod = `-- name: CreateDeliveryMethod :one
INSERT INTO delivery_methods (name, cost, active, company_name, estimated_delivery_time)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, name, cost, active, company_name, estimated_delivery_time
`

type CreateDeliveryMethodParams struct {
	Name                  string         `json:"name"`
	Cost                  pgtype.Numeric `json:"cost"`
	Active                bool           `json:"active"`
	CompanyName           string         `json:"company_name"`
	EstimatedDeliveryTime string         `json:"estimated_delivery_time"`
}

func (q *Queries) CreateDeliveryMethod(ctx context.Context, arg CreateDeliveryMethodParams) (DeliveryMethod, error) {
	row := q.db.QueryRow(ctx, createDeliveryMethod,
		arg.Name,
		arg.Cost,
		arg.Active,
		arg.CompanyName,
		arg.EstimatedDeliveryTime,
	)
	var i DeliveryMethod
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Cost,
		&i.Active,
		&i.CompanyName,
		&i.EstimatedDeliveryTime,
	)
	return i, err
}
