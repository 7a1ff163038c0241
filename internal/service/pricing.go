package service

import (
	"context"
	"fmt"

	"github.com/henna-boutique/api/internal/cart"
	"github.com/henna-boutique/api/internal/database"
	"github.com/shopspring/decimal"
)

// ProductReader loads catalogue products. Satisfied by *database.Queries.
type ProductReader interface {
	ListProductsByIDs(ctx context.Context, ids []int64) ([]database.Product, error)
}

// PricedLine is a cart line with its catalogue product.
type PricedLine struct {
	cart.Line
	Product   database.Product
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// CartContents is the priced view of a cart.
type CartContents struct {
	Lines        []PricedLine
	Subtotal     decimal.Decimal
	ProductCount int
}

// PriceCart prices every line against the catalogue. A line whose product
// is gone yields ErrProductNotFound.
func PriceCart(ctx context.Context, products ProductReader, c cart.Cart) (*CartContents, error) {
	lines, err := c.Lines()
	if err != nil {
		return nil, err
	}
	contents := &CartContents{Lines: []PricedLine{}, Subtotal: decimal.Zero}
	if len(lines) == 0 {
		return contents, nil
	}

	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	found, err := products.ListProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	byID := make(map[int64]database.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", l.ProductID, ErrProductNotFound)
		}
		price := numericToDecimal(p.Price)
		total := price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		contents.Lines = append(contents.Lines, PricedLine{
			Line:      l,
			Product:   p,
			UnitPrice: price,
			LineTotal: total,
		})
		contents.Subtotal = contents.Subtotal.Add(total)
		contents.ProductCount += l.Quantity
	}
	return contents, nil
}
