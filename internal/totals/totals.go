// Package totals computes VAT, delivery and grand totals for a cart.
//
// Every caller that prices an order (checkout page, delivery recalculation,
// order form submission, webhook) goes through Calculator so that the amount
// charged by the payment provider and the totals persisted on the order agree.
package totals

import (
	"github.com/shopspring/decimal"
)

const (
	DeliveryNameFree     = "Free Delivery"
	DeliveryNameStandard = "Standard Delivery"
)

// VATRate is applied to the subtotal only, never to delivery.
var VATRate = decimal.RequireFromString("0.20")

var hundred = decimal.NewFromInt(100)

// Totals is the full price breakdown for a subtotal and delivery cost.
type Totals struct {
	Subtotal          decimal.Decimal
	VATAmount         decimal.Decimal
	GrandTotal        decimal.Decimal
	GrandTotalWithVAT decimal.Decimal
	DeliveryCost      decimal.Decimal
	FreeDeliveryDelta decimal.Decimal
	DeliveryName      string
}

// ChargeAmount is the grand total with VAT in minor units.
func (t Totals) ChargeAmount() int64 {
	return MinorUnits(t.GrandTotalWithVAT)
}

// Calculator holds the store-wide pricing settings.
type Calculator struct {
	FreeDeliveryThreshold decimal.Decimal
}

// NewCalculator creates a Calculator with the given free-delivery threshold.
func NewCalculator(threshold decimal.Decimal) Calculator {
	return Calculator{FreeDeliveryThreshold: threshold}
}

// Compute returns the totals for subtotal plus deliveryCost.
func (c Calculator) Compute(subtotal, deliveryCost decimal.Decimal) Totals {
	// decimal.Round rounds half away from zero, which is half-up for the
	// non-negative amounts handled here.
	vat := subtotal.Mul(VATRate).Round(2)
	grand := subtotal.Add(deliveryCost)

	delta := decimal.Zero
	if subtotal.LessThan(c.FreeDeliveryThreshold) {
		delta = c.FreeDeliveryThreshold.Sub(subtotal)
	}

	name := DeliveryNameFree
	if deliveryCost.GreaterThan(decimal.Zero) {
		name = DeliveryNameStandard
	}

	return Totals{
		Subtotal:          subtotal,
		VATAmount:         vat,
		GrandTotal:        grand,
		GrandTotalWithVAT: grand.Add(vat),
		DeliveryCost:      deliveryCost,
		FreeDeliveryDelta: delta,
		DeliveryName:      name,
	}
}

// ThresholdMet reports whether subtotal qualifies for free delivery.
func (c Calculator) ThresholdMet(subtotal decimal.Decimal) bool {
	return subtotal.GreaterThanOrEqual(c.FreeDeliveryThreshold)
}

// SubtotalFromCharged recovers the subtotal that produced a charged amount
// (minor units) for the given delivery cost. ok is false when no 2dp subtotal
// reproduces the charge exactly; the nearest candidate is returned anyway.
func (c Calculator) SubtotalFromCharged(charged int64, deliveryCost decimal.Decimal) (decimal.Decimal, bool) {
	withoutDelivery := FromMinorUnits(charged).Sub(deliveryCost)
	estimate := withoutDelivery.Div(decimal.NewFromInt(1).Add(VATRate)).Round(2)

	cent := decimal.New(1, -2)
	for _, candidate := range []decimal.Decimal{estimate, estimate.Sub(cent), estimate.Add(cent)} {
		if candidate.IsNegative() {
			continue
		}
		if c.Compute(candidate, deliveryCost).ChargeAmount() == charged {
			return candidate, true
		}
	}
	if estimate.IsNegative() {
		return decimal.Zero, false
	}
	return estimate, false
}

// MinorUnits converts an amount to integer minor units, rounding half-up.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer minor units back to a 2dp amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
