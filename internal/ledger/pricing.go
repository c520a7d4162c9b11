package ledger

import (
	"github.com/shopspring/decimal"
)

// MaxPriceScale is the number of fractional digits stored for prices.
const MaxPriceScale = 4

var hundred = decimal.NewFromInt(100)

// totalCost sums quantity × unit price over uses.
func totalCost(uses []LotUse) decimal.Decimal {
	total := decimal.Zero
	for _, u := range uses {
		total = total.Add(u.UnitPrice.Mul(decimal.NewFromInt(u.Quantity)))
	}
	return total
}

// weightedAverage returns the quantity weighted unit price of uses rounded to scale.
func weightedAverage(uses []LotUse, scale int32) decimal.Decimal {
	var qty int64
	for _, u := range uses {
		qty += u.Quantity
	}
	if qty == 0 {
		return decimal.Zero
	}
	return totalCost(uses).Div(decimal.NewFromInt(qty)).Round(scale)
}

// pricedQty is a run of units sharing one unit price.
type pricedQty struct {
	Quantity  int64
	UnitPrice decimal.Decimal
}

// splitEvenly divides total across units. It works at the given scale, widened up to
// MaxPriceScale when total itself carries finer digits. The remainder left by truncation goes
// one step at a time to the first units, so the parts always sum to total.
func splitEvenly(total decimal.Decimal, units int64, scale int32) []pricedQty {
	if units <= 0 {
		return nil
	}
	if total.Sign() <= 0 {
		return []pricedQty{{Quantity: units, UnitPrice: decimal.Zero}}
	}
	for scale < MaxPriceScale && !total.Equal(total.Truncate(scale)) {
		scale++
	}
	n := decimal.NewFromInt(units)
	base := total.Div(n).Truncate(scale)
	remainder := total.Sub(base.Mul(n))
	step := decimal.New(1, -scale)
	bumped := remainder.Div(step).Truncate(0).IntPart()
	// Digits below MaxPriceScale cannot be stored; they ride on the first unit.
	residual := remainder.Sub(step.Mul(decimal.NewFromInt(bumped)))

	var parts []pricedQty
	if bumped > 0 {
		parts = append(parts, pricedQty{Quantity: bumped, UnitPrice: base.Add(step)})
	}
	if units-bumped > 0 {
		parts = append(parts, pricedQty{Quantity: units - bumped, UnitPrice: base})
	}
	if !residual.IsZero() {
		first := parts[0]
		parts[0] = pricedQty{Quantity: 1, UnitPrice: first.UnitPrice.Add(residual)}
		if first.Quantity > 1 {
			parts = append([]pricedQty{parts[0], {Quantity: first.Quantity - 1, UnitPrice: first.UnitPrice}}, parts[1:]...)
		}
	}
	return parts
}

// validPrice reports whether p is non-negative and fits the stored price precision.
func validPrice(p decimal.Decimal) bool {
	return !p.IsNegative() && p.Equal(p.Truncate(MaxPriceScale))
}

// commissionUnitPrice applies a percentage rate to a sale unit price.
func commissionUnitPrice(saleUnitPrice, ratePercent decimal.Decimal, scale int32) decimal.Decimal {
	return saleUnitPrice.Mul(ratePercent).Div(hundred).Round(scale)
}

// commissionRate picks the consignor rate for the payment method.
func commissionRate(client ConsignmentClient, method PaymentMethod) (decimal.Decimal, error) {
	switch method {
	case PaymentCash, PaymentBank:
		return client.CommissionCashRate, nil
	case PaymentCard, PaymentPayPay, PaymentFelica, PaymentSquare:
		return client.CommissionCardRate, nil
	default:
		return decimal.Zero, ErrUnsupportedPaymentMethod
	}
}

// lotSpecsFromUses turns consumed lots into the lots an increase re-creates.
func lotSpecsFromUses(uses []LotUse) []LotSpec {
	specs := make([]LotSpec, 0, len(uses))
	for _, u := range uses {
		if u.Quantity <= 0 {
			continue
		}
		specs = append(specs, LotSpec{Quantity: u.Quantity, UnitPrice: u.UnitPrice, ArrivedAt: u.ArrivedAt})
	}
	return specs
}
