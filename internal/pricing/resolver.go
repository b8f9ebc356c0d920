package pricing

import "github.com/shopspring/decimal"

// Price is the resolved price of one cart line.
type Price struct {
	FinalUnit  decimal.Decimal
	LineTotal  decimal.Decimal
	Discounted bool
}

// Resolve derives the final unit price and line total for a catalog price pair.
// The discount price only applies when it is strictly lower than the base price,
// so discount == base reads as "no discount". Catalog, cart and checkout all
// price lines through this function.
func Resolve(base decimal.Decimal, discount *decimal.Decimal, quantity int) Price {
	final := base
	discounted := false
	if discount != nil && discount.LessThan(base) {
		final = *discount
		discounted = true
	}

	lineTotal := decimal.Zero
	if quantity > 0 {
		lineTotal = final.Mul(decimal.NewFromInt(int64(quantity)))
	}

	return Price{
		FinalUnit:  final,
		LineTotal:  lineTotal,
		Discounted: discounted,
	}
}

// FinalUnit is Resolve without the line extension.
func FinalUnit(base decimal.Decimal, discount *decimal.Decimal) decimal.Decimal {
	return Resolve(base, discount, 1).FinalUnit
}
