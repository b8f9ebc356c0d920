package domain

import (
	"time"

	"github.com/fjod/seafood-storefront/internal/pricing"
	"github.com/shopspring/decimal"
)

// Product is the catalog record a cart line is seeded from.
type Product struct {
	ID            string
	Name          string
	ImageRef      string
	BasePrice     decimal.Decimal
	DiscountPrice *decimal.Decimal
	Stock         int
}

type CartLine struct {
	ProductID         string           `json:"product_id"`
	Name              string           `json:"name"`
	ImageRef          string           `json:"image_ref"`
	UnitBasePrice     decimal.Decimal  `json:"unit_base_price"`
	UnitDiscountPrice *decimal.Decimal `json:"unit_discount_price,omitempty"`
	UnitFinalPrice    decimal.Decimal  `json:"unit_final_price"`
	Quantity          int              `json:"quantity"`
	StockCeiling      int              `json:"stock_ceiling"`
	AddedAt           time.Time        `json:"added_at"`
}

// NewCartLine copies the display and price fields of p into a fresh line.
// Quantity is left to the caller.
func NewCartLine(p Product, addedAt time.Time) CartLine {
	l := CartLine{
		ProductID: p.ID,
		AddedAt:   addedAt,
	}
	l.Refresh(p)
	return l
}

// Refresh re-snapshots catalog fields from p. Quantity is not touched.
func (l *CartLine) Refresh(p Product) {
	l.Name = p.Name
	l.ImageRef = p.ImageRef
	l.UnitBasePrice = p.BasePrice
	l.UnitDiscountPrice = nil
	if p.DiscountPrice != nil {
		d := *p.DiscountPrice
		l.UnitDiscountPrice = &d
	}
	l.StockCeiling = p.Stock
	l.Reprice()
}

// Reprice recomputes UnitFinalPrice from the stored base and discount prices.
func (l *CartLine) Reprice() {
	l.UnitFinalPrice = pricing.FinalUnit(l.UnitBasePrice, l.UnitDiscountPrice)
}

func (l CartLine) Price() pricing.Price {
	return pricing.Resolve(l.UnitBasePrice, l.UnitDiscountPrice, l.Quantity)
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.Price().LineTotal
}

func (l CartLine) clone() CartLine {
	if l.UnitDiscountPrice != nil {
		d := *l.UnitDiscountPrice
		l.UnitDiscountPrice = &d
	}
	return l
}

// Snapshot is an immutable view of the cart at one point in time.
type Snapshot struct {
	Lines    []CartLine
	Subtotal decimal.Decimal
}

// NewSnapshot deep-copies lines and derives the subtotal.
func NewSnapshot(lines []CartLine) Snapshot {
	s := Snapshot{
		Lines:    make([]CartLine, len(lines)),
		Subtotal: decimal.Zero,
	}
	for i, l := range lines {
		s.Lines[i] = l.clone()
		s.Subtotal = s.Subtotal.Add(l.LineTotal())
	}
	return s
}

func (s Snapshot) IsEmpty() bool {
	return len(s.Lines) == 0
}

// ItemCount is the number of units across all lines.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

func (s Snapshot) Line(productID string) (CartLine, bool) {
	for _, l := range s.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return CartLine{}, false
}
