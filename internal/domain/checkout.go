package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cod"
	PaymentCard           PaymentMethod = "card"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
)

// ShippingAddress field order is the order validation reports in.
type ShippingAddress struct {
	Name       string `json:"name" validate:"required,max=120"`
	Phone      string `json:"phone" validate:"required,min=7,max=20"`
	Email      string `json:"email" validate:"required,email"`
	Street     string `json:"street" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=12"`
}

// ShippingForm is what the checkout page posts.
type ShippingForm struct {
	ShippingAddress
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required,oneof=cod card bank_transfer"`
}

// Normalize trims surrounding whitespace so blank fields fail "required".
func (f *ShippingForm) Normalize() {
	a := &f.ShippingAddress
	for _, s := range []*string{&a.Name, &a.Phone, &a.Email, &a.Street, &a.City, &a.State, &a.PostalCode} {
		*s = strings.TrimSpace(*s)
	}
	f.PaymentMethod = PaymentMethod(strings.TrimSpace(string(f.PaymentMethod)))
}

// OrderLine pins price and quantity at submit time.
type OrderLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CheckoutOrder struct {
	Reference       string          `json:"reference"`
	Lines           []OrderLine     `json:"lines"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"created_at"`
}

// OrderReceipt is the backend's answer to a successful submission.
type OrderReceipt struct {
	OrderID   string    `json:"order_id"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	PlacedAt  time.Time `json:"placed_at"`
}
