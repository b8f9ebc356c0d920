package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/seafood-storefront/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderSubmitter sends a checkout order to the backend. It is called at most
// once per user action; there is no idempotency key.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order *domain.CheckoutOrder) (*domain.OrderReceipt, error)
}

// EventPublisher announces placed orders. Publishing is best-effort.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, sessionID string, order *domain.CheckoutOrder, receipt *domain.OrderReceipt) error
}

type Config struct {
	FreeShippingThreshold decimal.Decimal
	StandardShippingFee   decimal.Decimal
	Currency              string
	SubmitTimeout         time.Duration
}

// Quote is the checkout summary for a snapshot.
type Quote struct {
	ItemCount    int             `json:"item_count"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Total        decimal.Decimal `json:"total"`
	FreeShipping bool            `json:"free_shipping"`
}

type Assembler struct {
	cfg       Config
	validate  *validator.Validate
	submitter OrderSubmitter
	publisher EventPublisher
	logger    *zap.Logger

	now    func() time.Time
	newRef func() string
}

// NewAssembler builds an assembler. publisher may be nil.
func NewAssembler(cfg Config, submitter OrderSubmitter, publisher EventPublisher, logger *zap.Logger) *Assembler {
	return &Assembler{
		cfg:       cfg,
		validate:  newValidator(),
		submitter: submitter,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newRef:    func() string { return uuid.NewString() },
	}
}

// ShippingCost is free strictly above the threshold, the standard fee otherwise.
func (a *Assembler) ShippingCost(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(a.cfg.FreeShippingThreshold) {
		return decimal.Zero
	}
	return a.cfg.StandardShippingFee
}

// Quote prices snap the same way BuildOrder does. An empty cart quotes zero.
func (a *Assembler) Quote(snap domain.Snapshot) Quote {
	if snap.IsEmpty() {
		return Quote{Subtotal: decimal.Zero, ShippingCost: decimal.Zero, Total: decimal.Zero}
	}
	shipping := a.ShippingCost(snap.Subtotal)
	return Quote{
		ItemCount:    snap.ItemCount(),
		Subtotal:     snap.Subtotal,
		ShippingCost: shipping,
		Total:        snap.Subtotal.Add(shipping),
		FreeShipping: shipping.IsZero(),
	}
}

// BuildOrder turns a cart snapshot and shipping form into an order payload.
// It fails with domain.ErrEmptyCart or a *domain.ValidationError and never
// touches the network.
func (a *Assembler) BuildOrder(snap domain.Snapshot, form domain.ShippingForm) (*domain.CheckoutOrder, error) {
	if snap.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	form.Normalize()
	if err := a.validateForm(form); err != nil {
		return nil, err
	}

	lines := make([]domain.OrderLine, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		price := l.Price()
		lines = append(lines, domain.OrderLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: price.FinalUnit,
			LineTotal: price.LineTotal,
		})
	}

	quote := a.Quote(snap)
	return &domain.CheckoutOrder{
		Reference:       a.newRef(),
		Lines:           lines,
		ShippingAddress: form.ShippingAddress,
		PaymentMethod:   form.PaymentMethod,
		Subtotal:        quote.Subtotal,
		ShippingCost:    quote.ShippingCost,
		Total:           quote.Total,
		Currency:        a.cfg.Currency,
		CreatedAt:       a.now().UTC(),
	}, nil
}

// Submit sends order once. Every failure comes back as a *domain.TransportError.
func (a *Assembler) Submit(ctx context.Context, order *domain.CheckoutOrder) (*domain.OrderReceipt, error) {
	if a.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.SubmitTimeout)
		defer cancel()
	}

	receipt, err := a.submitter.SubmitOrder(ctx, order)
	if err != nil {
		if !domain.IsTransportError(err) {
			err = &domain.TransportError{Op: "submit_order", Err: err}
		}
		return nil, fmt.Errorf("submit order %s: %w", order.Reference, err)
	}
	return receipt, nil
}

func (a *Assembler) publishPlaced(ctx context.Context, sessionID string, order *domain.CheckoutOrder, receipt *domain.OrderReceipt) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishOrderPlaced(ctx, sessionID, order, receipt); err != nil {
		a.logger.Warn("failed to publish order placed event",
			zap.String("order_ref", order.Reference), zap.Error(err))
	}
}
