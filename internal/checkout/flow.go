package checkout

import (
	"context"
	"sync"

	"github.com/fjod/seafood-storefront/internal/cart"
	"github.com/fjod/seafood-storefront/internal/domain"
	"go.uber.org/zap"
)

// Flow is one checkout of a session's cart:
// Idle -> Submitting -> Succeeded (terminal, cart cleared) or Failed -> Idle (cart intact).
type Flow struct {
	mu      sync.Mutex
	status  domain.CheckoutStatus
	failed  *domain.CheckoutOrder
	receipt *domain.OrderReceipt

	store     *cart.Store
	assembler *Assembler
	logger    *zap.Logger
}

func NewFlow(store *cart.Store, assembler *Assembler, logger *zap.Logger) *Flow {
	return &Flow{
		status:    domain.CheckoutStatusIdle,
		store:     store,
		assembler: assembler,
		logger:    logger.With(zap.String("session_id", store.SessionID())),
	}
}

func (f *Flow) Status() domain.CheckoutStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Receipt is set once the flow succeeded.
func (f *Flow) Receipt() *domain.OrderReceipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipt
}

// Submit builds an order from the current cart and form and sends it.
// A second call while one is in flight fails with domain.ErrSubmissionInProgress.
func (f *Flow) Submit(ctx context.Context, form domain.ShippingForm) (*domain.OrderReceipt, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.failed = nil
	f.mu.Unlock()

	order, err := f.assembler.BuildOrder(f.store.Snapshot(), form)
	if err != nil {
		f.fail(nil)
		return nil, err
	}

	return f.send(ctx, order)
}

// Retry resubmits the exact payload of the last failed submission. If the cart
// no longer holds exactly the pinned lines the payload is dropped and
// domain.ErrCartChanged is returned; the caller submits again.
func (f *Flow) Retry(ctx context.Context) (*domain.OrderReceipt, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	order := f.failed
	f.mu.Unlock()
	if order == nil {
		f.fail(nil)
		return nil, domain.ErrNothingToRetry
	}

	if !matchesCart(order, f.store.Snapshot()) {
		f.mu.Lock()
		f.failed = nil
		f.mu.Unlock()
		f.fail(nil)
		f.logger.Info("cart changed after failed checkout, retry refused", zap.String("order_ref", order.Reference))
		return nil, domain.ErrCartChanged
	}

	return f.send(ctx, order)
}

// matchesCart reports whether snap still holds the order's lines with the
// same quantities and final unit prices, in any order.
func matchesCart(order *domain.CheckoutOrder, snap domain.Snapshot) bool {
	if len(order.Lines) != len(snap.Lines) {
		return false
	}
	for _, ol := range order.Lines {
		l, ok := snap.Line(ol.ProductID)
		if !ok || l.Quantity != ol.Quantity || !l.Price().FinalUnit.Equal(ol.UnitPrice) {
			return false
		}
	}
	return true
}

func (f *Flow) send(ctx context.Context, order *domain.CheckoutOrder) (*domain.OrderReceipt, error) {
	log := f.logger.With(zap.String("order_ref", order.Reference))
	log.Info("submitting order", zap.String("total", order.Total.String()), zap.Int("lines", len(order.Lines)))

	receipt, err := f.assembler.Submit(ctx, order)
	if err != nil {
		log.Warn("order submission failed, cart kept", zap.Error(err))
		f.fail(order)
		return nil, err
	}

	f.store.Clear()

	f.mu.Lock()
	f.moveLocked(domain.CheckoutStatusSucceeded)
	f.failed = nil
	f.receipt = receipt
	f.mu.Unlock()

	log.Info("order placed", zap.String("order_id", receipt.OrderID))
	f.assembler.publishPlaced(ctx, f.store.SessionID(), order, receipt)

	return receipt, nil
}

func (f *Flow) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.status == domain.CheckoutStatusSubmitting:
		return domain.ErrSubmissionInProgress
	case f.status.IsTerminal():
		return domain.ErrCheckoutCompleted
	case !domain.CanTransitionTo(f.status, domain.CheckoutStatusSubmitting):
		return domain.ErrIllegalTransition
	}
	f.moveLocked(domain.CheckoutStatusSubmitting)
	return nil
}

// fail moves Submitting -> Failed -> Idle. A non-nil order is kept for Retry.
func (f *Flow) fail(order *domain.CheckoutOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.moveLocked(domain.CheckoutStatusFailed)
	if order != nil {
		f.failed = order
	}
	f.moveLocked(domain.CheckoutStatusIdle)
}

func (f *Flow) moveLocked(to domain.CheckoutStatus) {
	if !domain.CanTransitionTo(f.status, to) {
		f.logger.Error("illegal checkout transition", zap.Stringer("from", f.status), zap.Stringer("to", to))
	}
	f.status = to
}
