package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/seafood-storefront/internal/cache"
	"github.com/fjod/seafood-storefront/internal/cart"
	"github.com/fjod/seafood-storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopCache struct{}

func (nopCache) Load(context.Context, string) ([]domain.CartLine, error) {
	return nil, cache.ErrCacheMiss
}
func (nopCache) Save(context.Context, string, []domain.CartLine) error { return nil }
func (nopCache) Delete(context.Context, string) error                  { return nil }

type mockSubmitter struct {
	m       sync.Mutex
	orders  []*domain.CheckoutOrder
	err     error
	release chan struct{}
}

func (m *mockSubmitter) SubmitOrder(ctx context.Context, order *domain.CheckoutOrder) (*domain.OrderReceipt, error) {
	m.m.Lock()
	m.orders = append(m.orders, order)
	release, err := m.release, m.err
	m.m.Unlock()

	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &domain.OrderReceipt{OrderID: "ord-1", Reference: order.Reference, Status: "PLACED", PlacedAt: time.Now()}, nil
}

func (m *mockSubmitter) submitted() []*domain.CheckoutOrder {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]*domain.CheckoutOrder(nil), m.orders...)
}

type mockPublisher struct {
	m      sync.Mutex
	events []string
	err    error
}

func (m *mockPublisher) PublishOrderPlaced(_ context.Context, sessionID string, order *domain.CheckoutOrder, _ *domain.OrderReceipt) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.events = append(m.events, sessionID+"/"+order.Reference)
	return m.err
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() Config {
	return Config{
		FreeShippingThreshold: money("500"),
		StandardShippingFee:   money("50"),
		Currency:              "AED",
		SubmitTimeout:         time.Second,
	}
}

func validForm() domain.ShippingForm {
	return domain.ShippingForm{
		ShippingAddress: domain.ShippingAddress{
			Name:       "Sara Ahmed",
			Phone:      "+971501234567",
			Email:      "sara@example.com",
			Street:     "12 Corniche Road",
			City:       "Abu Dhabi",
			State:      "Abu Dhabi",
			PostalCode: "00000",
		},
		PaymentMethod: domain.PaymentCashOnDelivery,
	}
}

func newStore(t *testing.T) *cart.Store {
	t.Helper()
	s := cart.NewStore(context.Background(), "sess-1", nopCache{}, zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func addProduct(s *cart.Store, id, base, discount string, qty int) {
	p := domain.Product{ID: id, Name: "product " + id, BasePrice: money(base), Stock: 100}
	if discount != "" {
		d := money(discount)
		p.DiscountPrice = &d
	}
	s.AddLine(p, qty)
}

func TestShippingCost_Threshold(t *testing.T) {
	a := NewAssembler(testConfig(), &mockSubmitter{}, nil, zap.NewNop())

	tests := []struct {
		subtotal string
		shipping string
		total    string
	}{
		{subtotal: "600", shipping: "0", total: "600"},
		{subtotal: "200", shipping: "50", total: "250"},
		{subtotal: "500", shipping: "50", total: "550"},
		{subtotal: "500.01", shipping: "0", total: "500.01"},
	}

	for _, tt := range tests {
		t.Run(tt.subtotal, func(t *testing.T) {
			snap := domain.NewSnapshot([]domain.CartLine{{ProductID: "p", UnitBasePrice: money(tt.subtotal), Quantity: 1, StockCeiling: 1}})
			q := a.Quote(snap)
			assert.True(t, q.ShippingCost.Equal(money(tt.shipping)), "shipping %s", q.ShippingCost)
			assert.True(t, q.Total.Equal(money(tt.total)), "total %s", q.Total)
			assert.Equal(t, q.ShippingCost.IsZero(), q.FreeShipping)
		})
	}
}

func TestQuote_EmptyCart(t *testing.T) {
	a := NewAssembler(testConfig(), &mockSubmitter{}, nil, zap.NewNop())

	q := a.Quote(domain.NewSnapshot(nil))
	assert.True(t, q.Total.IsZero())
	assert.Equal(t, 0, q.ItemCount)
}

func TestBuildOrder_PinsLinesAndTotals(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "100", "80", 2)
	addProduct(s, "p2", "40", "", 1)
	a := NewAssembler(testConfig(), &mockSubmitter{}, nil, zap.NewNop())
	a.newRef = func() string { return "ref-1" }

	order, err := a.BuildOrder(s.Snapshot(), validForm())
	require.NoError(t, err)

	assert.Equal(t, "ref-1", order.Reference)
	require.Len(t, order.Lines, 2)
	assert.Equal(t, "p1", order.Lines[0].ProductID)
	assert.Equal(t, 2, order.Lines[0].Quantity)
	assert.True(t, order.Lines[0].UnitPrice.Equal(money("80")))
	assert.True(t, order.Lines[0].LineTotal.Equal(money("160")))
	assert.True(t, order.Subtotal.Equal(money("200")))
	assert.True(t, order.ShippingCost.Equal(money("50")))
	assert.True(t, order.Total.Equal(money("250")))
	assert.Equal(t, "AED", order.Currency)
	assert.Equal(t, domain.PaymentCashOnDelivery, order.PaymentMethod)
	assert.Equal(t, "Abu Dhabi", order.ShippingAddress.City)

	// later cart edits do not move the pinned payload
	s.SetQuantity("p1", 5)
	assert.Equal(t, 2, order.Lines[0].Quantity)
	assert.True(t, order.Total.Equal(money("250")))
}

func TestBuildOrder_EmptyCart(t *testing.T) {
	a := NewAssembler(testConfig(), &mockSubmitter{}, nil, zap.NewNop())

	_, err := a.BuildOrder(domain.NewSnapshot(nil), validForm())
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestBuildOrder_ValidationNamesField(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "10", "", 1)
	a := NewAssembler(testConfig(), &mockSubmitter{}, nil, zap.NewNop())

	tests := []struct {
		name   string
		mutate func(f *domain.ShippingForm)
		field  string
	}{
		{name: "missing name", mutate: func(f *domain.ShippingForm) { f.Name = "" }, field: "name"},
		{name: "blank name", mutate: func(f *domain.ShippingForm) { f.Name = "   " }, field: "name"},
		{name: "missing phone", mutate: func(f *domain.ShippingForm) { f.Phone = "" }, field: "phone"},
		{name: "bad email", mutate: func(f *domain.ShippingForm) { f.Email = "not-an-email" }, field: "email"},
		{name: "missing street", mutate: func(f *domain.ShippingForm) { f.Street = "" }, field: "street"},
		{name: "missing city", mutate: func(f *domain.ShippingForm) { f.City = "" }, field: "city"},
		{name: "missing state", mutate: func(f *domain.ShippingForm) { f.State = "" }, field: "state"},
		{name: "missing postal code", mutate: func(f *domain.ShippingForm) { f.PostalCode = "" }, field: "postal_code"},
		{name: "unknown payment", mutate: func(f *domain.ShippingForm) { f.PaymentMethod = "crypto" }, field: "payment_method"},
		{name: "first field wins", mutate: func(f *domain.ShippingForm) { f.City = ""; f.Phone = "" }, field: "phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.mutate(&form)

			_, err := a.BuildOrder(s.Snapshot(), form)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestFlowSubmit_SuccessClearsCart(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "300", "", 2)
	sub := &mockSubmitter{}
	pub := &mockPublisher{}
	f := NewFlow(s, NewAssembler(testConfig(), sub, pub, zap.NewNop()), zap.NewNop())

	receipt, err := f.Submit(context.Background(), validForm())

	require.NoError(t, err)
	assert.Equal(t, "ord-1", receipt.OrderID)
	assert.Equal(t, domain.CheckoutStatusSucceeded, f.Status())
	assert.Equal(t, receipt, f.Receipt())
	assert.Empty(t, s.Snapshot().Lines)

	orders := sub.submitted()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].ShippingCost.IsZero())
	assert.True(t, orders[0].Total.Equal(money("600")))
	assert.Equal(t, []string{"sess-1/" + orders[0].Reference}, pub.events)
}

func TestFlowSubmit_SucceededIsTerminal(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "10", "", 1)
	f := NewFlow(s, NewAssembler(testConfig(), &mockSubmitter{}, nil, zap.NewNop()), zap.NewNop())

	_, err := f.Submit(context.Background(), validForm())
	require.NoError(t, err)

	_, err = f.Submit(context.Background(), validForm())
	assert.ErrorIs(t, err, domain.ErrCheckoutCompleted)
}

func TestFlowSubmit_EmptyCartLeavesCartUnchanged(t *testing.T) {
	s := newStore(t)
	sub := &mockSubmitter{}
	f := NewFlow(s, NewAssembler(testConfig(), sub, nil, zap.NewNop()), zap.NewNop())

	_, err := f.Submit(context.Background(), validForm())

	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, domain.CheckoutStatusIdle, f.Status())
	assert.Empty(t, sub.submitted())
	assert.True(t, s.Snapshot().IsEmpty())
}

func TestFlowSubmit_ValidationErrorNeverReachesNetwork(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "10", "", 1)
	sub := &mockSubmitter{}
	f := NewFlow(s, NewAssembler(testConfig(), sub, nil, zap.NewNop()), zap.NewNop())
	form := validForm()
	form.Email = ""

	_, err := f.Submit(context.Background(), form)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)
	assert.Empty(t, sub.submitted())
	assert.Equal(t, domain.CheckoutStatusIdle, f.Status())
}

func TestFlowSubmit_FailureKeepsCartIdentical(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "100", "80", 2)
	addProduct(s, "p2", "15", "", 3)
	before := s.Snapshot()
	sub := &mockSubmitter{err: errors.New("502 bad gateway")}
	pub := &mockPublisher{}
	f := NewFlow(s, NewAssembler(testConfig(), sub, pub, zap.NewNop()), zap.NewNop())

	_, err := f.Submit(context.Background(), validForm())

	require.Error(t, err)
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "submit_order", te.Op)
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, domain.CheckoutStatusIdle, f.Status())
	assert.Empty(t, pub.events)
}

func TestFlowRetry_ResubmitsPinnedPayload(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "100", "", 1)
	sub := &mockSubmitter{err: errors.New("timeout")}
	f := NewFlow(s, NewAssembler(testConfig(), sub, nil, zap.NewNop()), zap.NewNop())

	_, err := f.Submit(context.Background(), validForm())
	require.Error(t, err)

	sub.m.Lock()
	sub.err = nil
	sub.m.Unlock()

	receipt, err := f.Retry(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, receipt)

	orders := sub.submitted()
	require.Len(t, orders, 2)
	assert.Same(t, orders[0], orders[1])
	assert.True(t, s.Snapshot().IsEmpty())
}

func TestFlowRetry_CartChangedAfterFailureKeepsUnorderedLines(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "100", "", 1)
	sub := &mockSubmitter{err: errors.New("timeout")}
	f := NewFlow(s, NewAssembler(testConfig(), sub, nil, zap.NewNop()), zap.NewNop())

	_, err := f.Submit(context.Background(), validForm())
	require.Error(t, err)

	addProduct(s, "p2", "300", "", 1)
	before := s.Snapshot()

	sub.m.Lock()
	sub.err = nil
	sub.m.Unlock()

	_, err = f.Retry(context.Background())
	assert.ErrorIs(t, err, domain.ErrCartChanged)
	assert.Equal(t, before, s.Snapshot())
	assert.Len(t, sub.submitted(), 1)
	assert.Equal(t, domain.CheckoutStatusIdle, f.Status())

	// the stale payload is gone for good
	_, err = f.Retry(context.Background())
	assert.ErrorIs(t, err, domain.ErrNothingToRetry)

	_, err = f.Submit(context.Background(), validForm())
	require.NoError(t, err)
	orders := sub.submitted()
	require.Len(t, orders, 2)
	assert.Len(t, orders[1].Lines, 2)
	assert.True(t, orders[1].Subtotal.Equal(money("400")))
}

func TestFlowRetry_QuantityChangeIsCartChange(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "100", "", 1)
	sub := &mockSubmitter{err: errors.New("timeout")}
	f := NewFlow(s, NewAssembler(testConfig(), sub, nil, zap.NewNop()), zap.NewNop())

	_, err := f.Submit(context.Background(), validForm())
	require.Error(t, err)

	s.SetQuantity("p1", 3)

	_, err = f.Retry(context.Background())
	assert.ErrorIs(t, err, domain.ErrCartChanged)
	assert.Equal(t, 3, s.Snapshot().ItemCount())
}

func TestFlowRetry_RejectedSubmitDropsOlderPayload(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "100", "", 1)
	sub := &mockSubmitter{err: errors.New("timeout")}
	f := NewFlow(s, NewAssembler(testConfig(), sub, nil, zap.NewNop()), zap.NewNop())

	_, err := f.Submit(context.Background(), validForm())
	require.Error(t, err)

	form := validForm()
	form.Email = ""
	_, err = f.Submit(context.Background(), form)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.Retry(context.Background())
	assert.ErrorIs(t, err, domain.ErrNothingToRetry)
	assert.Len(t, sub.submitted(), 1)
}

func TestFlowRetry_NothingToRetry(t *testing.T) {
	s := newStore(t)
	f := NewFlow(s, NewAssembler(testConfig(), &mockSubmitter{}, nil, zap.NewNop()), zap.NewNop())

	_, err := f.Retry(context.Background())
	assert.ErrorIs(t, err, domain.ErrNothingToRetry)
	assert.Equal(t, domain.CheckoutStatusIdle, f.Status())
}

func TestFlowSubmit_SecondSubmitWhileInFlightIsRejected(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "10", "", 1)
	sub := &mockSubmitter{release: make(chan struct{})}
	f := NewFlow(s, NewAssembler(testConfig(), sub, nil, zap.NewNop()), zap.NewNop())

	done := make(chan error)
	go func() {
		_, err := f.Submit(context.Background(), validForm())
		done <- err
	}()

	require.Eventually(t, func() bool { return len(sub.submitted()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.CheckoutStatusSubmitting, f.Status())

	_, err := f.Submit(context.Background(), validForm())
	assert.ErrorIs(t, err, domain.ErrSubmissionInProgress)

	close(sub.release)
	require.NoError(t, <-done)
	assert.Len(t, sub.submitted(), 1)
}

func TestFlowSubmit_PublishFailureDoesNotFailCheckout(t *testing.T) {
	s := newStore(t)
	addProduct(s, "p1", "10", "", 1)
	pub := &mockPublisher{err: errors.New("kafka down")}
	f := NewFlow(s, NewAssembler(testConfig(), &mockSubmitter{}, pub, zap.NewNop()), zap.NewNop())

	_, err := f.Submit(context.Background(), validForm())

	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
	assert.Equal(t, domain.CheckoutStatusSucceeded, f.Status())
}
