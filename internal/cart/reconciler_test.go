package cart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/seafood-storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockServerCart struct {
	lines   []domain.CartLine
	err     error
	calls   atomic.Int32
	release chan struct{}
}

func (m *mockServerCart) FetchCart(ctx context.Context, _ string) ([]domain.CartLine, error) {
	m.calls.Add(1)
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.lines, nil
}

func serverLines() []domain.CartLine {
	return []domain.CartLine{
		{ProductID: "srv-1", Name: "Sea bream", UnitBasePrice: money("60"), Quantity: 2, StockCeiling: 10},
	}
}

func TestReconcile_PopulatesEmptyStore(t *testing.T) {
	server := &mockServerCart{lines: serverLines()}
	r := NewReconciler(server, zap.NewNop())
	s := newTestStore(t, newMockCache())

	applied, err := r.Reconcile(context.Background(), "sess-1", s)

	require.NoError(t, err)
	assert.True(t, applied)
	snap := s.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "srv-1", snap.Lines[0].ProductID)
	assert.True(t, snap.Subtotal.Equal(money("120")))
}

func TestReconcile_NeverOverwritesLocalEdits(t *testing.T) {
	server := &mockServerCart{lines: serverLines()}
	r := NewReconciler(server, zap.NewNop())
	s := newTestStore(t, newMockCache())
	s.AddLine(product("local", "10", "", 5), 3)
	before := s.Snapshot()

	for i := 0; i < 3; i++ {
		applied, err := r.Reconcile(context.Background(), "sess-1", s)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, before, s.Snapshot())
	}
}

func TestReconcile_FetchFailureLeavesCartUntouched(t *testing.T) {
	server := &mockServerCart{err: errors.New("backend unavailable")}
	r := NewReconciler(server, zap.NewNop())
	s := newTestStore(t, newMockCache())
	s.AddLine(product("local", "10", "", 5), 1)
	before := s.Snapshot()

	applied, err := r.Reconcile(context.Background(), "sess-1", s)

	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, domain.IsTransportError(err))
	assert.ErrorContains(t, err, "backend unavailable")
	assert.Equal(t, before, s.Snapshot())
}

func TestReconcile_FetchFailureOnEmptyCartDoesNotClear(t *testing.T) {
	server := &mockServerCart{err: &domain.TransportError{Op: "fetch_cart", Err: errors.New("timeout")}}
	r := NewReconciler(server, zap.NewNop())
	s := newTestStore(t, newMockCache())

	_, err := r.Reconcile(context.Background(), "sess-1", s)

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "fetch_cart", te.Op)
	assert.True(t, s.Snapshot().IsEmpty())
}

func TestReconcile_LateFetchIsDroppedAfterLocalAdd(t *testing.T) {
	server := &mockServerCart{lines: serverLines(), release: make(chan struct{})}
	r := NewReconciler(server, zap.NewNop())
	s := newTestStore(t, newMockCache())

	done := make(chan bool)
	go func() {
		applied, err := r.Reconcile(context.Background(), "sess-1", s)
		assert.NoError(t, err)
		done <- applied
	}()

	require.Eventually(t, func() bool { return server.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.AddLine(product("local", "10", "", 5), 1)
	close(server.release)

	assert.False(t, <-done)
	snap := s.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "local", snap.Lines[0].ProductID)
}

func TestReconcile_ConcurrentActivationsShareOneFetch(t *testing.T) {
	server := &mockServerCart{lines: serverLines(), release: make(chan struct{})}
	r := NewReconciler(server, zap.NewNop())
	s := newTestStore(t, newMockCache())

	var wg sync.WaitGroup
	var appliedCount atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := r.Reconcile(context.Background(), "sess-1", s)
			assert.NoError(t, err)
			if applied {
				appliedCount.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return server.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(server.release)
	wg.Wait()

	assert.LessOrEqual(t, server.calls.Load(), int32(5))
	assert.Equal(t, int32(1), appliedCount.Load())
	assert.Len(t, s.Snapshot().Lines, 1)
}

func TestReconcile_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	server := &mockServerCart{lines: serverLines(), release: make(chan struct{})}
	r := NewReconciler(server, zap.NewNop())
	s := newTestStore(t, newMockCache())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error)
	go func() {
		_, err := r.Reconcile(firstCtx, "sess-1", s)
		firstDone <- err
	}()
	require.Eventually(t, func() bool { return server.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondDone := make(chan bool)
	go func() {
		applied, err := r.Reconcile(context.Background(), "sess-1", s)
		assert.NoError(t, err)
		secondDone <- applied
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstDone, context.Canceled)

	close(server.release)
	assert.True(t, <-secondDone)
	assert.Len(t, s.Snapshot().Lines, 1)
}
