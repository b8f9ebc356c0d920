package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/seafood-storefront/internal/cache"
	"github.com/fjod/seafood-storefront/internal/domain"
	"go.uber.org/zap"
)

const loadTimeout = 2 * time.Second

// Store owns the cart of one session. It is the only writer of the cart lines;
// every mutation is atomic, produces a new Snapshot, notifies subscribers and
// schedules a persistence write. Invalid mutations are clamped or ignored,
// they never return an error.
type Store struct {
	mu          sync.Mutex
	sessionID   string
	lines       []domain.CartLine
	subscribers map[int]func(domain.Snapshot)
	nextSubID   int

	persist *writer
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore builds the store for sessionID and rehydrates it from the cache.
// A failed load is logged and the store starts empty.
func NewStore(ctx context.Context, sessionID string, c cache.SessionCache, logger *zap.Logger) *Store {
	logger = logger.With(zap.String("session_id", sessionID))
	s := &Store{
		sessionID:   sessionID,
		subscribers: make(map[int]func(domain.Snapshot)),
		persist:     newWriter(sessionID, c, logger),
		logger:      logger,
		now:         time.Now,
	}

	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	lines, err := c.Load(loadCtx, sessionID)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
	case err != nil:
		logger.Warn("failed to rehydrate cart, starting empty", zap.Error(err))
	default:
		s.lines = normalizeLines(lines)
	}

	return s
}

func (s *Store) SessionID() string {
	return s.sessionID
}

// AddLine adds qty units of p. An existing line is incremented and its catalog
// fields refreshed from p. Quantities are capped at the product stock; an out
// of stock product is not added.
func (s *Store) AddLine(p domain.Product, qty int) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		s.logger.Debug("ignoring add with non-positive quantity", zap.String("product_id", p.ID), zap.Int("quantity", qty))
		return s.snapshotLocked()
	}
	if p.Stock < 1 {
		s.logger.Debug("ignoring add of out of stock product", zap.String("product_id", p.ID))
		return s.snapshotLocked()
	}

	if idx := s.indexOf(p.ID); idx >= 0 {
		line := &s.lines[idx]
		line.Refresh(p)
		line.Quantity = s.clamp(p.ID, line.Quantity+qty, line.StockCeiling)
	} else {
		line := domain.NewCartLine(p, s.now())
		line.Quantity = s.clamp(p.ID, qty, line.StockCeiling)
		s.lines = append(s.lines, line)
	}

	return s.commitLocked()
}

// RemoveLine deletes the line for productID. Removing an absent line is a no-op.
func (s *Store) RemoveLine(productID string) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID)
	if idx < 0 {
		return s.snapshotLocked()
	}
	s.lines = append(s.lines[:idx:idx], s.lines[idx+1:]...)

	return s.commitLocked()
}

// SetQuantity sets the quantity of an existing line, capped at its stock
// ceiling. Values below 1 are rejected and leave the line unchanged: lines are
// only removed through RemoveLine.
func (s *Store) SetQuantity(productID string, qty int) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID)
	if idx < 0 {
		return s.snapshotLocked()
	}
	if qty < 1 {
		s.logger.Debug("rejecting quantity below 1", zap.String("product_id", productID), zap.Int("quantity", qty))
		return s.snapshotLocked()
	}

	line := &s.lines[idx]
	next := s.clamp(productID, qty, line.StockCeiling)
	if next == line.Quantity {
		return s.snapshotLocked()
	}
	line.Quantity = next

	return s.commitLocked()
}

// Clear empties the cart and erases its persisted state.
func (s *Store) Clear() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	snap := domain.NewSnapshot(nil)
	s.persist.erase()
	s.notifyLocked(snap)
	return snap
}

func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ReplaceIfEmpty installs lines as the whole cart, but only while the cart is
// empty. It reports whether the replacement happened.
func (s *Store) ReplaceIfEmpty(lines []domain.CartLine) (domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.lines) > 0 {
		return s.snapshotLocked(), false
	}
	normalized := normalizeLines(lines)
	if len(normalized) == 0 {
		return s.snapshotLocked(), false
	}
	s.lines = normalized

	return s.commitLocked(), true
}

// Subscribe registers fn to receive every snapshot produced by a mutation.
// fn runs with the store locked and must not call back into the store.
func (s *Store) Subscribe(fn func(domain.Snapshot)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Close flushes the pending persistence write and stops the writer.
func (s *Store) Close() {
	s.persist.close()
}

func (s *Store) commitLocked() domain.Snapshot {
	snap := s.snapshotLocked()
	s.persist.save(snap.Lines)
	s.notifyLocked(snap)
	return snap
}

func (s *Store) snapshotLocked() domain.Snapshot {
	return domain.NewSnapshot(s.lines)
}

func (s *Store) notifyLocked(snap domain.Snapshot) {
	for _, fn := range s.subscribers {
		fn(snap)
	}
}

func (s *Store) indexOf(productID string) int {
	for i := range s.lines {
		if s.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) clamp(productID string, qty, ceiling int) int {
	if qty > ceiling {
		s.logger.Debug("quantity clamped to stock ceiling",
			zap.String("product_id", productID), zap.Int("requested", qty), zap.Int("stock_ceiling", ceiling))
		return ceiling
	}
	return qty
}

// normalizeLines makes lines from storage or the server satisfy the cart
// invariants: one line per product (quantities merged into the first), final
// price recomputed, quantity within [1, stock ceiling]. Lines that can never
// be valid (ceiling 0) are dropped.
func normalizeLines(lines []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))

	for _, l := range lines {
		if l.ProductID == "" {
			continue
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		if l.UnitDiscountPrice != nil {
			d := *l.UnitDiscountPrice
			l.UnitDiscountPrice = &d
		}
		l.Reprice()
		index[l.ProductID] = len(out)
		out = append(out, l)
	}

	valid := out[:0]
	for _, l := range out {
		if l.StockCeiling < 1 {
			continue
		}
		l.Quantity = max(1, min(l.Quantity, l.StockCeiling))
		valid = append(valid, l)
	}
	return valid
}
