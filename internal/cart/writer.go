package cart

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/seafood-storefront/internal/cache"
	"github.com/fjod/seafood-storefront/internal/domain"
	"go.uber.org/zap"
)

const persistTimeout = 2 * time.Second

type pendingWrite struct {
	lines []domain.CartLine
	erase bool
}

// writer persists snapshots in the background. Only the latest pending write
// is kept and writes are applied one at a time, so the cache always converges
// to the store's last state. Callers never wait for it.
type writer struct {
	sessionID string
	cache     cache.SessionCache
	logger    *zap.Logger

	mu      sync.Mutex
	pending *pendingWrite
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newWriter(sessionID string, c cache.SessionCache, logger *zap.Logger) *writer {
	w := &writer{
		sessionID: sessionID,
		cache:     c,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) save(lines []domain.CartLine) {
	w.enqueue(pendingWrite{lines: lines})
}

func (w *writer) erase() {
	w.enqueue(pendingWrite{erase: true})
}

func (w *writer) enqueue(p pendingWrite) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = &p
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer close(w.done)
	for range w.wake {
		w.flush()
	}
	w.flush()
}

func (w *writer) flush() {
	w.mu.Lock()
	p := w.pending
	w.pending = nil
	w.mu.Unlock()
	if p == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if p.erase {
		err = w.cache.Delete(ctx, w.sessionID)
	} else {
		err = w.cache.Save(ctx, w.sessionID, p.lines)
	}
	if err != nil {
		// memory stays authoritative for this process
		w.logger.Warn("failed to persist cart", zap.Bool("erase", p.erase), zap.Error(err))
	}
}

func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.wake)
	w.mu.Unlock()

	<-w.done
}
