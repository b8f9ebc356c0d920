package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/seafood-storefront/internal/cache"
	"github.com/fjod/seafood-storefront/internal/cart"
	"github.com/fjod/seafood-storefront/internal/checkout"
	"go.uber.org/zap"
)

// Session is one browser session: its cart store and current checkout flow.
type Session struct {
	ID    string
	Store *cart.Store

	mu        sync.Mutex
	flow      *checkout.Flow
	lastSeen  time.Time
	assembler *checkout.Assembler
	logger    *zap.Logger
}

// Flow returns the current checkout flow.
func (s *Session) Flow() *checkout.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow
}

// Checkout returns the flow to submit through. A flow that already placed its
// order is replaced with a fresh one.
func (s *Session) Checkout() *checkout.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow.Status().IsTerminal() {
		s.flow = checkout.NewFlow(s.Store, s.assembler, s.logger)
	}
	return s.flow
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

type Config struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Registry holds the live sessions of this process.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg       Config
	cache     cache.SessionCache
	assembler *checkout.Assembler
	logger    *zap.Logger
	now       func() time.Time
}

func NewRegistry(cfg Config, c cache.SessionCache, assembler *checkout.Assembler, logger *zap.Logger) *Registry {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.IdleTTL / 2
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		cache:     c,
		assembler: assembler,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns the live session for id, building it when absent. A new
// session's cart is rehydrated from the cache.
func (r *Registry) Get(ctx context.Context, id string) *Session {
	now := r.now()

	// touched under r.mu so a concurrent sweep cannot evict it in between
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		s.touch(now)
	}
	r.mu.Unlock()
	if ok {
		return s
	}

	// rehydration talks to redis, keep it outside the registry lock
	store := cart.NewStore(ctx, id, r.cache, r.logger)
	fresh := &Session{
		ID:        id,
		Store:     store,
		flow:      checkout.NewFlow(store, r.assembler, r.logger),
		lastSeen:  now,
		assembler: r.assembler,
		logger:    r.logger,
	}

	r.mu.Lock()
	s, ok = r.sessions[id]
	if ok {
		s.touch(now)
	} else {
		r.sessions[id] = fresh
	}
	r.mu.Unlock()

	if ok {
		store.Close()
		return s
	}
	r.logger.Debug("session started", zap.String("session_id", id))
	return fresh
}

// End logs the session out: its persisted cart is erased and the session dropped.
func (r *Registry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		if err := r.cache.Delete(ctx, id); err != nil {
			return fmt.Errorf("end session %s: %w", id, err)
		}
		return nil
	}

	s.Store.Clear()
	s.Store.Close()
	r.logger.Info("session ended", zap.String("session_id", id))
	return nil
}

// Run evicts idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep closes sessions idle longer than the TTL. Their persisted carts are
// left for the cache TTL to expire.
func (r *Registry) sweep() int {
	now := r.now()

	var idle []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.idleSince(now) > r.cfg.IdleTTL {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Store.Close()
		r.logger.Debug("idle session evicted", zap.String("session_id", s.ID))
	}
	return len(idle)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close flushes and closes every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Store.Close()
	}
}
