package cache

import (
	"context"
	"errors"

	"github.com/fjod/seafood-storefront/internal/domain"
)

// SessionCache holds the persisted cart lines of one browser session.
type SessionCache interface {
	Load(ctx context.Context, sessionID string) ([]domain.CartLine, error)
	Save(ctx context.Context, sessionID string, lines []domain.CartLine) error
	Delete(ctx context.Context, sessionID string) error
}

var ErrCacheMiss = errors.New("cache miss")
