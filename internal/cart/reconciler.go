package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/seafood-storefront/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// fetchTimeout bounds a shared fetch that no longer follows any caller's context.
const fetchTimeout = 10 * time.Second

// ServerCart fetches the authoritative cart the backend holds for an owner.
type ServerCart interface {
	FetchCart(ctx context.Context, owner string) ([]domain.CartLine, error)
}

// Reconciler merges the server cart into a local store on cart view activation.
// The server copy only ever populates an empty store; local lines are never
// overwritten, so a fetch that lands after the user started adding items is
// dropped for this cycle.
type Reconciler struct {
	server ServerCart
	sfg    singleflight.Group // one fetch per owner at a time
	logger *zap.Logger
}

func NewReconciler(server ServerCart, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		server: server,
		logger: logger,
	}
}

// Reconcile fetches the server cart for owner and installs it into store if
// store is empty. It reports whether the store was replaced. On fetch failure
// the store is left untouched and a *domain.TransportError is returned.
func (r *Reconciler) Reconcile(ctx context.Context, owner string, store *Store) (bool, error) {
	// the fetch is shared by every caller for owner, so it must outlive the
	// first caller's cancellation; each caller still waits on its own ctx
	ch := r.sfg.DoChan(owner, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return r.server.FetchCart(fetchCtx, owner)
	})

	var (
		v      interface{}
		err    error
		shared bool
	)
	select {
	case res := <-ch:
		v, err, shared = res.Val, res.Err, res.Shared
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		r.logger.Warn("server cart fetch failed, keeping local cart",
			zap.String("session_id", store.SessionID()), zap.Error(err))
		if !domain.IsTransportError(err) {
			err = &domain.TransportError{Op: "fetch_cart", Err: err}
		}
		return false, fmt.Errorf("reconcile cart: %w", err)
	}

	_, applied := store.ReplaceIfEmpty(v.([]domain.CartLine))
	r.logger.Debug("cart reconciled",
		zap.String("session_id", store.SessionID()),
		zap.Bool("applied", applied),
		zap.Bool("shared_fetch", shared))

	return applied, nil
}
