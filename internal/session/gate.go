package session

import (
	"context"
	"errors"
	"fmt"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/internal/repository"
	"live-auction/utils"
)

// Gate turns a session token into an Identity
type Gate struct {
	store Store
}

// NewGate creates a gate over the given store
func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// Authenticate resolves token. Empty, unknown and expired tokens yield
// ErrUnauthenticated; a store that fails twice yields ErrInternal.
func (g *Gate) Authenticate(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, fmt.Errorf("authenticate: empty token: %w", biddingerrors.ErrUnauthenticated)
	}

	sess, err := repository.ReadWithRetry(ctx, func(ctx context.Context) (model.Session, error) {
		return g.store.Lookup(ctx, token)
	})
	switch {
	case err == nil:
		return sess.Identity(), nil
	case errors.Is(err, biddingerrors.ErrSessionNotFound):
		return model.Identity{}, fmt.Errorf("authenticate: %w", biddingerrors.ErrUnauthenticated)
	default:
		utils.Error("session lookup failed", map[string]any{"error": err.Error()})
		return model.Identity{}, fmt.Errorf("authenticate: %w", err)
	}
}
