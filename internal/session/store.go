// Package session resolves opaque session tokens to user identities.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/utils"

	"github.com/jonboulle/clockwork"
)

//go:generate mockgen -source=store.go -destination=mock_store.go -package=session

// Store is the session collaborator. Only Lookup is used on the bidding path.
type Store interface {
	Issue(ctx context.Context, identity model.Identity) (model.Session, error)
	Lookup(ctx context.Context, token string) (model.Session, error)
	Revoke(ctx context.Context, token string) error
}

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session // key: token -> value: session
	ttl      time.Duration
	clock    clockwork.Clock
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store whose sessions live for ttl
func NewMemoryStore(ttl time.Duration, clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.Session),
		ttl:      ttl,
		clock:    clock,
	}
}

// Issue creates a session for the identity
func (s *MemoryStore) Issue(ctx context.Context, identity model.Identity) (model.Session, error) {
	sess := model.Session{
		Token:     utils.GenerateToken(),
		UserID:    identity.UserID,
		Email:     identity.Email,
		ExpiresAt: s.clock.Now().Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess, nil
}

// Lookup returns the live session for token; expired sessions are evicted
func (s *MemoryStore) Lookup(ctx context.Context, token string) (model.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return model.Session{}, fmt.Errorf("lookup session: %w", biddingerrors.ErrSessionNotFound)
	}

	if !s.clock.Now().Before(sess.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return model.Session{}, fmt.Errorf("lookup session: expired: %w", biddingerrors.ErrSessionNotFound)
	}
	return sess, nil
}

// Revoke deletes the session; revoking an unknown token is a no-op
func (s *MemoryStore) Revoke(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}
