package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/utils"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// RedisStore keeps sessions in Redis with a TTL per key
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps a connected client
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisClient creates a client and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Issue stores a new session under a fresh token
func (s *RedisStore) Issue(ctx context.Context, identity model.Identity) (model.Session, error) {
	sess := model.Session{
		Token:     utils.GenerateToken(),
		UserID:    identity.UserID,
		Email:     identity.Email,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return model.Session{}, fmt.Errorf("issue session: encode: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+sess.Token, payload, s.ttl).Err(); err != nil {
		return model.Session{}, fmt.Errorf("issue session: %w", err)
	}
	return sess, nil
}

// Lookup fetches the session for token; Redis expiry removes stale keys
func (s *RedisStore) Lookup(ctx context.Context, token string) (model.Session, error) {
	payload, err := s.client.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Session{}, fmt.Errorf("lookup session: %w", biddingerrors.ErrSessionNotFound)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("lookup session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return model.Session{}, fmt.Errorf("lookup session: decode: %w", err)
	}
	return sess, nil
}

// Revoke deletes the session key
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
