// Package session stores login sessions in Redis. A session maps an opaque
// cookie value to the user's email and tracker API token, expiring after the
// configured TTL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/de101/dataportal/internal/errdefs"
)

// Credentials is what a session resolves to. The API token lives only in
// Redis and in the request scope that loaded it.
type Credentials struct {
	Email    string `json:"user_email"`
	APIToken string `json:"api_token"`
}

// Store manages sessions in one Redis database.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New builds a session store around an existing Redis client.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Create stores creds under a fresh random session id and returns the id.
func (s *Store) Create(ctx context.Context, creds Credentials) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode session payload: %w", err)
	}
	if err := s.rdb.SetEx(ctx, id, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return id, nil
}

// Get resolves a session id to credentials. A missing or expired session is
// ErrUnauthenticated, not an internal failure.
func (s *Store) Get(ctx context.Context, id string) (*Credentials, error) {
	if id == "" {
		return nil, errdefs.ErrUnauthenticated
	}
	payload, err := s.rdb.Get(ctx, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errdefs.ErrUnauthenticated
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	if creds.Email == "" {
		return nil, errdefs.ErrUnauthenticated
	}
	return &creds, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
