// Package statetoken issues and verifies the single-use anti-replay nonce
// carried through the provider redirect.
package statetoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sso:statetoken:"

// DefaultTTL bounds how long an issued token stays verifiable.
const DefaultTTL = 10 * time.Minute

// Service implements the state-token collaborator on Redis. Verification is
// GETDEL, so concurrent verifies of the same token succeed exactly once.
type Service struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewService wires the service. A non-positive ttl falls back to DefaultTTL.
func NewService(rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{rdb: rdb, ttl: ttl}
}

// Issue creates a fresh nonce scoped to the provider.
func (s *Service) Issue(ctx context.Context, providerKey string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := s.rdb.Set(ctx, tokenKey(providerKey, token), "1", s.ttl).Err(); err != nil {
		return "", fmt.Errorf("persist state token: %w", err)
	}
	return token, nil
}

// Verify consumes the token. False for an unknown, expired, replayed, or
// empty token; the atomic GETDEL makes the check-and-invalidate race-free.
func (s *Service) Verify(ctx context.Context, providerKey, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	err := s.rdb.GetDel(ctx, tokenKey(providerKey, token)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("verify state token: %w", err)
	}
	return true, nil
}

func tokenKey(providerKey, token string) string {
	return keyPrefix + providerKey + ":" + token
}
