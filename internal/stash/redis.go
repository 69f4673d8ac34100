// Package stash stores callback results for the short window until the
// account-connect step reads them.
package stash

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ITspirit/vanilla/internal/domain"
)

const keyPrefix = "sso:stash:"

// Store keeps stashed sessions in Redis. Expiry is Redis-enforced via the
// key TTL; reads never delete.
type Store struct {
	rdb *redis.Client
}

// NewStore wires the Redis stash store.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Put stores the record under a fresh opaque identifier.
func (s *Store) Put(ctx context.Context, record domain.StashedSession, ttl time.Duration) (string, error) {
	id, err := opaqueID()
	if err != nil {
		return "", fmt.Errorf("generate stash id: %w", err)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal stash record: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+id, payload, ttl).Err(); err != nil {
		return "", fmt.Errorf("store stash record: %w", err)
	}
	return id, nil
}

// GetAndKeep returns the record, or nil when absent or expired.
func (s *Store) GetAndKeep(ctx context.Context, id string) (*domain.StashedSession, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load stash record: %w", err)
	}
	var record domain.StashedSession
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal stash record: %w", err)
	}
	return &record, nil
}

func opaqueID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
