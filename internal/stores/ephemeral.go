package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a record is absent: expired, already
// consumed, or never written. It is never used for backend failures.
var ErrNotFound = errors.New("ephemeral record not found")

// ErrBackend is returned when the state store itself is unreachable or
// misbehaving. Callers may retry the surrounding flow from the start.
var ErrBackend = errors.New("ephemeral store unavailable")

// Store is a single-use, TTL-bound key-value store over Redis.
//
// Every login-flow secret in authcore (OAuth CSRF state, pending signups,
// TOTP temp tokens) has the same shape: one key, one JSON payload, one
// TTL, consumed at most once. Store implements that shape once; the
// payload type is the type parameter.
type Store[T any] struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a Store whose keys live under the given prefix.
func NewStore[T any](client redis.UniversalClient, prefix string) *Store[T] {
	return &Store[T]{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store[T]) key(token string) string {
	return s.prefix + token
}

// Put writes the record under token with the given TTL, overwriting any
// previous value.
func (s *Store[T]) Put(ctx context.Context, token string, record T, ttl time.Duration) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get reads the record without consuming it. Used where retries against
// the same token are part of the contract.
func (s *Store[T]) Get(ctx context.Context, token string) (*T, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return decode[T](data)
}

// GetDel atomically reads and deletes the record. Exactly one caller can
// win a GetDel for a given token; every other caller sees ErrNotFound.
func (s *Store[T]) GetDel(ctx context.Context, token string) (*T, error) {
	data, err := s.redis.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return decode[T](data)
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *Store[T]) Delete(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func decode[T any](data []byte) (*T, error) {
	record := new(T)
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("corrupt ephemeral record: %w", err)
	}
	return record, nil
}
