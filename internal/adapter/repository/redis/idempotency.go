package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/guardledger/internal/usecase"
)

// ProcessingMarker is stored under a key while its first request runs.
const ProcessingMarker = usecase.IdempotencyProcessing

// Observer receives one call per Redis command.
type Observer interface {
	RecordRedis(operation string, err error)
}

type nopObserver struct{}

func (nopObserver) RecordRedis(string, error) {}

// IdempotencyStore implements usecase.IdempotencyStore using Redis.
type IdempotencyStore struct {
	client   redis.UniversalClient
	prefix   string
	observer Observer
}

// NewIdempotencyStore creates a new IdempotencyStore. Keys are scoped by
// namespace so several ledgers can share one Redis.
func NewIdempotencyStore(client redis.UniversalClient, namespace string) *IdempotencyStore {
	return &IdempotencyStore{
		client:   client,
		prefix:   "guardledger:idempotency:" + namespace + ":",
		observer: nopObserver{},
	}
}

// WithObserver reports every Redis command to o.
func (s *IdempotencyStore) WithObserver(o Observer) *IdempotencyStore {
	if o != nil {
		s.observer = o
	}
	return s
}

// CheckAndSet atomically claims key. When the key was already claimed it
// returns true and the stored value, which is ProcessingMarker while the
// first request is still running.
func (s *IdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	fullKey := s.prefix + key

	value := []byte(ProcessingMarker)
	if response != nil {
		value = response
	}

	set, err := s.client.SetNX(ctx, fullKey, value, ttl).Result()
	s.observer.RecordRedis("setnx", err)
	if err != nil {
		return false, nil, err
	}
	if set {
		return false, nil, nil
	}

	existing, err := s.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		s.observer.RecordRedis("get", nil)
		// Expired between SETNX and GET; the caller may retry.
		return true, nil, nil
	}
	s.observer.RecordRedis("get", err)
	if err != nil {
		return false, nil, err
	}

	return true, existing, nil
}

// Update updates an existing idempotency key with the final response.
func (s *IdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	err := s.client.Set(ctx, s.prefix+key, response, ttl).Err()
	s.observer.RecordRedis("set", err)
	return err
}

// Release drops a claimed key so the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.prefix+key).Err()
	s.observer.RecordRedis("del", err)
	return err
}
