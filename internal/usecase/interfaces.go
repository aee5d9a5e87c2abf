package usecase

import (
	"context"
	"time"

	"github.com/iho/guardledger/internal/domain"
)

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	// Create stores events atomically: either all of them or none.
	Create(ctx context.Context, events []*domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error)
	DeletePublished(ctx context.Context, before time.Time) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a claimed key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// MetricsRecorder receives ledger observations.
type MetricsRecorder interface {
	RecordOperation(operation, result string)
	RecordRejections(reentry, transfer uint64)
	SetCustody(ledger string, held, reserve float64)
	ObserveDepth(depth int)
	RecordOutboxWrite(status string, n, pending int)
	RecordSimulation(variant, outcome string)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordOperation(string, string) {}
func (NopMetrics) RecordRejections(uint64, uint64) {}
func (NopMetrics) SetCustody(string, float64, float64) {}
func (NopMetrics) ObserveDepth(int) {}
func (NopMetrics) RecordOutboxWrite(string, int, int) {}
func (NopMetrics) RecordSimulation(string, string) {}
