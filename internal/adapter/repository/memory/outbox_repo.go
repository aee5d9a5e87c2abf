// Package memory keeps outbox events in process memory. It is the default
// outbox when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iho/guardledger/internal/domain"
)

// OutboxRepository implements usecase.OutboxRepository.
type OutboxRepository struct {
	mu     sync.RWMutex
	events []*domain.OutboxEvent
	byID   map[string]*domain.OutboxEvent
}

// NewOutboxRepository creates an empty OutboxRepository.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{byID: make(map[string]*domain.OutboxEvent)}
}

// Create stores events. Events whose ID already exists are skipped.
func (r *OutboxRepository) Create(ctx context.Context, events []*domain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range events {
		if _, ok := r.byID[e.ID]; ok {
			continue
		}
		cp := clone(e)
		r.events = append(r.events, cp)
		r.byID[cp.ID] = cp
	}

	return nil
}

// GetUnpublished retrieves unpublished events, oldest first.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.OutboxEvent, 0, limit)
	for _, e := range r.events {
		if len(out) == limit {
			break
		}
		if !e.Published {
			out = append(out, clone(e))
		}
	}

	return out, nil
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[id]; ok {
		at := publishedAt
		e.Published = true
		e.PublishedAt = &at
	}

	return nil
}

// GetByAggregate retrieves events for a specific aggregate.
func (r *OutboxRepository) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.OutboxEvent
	for _, e := range r.events {
		if e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return []*domain.OutboxEvent{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*domain.OutboxEvent, 0, len(matched))
	for _, e := range matched {
		out = append(out, clone(e))
	}

	return out, nil
}

// DeletePublished deletes published events older than the given time.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	for _, e := range r.events {
		if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			delete(r.byID, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept

	return nil
}

// Len returns the number of stored events.
func (r *OutboxRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.events)
}

func clone(e *domain.OutboxEvent) *domain.OutboxEvent {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			cp.Payload[k] = v
		}
	}
	if e.PublishedAt != nil {
		at := *e.PublishedAt
		cp.PublishedAt = &at
	}
	return &cp
}
