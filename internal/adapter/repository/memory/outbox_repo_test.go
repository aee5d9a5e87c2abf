package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/domain"
)

func newEvent(id string, seq uint64, at time.Time) *domain.OutboxEvent {
	return domain.NewOutboxEvent(id, "vault", domain.Event{
		Sequence: seq,
		Type:     domain.EventTypeDepositRecorded,
		Account:  "alice",
		Amount:   decimal.NewFromInt(1),
		At:       at,
	}, at)
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	repo := NewOutboxRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := repo.Create(ctx, []*domain.OutboxEvent{
		newEvent("e1", 1, base),
		newEvent("e2", 2, base.Add(time.Second)),
		newEvent("e3", 3, base.Add(2*time.Second)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Duplicate IDs are ignored.
	if err := repo.Create(ctx, []*domain.OutboxEvent{newEvent("e1", 1, base)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", repo.Len())
	}

	unpublished, err := repo.GetUnpublished(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(unpublished) != 2 || unpublished[0].ID != "e1" || unpublished[1].ID != "e2" {
		t.Fatalf("unexpected unpublished batch: %+v", unpublished)
	}

	if err := repo.MarkPublished(ctx, "e1", base.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	unpublished, _ = repo.GetUnpublished(ctx, 10)
	if len(unpublished) != 2 || unpublished[0].ID != "e2" {
		t.Fatalf("expected e1 to be published, got %+v", unpublished)
	}

	byAggregate, _ := repo.GetByAggregate(ctx, domain.AggregateTypeLedger, "vault", 10, 0)
	if len(byAggregate) != 3 || byAggregate[0].ID != "e3" {
		t.Fatalf("expected newest first, got %+v", byAggregate)
	}

	if err := repo.DeletePublished(ctx, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.Len() != 2 {
		t.Fatalf("Len() after delete = %d, want 2", repo.Len())
	}
}

func TestOutboxRepository_ReturnsCopies(t *testing.T) {
	repo := NewOutboxRepository()
	ctx := context.Background()

	_ = repo.Create(ctx, []*domain.OutboxEvent{newEvent("e1", 1, time.Now())})

	got, _ := repo.GetUnpublished(ctx, 1)
	got[0].Payload["account"] = "mallory"
	got[0].Published = true

	again, _ := repo.GetUnpublished(ctx, 1)
	if len(again) != 1 || again[0].Payload["account"] != "alice" {
		t.Fatalf("stored event was mutated through a returned copy: %+v", again)
	}
}
