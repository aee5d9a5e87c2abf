package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/guardledger/internal/domain"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	insertOutboxEventSQL = `INSERT INTO outbox_events
    (id, aggregate_id, aggregate_type, event_type, payload, created_at, published)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

	selectOutboxColumns = `SELECT id, aggregate_id, aggregate_type, event_type, payload, created_at, published_at, published
FROM outbox_events`

	getUnpublishedSQL = selectOutboxColumns + `
WHERE published = FALSE
ORDER BY created_at, id
LIMIT $1`

	getByAggregateSQL = selectOutboxColumns + `
WHERE aggregate_type = $1 AND aggregate_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`

	markPublishedSQL = `UPDATE outbox_events SET published = TRUE, published_at = $2 WHERE id = $1`

	deletePublishedSQL = `DELETE FROM outbox_events WHERE published = TRUE AND published_at < $1`
)

// OutboxRepository implements usecase.OutboxRepository.
type OutboxRepository struct {
	db        DB
	txManager *TxManager
	retrier   *Retrier
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db DB) *OutboxRepository {
	return &OutboxRepository{
		db:        db,
		txManager: newTxManagerWithPool(db),
		retrier:   NewRetrier(),
	}
}

// Create stores all events in one transaction, retrying on serialization
// failures and deadlocks.
func (r *OutboxRepository) Create(ctx context.Context, events []*domain.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.retrier.Retry(ctx, func() error {
		return r.createTx(ctx, events)
	})
}

func (r *OutboxRepository) createTx(ctx context.Context, events []*domain.OutboxEvent) error {
	tx, err := r.txManager.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	pgxTx := tx.PgxTx()
	for _, event := range events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload of %s: %w", event.ID, err)
		}

		_, err = pgxTx.Exec(ctx, insertOutboxEventSQL,
			event.ID,
			event.AggregateID,
			event.AggregateType,
			event.EventType,
			payload,
			event.CreatedAt,
			event.Published,
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true

	return nil
}

// GetUnpublished retrieves unpublished events.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, getUnpublishedSQL, int32(limit))
	if err != nil {
		return nil, err
	}

	return collectOutboxEvents(rows)
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	_, err := r.db.Exec(ctx, markPublishedSQL, id, publishedAt)
	return err
}

// GetByAggregate retrieves events for a specific aggregate.
func (r *OutboxRepository) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, getByAggregateSQL, aggregateType, aggregateID, int32(limit), int32(offset))
	if err != nil {
		return nil, err
	}

	return collectOutboxEvents(rows)
}

// DeletePublished deletes published events older than the given time.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	_, err := r.db.Exec(ctx, deletePublishedSQL, before)
	return err
}

func collectOutboxEvents(rows pgx.Rows) ([]*domain.OutboxEvent, error) {
	defer rows.Close()

	events := make([]*domain.OutboxEvent, 0)
	for rows.Next() {
		var (
			e           domain.OutboxEvent
			payload     []byte
			publishedAt *time.Time
		)

		if err := rows.Scan(
			&e.ID,
			&e.AggregateID,
			&e.AggregateType,
			&e.EventType,
			&payload,
			&e.CreatedAt,
			&publishedAt,
			&e.Published,
		); err != nil {
			return nil, err
		}

		if payload != nil {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload of %s: %w", e.ID, err)
			}
		}
		e.PublishedAt = publishedAt

		events = append(events, &e)
	}

	return events, rows.Err()
}
