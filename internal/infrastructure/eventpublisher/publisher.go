// Package eventpublisher relays ledger events from the outbox to an external
// sink.
package eventpublisher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/usecase"
)

// Publish statuses as recorded by a Recorder.
const (
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// Publisher defines the interface for publishing events to external systems.
type Publisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// Recorder receives one observation per publish attempt outcome.
type Recorder interface {
	RecordPublish(status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordPublish(string) {}

// EventPublisher polls the outbox and hands unpublished events to a
// Publisher, oldest first.
type EventPublisher struct {
	outboxRepo usecase.OutboxRepository
	publisher  Publisher
	recorder   Recorder
	logger     zerolog.Logger
	batchSize  int
	interval   time.Duration
	retention  time.Duration
	maxRetries uint64
	retryBase  time.Duration
	now        func() time.Time
}

// Config for EventPublisher.
type Config struct {
	OutboxRepo usecase.OutboxRepository
	Publisher  Publisher
	Recorder   Recorder
	Logger     zerolog.Logger
	BatchSize  int           // Number of events to fetch per batch
	Interval   time.Duration // Polling interval
	// Retention is how long published events are kept. Zero keeps them.
	Retention time.Duration
	// MaxRetries bounds the attempts per event within one batch.
	MaxRetries uint64
	RetryBase  time.Duration
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(cfg Config) *EventPublisher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}

	return &EventPublisher{
		outboxRepo: cfg.OutboxRepo,
		publisher:  cfg.Publisher,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		batchSize:  cfg.BatchSize,
		interval:   cfg.Interval,
		retention:  cfg.Retention,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the event publishing worker.
// It runs continuously until the context is cancelled.
func (ep *EventPublisher) Start(ctx context.Context) error {
	ep.logger.Info().
		Int("batch_size", ep.batchSize).
		Dur("interval", ep.interval).
		Msg("event publisher started")

	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	if _, err := ep.ProcessBatch(ctx); err != nil {
		ep.logger.Error().Err(err).Msg("error processing events on start")
	}

	for {
		select {
		case <-ctx.Done():
			ep.logger.Info().Msg("event publisher shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := ep.ProcessBatch(ctx); err != nil {
				ep.logger.Error().Err(err).Msg("error processing events")
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many events were marked
// published. An event that cannot be published is left for the next batch;
// later events are still attempted.
func (ep *EventPublisher) ProcessBatch(ctx context.Context) (int, error) {
	events, err := ep.outboxRepo.GetUnpublished(ctx, ep.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := ep.publishEvent(ctx, event); err != nil {
			ep.recorder.RecordPublish(StatusFailed)
			ep.logger.Error().Err(err).
				Str("event_id", event.ID).
				Str("event_type", event.EventType).
				Msg("failed to publish event")
			if ctx.Err() != nil {
				return published, ctx.Err()
			}
			continue
		}
		ep.recorder.RecordPublish(StatusPublished)

		if err := ep.outboxRepo.MarkPublished(ctx, event.ID, ep.now()); err != nil {
			// The event goes out again next batch; consumers dedupe by ID.
			ep.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to mark event as published")
			continue
		}
		published++
	}

	if ep.retention > 0 && published > 0 {
		if err := ep.outboxRepo.DeletePublished(ctx, ep.now().Add(-ep.retention)); err != nil {
			ep.logger.Warn().Err(err).Msg("failed to prune published events")
		}
	}

	if published > 0 {
		ep.logger.Debug().Int("count", published).Msg("events published")
	}

	return published, nil
}

func (ep *EventPublisher) publishEvent(ctx context.Context, event *domain.OutboxEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ep.retryBase
	b.MaxInterval = 10 * ep.retryBase
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		ep.logger.Debug().Err(err).
			Str("event_id", event.ID).
			Dur("wait", wait).
			Msg("retrying publish")
	}

	return backoff.RetryNotify(func() error {
		return ep.publisher.Publish(ctx, event)
	}, backoff.WithContext(backoff.WithMaxRetries(b, ep.maxRetries), ctx), notify)
}
