package eventpublisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/iho/guardledger/internal/domain"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent() *domain.OutboxEvent {
	e := domain.Event{
		Sequence: 7,
		Type:     domain.EventTypeWithdrawalProcessed,
		Account:  "alice",
		At:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	return domain.NewOutboxEvent("evt-7", "vault", e, e.At)
}

func TestKafkaPublisherWritesKeyedEnvelope(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaPublisherWithWriter(w)

	if err := p.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "vault" {
		t.Fatalf("expected ledger key, got %q", msg.Key)
	}

	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.ID != "evt-7" || env.EventType != string(domain.EventTypeWithdrawalProcessed) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Payload["account"] != "alice" || env.Payload["sequence"] != float64(7) {
		t.Fatalf("unexpected payload: %v", env.Payload)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_id"] != "evt-7" || headers["event_type"] != "withdrawal.processed" {
		t.Fatalf("unexpected headers: %v", headers)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed, err=%v", err)
	}
}

func TestKafkaPublisherPropagatesWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisherWithWriter(&captureWriter{err: boom})

	if err := p.Publish(context.Background(), sampleEvent()); !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "topic"); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Fatal("expected error without topic")
	}

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = p.Close()
}

func TestLogPublisherLogsEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	if err := p.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"event_id":"evt-7"`) || !strings.Contains(out, `"account":"alice"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
