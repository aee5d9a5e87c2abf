package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an observable ledger side effect.
type EventType string

// Event types
const (
	EventTypeDepositRecorded     EventType = "deposit.recorded"
	EventTypeWithdrawalProcessed EventType = "withdrawal.processed"
	EventTypeCustodyCollected    EventType = "custody.collected"
)

// AggregateTypeLedger is the outbox aggregate type of every ledger event.
const AggregateTypeLedger = "ledger"

// Event is one entry of a ledger's ordered journal. Events are immutable once
// the top-level operation that produced them has returned.
type Event struct {
	Sequence uint64
	Type     EventType
	Account  string
	Amount   decimal.Decimal
	At       time.Time
}

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// LedgerEventPayload is the outbox payload of a ledger event.
type LedgerEventPayload struct {
	Ledger   string `json:"ledger"`
	Sequence uint64 `json:"sequence"`
	Account  string `json:"account"`
	Amount   string `json:"amount"`
	EventAt  string `json:"event_at"`
}

// Map returns the payload in the outbox's map form.
func (p LedgerEventPayload) Map() map[string]any {
	return map[string]any{
		"ledger":   p.Ledger,
		"sequence": p.Sequence,
		"account":  p.Account,
		"amount":   p.Amount,
		"event_at": p.EventAt,
	}
}

// NewOutboxEvent wraps a ledger event for the outbox.
func NewOutboxEvent(id, ledger string, e Event, createdAt time.Time) *OutboxEvent {
	return &OutboxEvent{
		ID:            id,
		AggregateID:   ledger,
		AggregateType: AggregateTypeLedger,
		EventType:     string(e.Type),
		Payload: LedgerEventPayload{
			Ledger:   ledger,
			Sequence: e.Sequence,
			Account:  e.Account,
			Amount:   e.Amount.String(),
			EventAt:  e.At.UTC().Format(time.RFC3339Nano),
		}.Map(),
		CreatedAt: createdAt,
	}
}
