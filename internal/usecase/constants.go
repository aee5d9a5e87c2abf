package usecase

import "time"

const (
	// DefaultOutboxTimeout bounds a single outbox write made while the ledger
	// lock is held.
	DefaultOutboxTimeout = 5 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// IdempotencyProcessing is stored under a key while its first request
	// is still running.
	IdempotencyProcessing = "processing"

	// DefaultEventPageSize is the page size of event listings.
	DefaultEventPageSize = 100

	// Simulation defaults: two victims with five ether each and an attacker
	// starting from one.
	DefaultVictimDeposit   = "5000000000000000000"
	DefaultAttackAmount    = "1000000000000000000"
	DefaultSimulationDepth = 64
)

// Operation labels used in logs and metrics.
const (
	OpDeposit        = "deposit"
	OpWithdraw       = "withdraw"
	OpCollectCustody = "collect_custody"
)
