package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/ledger"
)

// LedgerUseCase serialises top-level calls into one ledger and copies its
// event journal into the outbox after each of them.
type LedgerUseCase struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	outbox  OutboxRepository
	idGen   IDGenerator
	metrics MetricsRecorder
	logger  zerolog.Logger
	now     func() time.Time

	// drained is the highest event sequence stored in the outbox.
	drained   uint64
	lastStats ledger.Stats
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(
	l *ledger.Ledger,
	outbox OutboxRepository,
	idGen IDGenerator,
	metrics MetricsRecorder,
	logger zerolog.Logger,
) *LedgerUseCase {
	if metrics == nil {
		metrics = NopMetrics{}
	}

	return &LedgerUseCase{
		ledger:  l,
		outbox:  outbox,
		idGen:   idGen,
		metrics: metrics,
		logger:  logger.With().Str("component", "ledger_usecase").Str("ledger", l.Name()).Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DepositInput represents input for a deposit.
type DepositInput struct {
	AccountID string
	Amount    decimal.Decimal
}

// WithdrawInput represents input for a withdrawal.
type WithdrawInput struct {
	AccountID string
	Amount    decimal.Decimal
}

// AccountView is an account as the API presents it.
type AccountView struct {
	ID             string
	Balance        decimal.Decimal
	LastWithdrawAt *time.Time
	NextEligibleAt *time.Time
}

// LedgerInfo describes the ledger and its aggregates.
type LedgerInfo struct {
	Name      string
	Owner     string
	Variant   ledger.Variant
	Ordering  string
	Guarded   bool
	Policy    domain.WithdrawalPolicy
	HeldValue decimal.Decimal
	Reserve   decimal.Decimal
	Accounts  int
	Events    int
}

// ConsistencyReport is the result of a consistency check.
type ConsistencyReport struct {
	Consistent    bool
	HeldValue     decimal.Decimal
	TotalBalances decimal.Decimal
	Difference    decimal.Decimal
	Detail        string
}

// Deposit credits an account.
func (uc *LedgerUseCase) Deposit(ctx context.Context, input DepositInput) (*AccountView, error) {
	var view *AccountView
	err := uc.run(ctx, OpDeposit, func() error {
		if err := uc.ledger.Deposit(ctx, input.AccountID, input.Amount); err != nil {
			return err
		}
		view = uc.view(input.AccountID)
		return nil
	})
	return view, err
}

// Withdraw pays out of an account to the account's own address.
func (uc *LedgerUseCase) Withdraw(ctx context.Context, input WithdrawInput) (*AccountView, error) {
	var view *AccountView
	err := uc.run(ctx, OpWithdraw, func() error {
		if err := uc.ledger.Withdraw(ctx, input.AccountID, input.Amount); err != nil {
			return err
		}
		view = uc.view(input.AccountID)
		return nil
	})
	return view, err
}

// CollectCustody sends the reserve to the owner and returns how much moved.
func (uc *LedgerUseCase) CollectCustody(ctx context.Context, caller string) (decimal.Decimal, error) {
	collected := decimal.Zero
	err := uc.run(ctx, OpCollectCustody, func() error {
		before := uc.ledger.Reserve()
		if err := uc.ledger.CollectCustody(ctx, caller); err != nil {
			return err
		}
		collected = before.Sub(uc.ledger.Reserve())
		return nil
	})
	return collected, err
}

// GetAccount returns the account view. Unknown accounts read as zero.
func (uc *LedgerUseCase) GetAccount(ctx context.Context, id string) (*AccountView, error) {
	if err := domain.ValidateAccountID(id); err != nil {
		return nil, err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	return uc.view(id), nil
}

// Info describes the ledger.
func (uc *LedgerUseCase) Info(ctx context.Context) LedgerInfo {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	cfg := uc.ledger.Config()

	return LedgerInfo{
		Name:      cfg.Name,
		Owner:     cfg.Owner,
		Variant:   ledger.VariantOf(cfg),
		Ordering:  cfg.Ordering.String(),
		Guarded:   cfg.Guard,
		Policy:    cfg.Policy,
		HeldValue: uc.ledger.HeldValue(),
		Reserve:   uc.ledger.Reserve(),
		Accounts:  len(uc.ledger.Accounts()),
		Events:    len(uc.ledger.Events()),
	}
}

// CheckConsistency verifies that held value equals the sum of balances.
func (uc *LedgerUseCase) CheckConsistency(ctx context.Context) ConsistencyReport {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	held := uc.ledger.HeldValue()
	total := uc.ledger.TotalBalances()

	report := ConsistencyReport{
		Consistent:    true,
		HeldValue:     held,
		TotalBalances: total,
		Difference:    held.Sub(total),
	}

	if err := uc.ledger.CheckConsistency(); err != nil {
		report.Consistent = false
		report.Detail = err.Error()
		uc.logger.Warn().Err(err).Msg("ledger inconsistency detected")
	}

	return report
}

// Events lists journal events with a sequence greater than after.
func (uc *LedgerUseCase) Events(ctx context.Context, after uint64, limit int) ([]domain.Event, error) {
	limit, _, err := domain.ValidatePagination(limit, 0)
	if err != nil {
		return nil, err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	events := uc.ledger.EventsAfter(after)
	if len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

// FlushOutbox writes any journal events the outbox has not stored yet.
func (uc *LedgerUseCase) FlushOutbox(ctx context.Context) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	return uc.drain(ctx)
}

// PendingEvents returns how many journal events are not in the outbox yet.
func (uc *LedgerUseCase) PendingEvents() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	return len(uc.ledger.EventsAfter(uc.drained))
}

func (uc *LedgerUseCase) run(ctx context.Context, op string, fn func() error) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	err := fn()
	uc.observe(op, err)

	if drainErr := uc.drain(ctx); drainErr != nil {
		uc.logger.Warn().Err(drainErr).Str("op", op).Msg("outbox write failed, events kept for retry")
	}

	return err
}

func (uc *LedgerUseCase) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = domain.Kind(err)
		uc.logger.Debug().Err(err).Str("op", op).Str("kind", result).Msg("ledger operation failed")
	}
	uc.metrics.RecordOperation(op, result)

	stats := uc.ledger.Stats()
	uc.metrics.RecordRejections(
		stats.ReentryRejected-uc.lastStats.ReentryRejected,
		stats.TransfersRejected-uc.lastStats.TransfersRejected,
	)
	uc.lastStats = stats

	uc.metrics.SetCustody(uc.ledger.Name(), uc.ledger.HeldValue().InexactFloat64(), uc.ledger.Reserve().InexactFloat64())
	uc.metrics.ObserveDepth(uc.ledger.LastDepth())
}

// drain must be called with uc.mu held.
func (uc *LedgerUseCase) drain(ctx context.Context) error {
	pending := uc.ledger.EventsAfter(uc.drained)
	if len(pending) == 0 {
		return nil
	}
	if uc.outbox == nil {
		return errors.New("no outbox configured")
	}

	createdAt := uc.now()
	batch := make([]*domain.OutboxEvent, 0, len(pending))
	for _, e := range pending {
		batch = append(batch, domain.NewOutboxEvent(uc.idGen.Generate(), uc.ledger.Name(), e, createdAt))
	}

	// The ledger has already committed these events; a cancelled request must
	// not stop them from reaching the outbox.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultOutboxTimeout)
	defer cancel()

	if err := uc.outbox.Create(writeCtx, batch); err != nil {
		uc.metrics.RecordOutboxWrite("error", len(batch), len(pending))
		return err
	}

	uc.drained = pending[len(pending)-1].Sequence
	uc.metrics.RecordOutboxWrite("ok", len(batch), 0)

	return nil
}

func (uc *LedgerUseCase) view(id string) *AccountView {
	acc := uc.ledger.Account(id)
	view := &AccountView{ID: acc.ID, Balance: acc.Balance}

	if acc.HasWithdrawn() {
		last := acc.LastWithdrawAt
		next := uc.ledger.Config().Policy.NextEligibleAt(acc)
		view.LastWithdrawAt = &last
		view.NextEligibleAt = &next
	}

	return view
}
