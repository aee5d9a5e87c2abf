// Package ledger implements a deposit/withdraw ledger that pays withdrawals
// out through a gateway whose recipients may call straight back into it.
//
// Two defences can be switched on independently: applying effects before the
// transfer (Ordering) and a re-entrancy guard (Guard). With both off the
// ledger reproduces the classic drain: a recipient that re-enters Withdraw
// during the transfer sees its balance still undebited.
//
// A Ledger is not safe for concurrent use; callers serialise top-level
// operations. Re-entrant calls made from recipient code during a transfer run
// on the same goroutine and must not be serialised again.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/domain"
)

// ErrInconsistent is returned by CheckConsistency when the held value differs
// from the sum of balances or a balance is negative.
var ErrInconsistent = errors.New("ledger is inconsistent: held value does not match balances")

// Gateway hands value to an address, running whatever code lives there.
type Gateway interface {
	Send(ctx context.Context, from, to string, amount decimal.Decimal) error
}

// Stats are cumulative counters kept for observability.
type Stats struct {
	Deposits          uint64
	Withdrawals       uint64
	Collections       uint64
	ReentryRejected   uint64
	TransfersRejected uint64
	Failures          uint64
}

// Ledger is the guarded ledger state machine.
type Ledger struct {
	cfg     Config
	store   *AccountStore
	guard   ReentrancyGuard
	held    decimal.Decimal
	reserve decimal.Decimal
	events  []domain.Event

	gateway Gateway
	clock   Clock
	logger  zerolog.Logger

	depth     int
	lastDepth int
	stats     Stats
}

// New creates a ledger with the given configuration.
func New(cfg Config, gw Gateway, clock Clock, logger zerolog.Logger) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, errors.New("ledger: nil gateway")
	}
	if clock == nil {
		clock = SystemClock{}
	}

	return &Ledger{
		cfg:     cfg,
		store:   NewAccountStore(),
		held:    decimal.Zero,
		reserve: decimal.Zero,
		gateway: gw,
		clock:   clock,
		logger: logger.With().
			Str("component", "ledger").
			Str("ledger", cfg.Name).
			Str("variant", string(VariantOf(cfg))).
			Logger(),
	}, nil
}

// NewHardened creates a ledger with both defences enabled.
func NewHardened(cfg Config, gw Gateway, clock Clock, logger zerolog.Logger) (*Ledger, error) {
	return New(VariantHardened.Apply(cfg), gw, clock, logger)
}

// NewVulnerable creates a ledger with neither defence.
func NewVulnerable(cfg Config, gw Gateway, clock Clock, logger zerolog.Logger) (*Ledger, error) {
	return New(VariantVulnerable.Apply(cfg), gw, clock, logger)
}

// Deposit credits amount to the account id.
func (l *Ledger) Deposit(ctx context.Context, id string, amount decimal.Decimal) (err error) {
	defer l.enter(opDeposit, id)()
	defer func() { l.finish(opDeposit, id, amount, err) }()

	if l.cfg.Guard {
		release, err := l.guard.Enter()
		if err != nil {
			return err
		}
		defer release()
	}

	if err := domain.ValidateAccountID(id); err != nil {
		return err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}

	l.store.Credit(id, amount)
	l.held = l.held.Add(amount)
	l.emit(domain.EventTypeDepositRecorded, id, amount)

	return nil
}

// Withdraw pays amount out of the account id to the address id.
func (l *Ledger) Withdraw(ctx context.Context, id string, amount decimal.Decimal) (err error) {
	defer l.enter(opWithdraw, id)()
	defer func() { l.finish(opWithdraw, id, amount, err) }()

	if l.cfg.Guard {
		release, err := l.guard.Enter()
		if err != nil {
			return err
		}
		defer release()
	}

	if err := domain.ValidateAccountID(id); err != nil {
		return err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	if amount.LessThanOrEqual(l.cfg.Policy.Fee) {
		return fmt.Errorf("%w: %s does not cover the fee %s", domain.ErrInvalidAmount, amount, l.cfg.Policy.Fee)
	}

	now := l.clock.Now()
	acc := l.store.Get(id)

	if err := acc.ValidateDebit(amount); err != nil {
		return fmt.Errorf("%w: balance %s, requested %s", err, acc.Balance, amount)
	}
	if err := l.cfg.Policy.Authorize(acc, amount, now); err != nil {
		return err
	}
	if amount.GreaterThan(l.held) {
		return fmt.Errorf("%w: ledger custody %s, requested %s", domain.ErrInsufficientFunds, l.held, amount)
	}

	sent, fee := l.cfg.Policy.Payout(amount)

	sp := l.savepoint()
	defer sp.rollback()

	switch l.cfg.Ordering {
	case OrderEffectsFirst:
		if err := l.store.Debit(id, amount); err != nil {
			return err
		}
		l.store.Touch(id, now)
		l.payOut(amount, fee)
		l.emit(domain.EventTypeWithdrawalProcessed, id, amount)

		if err := l.gateway.Send(ctx, l.cfg.Name, id, sent); err != nil {
			return err
		}

	default:
		l.payOut(amount, fee)

		if err := l.gateway.Send(ctx, l.cfg.Name, id, sent); err != nil {
			return err
		}

		// acc was read before the transfer; anything that happened to the
		// account meanwhile is overwritten.
		acc.Balance = acc.ApplyDebit(amount)
		acc.LastWithdrawAt = now
		l.store.Set(acc)
		l.emit(domain.EventTypeWithdrawalProcessed, id, amount)
	}

	sp.release()
	return nil
}

// CollectCustody sends the ledger's reserve to its owner.
func (l *Ledger) CollectCustody(ctx context.Context, caller string) (err error) {
	amount := l.reserve

	defer l.enter(opCollect, caller)()
	defer func() { l.finish(opCollect, caller, amount, err) }()

	if l.cfg.Guard {
		release, err := l.guard.Enter()
		if err != nil {
			return err
		}
		defer release()
	}

	if caller != l.cfg.Owner {
		return domain.ErrUnauthorized
	}
	if !amount.IsPositive() {
		return nil
	}

	sp := l.savepoint()
	defer sp.rollback()

	switch l.cfg.Ordering {
	case OrderEffectsFirst:
		l.reserve = l.reserve.Sub(amount)
		l.emit(domain.EventTypeCustodyCollected, l.cfg.Owner, amount)

		if err := l.gateway.Send(ctx, l.cfg.Name, l.cfg.Owner, amount); err != nil {
			return err
		}

	default:
		reserve := l.reserve
		if err := l.gateway.Send(ctx, l.cfg.Name, l.cfg.Owner, amount); err != nil {
			return err
		}

		// Written back from the value read before the transfer.
		l.reserve = reserve.Sub(amount)
		l.emit(domain.EventTypeCustodyCollected, l.cfg.Owner, amount)
	}

	sp.release()
	return nil
}

// Receive rejects plain value sent to the ledger's address; value only enters
// through Deposit.
func (l *Ledger) Receive(_ context.Context, from string, amount decimal.Decimal) error {
	l.logger.Warn().Str("from", from).Str("amount", amount.String()).Msg("direct transfer rejected")
	return domain.ErrDirectTransfer
}

// BalanceOf returns the recorded balance of id.
func (l *Ledger) BalanceOf(id string) decimal.Decimal {
	return l.store.Get(id).Balance
}

// Account returns the record of id, zero-valued if it never deposited.
func (l *Ledger) Account(id string) domain.Account {
	return l.store.Get(id)
}

// Accounts returns every account record sorted by ID.
func (l *Ledger) Accounts() []domain.Account {
	ids := l.store.IDs()
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.store.Get(id))
	}
	return out
}

// HeldValue returns the value the ledger holds on behalf of its accounts.
func (l *Ledger) HeldValue() decimal.Decimal {
	return l.held
}

// TotalBalances returns the sum of every recorded balance.
func (l *Ledger) TotalBalances() decimal.Decimal {
	return l.store.Sum()
}

// Reserve returns the value held that is owed to no account.
func (l *Ledger) Reserve() decimal.Decimal {
	return l.reserve
}

// Name returns the ledger's name, which is also its gateway address.
func (l *Ledger) Name() string { return l.cfg.Name }

// Owner returns the ledger's owner.
func (l *Ledger) Owner() string { return l.cfg.Owner }

// Config returns the construction-time configuration.
func (l *Ledger) Config() Config { return l.cfg }

// Locked reports whether the re-entrancy guard is held.
func (l *Ledger) Locked() bool { return l.guard.Locked() }

// Depth returns how many ledger operations are on the call stack.
func (l *Ledger) Depth() int { return l.depth }

// LastDepth returns the deepest nesting reached by the most recent top-level
// operation; 1 means nobody re-entered.
func (l *Ledger) LastDepth() int { return l.lastDepth }

// Stats returns cumulative operation counters.
func (l *Ledger) Stats() Stats { return l.stats }

// Events returns a copy of the full event journal.
func (l *Ledger) Events() []domain.Event {
	return l.EventsAfter(0)
}

// EventsAfter returns the events whose sequence is greater than seq.
func (l *Ledger) EventsAfter(seq uint64) []domain.Event {
	if seq >= uint64(len(l.events)) {
		return nil
	}
	out := make([]domain.Event, len(l.events)-int(seq))
	copy(out, l.events[seq:])
	return out
}

// CheckConsistency verifies that the held value equals the sum of balances
// and that no balance is negative.
func (l *Ledger) CheckConsistency() error {
	for _, acc := range l.store.accounts {
		if acc.Balance.IsNegative() {
			return fmt.Errorf("%w: account %s balance %s", ErrInconsistent, acc.ID, acc.Balance)
		}
	}

	sum := l.store.Sum()
	if !sum.Equal(l.held) {
		return fmt.Errorf("%w: held=%s balances=%s difference=%s",
			ErrInconsistent, l.held, sum, l.held.Sub(sum))
	}

	return nil
}

func (l *Ledger) payOut(amount, fee decimal.Decimal) {
	l.held = l.held.Sub(amount)
	l.reserve = l.reserve.Add(fee)
}

func (l *Ledger) emit(t domain.EventType, account string, amount decimal.Decimal) {
	l.events = append(l.events, domain.Event{
		Sequence: uint64(len(l.events)) + 1,
		Type:     t,
		Account:  account,
		Amount:   amount,
		At:       l.clock.Now(),
	})
}

const (
	opDeposit  = "deposit"
	opWithdraw = "withdraw"
	opCollect  = "collect_custody"
)

func (l *Ledger) enter(op, account string) func() {
	if l.depth == 0 {
		l.lastDepth = 0
	}
	l.depth++
	if l.depth > l.lastDepth {
		l.lastDepth = l.depth
	}

	l.logger.Debug().Str("op", op).Str("account", account).Int("depth", l.depth).Msg("enter")

	return func() { l.depth-- }
}

func (l *Ledger) finish(op, account string, amount decimal.Decimal, err error) {
	if err == nil {
		switch op {
		case opDeposit:
			l.stats.Deposits++
		case opWithdraw:
			l.stats.Withdrawals++
			l.logger.Info().Str("account", account).Str("amount", amount.String()).
				Int("depth", l.depth).Msg("withdrawal processed")
		case opCollect:
			l.stats.Collections++
		}
		return
	}

	l.stats.Failures++

	switch {
	case errors.Is(err, domain.ErrReentrantCall):
		l.stats.ReentryRejected++
		l.logger.Warn().Str("op", op).Str("account", account).Int("depth", l.depth).Msg("reentrant call rejected")
	case errors.Is(err, domain.ErrTransferRejected):
		l.stats.TransfersRejected++
		l.logger.Warn().Err(err).Str("op", op).Str("account", account).Msg("transfer rejected, state rolled back")
	default:
		l.logger.Debug().Err(err).Str("op", op).Str("account", account).Int("depth", l.depth).Msg("operation failed")
	}
}

// ledgerSavepoint restores the store, the aggregates and the journal of one
// in-flight operation.
type ledgerSavepoint struct {
	l        *Ledger
	accounts *Savepoint
	held     decimal.Decimal
	reserve  decimal.Decimal
	events   int
}

func (l *Ledger) savepoint() *ledgerSavepoint {
	return &ledgerSavepoint{
		l:        l,
		accounts: l.store.Savepoint(),
		held:     l.held,
		reserve:  l.reserve,
		events:   len(l.events),
	}
}

func (sp *ledgerSavepoint) rollback() {
	if sp.accounts.done {
		return
	}
	sp.accounts.Rollback()
	sp.l.held = sp.held
	sp.l.reserve = sp.reserve
	sp.l.events = sp.l.events[:sp.events]
}

func (sp *ledgerSavepoint) release() {
	sp.accounts.Release()
}
