package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Policy defaults mirror the reference deployment: one ether per withdrawal,
// at most once a week.
const (
	DefaultWithdrawalCap = "1000000000000000000"
	DefaultCooldown      = 7 * 24 * time.Hour
)

// WithdrawalPolicy holds the fixed rules every withdrawal must satisfy.
type WithdrawalPolicy struct {
	Cap      decimal.Decimal
	Cooldown time.Duration
	// Fee is kept by the ledger out of each withdrawal. Zero by default.
	Fee decimal.Decimal
}

// DefaultWithdrawalPolicy returns the reference policy with no fee.
func DefaultWithdrawalPolicy() WithdrawalPolicy {
	return WithdrawalPolicy{
		Cap:      decimal.RequireFromString(DefaultWithdrawalCap),
		Cooldown: DefaultCooldown,
		Fee:      decimal.Zero,
	}
}

// Validate checks the policy constants.
func (p WithdrawalPolicy) Validate() error {
	if err := ValidateAmount(p.Cap); err != nil {
		return fmt.Errorf("%w: cap %s", ErrInvalidPolicy, p.Cap)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown %s", ErrInvalidPolicy, p.Cooldown)
	}
	if p.Fee.IsNegative() || !p.Fee.IsInteger() || p.Fee.GreaterThanOrEqual(p.Cap) {
		return fmt.Errorf("%w: fee %s must be a whole amount below the cap", ErrInvalidPolicy, p.Fee)
	}
	return nil
}

// Authorize decides whether account may withdraw amount at now.
// It never mutates the account.
func (p WithdrawalPolicy) Authorize(account Account, amount decimal.Decimal, now time.Time) error {
	if amount.GreaterThan(p.Cap) {
		return fmt.Errorf("%w: %s above cap %s", ErrLimitExceeded, amount, p.Cap)
	}

	if account.HasWithdrawn() && now.Sub(account.LastWithdrawAt) < p.Cooldown {
		return fmt.Errorf("%w: next withdrawal at %s", ErrCooldownActive,
			p.NextEligibleAt(account).UTC().Format(time.RFC3339))
	}

	return nil
}

// NextEligibleAt returns the earliest time account may withdraw again.
// A zero time means it may withdraw now.
func (p WithdrawalPolicy) NextEligibleAt(account Account) time.Time {
	if !account.HasWithdrawn() {
		return time.Time{}
	}
	return account.LastWithdrawAt.Add(p.Cooldown)
}

// Payout splits a withdrawal into what the recipient receives and the fee.
func (p WithdrawalPolicy) Payout(amount decimal.Decimal) (sent, fee decimal.Decimal) {
	return amount.Sub(p.Fee), p.Fee
}
