package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the ledger's record for one depositor.
type Account struct {
	ID             string
	Balance        decimal.Decimal
	LastWithdrawAt time.Time
}

// HasWithdrawn reports whether the account has completed a withdrawal before.
func (a Account) HasWithdrawn() bool {
	return !a.LastWithdrawAt.IsZero()
}

// ValidateDebit checks if account can be debited by amount.
func (a Account) ValidateDebit(amount decimal.Decimal) error {
	if amount.GreaterThan(a.Balance) {
		return ErrInsufficientFunds
	}
	return nil
}

// ApplyDebit returns new balance after debit.
func (a Account) ApplyDebit(amount decimal.Decimal) decimal.Decimal {
	return a.Balance.Sub(amount)
}

// ApplyCredit returns new balance after credit.
func (a Account) ApplyCredit(amount decimal.Decimal) decimal.Decimal {
	return a.Balance.Add(amount)
}
