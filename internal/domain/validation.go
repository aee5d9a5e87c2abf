package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation constants
const (
	MaxAccountIDLength = 128
)

// ValidateAmount checks that amount is a positive whole number of units.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	if !amount.IsInteger() {
		return fmt.Errorf("%w: %s has a fractional part", ErrInvalidAmount, amount)
	}

	return nil
}

// ValidateAccountID validates an account or caller identifier.
func ValidateAccountID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAccountID)
	}

	if len(id) > MaxAccountIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidAccountID, MaxAccountIDLength)
	}

	if strings.ContainsAny(id, " \t\r\n/") {
		return fmt.Errorf("%w: contains whitespace or '/'", ErrInvalidAccountID)
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int, error) {
	const MaxPageSize = 1000
	const DefaultPageSize = 50

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset, nil
}
