package domain

import "errors"

var (
	// Validation errors
	ErrInvalidAmount     = errors.New("amount must be a positive whole number")
	ErrInvalidAccountID  = errors.New("invalid account ID")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLimitExceeded     = errors.New("withdrawal limit exceeded")
	ErrCooldownActive    = errors.New("withdrawal cooldown has not elapsed")
	ErrInvalidPolicy     = errors.New("invalid withdrawal policy")

	// Authorization errors
	ErrUnauthorized = errors.New("caller is not the owner")

	// Concurrency-safety errors
	ErrReentrantCall = errors.New("reentrant call")

	// External-effect errors
	ErrTransferRejected = errors.New("transfer rejected by recipient")
	ErrDirectTransfer   = errors.New("direct transfers are not accepted")

	// Adversarial client errors
	ErrAttackUnderfunded = errors.New("attack requires at least the attack amount")
)

// Error kinds used as stable labels in logs, metrics and API responses.
const (
	KindInvalidAmount     = "invalid_amount"
	KindInvalidAccountID  = "invalid_account_id"
	KindInsufficientFunds = "insufficient_funds"
	KindLimitExceeded     = "limit_exceeded"
	KindCooldownActive    = "cooldown_active"
	KindInvalidPolicy     = "invalid_policy"
	KindUnauthorized      = "unauthorized"
	KindReentrantCall     = "reentrant_call"
	KindTransferRejected  = "transfer_rejected"
	KindDirectTransfer    = "direct_transfer"
	KindAttackUnderfunded = "attack_underfunded"
	KindInternal          = "internal"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	// Order matters: a rejected transfer wraps whatever the recipient returned,
	// so it must be matched before the causes it may carry.
	{ErrTransferRejected, KindTransferRejected},
	{ErrReentrantCall, KindReentrantCall},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrLimitExceeded, KindLimitExceeded},
	{ErrCooldownActive, KindCooldownActive},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidAccountID, KindInvalidAccountID},
	{ErrInvalidPolicy, KindInvalidPolicy},
	{ErrDirectTransfer, KindDirectTransfer},
	{ErrAttackUnderfunded, KindAttackUnderfunded},
}

// Kind returns the stable label of a domain error, "" for nil and
// KindInternal for anything unknown.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
