package dto

import (
	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/ledger"
	"github.com/iho/guardledger/internal/usecase"
)

// DepositRequest represents a request to credit an account.
type DepositRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// ToUseCaseInput converts to use case input.
func (r *DepositRequest) ToUseCaseInput() usecase.DepositInput {
	return usecase.DepositInput{AccountID: r.AccountID, Amount: r.Amount}
}

// WithdrawRequest represents a request to pay out to an account's own address.
type WithdrawRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// ToUseCaseInput converts to use case input.
func (r *WithdrawRequest) ToUseCaseInput() usecase.WithdrawInput {
	return usecase.WithdrawInput{AccountID: r.AccountID, Amount: r.Amount}
}

// CollectRequest asks for the ledger's reserve to be paid to the owner.
type CollectRequest struct {
	Caller string `json:"caller"`
}

// SimulationRequest configures one attack run. Zero fields take defaults.
type SimulationRequest struct {
	Variant       string          `json:"variant,omitempty"`
	Victims       int             `json:"victims,omitempty"`
	VictimDeposit decimal.Decimal `json:"victim_deposit"`
	AttackAmount  decimal.Decimal `json:"attack_amount"`
	MaxDepth      int             `json:"max_depth,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *SimulationRequest) ToUseCaseInput() usecase.SimulationInput {
	return usecase.SimulationInput{
		Variant:       ledger.Variant(r.Variant),
		Victims:       r.Victims,
		VictimDeposit: r.VictimDeposit,
		AttackAmount:  r.AttackAmount,
		MaxDepth:      r.MaxDepth,
	}
}
