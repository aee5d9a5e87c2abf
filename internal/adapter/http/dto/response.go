package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/adversary"
	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/usecase"
)

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	ID             string          `json:"id"`
	Balance        decimal.Decimal `json:"balance"`
	LastWithdrawAt *time.Time      `json:"last_withdraw_at,omitempty"`
	NextEligibleAt *time.Time      `json:"next_eligible_at,omitempty"`
}

// AccountFromView converts an account view to a response.
func AccountFromView(v *usecase.AccountView) *AccountResponse {
	return &AccountResponse{
		ID:             v.ID,
		Balance:        v.Balance,
		LastWithdrawAt: v.LastWithdrawAt,
		NextEligibleAt: v.NextEligibleAt,
	}
}

// CollectResponse reports a custody collection.
type CollectResponse struct {
	Owner     string          `json:"owner"`
	Collected decimal.Decimal `json:"collected"`
}

// PolicyResponse represents the withdrawal policy.
type PolicyResponse struct {
	Cap      decimal.Decimal `json:"cap"`
	Cooldown string          `json:"cooldown"`
	Fee      decimal.Decimal `json:"fee"`
}

// LedgerResponse represents the ledger's configuration and custody.
type LedgerResponse struct {
	Name      string          `json:"name"`
	Owner     string          `json:"owner"`
	Variant   string          `json:"variant"`
	Ordering  string          `json:"ordering"`
	Guarded   bool            `json:"guarded"`
	Policy    PolicyResponse  `json:"policy"`
	HeldValue decimal.Decimal `json:"held_value"`
	Reserve   decimal.Decimal `json:"reserve"`
	Accounts  int             `json:"accounts"`
	Events    int             `json:"events"`
}

// LedgerFromInfo converts ledger info to a response.
func LedgerFromInfo(info usecase.LedgerInfo) *LedgerResponse {
	return &LedgerResponse{
		Name:     info.Name,
		Owner:    info.Owner,
		Variant:  string(info.Variant),
		Ordering: info.Ordering,
		Guarded:  info.Guarded,
		Policy: PolicyResponse{
			Cap:      info.Policy.Cap,
			Cooldown: info.Policy.Cooldown.String(),
			Fee:      info.Policy.Fee,
		},
		HeldValue: info.HeldValue,
		Reserve:   info.Reserve,
		Accounts:  info.Accounts,
		Events:    info.Events,
	}
}

// ConsistencyResponse represents a consistency check.
type ConsistencyResponse struct {
	Consistent    bool            `json:"consistent"`
	HeldValue     decimal.Decimal `json:"held_value"`
	TotalBalances decimal.Decimal `json:"total_balances"`
	Difference    decimal.Decimal `json:"difference"`
	Detail        string          `json:"detail,omitempty"`
}

// ConsistencyFromReport converts a consistency report to a response.
func ConsistencyFromReport(r usecase.ConsistencyReport) *ConsistencyResponse {
	return &ConsistencyResponse{
		Consistent:    r.Consistent,
		HeldValue:     r.HeldValue,
		TotalBalances: r.TotalBalances,
		Difference:    r.Difference,
		Detail:        r.Detail,
	}
}

// EventResponse represents a journal entry.
type EventResponse struct {
	Sequence uint64          `json:"sequence"`
	Type     string          `json:"type"`
	Account  string          `json:"account"`
	Amount   decimal.Decimal `json:"amount"`
	At       time.Time       `json:"at"`
}

// EventsFromDomain converts journal entries to responses.
func EventsFromDomain(events []domain.Event) []EventResponse {
	result := make([]EventResponse, len(events))
	for i, e := range events {
		result[i] = EventResponse{
			Sequence: e.Sequence,
			Type:     string(e.Type),
			Account:  e.Account,
			Amount:   e.Amount,
			At:       e.At,
		}
	}
	return result
}

// EventListResponse is a page of the journal.
type EventListResponse struct {
	Events []EventResponse `json:"events"`
	// Next is the cursor for the following page, zero when there is none.
	Next uint64 `json:"next,omitempty"`
}

// VictimResponse shows one victim's balance around the attack.
type VictimResponse struct {
	Account string          `json:"account"`
	Before  decimal.Decimal `json:"before"`
	After   decimal.Decimal `json:"after"`
}

// RejectionResponse is a re-entry the ledger refused.
type RejectionResponse struct {
	Depth int    `json:"depth"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// AttackerResponse summarises the adversarial client.
type AttackerResponse struct {
	Address    string              `json:"address"`
	Deposited  decimal.Decimal     `json:"deposited"`
	Received   decimal.Decimal     `json:"received"`
	Collected  decimal.Decimal     `json:"collected"`
	Transfers  int                 `json:"transfers"`
	Reentries  int                 `json:"reentries"`
	MaxDepth   int                 `json:"max_depth"`
	Rejections []RejectionResponse `json:"rejections,omitempty"`
}

func attackerFromReport(r adversary.Report) AttackerResponse {
	rejections := make([]RejectionResponse, len(r.Rejections))
	for i, rj := range r.Rejections {
		rejections[i] = RejectionResponse{Depth: rj.Depth, Kind: rj.Kind, Error: rj.Error}
	}
	return AttackerResponse{
		Address:    r.Address,
		Deposited:  r.Deposited,
		Received:   r.Received,
		Collected:  r.Collected,
		Transfers:  r.Transfers,
		Reentries:  r.Reentries,
		MaxDepth:   r.MaxDepth,
		Rejections: rejections,
	}
}

// SimulationResponse is the outcome of an attack run.
type SimulationResponse struct {
	RunID           string           `json:"run_id"`
	Variant         string           `json:"variant"`
	Outcome         string           `json:"outcome"`
	AttackAmount    decimal.Decimal  `json:"attack_amount"`
	Victims         []VictimResponse `json:"victims"`
	Attacker        AttackerResponse `json:"attacker"`
	AttackerBalance decimal.Decimal  `json:"attacker_balance"`
	HeldBefore      decimal.Decimal  `json:"held_before"`
	HeldAfter       decimal.Decimal  `json:"held_after"`
	TotalBalances   decimal.Decimal  `json:"total_balances"`
	Consistent      bool             `json:"consistent"`
	Inconsistency   string           `json:"inconsistency,omitempty"`
	MaxDepth        int              `json:"max_depth"`
	Events          []EventResponse  `json:"events"`
	DurationMS      float64          `json:"duration_ms"`
}

// SimulationFromReport converts a simulation report to a response.
func SimulationFromReport(r *usecase.SimulationReport) *SimulationResponse {
	victims := make([]VictimResponse, len(r.Victims))
	for i, v := range r.Victims {
		victims[i] = VictimResponse{Account: v.Account, Before: v.Before, After: v.After}
	}

	return &SimulationResponse{
		RunID:           r.RunID,
		Variant:         string(r.Variant),
		Outcome:         r.Outcome,
		AttackAmount:    r.AttackAmount,
		Victims:         victims,
		Attacker:        attackerFromReport(r.Attacker),
		AttackerBalance: r.AttackerBalance,
		HeldBefore:      r.HeldBefore,
		HeldAfter:       r.HeldAfter,
		TotalBalances:   r.TotalBalances,
		Consistent:      r.Consistent,
		Inconsistency:   r.Inconsistency,
		MaxDepth:        r.MaxDepth,
		Events:          EventsFromDomain(r.Events),
		DurationMS:      float64(r.Duration.Microseconds()) / 1000,
	}
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}
