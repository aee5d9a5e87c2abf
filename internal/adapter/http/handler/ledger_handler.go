package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/adapter/http/dto"
	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/usecase"
)

// LedgerService defines the behavior needed by LedgerHandler.
type LedgerService interface {
	Deposit(ctx context.Context, input usecase.DepositInput) (*usecase.AccountView, error)
	Withdraw(ctx context.Context, input usecase.WithdrawInput) (*usecase.AccountView, error)
	CollectCustody(ctx context.Context, caller string) (decimal.Decimal, error)
	GetAccount(ctx context.Context, id string) (*usecase.AccountView, error)
	Info(ctx context.Context) usecase.LedgerInfo
	CheckConsistency(ctx context.Context) usecase.ConsistencyReport
	Events(ctx context.Context, after uint64, limit int) ([]domain.Event, error)
}

// LedgerHandler handles ledger HTTP requests.
type LedgerHandler struct {
	ledgerUC LedgerService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerUC LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerUC: ledgerUC}
}

// Deposit credits an account.
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	req.AccountID = actingID(r, req.AccountID)

	view, err := h.ledgerUC.Deposit(r.Context(), req.ToUseCaseInput())
	if err != nil {
		writeDomainError(w, "deposit failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.AccountFromView(view))
}

// Withdraw pays out to the account's own address.
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req dto.WithdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	req.AccountID = actingID(r, req.AccountID)

	view, err := h.ledgerUC.Withdraw(r.Context(), req.ToUseCaseInput())
	if err != nil {
		writeDomainError(w, "withdrawal failed", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AccountFromView(view))
}

// Collect sends the reserve to the owner.
func (h *LedgerHandler) Collect(w http.ResponseWriter, r *http.Request) {
	var req dto.CollectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller := actingID(r, req.Caller)

	collected, err := h.ledgerUC.CollectCustody(r.Context(), caller)
	if err != nil {
		writeDomainError(w, "collection failed", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CollectResponse{Owner: caller, Collected: collected})
}

// GetAccount returns one account's balance and withdrawal schedule.
func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	view, err := h.ledgerUC.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "failed to get account", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AccountFromView(view))
}

// Info describes the ledger.
func (h *LedgerHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.LedgerFromInfo(h.ledgerUC.Info(r.Context())))
}

// Consistency reports whether held value equals the sum of balances.
func (h *LedgerHandler) Consistency(w http.ResponseWriter, r *http.Request) {
	report := h.ledgerUC.CheckConsistency(r.Context())

	status := http.StatusOK
	if !report.Consistent {
		status = http.StatusConflict
	}

	writeJSON(w, status, dto.ConsistencyFromReport(report))
}

// Events lists the journal after a sequence cursor.
func (h *LedgerHandler) Events(w http.ResponseWriter, r *http.Request) {
	after, err := parseUintQuery(r, "after")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid after cursor", err.Error())
		return
	}
	limit, _, _ := domain.ValidatePagination(parseIntQuery(r, "limit", usecase.DefaultEventPageSize), 0)

	events, err := h.ledgerUC.Events(r.Context(), after, limit)
	if err != nil {
		writeDomainError(w, "failed to list events", err)
		return
	}

	resp := dto.EventListResponse{Events: dto.EventsFromDomain(events)}
	if len(events) > 0 && len(events) == limit {
		resp.Next = events[len(events)-1].Sequence
	}

	writeJSON(w, http.StatusOK, resp)
}
