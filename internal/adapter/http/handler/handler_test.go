package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/guardledger/internal/adapter/http/dto"
	"github.com/iho/guardledger/internal/adapter/http/middleware"
	"github.com/iho/guardledger/internal/adapter/repository/idgen"
	"github.com/iho/guardledger/internal/adapter/repository/memory"
	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/gateway"
	"github.com/iho/guardledger/internal/ledger"
	"github.com/iho/guardledger/internal/usecase"
)

type fixture struct {
	router  chi.Router
	gateway *gateway.Gateway
	outbox  *memory.OutboxRepository
}

func newFixture(t *testing.T, variant ledger.Variant) *fixture {
	t.Helper()

	cfg := variant.Apply(ledger.Config{
		Name:  "vault",
		Owner: "owner",
		Policy: domain.WithdrawalPolicy{
			Cap:      decimal.NewFromInt(100),
			Cooldown: time.Hour,
			Fee:      decimal.NewFromInt(1),
		},
	})

	gw := gateway.New(zerolog.Nop())
	l, err := ledger.New(cfg, gw, nil, zerolog.Nop())
	require.NoError(t, err)
	gw.Register(l.Name(), l)

	outbox := memory.NewOutboxRepository()
	uc := usecase.NewLedgerUseCase(l, outbox, idgen.NewULIDGenerator(), nil, zerolog.Nop())
	sim := usecase.NewSimulationUseCase(
		ledger.Config{Name: "vault", Owner: "owner", Policy: domain.DefaultWithdrawalPolicy()},
		nil, nil, zerolog.Nop(),
	)

	lh := NewLedgerHandler(uc)
	sh := NewSimulationHandler(sim)

	r := chi.NewRouter()
	r.Post("/deposits", lh.Deposit)
	r.Post("/withdrawals", lh.Withdraw)
	r.Post("/custody/collect", lh.Collect)
	r.Get("/accounts/{id}", lh.GetAccount)
	r.Get("/ledger", lh.Info)
	r.Get("/ledger/consistency", lh.Consistency)
	r.Get("/events", lh.Events)
	r.Post("/simulations/attack", sh.Attack)

	return &fixture{router: r, gateway: gw, outbox: outbox}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.doReq(t, httptest.NewRequest(method, path, strings.NewReader(body)))
}

func (f *fixture) doReq(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestLedgerHandler_DepositAndGetAccount(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)

	rec := f.do(t, http.MethodPost, "/deposits", `{"account_id":"alice","amount":"50"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	acc := decode[dto.AccountResponse](t, rec)
	assert.Equal(t, "alice", acc.ID)
	assert.Equal(t, "50", acc.Balance.String())
	assert.Nil(t, acc.LastWithdrawAt)

	rec = f.do(t, http.MethodGet, "/accounts/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50", decode[dto.AccountResponse](t, rec).Balance.String())

	rec = f.do(t, http.MethodGet, "/accounts/nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[dto.AccountResponse](t, rec).Balance.IsZero())

	assert.Equal(t, 1, f.outbox.Len())
}

func TestLedgerHandler_DepositRejectsBadInput(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)

	tests := []struct {
		name string
		body string
		kind string
	}{
		{"zero amount", `{"account_id":"alice","amount":"0"}`, domain.KindInvalidAmount},
		{"fractional amount", `{"account_id":"alice","amount":"1.5"}`, domain.KindInvalidAmount},
		{"empty account", `{"account_id":"","amount":"1"}`, domain.KindInvalidAccountID},
		{"unknown field", `{"account_id":"alice","amount":"1","currency":"USD"}`, ""},
		{"not json", `deposit please`, ""},
		{"two objects", `{"account_id":"alice","amount":"1"}{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/deposits", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[dto.ErrorResponse](t, rec).Kind)
		})
	}
}

func TestLedgerHandler_WithdrawStatuses(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/deposits", `{"account_id":"alice","amount":"500"}`).Code)

	rec := f.do(t, http.MethodPost, "/withdrawals", `{"account_id":"alice","amount":"101"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.KindLimitExceeded, decode[dto.ErrorResponse](t, rec).Kind)

	rec = f.do(t, http.MethodPost, "/withdrawals", `{"account_id":"alice","amount":"10"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	acc := decode[dto.AccountResponse](t, rec)
	assert.Equal(t, "490", acc.Balance.String())
	require.NotNil(t, acc.NextEligibleAt)
	assert.Equal(t, "9", f.gateway.Delivered("alice").String())

	rec = f.do(t, http.MethodPost, "/withdrawals", `{"account_id":"alice","amount":"10"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.KindCooldownActive, decode[dto.ErrorResponse](t, rec).Kind)

	rec = f.do(t, http.MethodPost, "/withdrawals", `{"account_id":"bob","amount":"10"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.KindInsufficientFunds, decode[dto.ErrorResponse](t, rec).Kind)
}

func TestLedgerHandler_WithdrawRejectedTransfer(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)
	f.gateway.Register("carol", gateway.RecipientFunc(func(context.Context, string, decimal.Decimal) error {
		return errors.New("no thanks")
	}))

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/deposits", `{"account_id":"carol","amount":"20"}`).Code)

	rec := f.do(t, http.MethodPost, "/withdrawals", `{"account_id":"carol","amount":"10"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, domain.KindTransferRejected, decode[dto.ErrorResponse](t, rec).Kind)

	rec = f.do(t, http.MethodGet, "/accounts/carol", "")
	assert.Equal(t, "20", decode[dto.AccountResponse](t, rec).Balance.String())
}

func TestLedgerHandler_WithdrawToLedgerAddress(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/deposits", `{"account_id":"vault","amount":"20"}`).Code)

	rec := f.do(t, http.MethodPost, "/withdrawals", `{"account_id":"vault","amount":"10"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, domain.KindTransferRejected, decode[dto.ErrorResponse](t, rec).Kind)

	rec = f.do(t, http.MethodGet, "/accounts/vault", "")
	assert.Equal(t, "20", decode[dto.AccountResponse](t, rec).Balance.String())
}

func TestLedgerHandler_CollectCustody(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)

	f.do(t, http.MethodPost, "/deposits", `{"account_id":"alice","amount":"50"}`)
	f.do(t, http.MethodPost, "/withdrawals", `{"account_id":"alice","amount":"10"}`)

	rec := f.do(t, http.MethodPost, "/custody/collect", `{"caller":"alice"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, domain.KindUnauthorized, decode[dto.ErrorResponse](t, rec).Kind)

	rec = f.do(t, http.MethodPost, "/custody/collect", `{"caller":"owner"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[dto.CollectResponse](t, rec)
	assert.Equal(t, "owner", resp.Owner)
	assert.Equal(t, "1", resp.Collected.String())
	assert.Equal(t, "1", f.gateway.Delivered("owner").String())
}

func TestLedgerHandler_AuthenticatedCallerOverridesBody(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)

	req := httptest.NewRequest(http.MethodPost, "/deposits", strings.NewReader(`{"account_id":"mallory","amount":"5"}`))
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey,
		&domain.User{ID: "alice", Role: domain.RoleDepositor}))

	rec := f.doReq(t, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", decode[dto.AccountResponse](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/accounts/mallory", "")
	assert.True(t, decode[dto.AccountResponse](t, rec).Balance.IsZero())
}

func TestLedgerHandler_InfoAndConsistency(t *testing.T) {
	f := newFixture(t, ledger.VariantVulnerable)
	f.do(t, http.MethodPost, "/deposits", `{"account_id":"alice","amount":"50"}`)

	rec := f.do(t, http.MethodGet, "/ledger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[dto.LedgerResponse](t, rec)
	assert.Equal(t, "vulnerable", info.Variant)
	assert.False(t, info.Guarded)
	assert.Equal(t, "50", info.HeldValue.String())
	assert.Equal(t, "1h0m0s", info.Policy.Cooldown)

	rec = f.do(t, http.MethodGet, "/ledger/consistency", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[dto.ConsistencyResponse](t, rec).Consistent)
}

func TestLedgerHandler_EventsPagination(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)
	for i := 1; i <= 3; i++ {
		f.do(t, http.MethodPost, "/deposits", fmt.Sprintf(`{"account_id":"user-%d","amount":"%d"}`, i, i))
	}

	rec := f.do(t, http.MethodGet, "/events?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[dto.EventListResponse](t, rec)
	require.Len(t, page.Events, 2)
	assert.Equal(t, uint64(2), page.Next)
	assert.Equal(t, "deposit.recorded", page.Events[0].Type)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/events?after=%d&limit=2", page.Next), "")
	page = decode[dto.EventListResponse](t, rec)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "user-3", page.Events[0].Account)
	assert.Zero(t, page.Next)

	rec = f.do(t, http.MethodGet, "/events?after=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulationHandler_Attack(t *testing.T) {
	f := newFixture(t, ledger.VariantHardened)

	rec := f.do(t, http.MethodPost, "/simulations/attack", `{"variant":"vulnerable"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[dto.SimulationResponse](t, rec)
	assert.Equal(t, usecase.OutcomeDrained, report.Outcome)
	assert.False(t, report.Consistent)
	assert.Len(t, report.Victims, 2)

	rec = f.do(t, http.MethodPost, "/simulations/attack", `{"variant":"hardened"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	report = decode[dto.SimulationResponse](t, rec)
	assert.Equal(t, usecase.OutcomeDefended, report.Outcome)
	require.NotEmpty(t, report.Attacker.Rejections)
	assert.Equal(t, domain.KindReentrantCall, report.Attacker.Rejections[0].Kind)

	req := httptest.NewRequest(http.MethodPost, "/simulations/attack", http.NoBody)
	rec = f.doReq(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hardened", decode[dto.SimulationResponse](t, rec).Variant)

	rec = f.do(t, http.MethodPost, "/simulations/attack", `{"variant":"fortified"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.KindInvalidPolicy, decode[dto.ErrorResponse](t, rec).Kind)
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrInvalidAccountID, http.StatusBadRequest},
		{domain.ErrAttackUnderfunded, http.StatusBadRequest},
		{domain.ErrExpiredToken, http.StatusUnauthorized},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrReentrantCall, http.StatusConflict},
		{fmt.Errorf("%w: next withdrawal at noon", domain.ErrCooldownActive), http.StatusConflict},
		{domain.ErrLimitExceeded, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: bob: nope", domain.ErrTransferRejected), http.StatusBadGateway},
		{fmt.Errorf("%w: vault: %w", domain.ErrTransferRejected, domain.ErrDirectTransfer), http.StatusBadGateway},
		{fmt.Errorf("%w: bob: %w", domain.ErrTransferRejected, domain.ErrInsufficientFunds), http.StatusBadGateway},
		{fmt.Errorf("%w: bob: %w", domain.ErrTransferRejected, domain.ErrUnauthorized), http.StatusBadGateway},
		{fmt.Errorf("%w: bob: %w", domain.ErrTransferRejected, domain.ErrReentrantCall), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.expected, mapDomainError(tt.err))
		})
	}
}

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events?limit=50", nil)
	assert.Equal(t, 50, parseIntQuery(req, "limit", 10))

	req = httptest.NewRequest(http.MethodGet, "/events?limit=invalid", nil)
	assert.Equal(t, 10, parseIntQuery(req, "limit", 10))

	req = httptest.NewRequest(http.MethodGet, "/events", nil)
	assert.Equal(t, 25, parseIntQuery(req, "limit", 25))
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"redis": func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"ok"`)

	h = NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
