package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"

	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/gateway"
	"github.com/iho/guardledger/internal/ledger"
	"github.com/iho/guardledger/internal/usecase"
	"github.com/iho/guardledger/internal/usecase/mocks"
)

func testConfig() ledger.Config {
	return ledger.Config{
		Name:  "vault",
		Owner: "owner",
		Policy: domain.WithdrawalPolicy{
			Cap:      decimal.NewFromInt(100),
			Cooldown: time.Hour,
			Fee:      decimal.Zero,
		},
	}
}

func newLedger(t *testing.T, v ledger.Variant) (*ledger.Ledger, *gateway.Gateway) {
	t.Helper()

	gw := gateway.New(zerolog.Nop())
	l, err := ledger.New(v.Apply(testConfig()), gw, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	gw.Register(l.Name(), l)

	return l, gw
}

func TestLedgerUseCase_DepositWritesOutbox(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	l, _ := newLedger(t, ledger.VariantHardened)

	outbox := mocks.NewMockOutboxRepository(ctrl)
	idGen := mocks.NewMockIDGenerator(ctrl)
	metrics := mocks.NewMockMetricsRecorder(ctrl)

	idGen.EXPECT().Generate().Return("evt-1")
	outbox.EXPECT().Create(gomock.Any(), gomock.Len(1)).DoAndReturn(
		func(_ context.Context, events []*domain.OutboxEvent) error {
			e := events[0]
			if e.ID != "evt-1" || e.EventType != string(domain.EventTypeDepositRecorded) || e.AggregateID != "vault" {
				t.Errorf("unexpected outbox event: %+v", e)
			}
			if e.Payload["amount"] != "7" || e.Payload["account"] != "alice" {
				t.Errorf("unexpected payload: %v", e.Payload)
			}
			return nil
		})

	metrics.EXPECT().RecordOperation(usecase.OpDeposit, "ok")
	metrics.EXPECT().RecordRejections(uint64(0), uint64(0))
	metrics.EXPECT().SetCustody("vault", 7.0, 0.0)
	metrics.EXPECT().ObserveDepth(1)
	metrics.EXPECT().RecordOutboxWrite("ok", 1, 0)

	uc := usecase.NewLedgerUseCase(l, outbox, idGen, metrics, zerolog.Nop())

	view, err := uc.Deposit(context.Background(), usecase.DepositInput{AccountID: "alice", Amount: decimal.NewFromInt(7)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !view.Balance.Equal(decimal.NewFromInt(7)) {
		t.Errorf("balance = %s, want 7", view.Balance)
	}
	if view.LastWithdrawAt != nil {
		t.Errorf("expected no withdrawal time, got %v", view.LastWithdrawAt)
	}
}

func TestLedgerUseCase_OutboxFailureKeepsEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	l, _ := newLedger(t, ledger.VariantHardened)

	outbox := mocks.NewMockOutboxRepository(ctrl)
	idGen := mocks.NewMockIDGenerator(ctrl)
	idGen.EXPECT().Generate().Return("id").AnyTimes()

	gomock.InOrder(
		outbox.EXPECT().Create(gomock.Any(), gomock.Len(1)).Return(errors.New("db down")),
		outbox.EXPECT().Create(gomock.Any(), gomock.Len(2)).Return(nil),
	)

	uc := usecase.NewLedgerUseCase(l, outbox, idGen, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := uc.Deposit(ctx, usecase.DepositInput{AccountID: "alice", Amount: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("deposit must succeed when the outbox fails: %v", err)
	}
	if got := uc.PendingEvents(); got != 1 {
		t.Fatalf("PendingEvents() = %d, want 1", got)
	}

	if _, err := uc.Deposit(ctx, usecase.DepositInput{AccountID: "bob", Amount: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := uc.PendingEvents(); got != 0 {
		t.Fatalf("PendingEvents() = %d, want 0", got)
	}
}

func TestLedgerUseCase_WithdrawErrors(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		wantErr  error
		wantKind string
	}{
		{"insufficient funds", 201, domain.ErrInsufficientFunds, domain.KindInsufficientFunds},
		{"above cap", 101, domain.ErrLimitExceeded, domain.KindLimitExceeded},
		{"invalid amount", 0, domain.ErrInvalidAmount, domain.KindInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			l, _ := newLedger(t, ledger.VariantHardened)

			outbox := mocks.NewMockOutboxRepository(ctrl)
			outbox.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
			idGen := mocks.NewMockIDGenerator(ctrl)
			idGen.EXPECT().Generate().Return("id").AnyTimes()

			metrics := mocks.NewMockMetricsRecorder(ctrl)
			metrics.EXPECT().RecordOperation(usecase.OpDeposit, "ok")
			metrics.EXPECT().RecordOperation(usecase.OpWithdraw, tt.wantKind)
			metrics.EXPECT().RecordRejections(gomock.Any(), gomock.Any()).AnyTimes()
			metrics.EXPECT().SetCustody(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
			metrics.EXPECT().ObserveDepth(gomock.Any()).AnyTimes()
			metrics.EXPECT().RecordOutboxWrite(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

			uc := usecase.NewLedgerUseCase(l, outbox, idGen, metrics, zerolog.Nop())
			ctx := context.Background()

			if _, err := uc.Deposit(ctx, usecase.DepositInput{AccountID: "alice", Amount: decimal.NewFromInt(200)}); err != nil {
				t.Fatalf("deposit: %v", err)
			}

			_, err := uc.Withdraw(ctx, usecase.WithdrawInput{AccountID: "alice", Amount: decimal.NewFromInt(tt.amount)})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLedgerUseCase_WithdrawAndView(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	l, gw := newLedger(t, ledger.VariantHardened)

	outbox := mocks.NewMockOutboxRepository(ctrl)
	outbox.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	idGen := mocks.NewMockIDGenerator(ctrl)
	idGen.EXPECT().Generate().Return("id").Times(2)

	uc := usecase.NewLedgerUseCase(l, outbox, idGen, usecase.NopMetrics{}, zerolog.Nop())
	ctx := context.Background()

	if _, err := uc.Deposit(ctx, usecase.DepositInput{AccountID: "alice", Amount: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	view, err := uc.Withdraw(ctx, usecase.WithdrawInput{AccountID: "alice", Amount: decimal.NewFromInt(4)})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if !view.Balance.Equal(decimal.NewFromInt(6)) {
		t.Errorf("balance = %s, want 6", view.Balance)
	}
	if view.LastWithdrawAt == nil || view.NextEligibleAt == nil {
		t.Fatal("expected withdrawal timestamps")
	}
	if got := view.NextEligibleAt.Sub(*view.LastWithdrawAt); got != time.Hour {
		t.Errorf("cooldown window = %s, want 1h", got)
	}
	if !gw.Delivered("alice").Equal(decimal.NewFromInt(4)) {
		t.Errorf("delivered = %s, want 4", gw.Delivered("alice"))
	}

	got, err := uc.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.Balance.Equal(view.Balance) {
		t.Errorf("GetAccount balance = %s, want %s", got.Balance, view.Balance)
	}

	if _, err := uc.GetAccount(ctx, "bad id"); !errors.Is(err, domain.ErrInvalidAccountID) {
		t.Errorf("expected ErrInvalidAccountID, got %v", err)
	}

	info := uc.Info(ctx)
	if info.Variant != ledger.VariantHardened || !info.Guarded || info.Events != 2 || info.Accounts != 1 {
		t.Errorf("unexpected info: %+v", info)
	}

	report := uc.CheckConsistency(ctx)
	if !report.Consistent || !report.Difference.IsZero() {
		t.Errorf("unexpected consistency report: %+v", report)
	}
}

func TestLedgerUseCase_CollectCustody(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig()
	cfg.Policy.Fee = decimal.NewFromInt(2)
	gw := gateway.New(zerolog.Nop())
	l, err := ledger.NewHardened(cfg, gw, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	outbox := mocks.NewMockOutboxRepository(ctrl)
	outbox.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	idGen := mocks.NewMockIDGenerator(ctrl)
	idGen.EXPECT().Generate().Return("id").AnyTimes()

	uc := usecase.NewLedgerUseCase(l, outbox, idGen, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := uc.Deposit(ctx, usecase.DepositInput{AccountID: "alice", Amount: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := uc.Withdraw(ctx, usecase.WithdrawInput{AccountID: "alice", Amount: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if _, err := uc.CollectCustody(ctx, "alice"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	collected, err := uc.CollectCustody(ctx, "owner")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !collected.Equal(decimal.NewFromInt(2)) {
		t.Errorf("collected = %s, want 2", collected)
	}
	if !gw.Delivered("owner").Equal(decimal.NewFromInt(2)) {
		t.Errorf("owner received %s, want 2", gw.Delivered("owner"))
	}
}

func TestLedgerUseCase_Events(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	l, _ := newLedger(t, ledger.VariantHardened)

	outbox := mocks.NewMockOutboxRepository(ctrl)
	outbox.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	idGen := mocks.NewMockIDGenerator(ctrl)
	idGen.EXPECT().Generate().Return("id").AnyTimes()

	uc := usecase.NewLedgerUseCase(l, outbox, idGen, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := uc.Deposit(ctx, usecase.DepositInput{AccountID: "alice", Amount: decimal.NewFromInt(1)}); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	events, err := uc.Events(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 || events[0].Sequence != 2 || events[1].Sequence != 3 {
		t.Errorf("unexpected page: %+v", events)
	}

	events, err = uc.Events(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("default page returned %d events, want 5", len(events))
	}
}

func TestLedgerUseCase_ConcurrentDeposits(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	l, _ := newLedger(t, ledger.VariantHardened)

	outbox := mocks.NewMockOutboxRepository(ctrl)
	outbox.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	idGen := mocks.NewMockIDGenerator(ctrl)
	idGen.EXPECT().Generate().Return("id").AnyTimes()

	uc := usecase.NewLedgerUseCase(l, outbox, idGen, nil, zerolog.Nop())
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := uc.Deposit(ctx, usecase.DepositInput{AccountID: "alice", Amount: decimal.NewFromInt(1)}); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()

	view, err := uc.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !view.Balance.Equal(decimal.NewFromInt(workers)) {
		t.Errorf("balance = %s, want %d", view.Balance, workers)
	}
	if !uc.CheckConsistency(ctx).Consistent {
		t.Error("ledger should be consistent")
	}
	if uc.PendingEvents() != 0 {
		t.Errorf("PendingEvents() = %d, want 0", uc.PendingEvents())
	}
}
