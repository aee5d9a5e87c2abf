package adversary_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/guardledger/internal/adversary"
	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/gateway"
	"github.com/iho/guardledger/internal/ledger"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type scenario struct {
	ledger  *ledger.Ledger
	gateway *gateway.Gateway
	client  *adversary.Client
}

func newScenario(t *testing.T, v ledger.Variant, maxDepth int) *scenario {
	t.Helper()

	gw := gateway.New(zerolog.Nop())
	cfg := v.Apply(ledger.Config{
		Name:   "vault",
		Owner:  "operator",
		Policy: domain.DefaultWithdrawalPolicy(),
	})
	l, err := ledger.New(cfg, gw, stubClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, "alice", decimal.NewFromInt(5)))
	require.NoError(t, l.Deposit(ctx, "bob", decimal.NewFromInt(5)))

	c, err := adversary.New(adversary.Config{
		Address:      "attacker",
		Owner:        "mallory",
		AttackAmount: decimal.NewFromInt(1),
		MaxDepth:     maxDepth,
	}, l, gw, zerolog.Nop())
	require.NoError(t, err)
	gw.Register(c.Address(), c)

	return &scenario{ledger: l, gateway: gw, client: c}
}

func TestClient_DrainsVulnerableLedger(t *testing.T) {
	s := newScenario(t, ledger.VariantVulnerable, 0)
	ctx := context.Background()

	require.NoError(t, s.client.Attack(ctx, "mallory", decimal.NewFromInt(1)))

	report := s.client.Report()
	assert.Equal(t, "11", report.Loot.String())
	assert.Equal(t, "1", report.Deposited.String())
	assert.Equal(t, 11, report.Transfers)
	assert.Equal(t, 10, report.Reentries)
	assert.Equal(t, 11, report.MaxDepth)
	assert.Empty(t, report.Rejections)

	assert.True(t, s.ledger.HeldValue().IsZero())
	assert.Equal(t, "5", s.ledger.BalanceOf("alice").String())
	assert.Equal(t, "5", s.ledger.BalanceOf("bob").String())
	require.ErrorIs(t, s.ledger.CheckConsistency(), ledger.ErrInconsistent)

	require.ErrorIs(t, s.client.Collect(ctx, "alice"), domain.ErrUnauthorized)
	require.NoError(t, s.client.Collect(ctx, "mallory"))
	assert.Equal(t, "11", s.gateway.Delivered("mallory").String())
	assert.True(t, s.client.Loot().IsZero())
	assert.Equal(t, "11", s.client.Report().Collected.String())
}

func TestClient_MaxDepthBoundsDrain(t *testing.T) {
	s := newScenario(t, ledger.VariantVulnerable, 3)

	require.NoError(t, s.client.Attack(context.Background(), "mallory", decimal.NewFromInt(1)))

	report := s.client.Report()
	assert.Equal(t, "3", report.Loot.String())
	assert.Equal(t, 3, report.MaxDepth)
	assert.Equal(t, "8", s.ledger.HeldValue().String())
}

func TestClient_FailsAgainstDefences(t *testing.T) {
	tests := []struct {
		variant  ledger.Variant
		wantKind string
	}{
		{ledger.VariantHardened, domain.KindReentrantCall},
		{ledger.VariantGuard, domain.KindReentrantCall},
		{ledger.VariantOrdering, domain.KindInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			s := newScenario(t, tt.variant, 0)

			require.NoError(t, s.client.Attack(context.Background(), "mallory", decimal.NewFromInt(1)))

			report := s.client.Report()
			assert.Equal(t, "1", report.Loot.String())
			assert.Equal(t, 1, report.Transfers)
			assert.Zero(t, report.Reentries)
			require.Len(t, report.Rejections, 1)
			assert.Equal(t, tt.wantKind, report.Rejections[0].Kind)
			assert.Equal(t, 1, report.Rejections[0].Depth)

			assert.Equal(t, "5", s.ledger.BalanceOf("alice").String())
			assert.Equal(t, "5", s.ledger.BalanceOf("bob").String())
			assert.Equal(t, "10", s.ledger.HeldValue().String())
			require.NoError(t, s.ledger.CheckConsistency())
		})
	}
}

func TestClient_AttackPreconditions(t *testing.T) {
	s := newScenario(t, ledger.VariantVulnerable, 0)
	ctx := context.Background()

	require.ErrorIs(t, s.client.Attack(ctx, "alice", decimal.NewFromInt(1)), domain.ErrUnauthorized)
	require.ErrorIs(t, s.client.Attack(ctx, "mallory", decimal.Zero), domain.ErrAttackUnderfunded)

	assert.True(t, s.client.Report().Deposited.IsZero())
	assert.Equal(t, "10", s.ledger.HeldValue().String())
}

func TestClient_CollectNothing(t *testing.T) {
	s := newScenario(t, ledger.VariantHardened, 0)

	require.NoError(t, s.client.Collect(context.Background(), "mallory"))
	assert.True(t, s.gateway.Delivered("mallory").IsZero())
}

func TestNew_InvalidConfig(t *testing.T) {
	gw := gateway.New(zerolog.Nop())

	_, err := adversary.New(adversary.Config{Owner: "mallory", AttackAmount: decimal.NewFromInt(1)}, nil, gw, zerolog.Nop())
	require.ErrorIs(t, err, domain.ErrInvalidAccountID)

	_, err = adversary.New(adversary.Config{Address: "x", Owner: "mallory"}, nil, gw, zerolog.Nop())
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}
