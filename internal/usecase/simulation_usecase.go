package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/adversary"
	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/gateway"
	"github.com/iho/guardledger/internal/ledger"
)

// Simulation outcomes.
const (
	OutcomeDrained  = "drained"
	OutcomeDefended = "defended"
)

// Scenario addresses.
const (
	SimulationAttacker      = "attacker"
	SimulationAttackerOwner = "attacker-owner"
)

// MaxSimulationVictims bounds the victims of one run.
const MaxSimulationVictims = 100

// SimulationUseCase runs the re-entrancy attack against a fresh ledger.
type SimulationUseCase struct {
	base    ledger.Config
	clock   ledger.Clock
	metrics MetricsRecorder
	logger  zerolog.Logger
}

// NewSimulationUseCase creates a SimulationUseCase. Each run builds its own
// gateway and ledger from base; only the variant changes.
func NewSimulationUseCase(base ledger.Config, clock ledger.Clock, metrics MetricsRecorder, logger zerolog.Logger) *SimulationUseCase {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clock == nil {
		clock = ledger.SystemClock{}
	}

	return &SimulationUseCase{
		base:    base,
		clock:   clock,
		metrics: metrics,
		logger:  logger.With().Str("component", "simulation").Logger(),
	}
}

// SimulationInput configures one run. Zero values take the defaults.
type SimulationInput struct {
	Variant       ledger.Variant
	Victims       int
	VictimDeposit decimal.Decimal
	AttackAmount  decimal.Decimal
	MaxDepth      int
}

// VictimReport is a victim's balance before and after the attack.
type VictimReport struct {
	Account string
	Before  decimal.Decimal
	After   decimal.Decimal
}

// SimulationReport describes a finished run.
type SimulationReport struct {
	RunID        string
	Variant      ledger.Variant
	Outcome      string
	AttackAmount decimal.Decimal
	Victims      []VictimReport
	Attacker     adversary.Report
	// AttackerBalance is the attacker's recorded balance after the attack.
	AttackerBalance decimal.Decimal
	// AttackerCollected is what reached the attacker's owner.
	AttackerCollected decimal.Decimal
	HeldBefore        decimal.Decimal
	HeldAfter         decimal.Decimal
	TotalBalances     decimal.Decimal
	Consistent        bool
	Inconsistency     string
	MaxDepth          int
	Events            []domain.Event
	Duration          time.Duration
}

// Run executes the scenario: the victims deposit, the attacker deposits the
// attack amount and withdraws it, re-entering from its callback, then collects.
func (uc *SimulationUseCase) Run(ctx context.Context, input SimulationInput) (*SimulationReport, error) {
	input, err := uc.withDefaults(input)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := uc.logger.With().Str("run_id", runID).Str("variant", string(input.Variant)).Logger()
	start := time.Now()

	gw := gateway.New(logger)
	cfg := input.Variant.Apply(uc.base)

	l, err := ledger.New(cfg, gw, uc.clock, logger)
	if err != nil {
		return nil, err
	}
	gw.Register(cfg.Name, l)

	report := &SimulationReport{
		RunID:        runID,
		Variant:      input.Variant,
		AttackAmount: input.AttackAmount,
	}

	for i := 1; i <= input.Victims; i++ {
		id := fmt.Sprintf("victim-%d", i)
		if err := l.Deposit(ctx, id, input.VictimDeposit); err != nil {
			return nil, fmt.Errorf("victim deposit: %w", err)
		}
		report.Victims = append(report.Victims, VictimReport{Account: id, Before: l.BalanceOf(id)})
	}

	client, err := adversary.New(adversary.Config{
		Address:      SimulationAttacker,
		Owner:        SimulationAttackerOwner,
		AttackAmount: input.AttackAmount,
		MaxDepth:     input.MaxDepth,
	}, l, gw, logger)
	if err != nil {
		return nil, err
	}
	gw.Register(client.Address(), client)

	report.HeldBefore = l.HeldValue().Add(input.AttackAmount)

	if err := client.Attack(ctx, SimulationAttackerOwner, input.AttackAmount); err != nil {
		return nil, err
	}
	if err := client.Collect(ctx, SimulationAttackerOwner); err != nil {
		return nil, fmt.Errorf("collect loot: %w", err)
	}

	for i := range report.Victims {
		report.Victims[i].After = l.BalanceOf(report.Victims[i].Account)
	}

	report.Attacker = client.Report()
	report.AttackerBalance = l.BalanceOf(SimulationAttacker)
	report.AttackerCollected = gw.Delivered(SimulationAttackerOwner)
	report.HeldAfter = l.HeldValue()
	report.TotalBalances = l.TotalBalances()
	report.MaxDepth = l.LastDepth()
	report.Events = l.Events()
	report.Consistent = true
	if err := l.CheckConsistency(); err != nil {
		report.Consistent = false
		report.Inconsistency = err.Error()
	}

	report.Outcome = OutcomeDefended
	if report.Attacker.Received.GreaterThan(report.Attacker.Deposited) {
		report.Outcome = OutcomeDrained
	}
	report.Duration = time.Since(start)

	uc.metrics.RecordSimulation(string(input.Variant), report.Outcome)

	logger.Info().
		Str("outcome", report.Outcome).
		Str("received", report.Attacker.Received.String()).
		Int("depth", report.MaxDepth).
		Bool("consistent", report.Consistent).
		Dur("duration", report.Duration).
		Msg("simulation finished")

	return report, nil
}

func (uc *SimulationUseCase) withDefaults(input SimulationInput) (SimulationInput, error) {
	if input.Variant == "" {
		input.Variant = ledger.VariantOf(uc.base)
	}
	variant, err := ledger.ParseVariant(string(input.Variant))
	if err != nil {
		return input, fmt.Errorf("%w: %w", domain.ErrInvalidPolicy, err)
	}
	input.Variant = variant

	if input.Victims == 0 {
		input.Victims = 2
	}
	if input.Victims < 0 || input.Victims > MaxSimulationVictims {
		return input, fmt.Errorf("%w: victims must be between 1 and %d", domain.ErrInvalidAmount, MaxSimulationVictims)
	}

	if input.VictimDeposit.IsZero() {
		input.VictimDeposit = decimal.RequireFromString(DefaultVictimDeposit)
	}
	if err := domain.ValidateAmount(input.VictimDeposit); err != nil {
		return input, fmt.Errorf("victim deposit: %w", err)
	}

	if input.AttackAmount.IsZero() {
		input.AttackAmount = decimal.RequireFromString(DefaultAttackAmount)
	}
	if err := domain.ValidateAmount(input.AttackAmount); err != nil {
		return input, fmt.Errorf("attack amount: %w", err)
	}

	if input.MaxDepth <= 0 {
		input.MaxDepth = DefaultSimulationDepth
	}

	return input, nil
}
