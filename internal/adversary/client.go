// Package adversary provides a recipient that re-enters the ledger paying it.
// It exists to demonstrate and regression-test the drain against each ledger
// variant; nothing about it is special to the gateway.
package adversary

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/domain"
)

// DefaultMaxDepth bounds how deeply the client nests re-entries.
const DefaultMaxDepth = 1024

// Target is the ledger surface the client attacks.
type Target interface {
	Deposit(ctx context.Context, id string, amount decimal.Decimal) error
	Withdraw(ctx context.Context, id string, amount decimal.Decimal) error
	HeldValue() decimal.Decimal
}

// Sender moves value through the gateway.
type Sender interface {
	Send(ctx context.Context, from, to string, amount decimal.Decimal) error
}

// Config configures a Client.
type Config struct {
	// Address is where the client receives value and the account it uses
	// at the target.
	Address      string
	Owner        string
	AttackAmount decimal.Decimal
	// MaxDepth caps nested Receive frames. Zero means DefaultMaxDepth.
	MaxDepth int
}

// Rejection records a re-entry the target refused.
type Rejection struct {
	Depth int
	Kind  string
	Error string
}

// Report summarises everything the client has done so far.
type Report struct {
	Address    string
	Deposited  decimal.Decimal
	Received   decimal.Decimal
	Loot       decimal.Decimal
	Collected  decimal.Decimal
	Transfers  int
	Reentries  int
	MaxDepth   int
	Rejections []Rejection
}

// Client deposits into a target and then withdraws recursively from inside
// the transfer callback.
type Client struct {
	cfg    Config
	target Target
	sender Sender
	logger zerolog.Logger

	deposited decimal.Decimal
	received  decimal.Decimal
	loot      decimal.Decimal
	collected decimal.Decimal

	depth      int
	maxDepth   int
	transfers  int
	reentries  int
	rejections []Rejection
}

// New creates a client. Register it at cfg.Address on the gateway the target
// pays through.
func New(cfg Config, target Target, sender Sender, logger zerolog.Logger) (*Client, error) {
	if err := domain.ValidateAccountID(cfg.Address); err != nil {
		return nil, fmt.Errorf("adversary address: %w", err)
	}
	if err := domain.ValidateAccountID(cfg.Owner); err != nil {
		return nil, fmt.Errorf("adversary owner: %w", err)
	}
	if err := domain.ValidateAmount(cfg.AttackAmount); err != nil {
		return nil, fmt.Errorf("attack amount: %w", err)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	return &Client{
		cfg:       cfg,
		target:    target,
		sender:    sender,
		logger:    logger.With().Str("component", "adversary").Str("address", cfg.Address).Logger(),
		deposited: decimal.Zero,
		received:  decimal.Zero,
		loot:      decimal.Zero,
		collected: decimal.Zero,
	}, nil
}

// Address returns the client's gateway address.
func (c *Client) Address() string { return c.cfg.Address }

// Attack deposits value under the client's address and withdraws the attack
// amount, re-entering from Receive for as long as the target pays.
func (c *Client) Attack(ctx context.Context, caller string, value decimal.Decimal) error {
	if caller != c.cfg.Owner {
		return domain.ErrUnauthorized
	}
	if value.LessThan(c.cfg.AttackAmount) {
		return fmt.Errorf("%w: have %s, need %s", domain.ErrAttackUnderfunded, value, c.cfg.AttackAmount)
	}

	if err := c.target.Deposit(ctx, c.cfg.Address, value); err != nil {
		return fmt.Errorf("attack deposit: %w", err)
	}
	c.deposited = c.deposited.Add(value)

	c.logger.Info().
		Str("deposit", value.String()).
		Str("amount", c.cfg.AttackAmount.String()).
		Msg("starting attack")

	if err := c.target.Withdraw(ctx, c.cfg.Address, c.cfg.AttackAmount); err != nil {
		return fmt.Errorf("attack withdraw: %w", err)
	}

	c.logger.Info().
		Str("loot", c.loot.String()).
		Int("transfers", c.transfers).
		Int("max_depth", c.maxDepth).
		Msg("attack finished")

	return nil
}

// Receive books incoming value and withdraws again while the target still
// holds enough. A refused re-entry ends the recursion without failing the
// transfer that delivered the value.
func (c *Client) Receive(ctx context.Context, from string, amount decimal.Decimal) error {
	c.depth++
	defer func() { c.depth-- }()
	if c.depth > c.maxDepth {
		c.maxDepth = c.depth
	}

	c.received = c.received.Add(amount)
	c.loot = c.loot.Add(amount)
	c.transfers++

	if c.depth >= c.cfg.MaxDepth || c.target.HeldValue().LessThan(c.cfg.AttackAmount) {
		return nil
	}

	if err := c.target.Withdraw(ctx, c.cfg.Address, c.cfg.AttackAmount); err != nil {
		c.rejections = append(c.rejections, Rejection{
			Depth: c.depth,
			Kind:  domain.Kind(err),
			Error: err.Error(),
		})
		c.logger.Debug().Err(err).Str("from", from).Int("depth", c.depth).Msg("re-entry refused")
		return nil
	}

	c.reentries++
	return nil
}

// Collect sends the accumulated loot to the owner.
func (c *Client) Collect(ctx context.Context, caller string) error {
	if caller != c.cfg.Owner {
		return domain.ErrUnauthorized
	}

	amount := c.loot
	if !amount.IsPositive() {
		return nil
	}

	c.loot = decimal.Zero
	if err := c.sender.Send(ctx, c.cfg.Address, c.cfg.Owner, amount); err != nil {
		c.loot = amount
		return err
	}
	c.collected = c.collected.Add(amount)

	return nil
}

// Loot returns the value received and not yet collected.
func (c *Client) Loot() decimal.Decimal { return c.loot }

// Report returns a snapshot of the client's activity.
func (c *Client) Report() Report {
	rejections := make([]Rejection, len(c.rejections))
	copy(rejections, c.rejections)

	return Report{
		Address:    c.cfg.Address,
		Deposited:  c.deposited,
		Received:   c.received,
		Loot:       c.loot,
		Collected:  c.collected,
		Transfers:  c.transfers,
		Reentries:  c.reentries,
		MaxDepth:   c.maxDepth,
		Rejections: rejections,
	}
}
