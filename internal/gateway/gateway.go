// Package gateway hands value to external recipients. A hand-off runs the
// recipient's code synchronously, so the caller must assume that anything it
// exposes can be called again before Send returns.
package gateway

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/guardledger/internal/domain"
)

// Recipient is code that runs when value arrives at its address.
// Returning an error rejects the transfer.
type Recipient interface {
	Receive(ctx context.Context, from string, amount decimal.Decimal) error
}

// RecipientFunc adapts a function to Recipient.
type RecipientFunc func(ctx context.Context, from string, amount decimal.Decimal) error

// Receive calls f(ctx, from, amount).
func (f RecipientFunc) Receive(ctx context.Context, from string, amount decimal.Decimal) error {
	return f(ctx, from, amount)
}

// Gateway delivers value and records how much reached each address.
// A Gateway is not safe for concurrent use.
type Gateway struct {
	recipients map[string]Recipient
	delivered  map[string]decimal.Decimal
	depth      int
	logger     zerolog.Logger
}

// New creates an empty Gateway.
func New(logger zerolog.Logger) *Gateway {
	return &Gateway{
		recipients: make(map[string]Recipient),
		delivered:  make(map[string]decimal.Decimal),
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

// Register installs the code that runs on receipt of value at address.
func (g *Gateway) Register(address string, r Recipient) {
	g.recipients[address] = r
}

// Unregister removes the code installed at address. Value sent there
// afterwards is simply recorded.
func (g *Gateway) Unregister(address string) {
	delete(g.recipients, address)
}

// Delivered returns the total value that has reached address.
func (g *Gateway) Delivered(address string) decimal.Decimal {
	return g.delivered[address]
}

// Depth returns the number of hand-offs currently in progress.
func (g *Gateway) Depth() int {
	return g.depth
}

// Send hands amount from sender to the address to. The recipient's code, if
// any, runs before Send returns and may call back into the sender. When the
// recipient rejects the value, every delivery recorded during this hand-off,
// nested ones included, is rolled back and ErrTransferRejected is returned.
func (g *Gateway) Send(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}

	snapshot := g.snapshot()
	g.delivered[to] = g.delivered[to].Add(amount)

	r, ok := g.recipients[to]
	if !ok {
		return nil
	}

	g.depth++
	defer func() { g.depth-- }()

	g.logger.Debug().
		Str("from", from).
		Str("to", to).
		Str("amount", amount.String()).
		Int("depth", g.depth).
		Msg("handing control to recipient")

	if err := r.Receive(ctx, from, amount); err != nil {
		g.delivered = snapshot
		g.logger.Debug().Err(err).Str("to", to).Msg("recipient rejected transfer")
		return fmt.Errorf("%w: %s: %w", domain.ErrTransferRejected, to, err)
	}

	return nil
}

func (g *Gateway) snapshot() map[string]decimal.Decimal {
	cp := make(map[string]decimal.Decimal, len(g.delivered))
	for k, v := range g.delivered {
		cp[k] = v
	}
	return cp
}
