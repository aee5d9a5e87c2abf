package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/iho/guardledger/internal/domain"
)

// Ordering selects when a withdrawal applies its effects relative to handing
// value to the recipient.
type Ordering int

const (
	// OrderEffectsFirst debits and stamps the account before the transfer.
	OrderEffectsFirst Ordering = iota
	// OrderInteractionsFirst transfers first and writes the debit back
	// afterwards from the balance it read before the transfer.
	OrderInteractionsFirst
)

func (o Ordering) String() string {
	switch o {
	case OrderEffectsFirst:
		return "effects-first"
	case OrderInteractionsFirst:
		return "interactions-first"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// Config fixes a ledger's identity and rules for its whole lifetime.
type Config struct {
	// Name identifies the ledger and is its address at the gateway.
	Name     string
	Owner    string
	Policy   domain.WithdrawalPolicy
	Ordering Ordering
	Guard    bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := domain.ValidateAccountID(c.Name); err != nil {
		return fmt.Errorf("ledger name: %w", err)
	}
	if err := domain.ValidateAccountID(c.Owner); err != nil {
		return fmt.Errorf("ledger owner: %w", err)
	}
	return c.Policy.Validate()
}

// Variant names a combination of the two defences.
type Variant string

const (
	VariantHardened   Variant = "hardened"
	VariantVulnerable Variant = "vulnerable"
	VariantOrdering   Variant = "ordering"
	VariantGuard      Variant = "guard"
)

// Variants lists every supported variant.
var Variants = []Variant{VariantHardened, VariantVulnerable, VariantOrdering, VariantGuard}

// ParseVariant parses a variant name, case-insensitively.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Variants {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown ledger variant %q", s)
}

// Apply sets the ordering and guard of cfg for the variant.
func (v Variant) Apply(cfg Config) Config {
	switch v {
	case VariantVulnerable:
		cfg.Ordering, cfg.Guard = OrderInteractionsFirst, false
	case VariantOrdering:
		cfg.Ordering, cfg.Guard = OrderEffectsFirst, false
	case VariantGuard:
		cfg.Ordering, cfg.Guard = OrderInteractionsFirst, true
	default:
		cfg.Ordering, cfg.Guard = OrderEffectsFirst, true
	}
	return cfg
}

// VariantOf reports which variant a configuration corresponds to.
func VariantOf(cfg Config) Variant {
	switch {
	case cfg.Ordering == OrderEffectsFirst && cfg.Guard:
		return VariantHardened
	case cfg.Ordering == OrderEffectsFirst:
		return VariantOrdering
	case cfg.Guard:
		return VariantGuard
	default:
		return VariantVulnerable
	}
}

// Clock supplies the time used by the withdrawal policy.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
