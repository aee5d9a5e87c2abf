package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/infrastructure/auth"
	"github.com/iho/guardledger/internal/ledger"
	"github.com/iho/guardledger/internal/usecase"
)

// etherDecimals is the number of base units in one display unit.
const etherDecimals = 18

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	server         string
	token          string
	idempotencyKey string
	timeout        time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "guardledger",
		Short:         "GuardLedger CLI tool",
		Long:          `A command line interface for the GuardLedger API and a local re-entrancy demo.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "Base URL of the GuardLedger API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("GUARDLEDGER_TOKEN"), "Bearer token for authenticated calls")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		demoCmd(),
		tokenCmd(),
		amountCmd(opts, "deposit", "Deposit into an account", "/api/v1/deposits"),
		amountCmd(opts, "withdraw", "Withdraw from an account", "/api/v1/withdrawals"),
		balanceCmd(opts),
		consistencyCmd(opts),
		simulateCmd(opts),
	)

	return rootCmd
}

func demoCmd() *cobra.Command {
	var variant string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the re-entrancy attack against an in-process ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ledger.ParseVariant(variant)
			if err != nil {
				return err
			}

			sim := usecase.NewSimulationUseCase(ledger.Config{
				Name:   "vault",
				Owner:  "owner",
				Policy: domain.DefaultWithdrawalPolicy(),
			}, nil, nil, zerolog.Nop())

			report, err := sim.Run(cmd.Context(), usecase.SimulationInput{Variant: v})
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", string(ledger.VariantVulnerable), "Ledger variant: vulnerable, ordering, guard or hardened")
	return cmd
}

func printReport(w io.Writer, r *usecase.SimulationReport) {
	fmt.Fprintf(w, "Variant: %s\n", r.Variant)
	fmt.Fprintf(w, "Ledger balance before attack: %s\n", formatEther(r.HeldBefore))
	for _, v := range r.Victims {
		fmt.Fprintf(w, "  %s: %s\n", v.Account, formatEther(v.Before))
	}

	fmt.Fprintf(w, "Attacking with %s\n", formatEther(r.AttackAmount))
	fmt.Fprintf(w, "  re-entries: %d, max depth: %d\n", r.Attacker.Reentries, r.MaxDepth)
	for _, rej := range r.Attacker.Rejections {
		fmt.Fprintf(w, "  rejected at depth %d: %s\n", rej.Depth, rej.Error)
	}

	fmt.Fprintf(w, "Ledger balance after attack: %s\n", formatEther(r.HeldAfter))
	for _, v := range r.Victims {
		fmt.Fprintf(w, "  %s: %s\n", v.Account, formatEther(v.After))
	}
	fmt.Fprintf(w, "Attacker collected: %s\n", formatEther(r.AttackerCollected))
	fmt.Fprintf(w, "Outcome: %s (consistent: %v)\n", r.Outcome, r.Consistent)
}

func formatEther(d decimal.Decimal) string {
	return d.Shift(-etherDecimals).String() + " ETH"
}

func tokenCmd() *cobra.Command {
	var (
		secret   string
		userID   string
		role     string
		validFor time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			token, err := auth.NewJWTManager(secret, validFor).Generate(&domain.User{ID: userID, Role: domain.Role(role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret")
	cmd.Flags().StringVar(&userID, "user", "", "Account or owner id")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleDepositor), "Role: owner, depositor or viewer")
	cmd.Flags().DurationVar(&validFor, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func amountCmd(opts *options, use, short, path string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <account> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			body := map[string]any{"account_id": args[0], "amount": amount}
			return opts.call(cmd, http.MethodPost, path, body)
		},
	}

	cmd.Flags().StringVar(&opts.idempotencyKey, "idempotency-key", "", "Idempotency-Key header value")
	return cmd
}

func balanceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, http.MethodGet, "/api/v1/accounts/"+args[0], nil)
		},
	}
}

func consistencyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "consistency",
		Short: "Check ledger consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, http.MethodGet, "/api/v1/ledger/consistency", nil)
		},
	}
}

func simulateCmd(opts *options) *cobra.Command {
	var (
		variant  string
		victims  int
		maxDepth int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the attack scenario on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"variant": variant}
			if victims > 0 {
				body["victims"] = victims
			}
			if maxDepth > 0 {
				body["max_depth"] = maxDepth
			}
			return opts.call(cmd, http.MethodPost, "/api/v1/simulations/attack", body)
		},
	}

	cmd.Flags().StringVar(&variant, "variant", string(ledger.VariantVulnerable), "Ledger variant")
	cmd.Flags().IntVar(&victims, "victims", 0, "Number of victims (server default when zero)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Re-entry depth bound (server default when zero)")
	return cmd
}

// call sends one request and pretty-prints the JSON response. Non-2xx
// responses are printed too and returned as an error.
func (o *options) call(cmd *cobra.Command, method, path string, body any) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(o.server, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	if o.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", o.idempotencyKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Fprintln(out, pretty.String())
	} else if len(raw) > 0 {
		fmt.Fprintln(out, string(raw))
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
