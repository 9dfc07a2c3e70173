package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/backend-booking/internal/engine"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/oracle"
	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/totals"
	"github.com/noah-isme/backend-booking/internal/voucher"
)

type options struct {
	Tariffs  string
	Vouchers string
	Apply    []string
	Format   string
	Timeout  time.Duration
	Verbose  bool
}

type result struct {
	Item      *selection.CartItem `json:"item"`
	Breakdown totals.Breakdown    `json:"breakdown"`
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "quote <selection.json|->",
		Short: "Price a booking selection against a tariff table",
		Long: `Loads a cart item from JSON, resolves every selected node against a YAML
tariff table and prints the settled breakdown. Vouchers can be applied by
scope with --apply when a rule file is given.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			if opts.Tariffs == "" {
				return errors.New("--tariffs is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuote(cmd.Context(), opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.Tariffs, "tariffs", "", "YAML tariff table")
	cmd.Flags().StringVar(&opts.Vouchers, "vouchers", "", "YAML voucher rules")
	cmd.Flags().StringArrayVar(&opts.Apply, "apply", nil, "apply a voucher as scope=code (repeatable)")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "time allowed for pricing to settle")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine activity to stderr")
	return cmd
}

func runQuote(ctx context.Context, opts *options, source string, stdin io.Reader, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := oracle.LoadStaticFile(opts.Tariffs)
	if err != nil {
		return fmt.Errorf("load tariffs: %w", err)
	}
	item, err := readItem(source, stdin)
	if err != nil {
		return err
	}
	tree, err := selection.NewTree(item)
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	if opts.Verbose {
		logger = obs.NewLogger("console", "debug").Output(zerolog.ConsoleWriter{Out: stderr})
	}
	var vouchers *voucher.Service
	if opts.Vouchers != "" {
		rules, err := voucher.LoadRulesFile(opts.Vouchers)
		if err != nil {
			return fmt.Errorf("load vouchers: %w", err)
		}
		vouchers = &voucher.Service{Validator: voucher.NewRuleValidator(rules...), Logger: logger}
	}

	session := engine.New(tree, client, engine.Options{ID: "cli", Vouchers: vouchers, Logger: logger})
	defer session.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := session.Wait(ctx); err != nil {
		return fmt.Errorf("wait for pricing: %w", err)
	}
	for _, spec := range opts.Apply {
		scopeText, code, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("--apply %q: expected scope=code", spec)
		}
		scope, err := selection.ParseScope(scopeText)
		if err != nil {
			return err
		}
		if _, err := session.ApplyVoucher(ctx, scope, code); err != nil {
			return fmt.Errorf("apply %s: %w", spec, err)
		}
		if err := session.Wait(ctx); err != nil {
			return fmt.Errorf("wait for pricing: %w", err)
		}
	}

	breakdown, err := session.Totals()
	if err != nil {
		return err
	}
	out := result{Item: session.View(), Breakdown: breakdown}
	if opts.Format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return printText(stdout, out)
}

func readItem(source string, stdin io.Reader) (*selection.CartItem, error) {
	var r io.Reader = stdin
	if source != "-" {
		f, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var item selection.CartItem
	if err := json.NewDecoder(r).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	return &item, nil
}

func printText(w io.Writer, res result) error {
	b := res.Breakdown
	fmt.Fprintf(w, "unit %s\n", res.Item.UnitID)
	fmt.Fprintf(w, "  %-14s %12d %12d %12d\n", "accommodation", b.Accommodation.Subtotal, b.Accommodation.Discount, b.Accommodation.Net)
	for _, line := range b.Lines {
		label := line.AddonID
		if line.ChildID != "" {
			label += "/" + line.ChildID
		}
		fmt.Fprintf(w, "    %-12s %12d %12d  %s\n", label, line.Subtotal, line.Discount, line.Status)
	}
	fmt.Fprintf(w, "  %-14s %12d %12d %12d\n", "addons", b.Addons.Subtotal, b.Addons.Discount, b.Addons.Net)
	fmt.Fprintf(w, "  %-14s %12d %12d %12d\n", "menu", b.Menu.Subtotal, b.Menu.Discount, b.Menu.Net)
	_, err := fmt.Fprintf(w, "  %-14s %38d\n", "total", b.GrandTotal)
	return err
}
