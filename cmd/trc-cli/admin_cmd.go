package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

func runAdminCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
	switch args[0] {
	case "credit":
		return runAdminCredit(args[1:], stdout, stderr)
	case "pool":
		return runAdminPool(args[1:], stdout, stderr)
	case "pause":
		return runAdminPause(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown admin subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
}

func adminUsage() string {
	return strings.TrimSpace(`
Usage: trc-cli admin <subcommand> [flags]

Subcommands:
  credit --account ADDR --asset SYMBOL --amount DECIMAL
  pool   --pair A/B [--kind constant_product|fixed_rate] [--rates RA:RB] [--liquidity AMT_A:AMT_B]
  pause  --module NAME [--resume]`)
}

func runAdminCredit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("admin credit", stderr)
	var account, asset, amount string
	fs.StringVar(&account, "account", "", "account address to credit")
	fs.StringVar(&asset, "asset", "", "asset symbol")
	fs.StringVar(&amount, "amount", "", "amount in whole units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(account) == "" {
		return printError(stderr, "--account is required")
	}
	if err := requireFlags(map[string]string{"asset": asset, "amount": amount}); err != nil {
		return printError(stderr, err.Error())
	}
	return printCall(stdout, stderr, http.MethodPost, "/v1/admin/credit", map[string]string{
		"account": account,
		"asset":   asset,
		"amount":  amount,
	})
}

// splitPair parses "A<sep>B" flag values.
func splitPair(raw, sep, name string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(raw), sep)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("--%s must look like A%sB", name, sep)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func runAdminPool(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("admin pool", stderr)
	var pair, kind, rates, liquidity string
	fs.StringVar(&pair, "pair", "", "registered pair as A/B")
	fs.StringVar(&kind, "kind", "constant_product", "pool kind")
	fs.StringVar(&rates, "rates", "", "fixed-rate price as RATE_A:RATE_B")
	fs.StringVar(&liquidity, "liquidity", "", "initial reserves as AMOUNT_A:AMOUNT_B")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	tokenA, tokenB, err := splitPair(pair, "/", "pair")
	if err != nil {
		return printError(stderr, err.Error())
	}
	body := map[string]string{"token_a": tokenA, "token_b": tokenB, "kind": kind}
	if kind == "fixed_rate" {
		rateA, rateB, err := splitPair(rates, ":", "rates")
		if err != nil {
			return printError(stderr, err.Error())
		}
		body["rate_a"], body["rate_b"] = rateA, rateB
	}
	if strings.TrimSpace(liquidity) != "" {
		amountA, amountB, err := splitPair(liquidity, ":", "liquidity")
		if err != nil {
			return printError(stderr, err.Error())
		}
		body["amount_a"], body["amount_b"] = amountA, amountB
	}
	return printCall(stdout, stderr, http.MethodPost, "/v1/admin/pools", body)
}

func runAdminPause(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("admin pause", stderr)
	var module string
	var resume bool
	fs.StringVar(&module, "module", "fund", "module to pause")
	fs.BoolVar(&resume, "resume", false, "lift the pause instead")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(module) == "" {
		return printError(stderr, "--module is required")
	}
	return printCall(stdout, stderr, http.MethodPost, "/v1/admin/pause", map[string]any{
		"module": module,
		"paused": !resume,
	})
}
