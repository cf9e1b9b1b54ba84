package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runFundCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, fundUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runFundCreate(args[1:], stdout, stderr)
	case "list":
		return runFundList(args[1:], stdout, stderr)
	case "get":
		return runFundGet(args[1:], stdout, stderr)
	case "buy":
		return runFundBuy(args[1:], stdout, stderr)
	case "sell":
		return runFundSell(args[1:], stdout, stderr)
	case "order":
		return runFundOrder(args[1:], stdout, stderr)
	case "reconcile":
		return runFundPost("reconcile", args[1:], stdout, stderr)
	case "export":
		return runFundPost("export", args[1:], stdout, stderr)
	case "history":
		return runFundHistory(args[1:], stdout, stderr)
	case "nav":
		return runFundNAV(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown fund subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, fundUsage())
		return 1
	}
}

func fundUsage() string {
	return strings.TrimSpace(`
Usage: trc-cli fund <subcommand> [flags]

Subcommands:
  create    --base SYMBOL
  list      [--trader ADDR]
  get       --id ID
  buy       --id ID --asset SYMBOL --amount DECIMAL
  sell      --id ID --shares DECIMAL --payout SYMBOL
  order     --id ID --in SYMBOL --out SYMBOL --amount DECIMAL
  reconcile --id ID
  export    --id ID
  history   --id ID [--limit N]
  nav       --id ID [--since RFC3339] [--limit N]`)
}

func fundPath(id uint64, suffix string) string {
	path := "/v1/funds/" + strconv.FormatUint(id, 10)
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

// requireID validates the --id flag shared by most fund subcommands.
func requireID(raw string) (uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, fmt.Errorf("--id is required")
	}
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("--id must be a positive integer")
	}
	return id, nil
}

func requireFlags(values map[string]string) error {
	for _, name := range []string{"base", "asset", "amount", "shares", "payout", "in", "out"} {
		if v, ok := values[name]; ok && strings.TrimSpace(v) == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

func runFundCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund create", stderr)
	var base string
	fs.StringVar(&base, "base", "", "base currency symbol")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{"base": base}); err != nil {
		return printError(stderr, err.Error())
	}
	return printCall(stdout, stderr, http.MethodPost, "/v1/funds", map[string]string{"base_currency": base})
}

func runFundList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund list", stderr)
	var trader string
	fs.StringVar(&trader, "trader", "", "only list funds opened by this trader")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path := "/v1/funds"
	if trader = strings.TrimSpace(trader); trader != "" {
		path += "?trader=" + url.QueryEscape(trader)
	}
	return printCall(stdout, stderr, http.MethodGet, path, nil)
}

func runFundGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund get", stderr)
	var rawID string
	fs.StringVar(&rawID, "id", "", "fund identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(rawID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return printCall(stdout, stderr, http.MethodGet, fundPath(id, ""), nil)
}

func runFundBuy(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund buy", stderr)
	var rawID, asset, amount string
	fs.StringVar(&rawID, "id", "", "fund identifier")
	fs.StringVar(&asset, "asset", "", "deposit asset symbol")
	fs.StringVar(&amount, "amount", "", "deposit amount in whole units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(rawID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireFlags(map[string]string{"asset": asset, "amount": amount}); err != nil {
		return printError(stderr, err.Error())
	}
	return printCall(stdout, stderr, http.MethodPost, fundPath(id, "buy"), map[string]string{"asset": asset, "amount": amount})
}

func runFundSell(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund sell", stderr)
	var rawID, shares, payout string
	fs.StringVar(&rawID, "id", "", "fund identifier")
	fs.StringVar(&shares, "shares", "", "shares to redeem in whole units")
	fs.StringVar(&payout, "payout", "", "payout asset symbol")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(rawID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireFlags(map[string]string{"shares": shares, "payout": payout}); err != nil {
		return printError(stderr, err.Error())
	}
	return printCall(stdout, stderr, http.MethodPost, fundPath(id, "sell"), map[string]string{"shares": shares, "payout_asset": payout})
}

func runFundOrder(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund order", stderr)
	var rawID, tokenIn, tokenOut, amount string
	fs.StringVar(&rawID, "id", "", "fund identifier")
	fs.StringVar(&tokenIn, "in", "", "asset to sell")
	fs.StringVar(&tokenOut, "out", "", "asset to buy")
	fs.StringVar(&amount, "amount", "", "amount of the sold asset in whole units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(rawID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireFlags(map[string]string{"in": tokenIn, "out": tokenOut, "amount": amount}); err != nil {
		return printError(stderr, err.Error())
	}
	return printCall(stdout, stderr, http.MethodPost, fundPath(id, "orders"), map[string]string{
		"token_in":  tokenIn,
		"token_out": tokenOut,
		"amount":    amount,
	})
}

func runFundPost(action string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund "+action, stderr)
	var rawID string
	fs.StringVar(&rawID, "id", "", "fund identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(rawID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return printCall(stdout, stderr, http.MethodPost, fundPath(id, action), nil)
}

func runFundHistory(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund history", stderr)
	var rawID string
	var limit int
	fs.StringVar(&rawID, "id", "", "fund identifier")
	fs.IntVar(&limit, "limit", 0, "maximum operations to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(rawID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	path := fundPath(id, "history")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return printCall(stdout, stderr, http.MethodGet, path, nil)
}

func runFundNAV(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund nav", stderr)
	var rawID, since string
	var limit int
	fs.StringVar(&rawID, "id", "", "fund identifier")
	fs.StringVar(&since, "since", "", "only samples at or after this RFC3339 time")
	fs.IntVar(&limit, "limit", 0, "maximum samples to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(rawID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	query := url.Values{}
	if since = strings.TrimSpace(since); since != "" {
		query.Set("since", since)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := fundPath(id, "nav")
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return printCall(stdout, stderr, http.MethodGet, path, nil)
}
