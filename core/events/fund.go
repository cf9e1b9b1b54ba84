package events

import (
	"strings"

	"github.com/holiman/uint256"

	"traderchain/core/types"
	"traderchain/crypto"
)

const (
	// TypeFundCreated is emitted when a trader opens a new fund.
	TypeFundCreated = "fund.created"
	// TypeFundSharesBought is emitted after a deposit has been converted and
	// shares were credited to the investor.
	TypeFundSharesBought = "fund.shares_bought"
	// TypeFundOrderPlaced is emitted after a trader order has settled.
	TypeFundOrderPlaced = "fund.order_placed"
	// TypeFundSharesSold is emitted after a redemption paid out.
	TypeFundSharesSold = "fund.shares_sold"
	// TypeFundHalted is emitted when an invariant check fails and the fund
	// stops accepting mutations.
	TypeFundHalted = "fund.halted"
	// TypeFundResumed is emitted when reconciliation clears a halted fund.
	TypeFundResumed = "fund.resumed"
)

// FundCreated captures the creation of a fund.
type FundCreated struct {
	FundID       uint64
	Trader       crypto.Address
	BaseCurrency string
	Vault        crypto.Address
}

func (FundCreated) EventType() string { return TypeFundCreated }

func (e FundCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeFundCreated,
		Attributes: map[string]string{
			"fundId":       fundIDString(e.FundID),
			"trader":       addressString(e.Trader),
			"baseCurrency": normalizeAsset(e.BaseCurrency),
			"vault":        addressString(e.Vault),
		},
	}
}

// FundSharesBought records an investor deposit.
type FundSharesBought struct {
	FundID    uint64
	Investor  crypto.Address
	Asset     string
	AmountIn  *uint256.Int
	Shares    *uint256.Int
	NAVBefore *uint256.Int
	NAVAfter  *uint256.Int
}

func (FundSharesBought) EventType() string { return TypeFundSharesBought }

func (e FundSharesBought) Event() *types.Event {
	return &types.Event{
		Type: TypeFundSharesBought,
		Attributes: map[string]string{
			"fundId":    fundIDString(e.FundID),
			"investor":  addressString(e.Investor),
			"asset":     normalizeAsset(e.Asset),
			"amountIn":  amountString(e.AmountIn),
			"shares":    amountString(e.Shares),
			"navBefore": amountString(e.NAVBefore),
			"navAfter":  amountString(e.NAVAfter),
		},
	}
}

// FundOrderPlaced records a trader rebalancing order.
type FundOrderPlaced struct {
	FundID    uint64
	Trader    crypto.Address
	TokenIn   string
	TokenOut  string
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

func (FundOrderPlaced) EventType() string { return TypeFundOrderPlaced }

func (e FundOrderPlaced) Event() *types.Event {
	return &types.Event{
		Type: TypeFundOrderPlaced,
		Attributes: map[string]string{
			"fundId":    fundIDString(e.FundID),
			"trader":    addressString(e.Trader),
			"tokenIn":   normalizeAsset(e.TokenIn),
			"tokenOut":  normalizeAsset(e.TokenOut),
			"amountIn":  amountString(e.AmountIn),
			"amountOut": amountString(e.AmountOut),
		},
	}
}

// FundSharesSold records a redemption.
type FundSharesSold struct {
	FundID    uint64
	Investor  crypto.Address
	Shares    *uint256.Int
	Asset     string
	AmountOut *uint256.Int
}

func (FundSharesSold) EventType() string { return TypeFundSharesSold }

func (e FundSharesSold) Event() *types.Event {
	return &types.Event{
		Type: TypeFundSharesSold,
		Attributes: map[string]string{
			"fundId":    fundIDString(e.FundID),
			"investor":  addressString(e.Investor),
			"shares":    amountString(e.Shares),
			"asset":     normalizeAsset(e.Asset),
			"amountOut": amountString(e.AmountOut),
		},
	}
}

// FundHalted signals that the fund failed an invariant check.
type FundHalted struct {
	FundID uint64
	Reason string
}

func (FundHalted) EventType() string { return TypeFundHalted }

func (e FundHalted) Event() *types.Event {
	return &types.Event{
		Type: TypeFundHalted,
		Attributes: map[string]string{
			"fundId": fundIDString(e.FundID),
			"reason": strings.TrimSpace(e.Reason),
		},
	}
}

// FundResumed signals that a halted fund reconciled cleanly.
type FundResumed struct {
	FundID uint64
}

func (FundResumed) EventType() string { return TypeFundResumed }

func (e FundResumed) Event() *types.Event {
	return &types.Event{
		Type: TypeFundResumed,
		Attributes: map[string]string{
			"fundId": fundIDString(e.FundID),
		},
	}
}
