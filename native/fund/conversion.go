package fund

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"traderchain/core/events"
	"traderchain/native/registry"
)

const bpsDenominator = 10_000

// operation carries the collaborators of one unit of work.
type operation struct {
	ctx      context.Context
	store    *Store
	oracle   *Oracle
	exchange Exchange
	vault    Vault
	events   []events.Event
	// slippageBps bounds swap output below the fee-adjusted spot quote; zero
	// leaves the bound to the venue.
	slippageBps uint32
}

func (op *operation) emit(evt events.Event) {
	op.events = append(op.events, evt)
}

// convert swaps amount of from into to. The vault approves the exchange for
// exactly amount and receives the proceeds.
func (op *operation) convert(from, to string, amount *uint256.Int) (*uint256.Int, error) {
	route, err := op.oracle.Route(from, to)
	if err != nil {
		return nil, err
	}
	return op.swap(route, amount)
}

// convertDust behaves like convert unless the swap would deliver nothing after
// fees, in which case nothing moves and it returns zero.
func (op *operation) convertDust(from, to string, amount *uint256.Int) (*uint256.Int, error) {
	route, err := op.oracle.Route(from, to)
	if err != nil {
		return nil, err
	}
	expected, err := op.exchange.QuoteOut(op.ctx, route, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: quote %s: %w", ErrExternalCall, route, err)
	}
	if expected.IsZero() {
		return zero(), nil
	}
	return op.swap(route, amount)
}

func (op *operation) swap(route registry.Route, amount *uint256.Int) (*uint256.Int, error) {
	from := route.From()
	minOut, err := op.minAmountOut(route, amount)
	if err != nil {
		return nil, err
	}
	if err := op.vault.ApproveSpender(op.ctx, from, op.exchange.Address(), amount); err != nil {
		return nil, fmt.Errorf("%w: approve %s: %w", ErrExternalCall, from, err)
	}
	out, err := op.exchange.Swap(op.ctx, route, amount, minOut, op.vault.Address(), op.vault.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: swap %s: %w", ErrExternalCall, route, err)
	}
	return out, nil
}

func (op *operation) minAmountOut(route registry.Route, amount *uint256.Int) (*uint256.Int, error) {
	if op.slippageBps == 0 {
		return nil, nil
	}
	quote, err := op.exchange.Quote(op.ctx, route, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: quote %s: %w", ErrExternalCall, route, err)
	}
	expected, err := mulDiv(quote, uint256.NewInt(uint64(registry.FeeDenominator-route.Fee())), uint256.NewInt(registry.FeeDenominator))
	if err != nil {
		return nil, err
	}
	return mulDiv(expected, uint256.NewInt(uint64(bpsDenominator-op.slippageBps)), uint256.NewInt(bpsDenominator))
}
