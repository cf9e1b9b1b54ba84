package fund

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"traderchain/native/registry"
)

// Oracle values amounts of one asset in another by quoting the registry route
// on the exchange. Quotes are spot prices without fees and never cached.
type Oracle struct {
	registry *registry.Registry
	exchange Exchange
}

func newOracle(reg *registry.Registry, ex Exchange) *Oracle {
	return &Oracle{registry: reg, exchange: ex}
}

// Route resolves the conversion path between two supported assets.
func (o *Oracle) Route(from, to string) (registry.Route, error) {
	route, err := o.registry.Route(from, to)
	switch {
	case err == nil:
		return route, nil
	case errors.Is(err, registry.ErrUnknownAsset):
		return registry.Route{}, fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return registry.Route{}, fmt.Errorf("%w: %w", ErrExternalCall, err)
	}
}

// Value returns what amount of from is worth in to. Converting an asset into
// itself returns the amount unchanged.
func (o *Oracle) Value(ctx context.Context, from, to string, amount *uint256.Int) (*uint256.Int, error) {
	if registry.NormalizeSymbol(from) == registry.NormalizeSymbol(to) || amount.IsZero() {
		return clone(amount), nil
	}
	route, err := o.Route(from, to)
	if err != nil {
		return nil, err
	}
	out, err := o.exchange.Quote(ctx, route, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: quote %s: %w", ErrExternalCall, route, err)
	}
	return out, nil
}

// PoolFee returns the fee in parts per million charged converting between the
// two assets.
func (o *Oracle) PoolFee(a, b string) (uint32, error) {
	fee, err := o.registry.PoolFee(a, b)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownAsset) {
			return 0, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return 0, fmt.Errorf("%w: %w", ErrExternalCall, err)
	}
	return fee, nil
}
