package fund

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"traderchain/crypto"
	"traderchain/native/registry"
)

func (e *Engine) view(ctx context.Context, fn func(op *operation) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.backend.View(ctx, func(tx Tx) error {
		return fn(e.newOperation(ctx, tx))
	})
}

// Fund returns the fund record.
func (e *Engine) Fund(ctx context.Context, fundID uint64) (*Fund, error) {
	var out *Fund
	err := e.view(ctx, func(op *operation) error {
		f, err := op.store.GetFund(fundID)
		out = f
		return err
	})
	return out, err
}

// Funds lists every fund identifier in creation order.
func (e *Engine) Funds(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := e.view(ctx, func(op *operation) error {
		var err error
		ids, err = op.store.FundIDs()
		return err
	})
	return ids, err
}

// TraderFunds lists the funds opened by trader in creation order.
func (e *Engine) TraderFunds(ctx context.Context, trader crypto.Address) ([]uint64, error) {
	var ids []uint64
	err := e.view(ctx, func(op *operation) error {
		var err error
		ids, err = op.store.TraderFunds(trader)
		return err
	})
	return ids, err
}

// Snapshot values every holding of the fund and derives NAV and share price.
func (e *Engine) Snapshot(ctx context.Context, fundID uint64) (*Snapshot, error) {
	var snap *Snapshot
	err := e.view(ctx, func(op *operation) error {
		f, err := op.store.GetFund(fundID)
		if err != nil {
			return err
		}
		unit, err := e.unit(f.BaseCurrency)
		if err != nil {
			return err
		}
		val, err := value(ctx, op.oracle, f)
		if err != nil {
			return err
		}
		price, err := sharePrice(val.nav, f.TotalShares, unit)
		if err != nil {
			return err
		}
		snap = &Snapshot{
			FundID:       f.ID,
			BaseCurrency: f.BaseCurrency,
			NAV:          val.nav,
			SharePrice:   price,
			TotalShares:  clone(f.TotalShares),
			Holdings:     make([]HoldingValue, len(f.Holdings)),
			Halted:       f.Halted,
			At:           e.nowFn().UTC(),
		}
		for i, h := range f.Holdings {
			snap.Holdings[i] = HoldingValue{Asset: h.Asset, Amount: clone(h.Amount), Value: val.values[i]}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// NAV returns the fund's net asset value in base-currency sub-units.
func (e *Engine) NAV(ctx context.Context, fundID uint64) (*uint256.Int, error) {
	snap, err := e.Snapshot(ctx, fundID)
	if err != nil {
		return nil, err
	}
	return snap.NAV, nil
}

// SharePrice returns the base-currency value of one whole share.
func (e *Engine) SharePrice(ctx context.Context, fundID uint64) (*uint256.Int, error) {
	snap, err := e.Snapshot(ctx, fundID)
	if err != nil {
		return nil, err
	}
	return snap.SharePrice, nil
}

// AssetAmount returns the fund's tracked amount of asset.
func (e *Engine) AssetAmount(ctx context.Context, fundID uint64, asset string) (*uint256.Int, error) {
	f, err := e.Fund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	return f.Held(asset), nil
}

// AssetValue returns the base-currency value of the fund's holding of asset.
func (e *Engine) AssetValue(ctx context.Context, fundID uint64, asset string) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(ctx, func(op *operation) error {
		f, err := op.store.GetFund(fundID)
		if err != nil {
			return err
		}
		out, err = op.oracle.Value(ctx, asset, f.BaseCurrency, f.Held(asset))
		return err
	})
	return out, err
}

// TotalShares returns the fund's outstanding shares.
func (e *Engine) TotalShares(ctx context.Context, fundID uint64) (*uint256.Int, error) {
	f, err := e.Fund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	return f.TotalShares, nil
}

// InvestorShares returns the shares investor holds in the fund.
func (e *Engine) InvestorShares(ctx context.Context, fundID uint64, investor crypto.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(ctx, func(op *operation) error {
		if _, err := op.store.GetFund(fundID); err != nil {
			return err
		}
		var err error
		out, err = op.store.Position(fundID, investor)
		return err
	})
	return out, err
}

// AssetPrice values amount of asset in base at the current spot quote.
func (e *Engine) AssetPrice(ctx context.Context, base, asset string, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrZeroAmount)
	}
	from, err := e.requireAsset(asset)
	if err != nil {
		return nil, err
	}
	to, err := e.requireAsset(base)
	if err != nil {
		return nil, err
	}
	var out *uint256.Int
	err = e.view(ctx, func(op *operation) error {
		var err error
		out, err = op.oracle.Value(ctx, from, to, amount)
		return err
	})
	return out, err
}

// PoolFee returns the fee in parts per million charged converting between two
// assets. The value is the same in both directions.
func (e *Engine) PoolFee(a, b string) (uint32, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return newOracle(e.registry, nil).PoolFee(a, b)
}

// Route returns the conversion path the engine uses between two assets.
func (e *Engine) Route(from, to string) (registry.Route, error) {
	if err := e.ready(); err != nil {
		return registry.Route{}, err
	}
	return newOracle(e.registry, nil).Route(from, to)
}
