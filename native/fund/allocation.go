package fund

import (
	"fmt"

	"github.com/holiman/uint256"

	"traderchain/core/events"
	"traderchain/crypto"
)

// buy pulls a deposit into the vault, spreads it across the current asset mix
// and credits the depositor with shares priced at the pre-deposit NAV.
func (op *operation) buy(f *Fund, unit *uint256.Int, depositor crypto.Address, tokenIn string, amountIn *uint256.Int) (*uint256.Int, error) {
	if _, err := op.oracle.Route(tokenIn, f.BaseCurrency); err != nil {
		return nil, err
	}
	before, err := value(op.ctx, op.oracle, f)
	if err != nil {
		return nil, err
	}
	if before.nav.IsZero() && !f.TotalShares.IsZero() {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrWorthlessFund)
	}
	priceBefore, err := sharePrice(before.nav, f.TotalShares, unit)
	if err != nil {
		return nil, err
	}
	if priceBefore.IsZero() {
		return nil, fmt.Errorf("%w: %w: share price rounds to zero", ErrValidation, ErrNoSharesIssued)
	}
	if err := op.vault.TransferIn(op.ctx, tokenIn, amountIn, depositor); err != nil {
		return nil, fmt.Errorf("%w: transfer in: %w", ErrExternalCall, err)
	}
	if err := op.allocate(f, tokenIn, amountIn, before); err != nil {
		return nil, err
	}
	after, err := value(op.ctx, op.oracle, f)
	if err != nil {
		return nil, err
	}
	if !after.nav.Gt(before.nav) {
		return nil, fmt.Errorf("%w: %w: nav did not increase", ErrValidation, ErrNoSharesIssued)
	}
	delta := new(uint256.Int).Sub(after.nav, before.nav)
	issued, err := mulDiv(delta, unit, priceBefore)
	if err != nil {
		return nil, err
	}
	if issued.IsZero() {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNoSharesIssued)
	}
	position, err := op.store.Position(f.ID, depositor)
	if err != nil {
		return nil, err
	}
	if position, err = checkedAdd(position, issued); err != nil {
		return nil, err
	}
	if f.TotalShares, err = checkedAdd(f.TotalShares, issued); err != nil {
		return nil, err
	}
	if err := op.store.SetPosition(f.ID, depositor, position); err != nil {
		return nil, err
	}
	op.emit(events.FundSharesBought{
		FundID:    f.ID,
		Investor:  depositor,
		Asset:     tokenIn,
		AmountIn:  clone(amountIn),
		Shares:    clone(issued),
		NAVBefore: before.nav,
		NAVAfter:  after.nav,
	})
	return issued, nil
}

// allocate splits amountIn across the holdings valued in before, weighted by
// their share of NAV. The truncation remainder stays in tokenIn, which is the
// only asset a deposit can newly introduce, together with any portion too
// small to buy its target asset after fees.
func (op *operation) allocate(f *Fund, tokenIn string, amountIn *uint256.Int, before *valuation) error {
	if before.nav.IsZero() {
		return f.credit(tokenIn, amountIn)
	}
	allocated := zero()
	held := len(before.values)
	for i := 0; i < held; i++ {
		v := before.values[i]
		if v.IsZero() {
			continue
		}
		weight, err := mulDiv(v, wad, before.nav)
		if err != nil {
			return err
		}
		portion, err := mulDiv(amountIn, weight, wad)
		if err != nil {
			return err
		}
		if portion.IsZero() {
			continue
		}
		asset := f.Holdings[i].Asset
		out := portion
		if asset != tokenIn {
			if out, err = op.convertDust(tokenIn, asset, portion); err != nil {
				return err
			}
			if out.IsZero() {
				continue
			}
		}
		if allocated, err = checkedAdd(allocated, portion); err != nil {
			return err
		}
		if err := f.credit(asset, out); err != nil {
			return err
		}
	}
	remainder, err := checkedSub(amountIn, allocated)
	if err != nil {
		return err
	}
	return f.credit(tokenIn, remainder)
}
