package fund

import (
	"fmt"

	"github.com/holiman/uint256"

	"traderchain/core/events"
	"traderchain/crypto"
)

// sell burns shares and pays the investor the same fraction of every holding,
// converted into payoutAsset. Truncation dust stays in the fund, as does any
// slice too small to buy payoutAsset after fees.
func (op *operation) sell(f *Fund, investor crypto.Address, shares *uint256.Int, payoutAsset string) (*uint256.Int, error) {
	position, err := op.store.Position(f.ID, investor)
	if err != nil {
		return nil, err
	}
	if shares.Gt(position) {
		return nil, fmt.Errorf("%w: %w: hold %s, requested %s", ErrValidation, ErrInsufficientShares, position.Dec(), shares.Dec())
	}
	totalBefore := clone(f.TotalShares)
	if shares.Gt(totalBefore) {
		return nil, fmt.Errorf("%w: position exceeds total shares", ErrInvariantViolation)
	}
	payout := zero()
	held := len(f.Holdings)
	for i := 0; i < held; i++ {
		h := f.Holdings[i]
		if h.Amount.IsZero() {
			continue
		}
		liquidate, err := mulDiv(h.Amount, shares, totalBefore)
		if err != nil {
			return nil, err
		}
		if liquidate.IsZero() {
			continue
		}
		proceeds := liquidate
		if h.Asset != payoutAsset {
			if proceeds, err = op.convertDust(h.Asset, payoutAsset, liquidate); err != nil {
				return nil, err
			}
			if proceeds.IsZero() {
				continue
			}
		}
		if err := f.debit(h.Asset, liquidate); err != nil {
			return nil, err
		}
		if payout, err = checkedAdd(payout, proceeds); err != nil {
			return nil, err
		}
	}
	if payout.IsZero() {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNoPayout)
	}
	if f.TotalShares, err = checkedSub(f.TotalShares, shares); err != nil {
		return nil, err
	}
	if err := op.store.SetPosition(f.ID, investor, new(uint256.Int).Sub(position, shares)); err != nil {
		return nil, err
	}
	if err := op.vault.TransferOut(op.ctx, payoutAsset, payout, investor); err != nil {
		return nil, fmt.Errorf("%w: transfer out: %w", ErrExternalCall, err)
	}
	op.emit(events.FundSharesSold{
		FundID:    f.ID,
		Investor:  investor,
		Shares:    clone(shares),
		Asset:     payoutAsset,
		AmountOut: clone(payout),
	})
	return payout, nil
}
