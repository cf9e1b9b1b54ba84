package fund

import (
	"fmt"

	"github.com/holiman/uint256"

	"traderchain/core/events"
	"traderchain/crypto"
)

// order converts amountIn of tokenIn held by the fund into tokenOut. Only the
// two holdings involved change.
func (op *operation) order(f *Fund, trader crypto.Address, tokenIn, tokenOut string, amountIn *uint256.Int) (*uint256.Int, error) {
	held := f.Held(tokenIn)
	if amountIn.Gt(held) {
		return nil, fmt.Errorf("%w: %w: hold %s %s, order needs %s", ErrValidation, ErrInsufficientHolding, held.Dec(), tokenIn, amountIn.Dec())
	}
	if err := f.debit(tokenIn, amountIn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	out, err := op.convert(tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	if err := f.credit(tokenOut, out); err != nil {
		return nil, err
	}
	op.emit(events.FundOrderPlaced{
		FundID:    f.ID,
		Trader:    trader,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  clone(amountIn),
		AmountOut: clone(out),
	})
	return out, nil
}
