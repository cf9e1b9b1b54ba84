package exchange

import (
	"fmt"

	"github.com/holiman/uint256"
)

var feeDenominator = uint256.NewInt(FeeDenominator)

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func afterFee(amount *uint256.Int, fee uint32) (*uint256.Int, error) {
	keep := uint256.NewInt(uint64(FeeDenominator - fee))
	return mulDiv(amount, keep, feeDenominator)
}

// spot converts amountIn at the pool's mid price.
func spot(pool *Pool, tokenIn string, amountIn *uint256.Int) (*uint256.Int, error) {
	switch pool.Kind {
	case KindFixedRate:
		rateIn, rateOut := pool.rates(normalizeAsset(tokenIn))
		return mulDiv(amountIn, rateOut, rateIn)
	default:
		reserveIn, reserveOut := pool.reserves(normalizeAsset(tokenIn))
		if reserveIn.IsZero() || reserveOut.IsZero() {
			return nil, fmt.Errorf("%w: %s/%s has no reserves", ErrInsufficientLiquidity, pool.TokenA, pool.TokenB)
		}
		return mulDiv(amountIn, reserveOut, reserveIn)
	}
}

// fill computes the output of trading amountIn against the pool after the pool
// fee without touching reserves. A zero result means the trade buys nothing.
func fill(pool *Pool, tokenIn string, amountIn *uint256.Int) (*uint256.Int, error) {
	tokenIn = normalizeAsset(tokenIn)
	reserveIn, reserveOut := pool.reserves(tokenIn)
	var out *uint256.Int
	switch pool.Kind {
	case KindFixedRate:
		gross, err := spot(pool, tokenIn, amountIn)
		if err != nil {
			return nil, err
		}
		if out, err = afterFee(gross, pool.Fee); err != nil {
			return nil, err
		}
	default:
		if reserveIn.IsZero() || reserveOut.IsZero() {
			return nil, fmt.Errorf("%w: %s/%s has no reserves", ErrInsufficientLiquidity, pool.TokenA, pool.TokenB)
		}
		effective, err := afterFee(amountIn, pool.Fee)
		if err != nil {
			return nil, err
		}
		denominator, overflow := new(uint256.Int).AddOverflow(reserveIn, effective)
		if overflow {
			return nil, ErrOverflow
		}
		if out, err = mulDiv(effective, reserveOut, denominator); err != nil {
			return nil, err
		}
	}
	if out.Gt(reserveOut) {
		return nil, fmt.Errorf("%w: %s/%s cannot pay %s", ErrInsufficientLiquidity, pool.TokenA, pool.TokenB, out.Dec())
	}
	return out, nil
}

// settle moves amountIn into the pool and out of it, in place.
func settle(pool *Pool, tokenIn string, amountIn, out *uint256.Int) error {
	reserveIn, reserveOut := pool.reserves(normalizeAsset(tokenIn))
	if _, overflow := reserveIn.AddOverflow(reserveIn, amountIn); overflow {
		return ErrOverflow
	}
	reserveOut.Sub(reserveOut, out)
	return nil
}

// execute trades amountIn against the pool, updating reserves in place, and
// returns the output after the pool fee.
func execute(pool *Pool, tokenIn string, amountIn *uint256.Int) (*uint256.Int, error) {
	out, err := fill(pool, tokenIn, amountIn)
	if err != nil {
		return nil, err
	}
	if out.IsZero() {
		return nil, fmt.Errorf("%w: %s of %s buys nothing", ErrInsufficientLiquidity, amountIn.Dec(), normalizeAsset(tokenIn))
	}
	if err := settle(pool, tokenIn, amountIn, out); err != nil {
		return nil, err
	}
	return out, nil
}
