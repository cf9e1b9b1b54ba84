package fund

import (
	"fmt"

	"github.com/holiman/uint256"
)

// wad is the fixed-point scale of allocation weights.
var wad = uint256.NewInt(1_000_000_000_000_000_000)

var ten = uint256.NewInt(10)

func zero() *uint256.Int { return new(uint256.Int) }

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return zero()
	}
	return new(uint256.Int).Set(v)
}

func checkedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return out, nil
}

func checkedSub(x, y *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return out, nil
}

// mulDiv computes floor(x*y/d) with a 512-bit intermediate product.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrArithmeticOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return out, nil
}

// oneUnit returns 10^decimals, the sub-unit count of one whole token.
func oneUnit(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(ten, uint256.NewInt(uint64(decimals)))
}
