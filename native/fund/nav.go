package fund

import (
	"context"

	"github.com/holiman/uint256"
)

// valuation holds the base-currency value of each holding, index-aligned with
// Fund.Holdings, and their sum.
type valuation struct {
	values []*uint256.Int
	nav    *uint256.Int
}

// value prices every nonzero holding in the base currency.
func value(ctx context.Context, o *Oracle, f *Fund) (*valuation, error) {
	out := &valuation{values: make([]*uint256.Int, len(f.Holdings)), nav: zero()}
	for i, h := range f.Holdings {
		if h.Amount.IsZero() {
			out.values[i] = zero()
			continue
		}
		v, err := o.Value(ctx, h.Asset, f.BaseCurrency, h.Amount)
		if err != nil {
			return nil, err
		}
		out.values[i] = v
		if out.nav, err = checkedAdd(out.nav, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sharePrice is the base-currency value of one whole share. An empty fund
// prices shares at one unit of the base currency.
func sharePrice(nav, totalShares, unit *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return clone(unit), nil
	}
	return mulDiv(nav, unit, totalShares)
}
