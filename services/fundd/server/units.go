package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	errAmountRequired  = errors.New("amount required")
	errAmountNegative  = errors.New("amount must not be negative")
	errAmountPrecision = errors.New("amount precision exceeds asset decimals")
	errAmountRange     = errors.New("amount out of range")
)

// ToUnits converts a human-readable decimal amount into integer sub-units of
// an asset with the given decimals. Amounts that cannot be represented exactly
// are rejected rather than rounded.
func ToUnits(raw string, decimals uint8) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errAmountRequired
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if value.IsNegative() {
		return nil, errAmountNegative
	}
	scaled := value.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, errAmountPrecision
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, errAmountRange
	}
	return out, nil
}

// FromUnits renders integer sub-units as a decimal string.
func FromUnits(v *uint256.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}

// Amount is an API amount carrying both the exact integer value and its
// human-readable rendering.
type Amount struct {
	Units   string `json:"units"`
	Display string `json:"display"`
}

func newAmount(v *uint256.Int, decimals uint8) Amount {
	units := "0"
	if v != nil {
		units = v.Dec()
	}
	return Amount{Units: units, Display: FromUnits(v, decimals)}
}
