package exchange

import (
	"errors"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// PoolKind selects the pricing curve of a pool.
type PoolKind string

const (
	// KindConstantProduct prices along x*y=k, so trades move the price.
	KindConstantProduct PoolKind = "constant_product"
	// KindFixedRate converts at an administered rate until inventory runs out.
	KindFixedRate PoolKind = "fixed_rate"
)

// FeeDenominator matches the registry's parts-per-million fee tiers.
const FeeDenominator = 1_000_000

var (
	ErrPoolNotFound          = errors.New("exchange: pool not found")
	ErrPoolExists            = errors.New("exchange: pool already exists")
	ErrInvalidPool           = errors.New("exchange: invalid pool definition")
	ErrInvalidRoute          = errors.New("exchange: invalid route")
	ErrInvalidAmount         = errors.New("exchange: amount must be positive")
	ErrInsufficientLiquidity = errors.New("exchange: insufficient liquidity")
	ErrFeeMismatch           = errors.New("exchange: route fee does not match pool fee")
	ErrSlippage              = errors.New("exchange: output below minimum")
	ErrOverflow              = errors.New("exchange: arithmetic overflow")
)

// Pool is the live state of a trading pair. Reserves are the amounts the
// router holds in custody on behalf of the pool.
type Pool struct {
	TokenA   string
	TokenB   string
	Kind     PoolKind
	Fee      uint32
	ReserveA *uint256.Int
	ReserveB *uint256.Int
	// RateA and RateB define a fixed-rate pool's price: RateA units of TokenA
	// trade for RateB units of TokenB before fees.
	RateA *uint256.Int
	RateB *uint256.Int
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (p *Pool) Copy() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.ReserveA = cloneAmount(p.ReserveA)
	clone.ReserveB = cloneAmount(p.ReserveB)
	clone.RateA = cloneAmount(p.RateA)
	clone.RateB = cloneAmount(p.RateB)
	return &clone
}

// reserves returns the pool's reserves oriented for a trade from tokenIn.
func (p *Pool) reserves(tokenIn string) (in, out *uint256.Int) {
	if p.TokenA == tokenIn {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

func (p *Pool) rates(tokenIn string) (in, out *uint256.Int) {
	if p.TokenA == tokenIn {
		return p.RateA, p.RateB
	}
	return p.RateB, p.RateA
}

// PoolSpec describes a pool to create.
type PoolSpec struct {
	TokenA string
	TokenB string
	Kind   PoolKind
	Fee    uint32
	RateA  *uint256.Int
	RateB  *uint256.Int
}

type storedPool struct {
	TokenA   string
	TokenB   string
	Kind     string
	Fee      uint32
	ReserveA *big.Int
	ReserveB *big.Int
	RateA    *big.Int
	RateB    *big.Int
}

func (p *Pool) stored() storedPool {
	return storedPool{
		TokenA:   p.TokenA,
		TokenB:   p.TokenB,
		Kind:     string(p.Kind),
		Fee:      p.Fee,
		ReserveA: toBig(p.ReserveA),
		ReserveB: toBig(p.ReserveB),
		RateA:    toBig(p.RateA),
		RateB:    toBig(p.RateB),
	}
}

func (s storedPool) pool() (*Pool, error) {
	pool := &Pool{TokenA: s.TokenA, TokenB: s.TokenB, Kind: PoolKind(s.Kind), Fee: s.Fee}
	var err error
	if pool.ReserveA, err = fromBig(s.ReserveA); err != nil {
		return nil, err
	}
	if pool.ReserveB, err = fromBig(s.ReserveB); err != nil {
		return nil, err
	}
	if pool.RateA, err = fromBig(s.RateA); err != nil {
		return nil, err
	}
	if pool.RateB, err = fromBig(s.RateB); err != nil {
		return nil, err
	}
	return pool, nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
