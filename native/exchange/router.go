package exchange

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"traderchain/crypto"
	"traderchain/native/custody"
	"traderchain/native/registry"
)

// Storage abstracts the subset of state manager functionality required by the
// router.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	poolPrefix   = []byte("exchange/pool/")
	poolIndexKey = []byte("exchange/pool/index")
)

// pairKey orders the two symbols so either direction maps to the same pool.
func pairKey(tokenA, tokenB string) (string, string, []byte) {
	a, b := normalizeAsset(tokenA), normalizeAsset(tokenB)
	if b < a {
		a, b = b, a
	}
	key := make([]byte, 0, len(poolPrefix)+len(a)+1+len(b))
	key = append(key, poolPrefix...)
	key = append(key, a...)
	key = append(key, '/')
	key = append(key, b...)
	return a, b, key
}

// RouterAddress is the custody account holding every pool's reserves.
func RouterAddress() crypto.Address {
	return crypto.DeriveAddress(crypto.ModulePrefix, []byte("exchange/router"))
}

// Router is an in-process trading venue. Pools and reserves live in the same
// key/value store as the custody ledger, so a swap commits or discards
// together with the operation that issued it.
type Router struct {
	store   Storage
	ledger  *custody.Ledger
	address crypto.Address
}

// NewRouter constructs a router bound to the provided storage and ledger.
func NewRouter(store Storage, ledger *custody.Ledger) *Router {
	return &Router{store: store, ledger: ledger, address: RouterAddress()}
}

// Address returns the account that must be approved before swapping.
func (r *Router) Address() crypto.Address { return r.address }

// CreatePool registers an empty pool.
func (r *Router) CreatePool(spec PoolSpec) (*Pool, error) {
	a, b, key := pairKey(spec.TokenA, spec.TokenB)
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("%w: pair %q/%q", ErrInvalidPool, spec.TokenA, spec.TokenB)
	}
	if spec.Fee >= FeeDenominator {
		return nil, fmt.Errorf("%w: fee %d", ErrInvalidPool, spec.Fee)
	}
	kind := spec.Kind
	if kind == "" {
		kind = KindConstantProduct
	}
	pool := &Pool{TokenA: a, TokenB: b, Kind: kind, Fee: spec.Fee, ReserveA: new(uint256.Int), ReserveB: new(uint256.Int), RateA: new(uint256.Int), RateB: new(uint256.Int)}
	switch kind {
	case KindConstantProduct:
	case KindFixedRate:
		if spec.RateA == nil || spec.RateB == nil || spec.RateA.IsZero() || spec.RateB.IsZero() {
			return nil, fmt.Errorf("%w: fixed-rate pool requires both rates", ErrInvalidPool)
		}
		rateA, rateB := spec.RateA, spec.RateB
		if normalizeAsset(spec.TokenA) != a {
			rateA, rateB = rateB, rateA
		}
		pool.RateA = new(uint256.Int).Set(rateA)
		pool.RateB = new(uint256.Int).Set(rateB)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPool, kind)
	}
	var existing storedPool
	ok, err := r.store.KVGet(key, &existing)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPoolExists, a, b)
	}
	if err := r.putPool(key, pool); err != nil {
		return nil, err
	}
	if err := r.store.KVAppend(poolIndexKey, key); err != nil {
		return nil, err
	}
	return pool.Copy(), nil
}

// AddLiquidity moves tokens from provider into the pool's reserves.
func (r *Router) AddLiquidity(ctx context.Context, provider crypto.Address, tokenA, tokenB string, amountA, amountB *uint256.Int) (*Pool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pool, key, err := r.loadPool(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	if pool.TokenA != normalizeAsset(tokenA) {
		amountA, amountB = amountB, amountA
	}
	for _, leg := range []struct {
		token   string
		amount  *uint256.Int
		reserve *uint256.Int
	}{{pool.TokenA, amountA, pool.ReserveA}, {pool.TokenB, amountB, pool.ReserveB}} {
		if leg.amount == nil || leg.amount.IsZero() {
			continue
		}
		if err := r.ledger.Transfer(provider, r.address, leg.token, leg.amount); err != nil {
			return nil, err
		}
		if _, overflow := leg.reserve.AddOverflow(leg.reserve, leg.amount); overflow {
			return nil, ErrOverflow
		}
	}
	if err := r.putPool(key, pool); err != nil {
		return nil, err
	}
	return pool.Copy(), nil
}

// Pool returns the pool trading the two assets.
func (r *Router) Pool(tokenA, tokenB string) (*Pool, error) {
	pool, _, err := r.loadPool(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Pools lists every pool in creation order.
func (r *Router) Pools() ([]*Pool, error) {
	var keys [][]byte
	if err := r.store.KVGetList(poolIndexKey, &keys); err != nil {
		return nil, err
	}
	out := make([]*Pool, 0, len(keys))
	for _, key := range keys {
		var stored storedPool
		ok, err := r.store.KVGet(key, &stored)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		pool, err := stored.pool()
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, nil
}

// Quote values amountIn along the route at the pools' current mid price. No
// fee is deducted and no state changes.
func (r *Router) Quote(ctx context.Context, route registry.Route, amountIn *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amountIn == nil {
		return nil, ErrInvalidAmount
	}
	if err := validateRoute(route); err != nil {
		return nil, err
	}
	amount := new(uint256.Int).Set(amountIn)
	for _, hop := range route.Hops {
		if amount.IsZero() {
			return amount, nil
		}
		pool, _, err := r.loadPool(hop.TokenIn, hop.TokenOut)
		if err != nil {
			return nil, err
		}
		amount, err = spot(pool, hop.TokenIn, amount)
		if err != nil {
			return nil, err
		}
	}
	return amount, nil
}

// QuoteOut returns what Swap would deliver for amountIn along the route: pool
// fees and price impact included, nothing written. Zero means some hop buys
// nothing.
func (r *Router) QuoteOut(ctx context.Context, route registry.Route, amountIn *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amountIn == nil {
		return nil, ErrInvalidAmount
	}
	if err := validateRoute(route); err != nil {
		return nil, err
	}
	touched := make(map[string]*Pool, len(route.Hops))
	amount := new(uint256.Int).Set(amountIn)
	for _, hop := range route.Hops {
		if amount.IsZero() {
			return amount, nil
		}
		_, _, key := pairKey(hop.TokenIn, hop.TokenOut)
		pool, ok := touched[string(key)]
		if !ok {
			loaded, _, err := r.loadPool(hop.TokenIn, hop.TokenOut)
			if err != nil {
				return nil, err
			}
			pool = loaded
			touched[string(key)] = pool
		}
		if pool.Fee != hop.Fee {
			return nil, fmt.Errorf("%w: %s/%s pool charges %d, route says %d", ErrFeeMismatch, pool.TokenA, pool.TokenB, pool.Fee, hop.Fee)
		}
		out, err := fill(pool, hop.TokenIn, amount)
		if err != nil {
			return nil, err
		}
		if err := settle(pool, hop.TokenIn, amount, out); err != nil {
			return nil, err
		}
		amount = out
	}
	return amount, nil
}

// Swap pulls amountIn of the route's first asset from payer, trades it hop by
// hop and delivers the proceeds to recipient. The router must hold an
// allowance from payer.
func (r *Router) Swap(ctx context.Context, route registry.Route, amountIn, minAmountOut *uint256.Int, payer, recipient crypto.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return nil, ErrInvalidAmount
	}
	if len(route.Hops) == 0 {
		return nil, fmt.Errorf("%w: swap requires at least one hop", ErrInvalidRoute)
	}
	if err := validateRoute(route); err != nil {
		return nil, err
	}
	for _, hop := range route.Hops {
		pool, _, err := r.loadPool(hop.TokenIn, hop.TokenOut)
		if err != nil {
			return nil, err
		}
		if pool.Fee != hop.Fee {
			return nil, fmt.Errorf("%w: %s/%s pool charges %d, route says %d", ErrFeeMismatch, pool.TokenA, pool.TokenB, pool.Fee, hop.Fee)
		}
	}
	if err := r.ledger.TransferFrom(r.address, payer, r.address, route.From(), amountIn); err != nil {
		return nil, err
	}
	amount := new(uint256.Int).Set(amountIn)
	for _, hop := range route.Hops {
		pool, key, err := r.loadPool(hop.TokenIn, hop.TokenOut)
		if err != nil {
			return nil, err
		}
		out, err := execute(pool, hop.TokenIn, amount)
		if err != nil {
			return nil, err
		}
		if err := r.putPool(key, pool); err != nil {
			return nil, err
		}
		amount = out
	}
	if minAmountOut != nil && amount.Lt(minAmountOut) {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrSlippage, amount.Dec(), minAmountOut.Dec())
	}
	if err := r.ledger.Transfer(r.address, recipient, route.To(), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (r *Router) loadPool(tokenA, tokenB string) (*Pool, []byte, error) {
	if r == nil || r.store == nil {
		return nil, nil, fmt.Errorf("exchange: router not initialised")
	}
	a, b, key := pairKey(tokenA, tokenB)
	var stored storedPool
	ok, err := r.store.KVGet(key, &stored)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrPoolNotFound, a, b)
	}
	pool, err := stored.pool()
	if err != nil {
		return nil, nil, err
	}
	return pool, key, nil
}

func (r *Router) putPool(key []byte, pool *Pool) error {
	return r.store.KVPut(key, pool.stored())
}

func validateRoute(route registry.Route) error {
	for i, hop := range route.Hops {
		if normalizeAsset(hop.TokenIn) == normalizeAsset(hop.TokenOut) {
			return fmt.Errorf("%w: hop %d trades %s for itself", ErrInvalidRoute, i, hop.TokenIn)
		}
		if i > 0 && normalizeAsset(route.Hops[i-1].TokenOut) != normalizeAsset(hop.TokenIn) {
			return fmt.Errorf("%w: hop %d does not continue from %s", ErrInvalidRoute, i, route.Hops[i-1].TokenOut)
		}
	}
	return nil
}
