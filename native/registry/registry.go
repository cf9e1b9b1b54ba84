package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// FeeDenominator expresses pool fee tiers in parts per million; 3000 is 0.3%.
const FeeDenominator = 1_000_000

// MaxDecimals bounds asset precision so 10^decimals fits comfortably in 256 bits
// alongside the fixed-point weights used for allocation.
const MaxDecimals = 36

var (
	ErrInvalidAsset     = errors.New("registry: invalid asset")
	ErrDuplicateAsset   = errors.New("registry: asset already registered")
	ErrUnknownAsset     = errors.New("registry: asset not supported")
	ErrNotBaseCurrency  = errors.New("registry: asset is not a supported base currency")
	ErrInvalidPool      = errors.New("registry: invalid pool")
	ErrDuplicatePool    = errors.New("registry: pool already registered")
	ErrNoRoute          = errors.New("registry: no route between assets")
	errRegistryNotReady = errors.New("registry: not initialised")
)

// Asset describes a supported token.
type Asset struct {
	Symbol   string
	Decimals uint8
}

// Pool links two assets at a fee tier. Pools are undirected.
type Pool struct {
	TokenA string
	TokenB string
	Fee    uint32
}

// Hop is one directed step of a route.
type Hop struct {
	TokenIn  string
	TokenOut string
	Fee      uint32
}

// Route is an ordered list of hops. An empty route converts an asset to itself.
type Route struct {
	Hops []Hop
}

// From returns the input asset of the route.
func (r Route) From() string {
	if len(r.Hops) == 0 {
		return ""
	}
	return r.Hops[0].TokenIn
}

// To returns the output asset of the route.
func (r Route) To() string {
	if len(r.Hops) == 0 {
		return ""
	}
	return r.Hops[len(r.Hops)-1].TokenOut
}

// Fee returns the compounded fee of every hop in parts per million.
func (r Route) Fee() uint32 {
	remaining := uint64(FeeDenominator)
	for _, hop := range r.Hops {
		remaining = remaining * (FeeDenominator - uint64(hop.Fee)) / FeeDenominator
	}
	return uint32(FeeDenominator - remaining)
}

func (r Route) String() string {
	if len(r.Hops) == 0 {
		return "(identity)"
	}
	parts := make([]string, 0, len(r.Hops)+1)
	parts = append(parts, r.Hops[0].TokenIn)
	for _, hop := range r.Hops {
		parts = append(parts, fmt.Sprintf("%s@%d", hop.TokenOut, hop.Fee))
	}
	return strings.Join(parts, "->")
}

// Registry holds the supported base currencies, assets and pools. It is
// populated at setup and afterwards only read by the fund engine.
type Registry struct {
	mu         sync.RWMutex
	assets     map[string]Asset
	assetOrder []string
	bases      map[string]struct{}
	baseOrder  []string
	pools      []Pool
	adjacency  map[string][]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		assets:    make(map[string]Asset),
		bases:     make(map[string]struct{}),
		adjacency: make(map[string][]int),
	}
}

// NormalizeSymbol canonicalises an asset symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// AddSupportedAsset registers an asset together with the pools that connect it
// to already registered assets.
func (r *Registry) AddSupportedAsset(asset Asset, pools ...Pool) error {
	if r == nil {
		return errRegistryNotReady
	}
	symbol := NormalizeSymbol(asset.Symbol)
	if symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidAsset)
	}
	if asset.Decimals > MaxDecimals {
		return fmt.Errorf("%w: %s decimals %d exceed %d", ErrInvalidAsset, symbol, asset.Decimals, MaxDecimals)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.assets[symbol]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAsset, symbol)
	}
	for _, pool := range pools {
		if err := r.checkPoolLocked(pool, symbol); err != nil {
			return err
		}
	}
	r.assets[symbol] = Asset{Symbol: symbol, Decimals: asset.Decimals}
	r.assetOrder = append(r.assetOrder, symbol)
	for _, pool := range pools {
		r.addPoolLocked(pool)
	}
	return nil
}

// AddPool registers a pool between two supported assets.
func (r *Registry) AddPool(pool Pool) error {
	if r == nil {
		return errRegistryNotReady
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPoolLocked(pool, ""); err != nil {
		return err
	}
	r.addPoolLocked(pool)
	return nil
}

// AddSupportedBaseCurrency marks a registered asset as usable as a fund's
// accounting unit.
func (r *Registry) AddSupportedBaseCurrency(symbol string) error {
	if r == nil {
		return errRegistryNotReady
	}
	normalized := NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[normalized]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, normalized)
	}
	if _, ok := r.bases[normalized]; ok {
		return nil
	}
	r.bases[normalized] = struct{}{}
	r.baseOrder = append(r.baseOrder, normalized)
	return nil
}

// checkPoolLocked validates a pool. pending names an asset being registered in
// the same call that counts as known.
func (r *Registry) checkPoolLocked(pool Pool, pending string) error {
	a := NormalizeSymbol(pool.TokenA)
	b := NormalizeSymbol(pool.TokenB)
	if a == "" || b == "" || a == b {
		return fmt.Errorf("%w: %q/%q", ErrInvalidPool, pool.TokenA, pool.TokenB)
	}
	if pool.Fee >= FeeDenominator {
		return fmt.Errorf("%w: fee %d out of range", ErrInvalidPool, pool.Fee)
	}
	for _, symbol := range []string{a, b} {
		if symbol == pending {
			continue
		}
		if _, ok := r.assets[symbol]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
		}
	}
	if pending != "" && a != pending && b != pending {
		return fmt.Errorf("%w: pool %s/%s does not involve %s", ErrInvalidPool, a, b, pending)
	}
	if _, ok := r.findPoolLocked(a, b); ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicatePool, a, b)
	}
	return nil
}

func (r *Registry) addPoolLocked(pool Pool) {
	normalized := Pool{TokenA: NormalizeSymbol(pool.TokenA), TokenB: NormalizeSymbol(pool.TokenB), Fee: pool.Fee}
	idx := len(r.pools)
	r.pools = append(r.pools, normalized)
	r.adjacency[normalized.TokenA] = append(r.adjacency[normalized.TokenA], idx)
	r.adjacency[normalized.TokenB] = append(r.adjacency[normalized.TokenB], idx)
}

func (r *Registry) findPoolLocked(a, b string) (Pool, bool) {
	for _, idx := range r.adjacency[a] {
		pool := r.pools[idx]
		if (pool.TokenA == a && pool.TokenB == b) || (pool.TokenA == b && pool.TokenB == a) {
			return pool, true
		}
	}
	return Pool{}, false
}

// Asset returns the registered asset.
func (r *Registry) Asset(symbol string) (Asset, error) {
	if r == nil {
		return Asset{}, errRegistryNotReady
	}
	normalized := NormalizeSymbol(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[normalized]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	return asset, nil
}

// IsSupported reports whether the asset is registered.
func (r *Registry) IsSupported(symbol string) bool {
	_, err := r.Asset(symbol)
	return err == nil
}

// IsBaseCurrency reports whether the asset may denominate a fund.
func (r *Registry) IsBaseCurrency(symbol string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bases[NormalizeSymbol(symbol)]
	return ok
}

// Assets lists registered assets in registration order.
func (r *Registry) Assets() []Asset {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Asset, 0, len(r.assetOrder))
	for _, symbol := range r.assetOrder {
		out = append(out, r.assets[symbol])
	}
	return out
}

// BaseCurrencies lists supported base currencies in registration order.
func (r *Registry) BaseCurrencies() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.baseOrder...)
}

// Pools lists registered pools in registration order.
func (r *Registry) Pools() []Pool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Pool(nil), r.pools...)
}

// Route returns the shortest route from one asset to another. Ties are broken
// by pool registration order so the same registry always yields the same
// route.
func (r *Registry) Route(from, to string) (Route, error) {
	if r == nil {
		return Route{}, errRegistryNotReady
	}
	src := NormalizeSymbol(from)
	dst := NormalizeSymbol(to)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, symbol := range []string{src, dst} {
		if _, ok := r.assets[symbol]; !ok {
			return Route{}, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
		}
	}
	if src == dst {
		return Route{}, nil
	}
	visited := map[string]routeStep{src: {pool: -1}}
	queue := []string{src}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, idx := range r.adjacency[current] {
			pool := r.pools[idx]
			next := pool.TokenA
			if next == current {
				next = pool.TokenB
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = routeStep{prev: current, pool: idx}
			if next == dst {
				return r.buildRoute(visited, src, dst), nil
			}
			queue = append(queue, next)
		}
	}
	return Route{}, fmt.Errorf("%w: %s -> %s", ErrNoRoute, src, dst)
}

type routeStep struct {
	prev string
	pool int
}

func (r *Registry) buildRoute(visited map[string]routeStep, src, dst string) Route {
	var hops []Hop
	for node := dst; node != src; {
		step := visited[node]
		hops = append(hops, Hop{TokenIn: step.prev, TokenOut: node, Fee: r.pools[step.pool].Fee})
		node = step.prev
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return Route{Hops: hops}
}

// PoolFee returns the fee charged converting between two assets. The lookup is
// symmetric; multi-hop routes report the compounded fee.
func (r *Registry) PoolFee(tokenA, tokenB string) (uint32, error) {
	a, b := NormalizeSymbol(tokenA), NormalizeSymbol(tokenB)
	if b < a {
		a, b = b, a
	}
	route, err := r.Route(a, b)
	if err != nil {
		return 0, err
	}
	return route.Fee(), nil
}
