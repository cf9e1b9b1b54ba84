package fund

import (
	"context"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"traderchain/crypto"
	"traderchain/native/registry"
)

// Holding is one tracked asset balance of a fund.
type Holding struct {
	Asset  string
	Amount *uint256.Int
}

// Fund is the accounting record of a managed asset basket.
type Fund struct {
	ID           uint64
	Trader       crypto.Address
	BaseCurrency string
	Vault        crypto.Address
	TotalShares  *uint256.Int
	// Holdings keeps assets in order of first acquisition. Entries are never
	// removed, so a fully sold asset stays in place with a zero amount.
	Holdings   []Holding
	Halted     bool
	HaltReason string
	CreatedAt  time.Time
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (f *Fund) Copy() *Fund {
	if f == nil {
		return nil
	}
	c := *f
	c.TotalShares = clone(f.TotalShares)
	c.Holdings = make([]Holding, len(f.Holdings))
	for i, h := range f.Holdings {
		c.Holdings[i] = Holding{Asset: h.Asset, Amount: clone(h.Amount)}
	}
	return &c
}

// Held returns the tracked amount of asset, zero when the fund never held it.
func (f *Fund) Held(asset string) *uint256.Int {
	if idx := f.holdingIndex(asset); idx >= 0 {
		return clone(f.Holdings[idx].Amount)
	}
	return zero()
}

func (f *Fund) holdingIndex(asset string) int {
	symbol := registry.NormalizeSymbol(asset)
	for i := range f.Holdings {
		if f.Holdings[i].Asset == symbol {
			return i
		}
	}
	return -1
}

// credit adds amount to the asset's holding, appending the asset when it is
// new to the fund.
func (f *Fund) credit(asset string, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	idx := f.holdingIndex(asset)
	if idx < 0 {
		f.Holdings = append(f.Holdings, Holding{Asset: registry.NormalizeSymbol(asset), Amount: clone(amount)})
		return nil
	}
	next, err := checkedAdd(f.Holdings[idx].Amount, amount)
	if err != nil {
		return err
	}
	f.Holdings[idx].Amount = next
	return nil
}

func (f *Fund) debit(asset string, amount *uint256.Int) error {
	idx := f.holdingIndex(asset)
	if idx < 0 {
		if amount.IsZero() {
			return nil
		}
		return ErrInsufficientHolding
	}
	next, err := checkedSub(f.Holdings[idx].Amount, amount)
	if err != nil {
		return ErrInsufficientHolding
	}
	f.Holdings[idx].Amount = next
	return nil
}

// HoldingValue is a holding together with its value in the base currency.
type HoldingValue struct {
	Asset  string
	Amount *uint256.Int
	Value  *uint256.Int
}

// Snapshot is a point-in-time valuation of a fund.
type Snapshot struct {
	FundID       uint64
	BaseCurrency string
	NAV          *uint256.Int
	SharePrice   *uint256.Int
	TotalShares  *uint256.Int
	Holdings     []HoldingValue
	Halted       bool
	At           time.Time
}

// Discrepancy reports an asset whose tracked amount differs from custody.
type Discrepancy struct {
	Asset  string
	Ledger *uint256.Int
	Vault  *uint256.Int
}

// ReconcileReport summarises an invariant check.
type ReconcileReport struct {
	FundID        uint64
	Discrepancies []Discrepancy
	TotalShares   *uint256.Int
	PositionSum   *uint256.Int
	Clean         bool
	Halted        bool
}

// Vault is the custody account holding a fund's real balances.
type Vault interface {
	Address() crypto.Address
	HoldBalance(ctx context.Context, asset string) (*uint256.Int, error)
	TransferIn(ctx context.Context, asset string, amount *uint256.Int, from crypto.Address) error
	TransferOut(ctx context.Context, asset string, amount *uint256.Int, to crypto.Address) error
	ApproveSpender(ctx context.Context, asset string, spender crypto.Address, amount *uint256.Int) error
}

// Exchange quotes and executes conversions along registry routes.
type Exchange interface {
	Address() crypto.Address
	Quote(ctx context.Context, route registry.Route, amountIn *uint256.Int) (*uint256.Int, error)
	QuoteOut(ctx context.Context, route registry.Route, amountIn *uint256.Int) (*uint256.Int, error)
	Swap(ctx context.Context, route registry.Route, amountIn, minAmountOut *uint256.Int, payer, recipient crypto.Address) (*uint256.Int, error)
}

// Tx is one unit of work. Everything reached through it commits together or
// not at all.
type Tx interface {
	Store() *Store
	VaultFor(fundID uint64) Vault
	Exchange() Exchange
}

// Backend runs units of work. View sees committed state and must not write;
// Update commits only when fn returns nil.
type Backend interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

type storedHolding struct {
	Asset  string
	Amount *big.Int
}

type storedFund struct {
	ID           uint64
	Trader       [20]byte
	BaseCurrency string
	Vault        [20]byte
	TotalShares  *big.Int
	Holdings     []storedHolding
	Halted       bool
	HaltReason   string
	CreatedAt    uint64
}

func newStoredFund(f *Fund) storedFund {
	stored := storedFund{
		ID:           f.ID,
		BaseCurrency: f.BaseCurrency,
		TotalShares:  clone(f.TotalShares).ToBig(),
		Holdings:     make([]storedHolding, len(f.Holdings)),
		Halted:       f.Halted,
		HaltReason:   f.HaltReason,
	}
	copy(stored.Trader[:], f.Trader.Bytes())
	copy(stored.Vault[:], f.Vault.Bytes())
	if !f.CreatedAt.IsZero() {
		stored.CreatedAt = uint64(f.CreatedAt.Unix())
	}
	for i, h := range f.Holdings {
		stored.Holdings[i] = storedHolding{Asset: h.Asset, Amount: clone(h.Amount).ToBig()}
	}
	return stored
}

func (s storedFund) fund() (*Fund, error) {
	total, err := fromBig(s.TotalShares)
	if err != nil {
		return nil, err
	}
	f := &Fund{
		ID:           s.ID,
		Trader:       crypto.NewAddress(crypto.TRCPrefix, s.Trader[:]),
		BaseCurrency: s.BaseCurrency,
		Vault:        crypto.NewAddress(crypto.VaultPrefix, s.Vault[:]),
		TotalShares:  total,
		Holdings:     make([]Holding, len(s.Holdings)),
		Halted:       s.Halted,
		HaltReason:   s.HaltReason,
	}
	if s.CreatedAt > 0 {
		f.CreatedAt = time.Unix(int64(s.CreatedAt), 0).UTC()
	}
	for i, h := range s.Holdings {
		amount, err := fromBig(h.Amount)
		if err != nil {
			return nil, err
		}
		f.Holdings[i] = Holding{Asset: h.Asset, Amount: amount}
	}
	return f, nil
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return zero(), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}
