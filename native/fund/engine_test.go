package fund_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"traderchain/core"
	"traderchain/core/events"
	"traderchain/crypto"
	nativecommon "traderchain/native/common"
	"traderchain/native/custody"
	"traderchain/native/exchange"
	"traderchain/native/fund"
	"traderchain/native/registry"
	"traderchain/storage"
)

const unitX = 1_000_000

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.EventType()
	}
	return out
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	backend  *core.LocalBackend
	engine   *fund.Engine
	registry *registry.Registry
	events   *recorder
	trader   crypto.Address
	investor crypto.Address
}

func account(label string) crypto.Address {
	return crypto.DeriveAddress(crypto.TRCPrefix, []byte(label))
}

func amount(v uint64) *uint256.Int { return uint256.NewInt(v) }

// newHarness builds a registry with base currency X and assets Y, W, V and Z.
// X/Y trades at 2 X per Y and Y/W at par on fixed-rate pools charging fee.
// X/V is registered but has no exchange pool; Z has no route at all.
func newHarness(t *testing.T, fee uint32) *harness {
	t.Helper()
	return newPoolHarness(t, fee, exchange.KindFixedRate, 500_000*unitX)
}

// newCurveHarness is newHarness over constant-product pools holding depth Y:
// X/Y starts at 2 X per Y and Y/W at par, and every swap moves the price.
func newCurveHarness(t *testing.T, fee uint32, depth uint64) *harness {
	t.Helper()
	return newPoolHarness(t, fee, exchange.KindConstantProduct, depth)
}

func newPoolHarness(t *testing.T, fee uint32, kind exchange.PoolKind, depth uint64) *harness {
	t.Helper()
	ctx := context.Background()
	reg := registry.New()
	for _, symbol := range []string{"X", "Y", "W", "V", "Z"} {
		if err := reg.AddSupportedAsset(registry.Asset{Symbol: symbol, Decimals: 6}); err != nil {
			t.Fatalf("add asset: %v", err)
		}
	}
	for _, pool := range []registry.Pool{
		{TokenA: "X", TokenB: "Y", Fee: fee},
		{TokenA: "Y", TokenB: "W", Fee: fee},
		{TokenA: "X", TokenB: "V", Fee: fee},
	} {
		if err := reg.AddPool(pool); err != nil {
			t.Fatalf("add pool: %v", err)
		}
	}
	if err := reg.AddSupportedBaseCurrency("X"); err != nil {
		t.Fatalf("add base: %v", err)
	}

	backend := core.NewLocalBackend(storage.NewMemDB())
	lp := account("lp")
	err := backend.UpdateLocal(ctx, func(tx *core.Tx) error {
		for _, asset := range []string{"X", "Y", "W"} {
			if err := tx.Ledger().Credit(lp, asset, amount(1_000_000_000_000)); err != nil {
				return err
			}
		}
		seeds := []struct {
			spec               exchange.PoolSpec
			reserveA, reserveB uint64
		}{
			{exchange.PoolSpec{TokenA: "X", TokenB: "Y", Kind: kind, Fee: fee}, 2 * depth, depth},
			{exchange.PoolSpec{TokenA: "Y", TokenB: "W", Kind: kind, Fee: fee}, depth, depth},
		}
		if kind == exchange.KindFixedRate {
			seeds[0].spec.RateA, seeds[0].spec.RateB = amount(2), amount(1)
			seeds[1].spec.RateA, seeds[1].spec.RateB = amount(1), amount(1)
			seeds[0].reserveA = depth
		}
		for _, seed := range seeds {
			if _, err := tx.Router().CreatePool(seed.spec); err != nil {
				return err
			}
			if _, err := tx.Router().AddLiquidity(ctx, lp, seed.spec.TokenA, seed.spec.TokenB, amount(seed.reserveA), amount(seed.reserveB)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed exchange: %v", err)
	}

	engine := fund.NewEngine(reg, backend)
	rec := &recorder{}
	engine.SetEmitter(rec)
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	h := &harness{
		t:        t,
		ctx:      ctx,
		backend:  backend,
		engine:   engine,
		registry: reg,
		events:   rec,
		trader:   account("trader"),
		investor: account("investor"),
	}
	h.credit(h.investor, "X", 1_000*unitX)
	return h
}

func (h *harness) credit(addr crypto.Address, asset string, v uint64) {
	h.t.Helper()
	err := h.backend.UpdateLocal(h.ctx, func(tx *core.Tx) error {
		return tx.Ledger().Credit(addr, asset, amount(v))
	})
	if err != nil {
		h.t.Fatalf("credit: %v", err)
	}
}

func (h *harness) balance(addr crypto.Address, asset string) uint64 {
	h.t.Helper()
	var out *uint256.Int
	err := h.backend.ViewLocal(h.ctx, func(tx *core.Tx) error {
		var err error
		out, err = tx.Ledger().Balance(addr, asset)
		return err
	})
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return out.Uint64()
}

func (h *harness) createFund() *fund.Fund {
	h.t.Helper()
	f, err := h.engine.CreateFund(h.ctx, h.trader, "X")
	if err != nil {
		h.t.Fatalf("create fund: %v", err)
	}
	return f
}

func (h *harness) buy(id uint64, who crypto.Address, asset string, v uint64) uint64 {
	h.t.Helper()
	shares, err := h.engine.BuyShares(h.ctx, id, who, asset, amount(v))
	if err != nil {
		h.t.Fatalf("buy shares: %v", err)
	}
	return shares.Uint64()
}

func (h *harness) held(id uint64, asset string) uint64 {
	h.t.Helper()
	v, err := h.engine.AssetAmount(h.ctx, id, asset)
	if err != nil {
		h.t.Fatalf("asset amount: %v", err)
	}
	return v.Uint64()
}

func (h *harness) nav(id uint64) uint64 {
	h.t.Helper()
	v, err := h.engine.NAV(h.ctx, id)
	if err != nil {
		h.t.Fatalf("nav: %v", err)
	}
	return v.Uint64()
}

func (h *harness) totalShares(id uint64) uint64 {
	h.t.Helper()
	v, err := h.engine.TotalShares(h.ctx, id)
	if err != nil {
		h.t.Fatalf("total shares: %v", err)
	}
	return v.Uint64()
}

func (h *harness) shares(id uint64, who crypto.Address) uint64 {
	h.t.Helper()
	v, err := h.engine.InvestorShares(h.ctx, id, who)
	if err != nil {
		h.t.Fatalf("investor shares: %v", err)
	}
	return v.Uint64()
}

// requireReconciled checks vault balances against holdings and positions
// against total shares.
func (h *harness) requireReconciled(id uint64) {
	h.t.Helper()
	report, err := h.engine.Reconcile(h.ctx, id)
	if err != nil {
		h.t.Fatalf("reconcile: %v", err)
	}
	if !report.Clean {
		h.t.Fatalf("fund %d out of balance: %s", id, report.Summary())
	}
	f, err := h.engine.Fund(h.ctx, id)
	if err != nil {
		h.t.Fatalf("fund: %v", err)
	}
	for _, holding := range f.Holdings {
		if got := h.balance(f.Vault, holding.Asset); got != holding.Amount.Uint64() {
			h.t.Fatalf("vault holds %d %s, ledger tracks %s", got, holding.Asset, holding.Amount)
		}
	}
}

func TestBootstrapDepositIssuesShares(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	if f.ID != 1 {
		t.Fatalf("expected first fund id 1, got %d", f.ID)
	}
	price, err := h.engine.SharePrice(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	if price.Uint64() != unitX {
		t.Fatalf("empty fund must price shares at one unit, got %s", price)
	}

	issued := h.buy(f.ID, h.investor, "X", 100*unitX)
	if issued != 100_000_000 {
		t.Fatalf("expected 100000000 shares, got %d", issued)
	}
	price, err = h.engine.SharePrice(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	if price.Uint64() != 1_000_000 {
		t.Fatalf("expected share price 1000000, got %s", price)
	}
	if got := h.held(f.ID, "X"); got != 100*unitX {
		t.Fatalf("expected 100 X held, got %d", got)
	}
	if got := h.balance(h.investor, "X"); got != 900*unitX {
		t.Fatalf("expected investor to keep 900 X, got %d", got)
	}
	h.requireReconciled(f.ID)
}

func TestScenarioWithFees(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	h.buy(f.ID, h.investor, "X", 100*unitX)

	out, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "X", "Y", amount(50*unitX))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	// 50 X buys 25 Y before the 0.3% fee.
	if out.Uint64() != 24_925_000 {
		t.Fatalf("expected 24925000 Y, got %s", out)
	}
	if h.held(f.ID, "X") != 50*unitX || h.held(f.ID, "Y") != 24_925_000 {
		t.Fatalf("unexpected holdings after order")
	}
	navBefore := h.nav(f.ID)
	if navBefore != 99_850_000 {
		t.Fatalf("expected nav 99850000, got %d", navBefore)
	}

	issued := h.buy(f.ID, h.investor, "X", 100*unitX)
	// Weights split the deposit 50.075112 X / 49.924887 X->Y with a 1 sub-unit
	// remainder kept in X.
	if h.held(f.ID, "X") != 100_075_113 {
		t.Fatalf("expected 100075113 X, got %d", h.held(f.ID, "X"))
	}
	if h.held(f.ID, "Y") != 49_812_555 {
		t.Fatalf("expected 49812555 Y, got %d", h.held(f.ID, "Y"))
	}
	navAfter := h.nav(f.ID)
	if navAfter != 199_700_223 {
		t.Fatalf("expected nav 199700223, got %d", navAfter)
	}
	if want := (navAfter - navBefore) * unitX / 998_500; issued != want {
		t.Fatalf("expected %d shares, got %d", want, issued)
	}
	total := h.totalShares(f.ID)
	if total != 200_000_223 {
		t.Fatalf("expected 200000223 total shares, got %d", total)
	}

	half := h.shares(f.ID, h.investor) / 2
	before := h.balance(h.investor, "X")
	payout, err := h.engine.SellShares(h.ctx, f.ID, h.investor, amount(half), "X")
	if err != nil {
		t.Fatalf("sell shares: %v", err)
	}
	if payout.Uint64() != 99_700_672 {
		t.Fatalf("expected payout 99700672, got %s", payout)
	}
	fair := half * navAfter / total
	if payout.Uint64() >= fair {
		t.Fatalf("payout %s must be below the fee-free value %d", payout, fair)
	}
	if got := h.balance(h.investor, "X") - before; got != payout.Uint64() {
		t.Fatalf("investor received %d, engine reported %s", got, payout)
	}
	if got := h.totalShares(f.ID); got != total-half {
		t.Fatalf("expected %d shares outstanding, got %d", total-half, got)
	}
	if h.held(f.ID, "X") != 50_037_557 || h.held(f.ID, "Y") != 24_906_278 {
		t.Fatalf("unexpected holdings after redemption X=%d Y=%d", h.held(f.ID, "X"), h.held(f.ID, "Y"))
	}
	h.requireReconciled(f.ID)
}

func setupHalfAndHalf(t *testing.T, h *harness) *fund.Fund {
	t.Helper()
	f := h.createFund()
	h.buy(f.ID, h.investor, "X", 100*unitX)
	if _, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "X", "Y", amount(50*unitX)); err != nil {
		t.Fatalf("place order: %v", err)
	}
	return f
}

func TestRoundTripWithoutFeesIsExact(t *testing.T) {
	h := newHarness(t, 0)
	f := setupHalfAndHalf(t, h)
	if nav := h.nav(f.ID); nav != 100*unitX {
		t.Fatalf("expected nav 100 X, got %d", nav)
	}
	second := account("second")
	h.credit(second, "X", 100*unitX)
	issued := h.buy(f.ID, second, "X", 100*unitX)
	if issued != 100_000_000 {
		t.Fatalf("expected 100000000 shares at unchanged price, got %d", issued)
	}
	payout, err := h.engine.SellShares(h.ctx, f.ID, second, amount(issued), "X")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if payout.Uint64() != 100*unitX {
		t.Fatalf("expected exact round trip, got %s", payout)
	}
	h.requireReconciled(f.ID)
}

func TestRoundTripWithFeesLoses(t *testing.T) {
	h := newHarness(t, 3000)
	f := setupHalfAndHalf(t, h)
	second := account("second")
	h.credit(second, "X", 100*unitX)
	issued := h.buy(f.ID, second, "X", 100*unitX)
	payout, err := h.engine.SellShares(h.ctx, f.ID, second, amount(issued), "X")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if payout.Uint64() >= 100*unitX {
		t.Fatalf("expected fee drag on round trip, got %s", payout)
	}
}

func TestRedemptionWithoutFeesIsProportional(t *testing.T) {
	h := newHarness(t, 0)
	f := setupHalfAndHalf(t, h)
	navBefore := h.nav(f.ID)
	total := h.totalShares(f.ID)
	k := uint64(30_000_000)
	payout, err := h.engine.SellShares(h.ctx, f.ID, h.investor, amount(k), "X")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if want := k * navBefore / total; payout.Uint64() != want {
		t.Fatalf("expected %d, got %s", want, payout)
	}
	h.requireReconciled(f.ID)
}

func TestDepositDoesNotDiluteHolders(t *testing.T) {
	h := newHarness(t, 3000)
	f := setupHalfAndHalf(t, h)
	priceBefore, err := h.engine.SharePrice(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	second := account("second")
	h.credit(second, "Y", 40*unitX)
	h.buy(f.ID, second, "Y", 40*unitX)
	priceAfter, err := h.engine.SharePrice(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	// Only rounding of the truncated share price may move it down.
	if priceAfter.Uint64()+1 < priceBefore.Uint64() {
		t.Fatalf("share price fell from %s to %s", priceBefore, priceAfter)
	}
	h.requireReconciled(f.ID)
}

func TestPlaceOrderChangesExactlyTwoHoldings(t *testing.T) {
	h := newHarness(t, 3000)
	f := setupHalfAndHalf(t, h)
	if _, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "Y", "W", amount(5*unitX)); err != nil {
		t.Fatalf("order into W: %v", err)
	}
	before, err := h.engine.Fund(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	// W -> X routes through Y.
	out, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "W", "X", amount(unitX))
	if err != nil {
		t.Fatalf("multi-hop order: %v", err)
	}
	after, err := h.engine.Fund(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(after.Holdings) != 3 {
		t.Fatalf("expected X, Y and W holdings, got %d", len(after.Holdings))
	}
	for i, holding := range after.Holdings {
		prev := before.Holdings[i].Amount.Uint64()
		got := holding.Amount.Uint64()
		switch holding.Asset {
		case "W":
			if prev-got != unitX {
				t.Fatalf("W must drop by the order amount, %d -> %d", prev, got)
			}
		case "X":
			if got-prev != out.Uint64() {
				t.Fatalf("X must rise by the reported output, %d -> %d (out %s)", prev, got, out)
			}
		default:
			if got != prev {
				t.Fatalf("%s changed from %d to %d", holding.Asset, prev, got)
			}
		}
	}
	h.requireReconciled(f.ID)
}

func TestPlaceOrderValidation(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	h.buy(f.ID, h.investor, "X", 10*unitX)

	cases := []struct {
		name    string
		caller  crypto.Address
		in, out string
		amount  uint64
		target  error
	}{
		{"not trader", h.investor, "X", "Y", unitX, fund.ErrUnauthorized},
		{"too much", h.trader, "X", "Y", 11 * unitX, fund.ErrInsufficientHolding},
		{"same asset", h.trader, "X", "X", unitX, fund.ErrSameAsset},
		{"unknown asset", h.trader, "X", "FOO", unitX, fund.ErrUnsupportedAsset},
		{"zero", h.trader, "X", "Y", 0, fund.ErrZeroAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.PlaceOrder(h.ctx, f.ID, tc.caller, tc.in, tc.out, amount(tc.amount))
			if !errors.Is(err, fund.ErrValidation) || !errors.Is(err, tc.target) {
				t.Fatalf("expected validation error %v, got %v", tc.target, err)
			}
		})
	}
	if h.held(f.ID, "X") != 10*unitX || h.held(f.ID, "Y") != 0 {
		t.Fatalf("rejected orders must not touch holdings")
	}
}

func TestSellSharesValidation(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	issued := h.buy(f.ID, h.investor, "X", 10*unitX)
	if _, err := h.engine.SellShares(h.ctx, f.ID, h.investor, amount(issued+1), "X"); !errors.Is(err, fund.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if _, err := h.engine.SellShares(h.ctx, f.ID, account("stranger"), amount(1), "X"); !errors.Is(err, fund.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares for stranger, got %v", err)
	}
	if _, err := h.engine.SellShares(h.ctx, f.ID, h.investor, amount(1), "FOO"); !errors.Is(err, fund.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.engine.SellShares(h.ctx, 99, h.investor, amount(1), "X"); !errors.Is(err, fund.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if h.shares(f.ID, h.investor) != issued || h.totalShares(f.ID) != issued {
		t.Fatalf("rejected redemption must not change shares")
	}
}

func TestFullRedemptionEmptiesFund(t *testing.T) {
	h := newHarness(t, 0)
	f := setupHalfAndHalf(t, h)
	all := h.shares(f.ID, h.investor)
	payout, err := h.engine.SellShares(h.ctx, f.ID, h.investor, amount(all), "Y")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if payout.Uint64() != 50*unitX {
		t.Fatalf("expected 50 Y, got %s", payout)
	}
	if h.totalShares(f.ID) != 0 || h.nav(f.ID) != 0 {
		t.Fatalf("fund must be empty after full redemption")
	}
	h.requireReconciled(f.ID)
}

// setupDust leaves the fund from setupHalfAndHalf holding X, Y and a single
// sub-unit of W that no pool can convert after fees.
func setupDust(t *testing.T, h *harness) *fund.Fund {
	t.Helper()
	f := setupHalfAndHalf(t, h)
	if _, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "Y", "W", amount(h.held(f.ID, "Y"))); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if _, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "W", "Y", amount(h.held(f.ID, "W")-1)); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if got := h.held(f.ID, "W"); got != 1 {
		t.Fatalf("expected 1 W left, got %d", got)
	}
	return f
}

func TestFullRedemptionLeavesUnswappableDust(t *testing.T) {
	h := newHarness(t, 3000)
	f := setupDust(t, h)
	all := h.shares(f.ID, h.investor)
	before := h.balance(h.investor, "X")
	payout, err := h.engine.SellShares(h.ctx, f.ID, h.investor, amount(all), "X")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	// 50 X paid directly plus 24775673 Y sold at 2 X per Y less 0.3%.
	if payout.Uint64() != 99_402_691 {
		t.Fatalf("expected payout 99402691, got %s", payout)
	}
	if got := h.balance(h.investor, "X") - before; got != payout.Uint64() {
		t.Fatalf("investor received %d, engine reported %s", got, payout)
	}
	if h.totalShares(f.ID) != 0 || h.shares(f.ID, h.investor) != 0 {
		t.Fatalf("full redemption must burn every share")
	}
	if h.held(f.ID, "X") != 0 || h.held(f.ID, "Y") != 0 || h.held(f.ID, "W") != 1 {
		t.Fatalf("expected only the W dust to remain, got X=%d Y=%d W=%d", h.held(f.ID, "X"), h.held(f.ID, "Y"), h.held(f.ID, "W"))
	}
	h.requireReconciled(f.ID)
}

func TestDepositKeepsUnswappablePortionInDepositAsset(t *testing.T) {
	h := newHarness(t, 3000)
	f := setupDust(t, h)
	priceBefore, err := h.engine.SharePrice(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	heldX := h.held(f.ID, "X")
	second := account("second")
	h.credit(second, "X", 100*unitX)
	if issued := h.buy(f.ID, second, "X", 100*unitX); issued == 0 {
		t.Fatalf("expected shares for the deposit")
	}
	if got := h.held(f.ID, "W"); got != 1 {
		t.Fatalf("dust holding must not change, got %d W", got)
	}
	if h.held(f.ID, "X") <= heldX {
		t.Fatalf("expected the X portion to grow")
	}
	priceAfter, err := h.engine.SharePrice(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	if priceAfter.Uint64()+1 < priceBefore.Uint64() {
		t.Fatalf("share price fell from %s to %s", priceBefore, priceAfter)
	}
	h.requireReconciled(f.ID)
}

func TestBuySharesFailsAtomically(t *testing.T) {
	h := newHarness(t, 3000)
	f := setupHalfAndHalf(t, h)
	h.credit(h.investor, "V", 10*unitX)
	before, err := h.engine.Fund(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	// V -> X is registered but the exchange has no V pool.
	_, err = h.engine.BuyShares(h.ctx, f.ID, h.investor, "V", amount(10*unitX))
	if !errors.Is(err, fund.ErrExternalCall) || !errors.Is(err, exchange.ErrPoolNotFound) {
		t.Fatalf("expected external call failure, got %v", err)
	}
	after, err := h.engine.Fund(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(after.Holdings) != len(before.Holdings) || !after.TotalShares.Eq(before.TotalShares) {
		t.Fatalf("failed deposit changed the fund")
	}
	if got := h.balance(h.investor, "V"); got != 10*unitX {
		t.Fatalf("depositor must keep V, has %d", got)
	}
	h.requireReconciled(f.ID)
}

func TestBuySharesValidation(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	if _, err := h.engine.BuyShares(h.ctx, f.ID, h.investor, "X", new(uint256.Int)); !errors.Is(err, fund.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := h.engine.BuyShares(h.ctx, f.ID, h.investor, "FOO", amount(1)); !errors.Is(err, fund.ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	h.credit(h.investor, "Z", unitX)
	if _, err := h.engine.BuyShares(h.ctx, f.ID, h.investor, "Z", amount(unitX)); !errors.Is(err, registry.ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute for unpriceable asset, got %v", err)
	}
	poor := account("poor")
	_, err := h.engine.BuyShares(h.ctx, f.ID, poor, "X", amount(unitX))
	if !errors.Is(err, fund.ErrExternalCall) || !errors.Is(err, custody.ErrInsufficientBalance) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
}

func TestBootstrapWithNonBaseAsset(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	h.credit(h.investor, "Y", 10*unitX)
	issued := h.buy(f.ID, h.investor, "Y", 10*unitX)
	// 10 Y is worth 20 X at spot.
	if issued != 20*unitX {
		t.Fatalf("expected 20000000 shares, got %d", issued)
	}
	if h.held(f.ID, "Y") != 10*unitX || h.held(f.ID, "X") != 0 {
		t.Fatalf("bootstrap deposit must be held as deposited")
	}
}

func TestInvariantViolationHaltsFund(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	h.buy(f.ID, h.investor, "X", 10*unitX)
	// Someone pays the vault outside the engine.
	h.credit(f.Vault, "X", 1)

	_, err := h.engine.BuyShares(h.ctx, f.ID, h.investor, "X", amount(unitX))
	if !errors.Is(err, fund.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	halted, err := h.engine.Fund(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if !halted.Halted || halted.HaltReason == "" {
		t.Fatalf("fund must be halted with a reason")
	}
	if h.totalShares(f.ID) != 10*unitX {
		t.Fatalf("violating deposit must be discarded")
	}
	if _, err := h.engine.SellShares(h.ctx, f.ID, h.investor, amount(1), "X"); !errors.Is(err, fund.ErrFundHalted) {
		t.Fatalf("expected ErrFundHalted, got %v", err)
	}

	report, err := h.engine.Reconcile(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Clean || !report.Halted || len(report.Discrepancies) != 1 {
		t.Fatalf("expected one outstanding discrepancy, got %+v", report)
	}

	err = h.backend.UpdateLocal(h.ctx, func(tx *core.Tx) error {
		return tx.Ledger().Debit(f.Vault, "X", amount(1))
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	report, err = h.engine.Reconcile(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Clean || report.Halted {
		t.Fatalf("expected clean report resuming the fund, got %+v", report)
	}
	h.buy(f.ID, h.investor, "X", unitX)

	types := h.events.types()
	want := []string{events.TypeFundCreated, events.TypeFundSharesBought, events.TypeFundHalted, events.TypeFundResumed, events.TypeFundSharesBought}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestCreateFundValidationAndIndexes(t *testing.T) {
	h := newHarness(t, 3000)
	if _, err := h.engine.CreateFund(h.ctx, h.trader, "Y"); !errors.Is(err, fund.ErrUnsupportedBase) {
		t.Fatalf("expected ErrUnsupportedBase, got %v", err)
	}
	if _, err := h.engine.CreateFund(h.ctx, crypto.Address{}, "X"); !errors.Is(err, fund.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	first := h.createFund()
	second := h.createFund()
	other, err := h.engine.CreateFund(h.ctx, account("other"), "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != 1 || second.ID != 2 || other.ID != 3 {
		t.Fatalf("expected sequential ids, got %d %d %d", first.ID, second.ID, other.ID)
	}
	if other.BaseCurrency != "X" {
		t.Fatalf("base currency must be normalised, got %q", other.BaseCurrency)
	}
	if first.Vault.Equal(second.Vault) {
		t.Fatalf("funds must not share a vault")
	}
	if !first.CreatedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected creation time %v", first.CreatedAt)
	}
	ids, err := h.engine.TraderFunds(h.ctx, h.trader)
	if err != nil {
		t.Fatalf("trader funds: %v", err)
	}
	if fmt.Sprint(ids) != "[1 2]" {
		t.Fatalf("unexpected trader funds %v", ids)
	}
	all, err := h.engine.Funds(h.ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 funds, got %v (%v)", all, err)
	}
	if _, err := h.engine.Fund(h.ctx, 42); !errors.Is(err, fund.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	pauses := nativecommon.NewPauses("fund")
	h.engine.SetPauses(pauses)
	if _, err := h.engine.BuyShares(h.ctx, f.ID, h.investor, "X", amount(unitX)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := h.engine.CreateFund(h.ctx, h.trader, "X"); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	pauses.Set("fund", false)
	h.buy(f.ID, h.investor, "X", unitX)
}

func TestViewsPriceAssetsAndFees(t *testing.T) {
	h := newHarness(t, 3000)
	f := setupHalfAndHalf(t, h)
	price, err := h.engine.AssetPrice(h.ctx, "X", "Y", amount(unitX))
	if err != nil {
		t.Fatalf("asset price: %v", err)
	}
	if price.Uint64() != 2*unitX {
		t.Fatalf("expected 1 Y = 2 X, got %s", price)
	}
	v, err := h.engine.AssetValue(h.ctx, f.ID, "Y")
	if err != nil {
		t.Fatalf("asset value: %v", err)
	}
	if v.Uint64() != 49_850_000 {
		t.Fatalf("expected Y holding worth 49850000 X, got %s", v)
	}
	ab, err := h.engine.PoolFee("X", "Y")
	if err != nil {
		t.Fatalf("pool fee: %v", err)
	}
	ba, err := h.engine.PoolFee("Y", "X")
	if err != nil {
		t.Fatalf("pool fee: %v", err)
	}
	if ab != 3000 || ba != 3000 {
		t.Fatalf("expected symmetric 3000 fee, got %d/%d", ab, ba)
	}
	snap, err := h.engine.Snapshot(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Holdings) != 2 || snap.Holdings[0].Asset != "X" || snap.Holdings[1].Asset != "Y" {
		t.Fatalf("holdings must keep acquisition order, got %+v", snap.Holdings)
	}
}

func TestSlippageToleranceRejectsThinOutput(t *testing.T) {
	h := newHarness(t, 3000)
	f := h.createFund()
	h.buy(f.ID, h.investor, "X", 10*unitX)
	if err := h.engine.SetSlippageTolerance(10_000); err == nil {
		t.Fatalf("expected out of range tolerance to fail")
	}
	if err := h.engine.SetSlippageTolerance(50); err != nil {
		t.Fatalf("set tolerance: %v", err)
	}
	// Fixed-rate pools fill at the quoted price, so a 0.5% tolerance passes.
	if _, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "X", "Y", amount(unitX)); err != nil {
		t.Fatalf("place order: %v", err)
	}
}

func TestConcurrentDepositsKeepInvariants(t *testing.T) {
	h := newHarness(t, 3000)
	funds := []*fund.Fund{setupHalfAndHalf(t, h), setupHalfAndHalf(t, h)}
	investors := make([]crypto.Address, 8)
	for i := range investors {
		investors[i] = account(fmt.Sprintf("investor-%d", i))
		h.credit(investors[i], "X", 100*unitX)
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(investors))
	for i, investor := range investors {
		wg.Add(1)
		go func(i int, investor crypto.Address) {
			defer wg.Done()
			target := funds[i%len(funds)].ID
			if _, err := h.engine.BuyShares(h.ctx, target, investor, "X", amount(10*unitX)); err != nil {
				errs <- err
			}
		}(i, investor)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent deposit: %v", err)
	}
	for _, f := range funds {
		h.requireReconciled(f.ID)
	}
}

func TestLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	if err := reg.AddSupportedAsset(registry.Asset{Symbol: "X", Decimals: 6}); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	if err := reg.AddSupportedBaseCurrency("X"); err != nil {
		t.Fatalf("add base: %v", err)
	}
	ctx := context.Background()
	investor := account("investor")

	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	backend := core.NewLocalBackend(db)
	if err := backend.UpdateLocal(ctx, func(tx *core.Tx) error {
		return tx.Ledger().Credit(investor, "X", amount(5*unitX))
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	engine := fund.NewEngine(reg, backend)
	f, err := engine.CreateFund(ctx, account("trader"), "X")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.BuyShares(ctx, f.ID, investor, "X", amount(5*unitX)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	backend.Close()

	db, err = storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	backend = core.NewLocalBackend(db)
	defer backend.Close()
	engine = fund.NewEngine(reg, backend)
	shares, err := engine.InvestorShares(ctx, f.ID, investor)
	if err != nil {
		t.Fatalf("investor shares: %v", err)
	}
	if shares.Uint64() != 5*unitX {
		t.Fatalf("expected 5000000 shares after restart, got %s", shares)
	}
	next, err := engine.CreateFund(ctx, account("trader"), "X")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if next.ID != 2 {
		t.Fatalf("fund sequence must survive restart, got %d", next.ID)
	}
}

func TestCurveDepositMovesPriceWithoutDilution(t *testing.T) {
	h := newCurveHarness(t, 3000, 1_000*unitX)
	f := setupHalfAndHalf(t, h)
	priceBefore, err := h.engine.SharePrice(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	spotBefore, err := h.engine.AssetPrice(h.ctx, "X", "Y", amount(unitX))
	if err != nil {
		t.Fatalf("asset price: %v", err)
	}
	second := account("second")
	h.credit(second, "X", 400*unitX)
	h.buy(f.ID, second, "X", 400*unitX)
	spotAfter, err := h.engine.AssetPrice(h.ctx, "X", "Y", amount(unitX))
	if err != nil {
		t.Fatalf("asset price: %v", err)
	}
	if !spotAfter.Gt(spotBefore) {
		t.Fatalf("buying Y must raise its price, got %s then %s", spotBefore, spotAfter)
	}
	priceAfter, err := h.engine.SharePrice(h.ctx, f.ID)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	if priceAfter.Uint64()+1 < priceBefore.Uint64() {
		t.Fatalf("share price fell from %s to %s", priceBefore, priceAfter)
	}
	h.requireReconciled(f.ID)
}

func TestCurveRedemptionIsProportional(t *testing.T) {
	h := newCurveHarness(t, 3000, 1_000*unitX)
	f := setupHalfAndHalf(t, h)
	navBefore := h.nav(f.ID)
	total := h.totalShares(f.ID)
	heldX, heldY := h.held(f.ID, "X"), h.held(f.ID, "Y")
	k := uint64(30_000_000)
	payout, err := h.engine.SellShares(h.ctx, f.ID, h.investor, amount(k), "X")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if got, want := h.held(f.ID, "X"), heldX-heldX*k/total; got != want {
		t.Fatalf("expected %d X left, got %d", want, got)
	}
	if got, want := h.held(f.ID, "Y"), heldY-heldY*k/total; got != want {
		t.Fatalf("expected %d Y left, got %d", want, got)
	}
	if fair := k * navBefore / total; payout.Uint64() == 0 || payout.Uint64() >= fair {
		t.Fatalf("payout %s must be positive and below the spot value %d", payout, fair)
	}
	h.requireReconciled(f.ID)
}

func TestCurveRoundTripWithFeesLoses(t *testing.T) {
	h := newCurveHarness(t, 3000, 100_000*unitX)
	f := setupHalfAndHalf(t, h)
	second := account("second")
	h.credit(second, "X", 100*unitX)
	issued := h.buy(f.ID, second, "X", 100*unitX)
	payout, err := h.engine.SellShares(h.ctx, f.ID, second, amount(issued), "X")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if payout.Uint64() >= 100*unitX {
		t.Fatalf("expected fee drag on round trip, got %s", payout)
	}
	h.requireReconciled(f.ID)
}

func TestCurveSlippageToleranceRejectsPriceImpact(t *testing.T) {
	h := newCurveHarness(t, 3000, 1_000*unitX)
	f := h.createFund()
	h.buy(f.ID, h.investor, "X", 100*unitX)
	if err := h.engine.SetSlippageTolerance(50); err != nil {
		t.Fatalf("set tolerance: %v", err)
	}
	// 1 X against 2000 X of reserves moves the price by about 0.05%.
	if _, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "X", "Y", amount(unitX)); err != nil {
		t.Fatalf("place order: %v", err)
	}
	heldY := h.held(f.ID, "Y")
	// 50 X moves it by about 2.5%, past the 0.5% tolerance.
	_, err := h.engine.PlaceOrder(h.ctx, f.ID, h.trader, "X", "Y", amount(50*unitX))
	if !errors.Is(err, fund.ErrExternalCall) || !errors.Is(err, exchange.ErrSlippage) {
		t.Fatalf("expected slippage rejection, got %v", err)
	}
	if h.held(f.ID, "X") != 99*unitX || h.held(f.ID, "Y") != heldY {
		t.Fatalf("rejected order must not change holdings")
	}
	h.requireReconciled(f.ID)
}
