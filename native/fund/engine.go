package fund

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"traderchain/core/events"
	"traderchain/crypto"
	nativecommon "traderchain/native/common"
	"traderchain/native/registry"
)

const moduleName = "fund"

var (
	errNilBackend  = errors.New("fund engine: backend not configured")
	errNilRegistry = errors.New("fund engine: registry not configured")
)

// Engine runs fund accounting on top of a registry and a transactional
// backend. Mutations on the same fund are serialised; every mutation runs in a
// single unit of work and emits its events only after commit.
type Engine struct {
	registry    *registry.Registry
	backend     Backend
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	nowFn       func() time.Time
	tracer      trace.Tracer
	slippageBps uint32

	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex
}

// NewEngine constructs an engine reading the provided registry and persisting
// through backend.
func NewEngine(reg *registry.Registry, backend Backend) *Engine {
	return &Engine{
		registry: reg,
		backend:  backend,
		emitter:  events.NoopEmitter{},
		nowFn:    time.Now,
		tracer:   otel.Tracer("traderchain/native/fund"),
		locks:    make(map[uint64]*sync.Mutex),
	}
}

// SetEmitter configures the sink for fund events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses configures the pause switch consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the time source (primarily for deterministic testing).
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.nowFn = clock
}

// SetSlippageTolerance bounds every swap's output to the fee-adjusted spot
// quote minus bps basis points. Zero disables the bound.
func (e *Engine) SetSlippageTolerance(bps uint32) error {
	if bps >= bpsDenominator {
		return fmt.Errorf("fund engine: slippage tolerance %d bps out of range", bps)
	}
	e.slippageBps = bps
	return nil
}

// Registry exposes the engine's asset registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

func (e *Engine) ready() error {
	if e == nil || e.backend == nil {
		return errNilBackend
	}
	if e.registry == nil {
		return errNilRegistry
	}
	return nil
}

func (e *Engine) lockFund(id uint64) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[id]
	if !ok {
		mu = new(sync.Mutex)
		e.locks[id] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) newOperation(ctx context.Context, tx Tx) *operation {
	ex := tx.Exchange()
	return &operation{
		ctx:         ctx,
		store:       tx.Store(),
		oracle:      newOracle(e.registry, ex),
		exchange:    ex,
		slippageBps: e.slippageBps,
	}
}

func (e *Engine) emit(evts []events.Event) {
	for _, evt := range evts {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, fundID uint64) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "fund."+name, trace.WithAttributes(attribute.Int64("fund.id", int64(fundID))))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// unit returns one whole unit of the fund's base currency in sub-units.
func (e *Engine) unit(base string) (*uint256.Int, error) {
	asset, err := e.registry.Asset(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return oneUnit(asset.Decimals), nil
}

func (e *Engine) requireAsset(symbol string) (string, error) {
	normalized := registry.NormalizeSymbol(symbol)
	if !e.registry.IsSupported(normalized) {
		return "", fmt.Errorf("%w: %w: %q", ErrValidation, ErrUnsupportedAsset, symbol)
	}
	return normalized, nil
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: %w", ErrValidation, ErrZeroAmount)
	}
	return nil
}

func requireAddress(addr crypto.Address) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidAddress)
	}
	return nil
}

// mutate loads the fund, applies fn and commits when fn succeeds and the fund
// still reconciles with custody. A reconciliation failure discards fn's
// changes and halts the fund.
func (e *Engine) mutate(ctx context.Context, fundID uint64, fn func(op *operation, f *Fund) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	unlock := e.lockFund(fundID)
	defer unlock()

	var (
		violation *ReconcileReport
		collected []events.Event
	)
	err := e.backend.Update(ctx, func(tx Tx) error {
		op := e.newOperation(ctx, tx)
		f, err := op.store.GetFund(fundID)
		if err != nil {
			return err
		}
		if f.Halted {
			return fmt.Errorf("%w: %w: %s", ErrInvariantViolation, ErrFundHalted, f.HaltReason)
		}
		op.vault = tx.VaultFor(f.ID)
		if err := fn(op, f); err != nil {
			return err
		}
		report, err := reconcile(ctx, op.store, op.vault, f)
		if err != nil {
			return err
		}
		if !report.Clean {
			violation = report
			return fmt.Errorf("%w: fund %d: %s", ErrInvariantViolation, fundID, report.Summary())
		}
		if err := op.store.PutFund(f); err != nil {
			return err
		}
		collected = op.events
		return nil
	})
	if err != nil {
		if violation != nil {
			if haltErr := e.halt(ctx, fundID, violation.Summary()); haltErr != nil {
				return errors.Join(err, haltErr)
			}
		}
		return err
	}
	e.emit(collected)
	return nil
}

func (e *Engine) halt(ctx context.Context, fundID uint64, reason string) error {
	err := e.backend.Update(ctx, func(tx Tx) error {
		store := tx.Store()
		f, err := store.GetFund(fundID)
		if err != nil {
			return err
		}
		f.Halted = true
		f.HaltReason = reason
		return store.PutFund(f)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(events.FundHalted{FundID: fundID, Reason: reason})
	return nil
}

// CreateFund opens a fund owned by trader and denominated in baseCurrency.
func (e *Engine) CreateFund(ctx context.Context, trader crypto.Address, baseCurrency string) (created *Fund, err error) {
	ctx, span := e.startSpan(ctx, "CreateFund", 0)
	defer func() { endSpan(span, err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := requireAddress(trader); err != nil {
		return nil, err
	}
	base := registry.NormalizeSymbol(baseCurrency)
	if !e.registry.IsBaseCurrency(base) {
		return nil, fmt.Errorf("%w: %w: %q", ErrValidation, ErrUnsupportedBase, baseCurrency)
	}
	err = e.backend.Update(ctx, func(tx Tx) error {
		store := tx.Store()
		id, err := store.NextFundID()
		if err != nil {
			return err
		}
		f := &Fund{
			ID:           id,
			Trader:       trader,
			BaseCurrency: base,
			Vault:        tx.VaultFor(id).Address(),
			TotalShares:  zero(),
			CreatedAt:    e.nowFn().UTC().Truncate(time.Second),
		}
		if err := store.PutFund(f); err != nil {
			return err
		}
		created = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("fund.id", int64(created.ID)))
	e.emitter.Emit(events.FundCreated{FundID: created.ID, Trader: created.Trader, BaseCurrency: created.BaseCurrency, Vault: created.Vault})
	return created.Copy(), nil
}

// BuyShares deposits amountIn of tokenIn from depositor and returns the shares
// issued.
func (e *Engine) BuyShares(ctx context.Context, fundID uint64, depositor crypto.Address, tokenIn string, amountIn *uint256.Int) (issued *uint256.Int, err error) {
	ctx, span := e.startSpan(ctx, "BuyShares", fundID)
	defer func() { endSpan(span, err) }()
	if err := requireAddress(depositor); err != nil {
		return nil, err
	}
	if err := requirePositive(amountIn); err != nil {
		return nil, err
	}
	asset, err := e.requireAsset(tokenIn)
	if err != nil {
		return nil, err
	}
	err = e.mutate(ctx, fundID, func(op *operation, f *Fund) error {
		unit, err := e.unit(f.BaseCurrency)
		if err != nil {
			return err
		}
		issued, err = op.buy(f, unit, depositor, asset, amountIn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// PlaceOrder converts amountIn of tokenIn held by the fund into tokenOut. Only
// the fund's trader may call it.
func (e *Engine) PlaceOrder(ctx context.Context, fundID uint64, caller crypto.Address, tokenIn, tokenOut string, amountIn *uint256.Int) (amountOut *uint256.Int, err error) {
	ctx, span := e.startSpan(ctx, "PlaceOrder", fundID)
	defer func() { endSpan(span, err) }()
	if err := requireAddress(caller); err != nil {
		return nil, err
	}
	if err := requirePositive(amountIn); err != nil {
		return nil, err
	}
	in, err := e.requireAsset(tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := e.requireAsset(tokenOut)
	if err != nil {
		return nil, err
	}
	if in == out {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrSameAsset)
	}
	err = e.mutate(ctx, fundID, func(op *operation, f *Fund) error {
		if !bytes.Equal(f.Trader.Bytes(), caller.Bytes()) {
			return fmt.Errorf("%w: %w", ErrValidation, ErrUnauthorized)
		}
		amountOut, err = op.order(f, caller, in, out, amountIn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

// SellShares redeems shares held by investor and pays out in payoutAsset.
func (e *Engine) SellShares(ctx context.Context, fundID uint64, investor crypto.Address, shares *uint256.Int, payoutAsset string) (amountOut *uint256.Int, err error) {
	ctx, span := e.startSpan(ctx, "SellShares", fundID)
	defer func() { endSpan(span, err) }()
	if err := requireAddress(investor); err != nil {
		return nil, err
	}
	if err := requirePositive(shares); err != nil {
		return nil, err
	}
	payout, err := e.requireAsset(payoutAsset)
	if err != nil {
		return nil, err
	}
	err = e.mutate(ctx, fundID, func(op *operation, f *Fund) error {
		amountOut, err = op.sell(f, investor, shares, payout)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

// Reconcile checks the fund against custody and investor positions. A clean
// report resumes a halted fund; a dirty one halts it.
func (e *Engine) Reconcile(ctx context.Context, fundID uint64) (report *ReconcileReport, err error) {
	ctx, span := e.startSpan(ctx, "Reconcile", fundID)
	defer func() { endSpan(span, err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	unlock := e.lockFund(fundID)
	defer unlock()
	var evt events.Event
	err = e.backend.Update(ctx, func(tx Tx) error {
		store := tx.Store()
		f, err := store.GetFund(fundID)
		if err != nil {
			return err
		}
		report, err = reconcile(ctx, store, tx.VaultFor(f.ID), f)
		if err != nil {
			return err
		}
		switch {
		case report.Clean && f.Halted:
			f.Halted = false
			f.HaltReason = ""
			evt = events.FundResumed{FundID: f.ID}
		case !report.Clean && !f.Halted:
			f.Halted = true
			f.HaltReason = report.Summary()
			evt = events.FundHalted{FundID: f.ID, Reason: f.HaltReason}
		default:
			return nil
		}
		report.Halted = f.Halted
		return store.PutFund(f)
	})
	if err != nil {
		return nil, err
	}
	if evt != nil {
		e.emitter.Emit(evt)
	}
	return report, nil
}
