package core

import (
	"context"
	"errors"
	"sync"

	"traderchain/core/state"
	"traderchain/native/custody"
	"traderchain/native/exchange"
	"traderchain/native/fund"
	"traderchain/storage"
)

var errNilDatabase = errors.New("core: database not configured")

// Tx binds the fund ledger, custody ledger and exchange to one staged write
// set. Nothing written through a Tx reaches the database until the enclosing
// Update commits.
type Tx struct {
	manager *state.Manager
	store   *fund.Store
	ledger  *custody.Ledger
	router  *exchange.Router
}

func newTx(db storage.Database) *Tx {
	manager := state.NewManager(db)
	ledger := custody.NewLedger(manager)
	return &Tx{
		manager: manager,
		store:   fund.NewStore(manager),
		ledger:  ledger,
		router:  exchange.NewRouter(manager, ledger),
	}
}

// Store implements fund.Tx.
func (t *Tx) Store() *fund.Store { return t.store }

// VaultFor implements fund.Tx.
func (t *Tx) VaultFor(fundID uint64) fund.Vault {
	return custody.NewVault(t.ledger, custody.VaultAddress(fundID))
}

// Exchange implements fund.Tx.
func (t *Tx) Exchange() fund.Exchange { return t.router }

// Ledger exposes the custody ledger for administrative credits and balance
// queries.
func (t *Tx) Ledger() *custody.Ledger { return t.ledger }

// Router exposes the exchange for pool administration.
func (t *Tx) Router() *exchange.Router { return t.router }

// LocalBackend runs units of work against a single database. Writers are
// serialised so concurrent funds never interleave updates to shared exchange
// pools; readers observe only committed state.
type LocalBackend struct {
	db      storage.Database
	stateMu sync.RWMutex
}

// NewLocalBackend wraps the provided database.
func NewLocalBackend(db storage.Database) *LocalBackend {
	return &LocalBackend{db: db}
}

// View runs fn against committed state. Writes made by fn are dropped.
func (b *LocalBackend) View(ctx context.Context, fn func(fund.Tx) error) error {
	return b.ViewLocal(ctx, func(tx *Tx) error { return fn(tx) })
}

// Update runs fn and commits its writes in one batch when it returns nil.
func (b *LocalBackend) Update(ctx context.Context, fn func(fund.Tx) error) error {
	return b.UpdateLocal(ctx, func(tx *Tx) error { return fn(tx) })
}

// ViewLocal is View with access to the concrete transaction.
func (b *LocalBackend) ViewLocal(ctx context.Context, fn func(*Tx) error) error {
	if b == nil || b.db == nil {
		return errNilDatabase
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	overlay := storage.NewOverlay(b.db)
	defer overlay.Discard()
	return fn(newTx(overlay))
}

// UpdateLocal is Update with access to the concrete transaction.
func (b *LocalBackend) UpdateLocal(ctx context.Context, fn func(*Tx) error) error {
	if b == nil || b.db == nil {
		return errNilDatabase
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	overlay := storage.NewOverlay(b.db)
	if err := fn(newTx(overlay)); err != nil {
		overlay.Discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}

// Close releases the underlying database.
func (b *LocalBackend) Close() {
	if b == nil || b.db == nil {
		return
	}
	b.db.Close()
}
