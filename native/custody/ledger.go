package custody

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"traderchain/crypto"
)

// Storage abstracts the subset of state manager functionality required by the
// custody ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var (
	ErrInvalidAmount         = errors.New("custody: amount must be positive")
	ErrInvalidAccount        = errors.New("custody: account required")
	ErrInsufficientBalance   = errors.New("custody: insufficient balance")
	ErrInsufficientAllowance = errors.New("custody: insufficient allowance")
	ErrBalanceOverflow       = errors.New("custody: balance overflow")
)

var (
	balancePrefix   = []byte("custody/balance/")
	allowancePrefix = []byte("custody/allowance/")
)

func balanceKey(account crypto.Address, asset string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+crypto.AddressLength+1+len(asset))
	buf = append(buf, balancePrefix...)
	buf = append(buf, account.Bytes()...)
	buf = append(buf, '/')
	buf = append(buf, normalizeAsset(asset)...)
	return buf
}

func allowanceKey(owner, spender crypto.Address, asset string) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+2*crypto.AddressLength+2+len(asset))
	buf = append(buf, allowancePrefix...)
	buf = append(buf, owner.Bytes()...)
	buf = append(buf, '/')
	buf = append(buf, spender.Bytes()...)
	buf = append(buf, '/')
	buf = append(buf, normalizeAsset(asset)...)
	return buf
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// VaultAddress returns the deterministic custody address of a fund.
func VaultAddress(fundID uint64) crypto.Address {
	return crypto.DeriveAddress(crypto.VaultPrefix, []byte("fund-vault/"+strconv.FormatUint(fundID, 10)))
}

// Ledger tracks per-account asset balances and spending allowances.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("custody: ledger not initialised")
	}
	var stored big.Int
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	value, overflow := uint256.FromBig(&stored)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return value, nil
}

func (l *Ledger) store256(key []byte, value *uint256.Int) error {
	if value.IsZero() {
		return l.store.KVDelete(key)
	}
	return l.store.KVPut(key, value.ToBig())
}

// Balance returns the amount of asset held by account.
func (l *Ledger) Balance(account crypto.Address, asset string) (*uint256.Int, error) {
	if account.IsZero() {
		return nil, ErrInvalidAccount
	}
	return l.load(balanceKey(account, asset))
}

// Credit mints amount of asset into account. It backs administrative deposits.
func (l *Ledger) Credit(account crypto.Address, asset string, amount *uint256.Int) error {
	if account.IsZero() {
		return ErrInvalidAccount
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	key := balanceKey(account, asset)
	balance, err := l.load(key)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return l.store256(key, next)
}

// Debit burns amount of asset from account.
func (l *Ledger) Debit(account crypto.Address, asset string, amount *uint256.Int) error {
	if account.IsZero() {
		return ErrInvalidAccount
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	key := balanceKey(account, asset)
	balance, err := l.load(key)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s %s, need %s", ErrInsufficientBalance, account, balance.Dec(), normalizeAsset(asset), amount.Dec())
	}
	return l.store256(key, new(uint256.Int).Sub(balance, amount))
}

// Transfer moves amount of asset between accounts.
func (l *Ledger) Transfer(from, to crypto.Address, asset string, amount *uint256.Int) error {
	if to.IsZero() {
		return ErrInvalidAccount
	}
	if err := l.Debit(from, asset, amount); err != nil {
		return err
	}
	return l.Credit(to, asset, amount)
}

// Approve sets the amount spender may pull from owner. A zero amount revokes
// the allowance.
func (l *Ledger) Approve(owner, spender crypto.Address, asset string, amount *uint256.Int) error {
	if owner.IsZero() || spender.IsZero() {
		return ErrInvalidAccount
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return l.store256(allowanceKey(owner, spender, asset), amount)
}

// Allowance returns the amount spender may still pull from owner.
func (l *Ledger) Allowance(owner, spender crypto.Address, asset string) (*uint256.Int, error) {
	if owner.IsZero() || spender.IsZero() {
		return nil, ErrInvalidAccount
	}
	return l.load(allowanceKey(owner, spender, asset))
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming the allowance.
func (l *Ledger) TransferFrom(spender, owner, recipient crypto.Address, asset string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	allowance, err := l.Allowance(owner, spender, asset)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: %s may spend %s %s of %s", ErrInsufficientAllowance, spender, allowance.Dec(), normalizeAsset(asset), owner)
	}
	if err := l.Transfer(owner, recipient, asset, amount); err != nil {
		return err
	}
	return l.store256(allowanceKey(owner, spender, asset), new(uint256.Int).Sub(allowance, amount))
}
