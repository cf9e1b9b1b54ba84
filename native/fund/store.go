package fund

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"traderchain/crypto"
)

// Storage abstracts the subset of state manager functionality required by the
// fund ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	NextSequence(key []byte) (uint64, error)
}

var (
	fundRecordPrefix    = []byte("fund/record/")
	fundPositionPrefix  = []byte("fund/position/")
	fundInvestorsPrefix = []byte("fund/investors/")
	fundTraderPrefix    = []byte("fund/trader/")
	fundIndexKey        = []byte("fund/index")
	fundSequenceKey     = []byte("fund/seq")
)

func encodeID(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func withID(prefix []byte, id uint64) []byte {
	buf := make([]byte, 0, len(prefix)+8)
	buf = append(buf, prefix...)
	return append(buf, encodeID(id)...)
}

func fundRecordKey(id uint64) []byte { return withID(fundRecordPrefix, id) }

func fundInvestorsKey(id uint64) []byte { return withID(fundInvestorsPrefix, id) }

func fundPositionKey(id uint64, investor crypto.Address) []byte {
	key := withID(fundPositionPrefix, id)
	key = append(key, '/')
	return append(key, investor.Bytes()...)
}

func fundTraderKey(trader crypto.Address) []byte {
	key := make([]byte, 0, len(fundTraderPrefix)+crypto.AddressLength)
	key = append(key, fundTraderPrefix...)
	return append(key, trader.Bytes()...)
}

// Store is the durable fund ledger: one record per fund and one share
// position per (fund, investor).
type Store struct {
	store Storage
}

// NewStore constructs a ledger bound to the provided storage backend.
func NewStore(store Storage) *Store {
	return &Store{store: store}
}

func (s *Store) ready() error {
	if s == nil || s.store == nil {
		return fmt.Errorf("fund: store not initialised")
	}
	return nil
}

// NextFundID allocates the next sequential fund identifier, starting at 1.
func (s *Store) NextFundID() (uint64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.store.NextSequence(fundSequenceKey)
}

// PutFund writes the fund record. New funds are added to the global and
// trader indexes.
func (s *Store) PutFund(f *Fund) error {
	if err := s.ready(); err != nil {
		return err
	}
	if f == nil || f.ID == 0 {
		return fmt.Errorf("fund: record requires an id")
	}
	key := fundRecordKey(f.ID)
	exists, err := s.store.KVGet(key, nil)
	if err != nil {
		return err
	}
	if err := s.store.KVPut(key, newStoredFund(f)); err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.store.KVAppend(fundIndexKey, encodeID(f.ID)); err != nil {
		return err
	}
	return s.store.KVAppend(fundTraderKey(f.Trader), encodeID(f.ID))
}

// GetFund loads a fund record.
func (s *Store) GetFund(id uint64) (*Fund, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var stored storedFund
	ok, err := s.store.KVGet(fundRecordKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: fund %d", ErrNotFound, id)
	}
	return stored.fund()
}

// FundIDs lists every fund in creation order.
func (s *Store) FundIDs() ([]uint64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.idList(fundIndexKey)
}

// TraderFunds lists the funds opened by trader in creation order.
func (s *Store) TraderFunds(trader crypto.Address) ([]uint64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.idList(fundTraderKey(trader))
}

func (s *Store) idList(key []byte) ([]uint64, error) {
	var raw [][]byte
	if err := s.store.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 8 {
			return nil, fmt.Errorf("fund: corrupt id index entry")
		}
		ids = append(ids, binary.BigEndian.Uint64(entry))
	}
	return ids, nil
}

// Position returns the investor's shares in the fund.
func (s *Store) Position(id uint64, investor crypto.Address) (*uint256.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var stored big.Int
	ok, err := s.store.KVGet(fundPositionKey(id, investor), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zero(), nil
	}
	return fromBig(&stored)
}

// SetPosition overwrites the investor's shares. A zero balance deletes the
// entry; the investor stays in the fund's investor index.
func (s *Store) SetPosition(id uint64, investor crypto.Address, shares *uint256.Int) error {
	if err := s.ready(); err != nil {
		return err
	}
	if investor.IsZero() {
		return ErrInvalidAddress
	}
	key := fundPositionKey(id, investor)
	if shares == nil || shares.IsZero() {
		return s.store.KVDelete(key)
	}
	if err := s.store.KVPut(key, shares.ToBig()); err != nil {
		return err
	}
	return s.store.KVAppend(fundInvestorsKey(id), investor.Bytes())
}

// Investors lists every address that has held shares in the fund.
func (s *Store) Investors(id uint64) ([]crypto.Address, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := s.store.KVGetList(fundInvestorsKey(id), &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != crypto.AddressLength {
			return nil, fmt.Errorf("fund: corrupt investor index entry")
		}
		out = append(out, crypto.NewAddress(crypto.TRCPrefix, entry))
	}
	return out, nil
}

// PositionSum totals every investor position of the fund.
func (s *Store) PositionSum(id uint64) (*uint256.Int, error) {
	investors, err := s.Investors(id)
	if err != nil {
		return nil, err
	}
	sum := zero()
	for _, investor := range investors {
		shares, err := s.Position(id, investor)
		if err != nil {
			return nil, err
		}
		if sum, err = checkedAdd(sum, shares); err != nil {
			return nil, err
		}
	}
	return sum, nil
}
