package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"traderchain/core/events"
	"traderchain/crypto"
)

const defaultFilePragmas = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

var (
	// ErrDSNRequired is returned when no journal DSN is configured.
	ErrDSNRequired = errors.New("fundd journal DSN must be configured")
	// ErrNoSnapshot is returned when a fund has not been sampled yet.
	ErrNoSnapshot = errors.New("fundd journal: no snapshot recorded")
)

// Dialector picks the gorm driver for dsn. Postgres URLs and key/value DSNs
// use the postgres driver; everything else is treated as SQLite, with bare
// paths converted to an on-disk DSN.
func Dialector(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"), strings.Contains(lower, "host="):
		return postgres.Open(trimmed), nil
	case strings.HasPrefix(lower, "file:"), trimmed == ":memory:":
		return sqlite.Open(trimmed), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve journal path: %w", err)
	}
	return sqlite.Open(fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas)), nil
}

// Journal records committed fund operations and NAV samples.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	seqMu sync.Mutex
	seq   int64
}

// Open connects to dsn and migrates the schema.
func Open(dsn string, log *slog.Logger) (*Journal, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db, log)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("fundd journal: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	var last int64
	if err := db.Model(&Operation{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("load journal sequence: %w", err)
	}
	return &Journal{db: db, logger: log, now: time.Now, seq: last}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordOperation appends op, assigning its identifier, sequence and time.
func (j *Journal) RecordOperation(ctx context.Context, op *Operation) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	j.seqMu.Lock()
	defer j.seqMu.Unlock()
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = j.now().UTC()
	}
	op.Sequence = j.seq + 1
	if err := j.db.WithContext(ctx).Create(op).Error; err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	j.seq = op.Sequence
	return nil
}

// Operations lists a fund's operations in commit order. A zero limit returns
// every row.
func (j *Journal) Operations(ctx context.Context, fundID uint64, limit int) ([]Operation, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	var out []Operation
	query := j.db.WithContext(ctx).Where("fund_id = ?", fundID).Order("sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	return out, nil
}

// RecordSnapshot stores a sampled valuation.
func (j *Journal) RecordSnapshot(ctx context.Context, snap *NAVSnapshot) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.SampledAt.IsZero() {
		snap.SampledAt = j.now().UTC()
	}
	if err := j.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Snapshots lists a fund's samples taken at or after since, oldest first.
func (j *Journal) Snapshots(ctx context.Context, fundID uint64, since time.Time, limit int) ([]NAVSnapshot, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	var out []NAVSnapshot
	query := j.db.WithContext(ctx).Where("fund_id = ? AND sampled_at >= ?", fundID, since.UTC()).Order("sampled_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	return out, nil
}

// LatestSnapshot returns the most recent sample for the fund.
func (j *Journal) LatestSnapshot(ctx context.Context, fundID uint64) (NAVSnapshot, error) {
	var snap NAVSnapshot
	if j == nil {
		return snap, fmt.Errorf("journal not configured")
	}
	err := j.db.WithContext(ctx).Where("fund_id = ?", fundID).Order("sampled_at DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snap, ErrNoSnapshot
	}
	if err != nil {
		return snap, fmt.Errorf("query snapshot: %w", err)
	}
	return snap, nil
}

// Emit implements events.Emitter by journaling fund events. Failures are
// logged; the operation they describe has already committed.
func (j *Journal) Emit(evt events.Event) {
	op, ok := operationFromEvent(evt)
	if !ok {
		return
	}
	if err := j.RecordOperation(context.Background(), op); err != nil {
		j.logger.Error("journal operation failed", "operation", op.Kind, "fund_id", op.FundID, "error", err)
	}
}

func operationFromEvent(evt events.Event) (*Operation, bool) {
	switch e := evt.(type) {
	case events.FundCreated:
		return &Operation{FundID: e.FundID, Kind: KindCreated, Actor: addr(e.Trader), AssetIn: e.BaseCurrency, Detail: addr(e.Vault)}, true
	case events.FundSharesBought:
		return &Operation{
			FundID:    e.FundID,
			Kind:      KindBought,
			Actor:     addr(e.Investor),
			AssetIn:   e.Asset,
			AmountIn:  amount(e.AmountIn),
			Shares:    amount(e.Shares),
			NAVBefore: amount(e.NAVBefore),
			NAVAfter:  amount(e.NAVAfter),
		}, true
	case events.FundOrderPlaced:
		return &Operation{
			FundID:    e.FundID,
			Kind:      KindOrder,
			Actor:     addr(e.Trader),
			AssetIn:   e.TokenIn,
			AssetOut:  e.TokenOut,
			AmountIn:  amount(e.AmountIn),
			AmountOut: amount(e.AmountOut),
		}, true
	case events.FundSharesSold:
		return &Operation{
			FundID:    e.FundID,
			Kind:      KindSold,
			Actor:     addr(e.Investor),
			AssetOut:  e.Asset,
			AmountOut: amount(e.AmountOut),
			Shares:    amount(e.Shares),
		}, true
	case events.FundHalted:
		return &Operation{FundID: e.FundID, Kind: KindHalted, Detail: e.Reason}, true
	case events.FundResumed:
		return &Operation{FundID: e.FundID, Kind: KindResumed}, true
	default:
		return nil, false
	}
}

func addr(a crypto.Address) string {
	return a.String()
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
