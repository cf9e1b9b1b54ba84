package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Operation kinds mirror the fund event types.
const (
	KindCreated = "fund.created"
	KindBought  = "fund.shares_bought"
	KindOrder   = "fund.order_placed"
	KindSold    = "fund.shares_sold"
	KindHalted  = "fund.halted"
	KindResumed = "fund.resumed"
)

// Operation is one committed fund mutation. Amounts are integer sub-unit
// strings so no precision is lost in either SQL dialect.
type Operation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence  int64     `gorm:"uniqueIndex" json:"sequence"`
	FundID    uint64    `gorm:"index" json:"fund_id"`
	Kind      string    `gorm:"size:32;index" json:"kind"`
	Actor     string    `gorm:"size:96;index" json:"actor"`
	AssetIn   string    `gorm:"size:16" json:"asset_in"`
	AssetOut  string    `gorm:"size:16" json:"asset_out"`
	AmountIn  string    `gorm:"size:80" json:"amount_in"`
	AmountOut string    `gorm:"size:80" json:"amount_out"`
	Shares    string    `gorm:"size:80" json:"shares"`
	NAVBefore string    `gorm:"size:80" json:"nav_before"`
	NAVAfter  string    `gorm:"size:80" json:"nav_after"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// NAVSnapshot is one sampled valuation of a fund.
type NAVSnapshot struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FundID       uint64    `gorm:"index:idx_snapshot_fund_time,priority:1" json:"fund_id"`
	BaseCurrency string    `gorm:"size:16" json:"base_currency"`
	NAV          string    `gorm:"size:80" json:"nav"`
	SharePrice   string    `gorm:"size:80" json:"share_price"`
	TotalShares  string    `gorm:"size:80" json:"total_shares"`
	Halted       bool      `json:"halted"`
	SampledAt    time.Time `gorm:"index:idx_snapshot_fund_time,priority:2" json:"sampled_at"`
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Operation{},
		&NAVSnapshot{},
	)
}
