// Package storage is the gorm-backed persistence layer: trade history,
// daily stats, risk-state snapshots, and resting orders survive a restart
// here so the orchestrator can reconcile on boot instead of starting blind.
package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord mirrors types.TradeRecord for durable storage.
type TradeRecord struct {
	ID                 string `gorm:"primaryKey"`
	Timestamp          time.Time
	MarketID           string `gorm:"index"`
	Engine             string `gorm:"index"`
	Direction          string
	Confidence         float64
	EntryPrice         decimal.Decimal `gorm:"type:numeric"`
	SizeUSD            decimal.Decimal `gorm:"type:numeric"`
	OraclePriceAtEntry decimal.Decimal `gorm:"type:numeric"`
	Outcome            string          `gorm:"index"`
	RealizedPnL        decimal.Decimal `gorm:"type:numeric"`
	ExchangeOrderID    string
	ResolvedAt         time.Time
	Archived           bool `gorm:"index"`
}

// DailyStats mirrors types.DailyStats, keyed by (date, engine).
type DailyStats struct {
	Date              string `gorm:"primaryKey"`
	Engine            string `gorm:"primaryKey"`
	Trades            int
	Wins              int
	Losses            int
	PnL               decimal.Decimal `gorm:"type:numeric"`
	ConsecutiveLosses int
	BudgetSpent       decimal.Decimal `gorm:"type:numeric"`
	CooldownUntil     time.Time
	StartOfDayCapital decimal.Decimal `gorm:"type:numeric"`
}

// RiskState is a daily snapshot of shared capital, used to recover the
// bankroll and loss-streak state across a restart mid-day.
type RiskState struct {
	Date              string `gorm:"primaryKey"`
	Capital           decimal.Decimal `gorm:"type:numeric"`
	DailyPnL          decimal.Decimal `gorm:"type:numeric"`
	ConsecutiveLosses int
	CircuitTripped    bool
	UpdatedAt         time.Time
}

// ExecutionPosition is a resting or recently-placed order the runtime
// still owns — recovered on boot so a crash mid-trade doesn't orphan it.
type ExecutionPosition struct {
	ID          string `gorm:"primaryKey"`
	MarketID    string
	TokenID     string
	Asset       string
	Engine      string
	Side        string
	Size        decimal.Decimal `gorm:"type:numeric"`
	AvgEntry    decimal.Decimal `gorm:"type:numeric"`
	OpenedAt    time.Time
	Metadata    string // JSON blob, free-form per engine
}

// ActiveQuote mirrors types.ActiveQuote for the Market Maker's resting
// orders, recovered so a restart can cancel stale quotes instead of
// abandoning them.
type ActiveQuote struct {
	OrderID     string `gorm:"primaryKey"`
	TokenID     string
	ConditionID string
	Side        string
	Price       decimal.Decimal `gorm:"type:numeric"`
	Size        decimal.Decimal `gorm:"type:numeric"`
	PostedAt    time.Time
}
