// Package types holds the data model shared across the trading runtime:
// prices, markets, signals, decisions, and the records that survive a cycle.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the outcome side a signal or decision favors.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
	Hold Direction = "HOLD"
)

// Outcome tracks a TradeRecord's settlement state.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
)

// Engine names the risk bucket a trade or cycle belongs to.
type Engine string

const (
	EngineMain       Engine = "main"
	EngineLateWindow Engine = "late_window"
	Engine5m         Engine = "5m"
	EngineArb        Engine = "arb"
	EngineMaker      Engine = "maker"
)

// PricePoint is a single observation from one price source.
type PricePoint struct {
	Source    string
	Price     decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// Age reports how old the point is relative to now.
func (p PricePoint) Age() time.Duration {
	return time.Since(p.Timestamp)
}

// ConsensusPrice is the Oracle Engine's aggregated view across sources.
type ConsensusPrice struct {
	Price                decimal.Decimal
	Sources              []string
	SpreadPct            decimal.Decimal
	Confidence           float64
	AuthoritativePrice   decimal.Decimal
	HasAuthoritative      bool
	Timestamp            time.Time
}

// WindowAnchor is the immutable open price captured for one window boundary.
type WindowAnchor struct {
	Boundary   time.Time
	OpenPrice  decimal.Decimal
	Source     string
	CapturedAt time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Interval  string
}

// Market is a discovered binary prediction market.
type Market struct {
	ConditionID string
	Slug        string
	Question    string
	Asset       string
	TimeframeMin int
	UpTokenID   string
	DownTokenID string
	UpPrice     decimal.Decimal
	DownPrice   decimal.Decimal
	Liquidity   decimal.Decimal
	EndTime     time.Time
	WindowTS    time.Time
	Tradable    bool
}

// TimeRemaining is EndTime - now, floored at zero.
func (m Market) TimeRemaining() time.Duration {
	d := time.Until(m.EndTime)
	if d < 0 {
		return 0
	}
	return d
}

// Signal is one named indicator's output for the current cycle.
type Signal struct {
	Name      string
	Direction Direction
	Strength  float64
	Raw       float64
	Reason    string
}

// StrategyDecision is the Signal Engine's verdict for one cycle.
type StrategyDecision struct {
	Direction      Direction
	Confidence     float64
	Signals        []Signal
	CurrentPrice   decimal.Decimal
	Anchor         decimal.Decimal
	HasAnchor      bool
	DriftPct       float64
	VolatilityPct  float64
	ShouldTrade    bool
	Reason         string
	PositionSizePct float64
}

// TradeRecord is a placed-and-verified order.
type TradeRecord struct {
	ID              string
	Timestamp       time.Time
	MarketID        string
	Engine          Engine
	Direction       Direction
	Confidence      float64
	EntryPrice      decimal.Decimal
	SizeUSD         decimal.Decimal
	OraclePriceAtEntry decimal.Decimal
	Outcome         Outcome
	RealizedPnL     decimal.Decimal
	ExchangeOrderID string
	ResolvedAt      time.Time
}

// DailyStats are the per-engine counters reset at UTC midnight.
type DailyStats struct {
	Date              string
	Engine            Engine
	Trades            int
	Wins              int
	Losses            int
	PnL               decimal.Decimal
	ConsecutiveLosses int
	BudgetSpent       decimal.Decimal
	CooldownUntil     time.Time
	StartOfDayCapital decimal.Decimal
}

// ActiveQuote is a live post-only maker order.
type ActiveQuote struct {
	OrderID     string
	TokenID     string
	ConditionID string
	Side        string
	Price       decimal.Decimal
	Size        decimal.Decimal
	PostedAt    time.Time
}
