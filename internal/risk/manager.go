// Package risk gates trades and sizes positions across multiple engines
// sharing one bankroll, per §4.3. It never imports the exchange client —
// the orchestrator mediates resolved-trade routing back into here.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/types"
)

// bucket is one engine's independent counters, reset at UTC midnight.
type bucket struct {
	stats       types.DailyStats
	maxTrade    decimal.Decimal
	budgetPct   decimal.Decimal
	maxTradePct decimal.Decimal
	breaker     *breaker
}

// Manager owns shared capital and one bucket per engine.
type Manager struct {
	mu      sync.RWMutex
	cfg     *config.Config
	capital decimal.Decimal
	buckets map[types.Engine]*bucket
	today   string
}

func New(cfg *config.Config, startCapital decimal.Decimal) *Manager {
	m := &Manager{
		cfg:     cfg,
		capital: startCapital,
		buckets: make(map[types.Engine]*bucket),
		today:   dayKey(time.Now()),
	}
	m.buckets[types.EngineMain] = m.newBucket(types.EngineMain, cfg.MaxTradeMain, cfg.BudgetPctMain, cfg.MaxTradePctMain)
	m.buckets[types.EngineLateWindow] = m.newBucket(types.EngineLateWindow, cfg.MaxTradeLate, cfg.BudgetPctLate, cfg.MaxTradePctMain)
	m.buckets[types.Engine5m] = m.newBucket(types.Engine5m, cfg.MaxTrade5m, cfg.BudgetPct5m, cfg.MaxTradePctMain)
	return m
}

func (m *Manager) newBucket(engine types.Engine, maxTrade, budgetPct, maxTradePct decimal.Decimal) *bucket {
	return &bucket{
		stats: types.DailyStats{
			Date:              m.today,
			Engine:            engine,
			StartOfDayCapital: m.capital,
		},
		maxTrade:    maxTrade,
		budgetPct:   budgetPct,
		maxTradePct: maxTradePct,
		breaker:     newBreaker(fmt.Sprintf("risk-%s", engine), m.cfg.LossStreakCap, time.Duration(m.cfg.CooldownMinutes)*time.Minute),
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// checkDayReset resets every bucket's counters at UTC midnight, preserving
// capital (rolled by realized PnL, not reset).
func (m *Manager) checkDayReset() {
	now := dayKey(time.Now())
	if now == m.today {
		return
	}
	m.today = now
	for _, b := range m.buckets {
		b.stats = types.DailyStats{
			Date:              now,
			Engine:            b.stats.Engine,
			StartOfDayCapital: m.capital,
		}
	}
}

// CanTrade runs the §4.3 gate checks for one engine and returns the first
// blocking reason, if any.
func (m *Manager) CanTrade(engine types.Engine) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDayReset()

	b, ok := m.buckets[engine]
	if !ok {
		return false, "unknown engine"
	}

	if !b.stats.CooldownUntil.IsZero() && time.Now().Before(b.stats.CooldownUntil) {
		return false, fmt.Sprintf("cooldown active until %s", b.stats.CooldownUntil.Format(time.RFC3339))
	}
	if b.stats.Trades >= m.cfg.DailyTradeCap {
		return false, "daily trade count at cap"
	}
	if b.stats.StartOfDayCapital.IsPositive() && b.stats.PnL.IsNegative() {
		lossPct := b.stats.PnL.Abs().Div(b.stats.StartOfDayCapital).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(m.cfg.DailyLossPctCap) {
			return false, "daily loss cap reached"
		}
	}
	if b.stats.ConsecutiveLosses >= m.cfg.LossStreakCap {
		b.stats.CooldownUntil = time.Now().Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
		return false, "consecutive loss streak cap reached, cooldown started"
	}
	if !m.capital.IsPositive() {
		return false, "capital is zero or negative"
	}
	if !b.breaker.allow() {
		return false, "circuit breaker open"
	}
	return true, ""
}

// Size computes the fractional-Kelly position size for a decision, per
// §4.3: kelly = max(0, 2*conf-1); size = capital*kelly*kelly_fraction,
// clamped to [min_trade, max_trade] and to capital*max_trade_pct/100 and to
// capital.
func (m *Manager) Size(engine types.Engine, confidence float64) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[engine]
	if !ok {
		return decimal.Zero
	}

	kelly := 2*confidence - 1
	if kelly < 0 {
		kelly = 0
	}
	kellyDec := decimal.NewFromFloat(kelly).Mul(m.cfg.KellyFraction)
	size := m.capital.Mul(kellyDec)

	if size.LessThan(m.cfg.MinTrade) {
		size = m.cfg.MinTrade
	}
	if size.GreaterThan(b.maxTrade) {
		size = b.maxTrade
	}
	maxPctAmount := m.capital.Mul(b.maxTradePct).Div(decimal.NewFromInt(100))
	if size.GreaterThan(maxPctAmount) {
		size = maxPctAmount
	}
	if size.GreaterThan(m.capital) {
		size = m.capital
	}
	if size.IsNegative() {
		return decimal.Zero
	}
	return size.Truncate(2)
}

// RecordTrade applies a resolved trade's PnL to exactly one engine's
// bucket, per invariant I2, and rolls shared capital.
func (m *Manager) RecordTrade(engine types.Engine, pnl decimal.Decimal, won bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDayReset()

	b, ok := m.buckets[engine]
	if !ok {
		return
	}
	b.stats.Trades++
	b.stats.PnL = b.stats.PnL.Add(pnl)
	if won {
		b.stats.Wins++
		b.stats.ConsecutiveLosses = 0
	} else {
		b.stats.Losses++
		b.stats.ConsecutiveLosses++
	}
	b.breaker.record(won)
	m.capital = m.capital.Add(pnl)
}

// SyncLiveBankroll overwrites capital from the exchange balance API.
// Per Design Note (a): a non-positive reading means "no update", not "zero
// capital" — the exchange's balance endpoint is known to transiently
// return zero.
func (m *Manager) SyncLiveBankroll(balance decimal.Decimal) {
	if !balance.IsPositive() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capital = balance
}

// Capital returns the current shared bankroll.
func (m *Manager) Capital() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capital
}

// BudgetRemaining reports how much of an engine's daily budget (invariant
// I6: daily_spent <= start_of_day_capital * budget_pct/100) is left.
func (m *Manager) BudgetRemaining(engine types.Engine) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[engine]
	if !ok {
		return decimal.Zero
	}
	budget := b.stats.StartOfDayCapital.Mul(b.budgetPct).Div(decimal.NewFromInt(100))
	remaining := budget.Sub(b.stats.BudgetSpent)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// BudgetAllows is the invariant I6 placement gate: it reports whether an
// order of size can be placed without pushing the engine's cumulative
// daily spend past its budget_pct share of start-of-day capital.
func (m *Manager) BudgetAllows(engine types.Engine, size decimal.Decimal) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[engine]
	if !ok {
		return false
	}
	budget := b.stats.StartOfDayCapital.Mul(b.budgetPct).Div(decimal.NewFromInt(100))
	return b.stats.BudgetSpent.Add(size).LessThanOrEqual(budget)
}

// RecordSpend accumulates an engine's daily budget spend by the size of an
// order actually placed, per invariant I6. It is called at placement time,
// not at resolution — BudgetSpent tracks capital deployed, not realized PnL.
func (m *Manager) RecordSpend(engine types.Engine, size decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[engine]
	if !ok {
		return
	}
	b.stats.BudgetSpent = b.stats.BudgetSpent.Add(size)
}

// Stats returns a copy of one engine's daily stats.
func (m *Manager) Stats(engine types.Engine) types.DailyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.buckets[engine]; ok {
		return b.stats
	}
	return types.DailyStats{}
}
