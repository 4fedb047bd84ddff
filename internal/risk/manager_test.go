package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
		KellyFraction:   decimal.NewFromFloat(0.25),
		MinTrade:        decimal.NewFromFloat(1),
		MaxTradeMain:    decimal.NewFromFloat(25),
		MaxTradeLate:    decimal.NewFromFloat(15),
		MaxTrade5m:      decimal.NewFromFloat(15),
		MaxTradePctMain: decimal.NewFromFloat(5),
		BudgetPctMain:   decimal.NewFromFloat(40),
		BudgetPctLate:   decimal.NewFromFloat(20),
		BudgetPct5m:     decimal.NewFromFloat(20),
		DailyTradeCap:   40,
		DailyLossPctCap: decimal.NewFromFloat(20),
		LossStreakCap:   3,
		CooldownMinutes: 30,
	}
}

func TestSize_ZeroConfidenceYieldsFloorOrZero(t *testing.T) {
	m := New(testConfig(), decimal.NewFromFloat(1000))
	size := m.Size(types.EngineMain, 0.5) // kelly = 2*0.5-1 = 0
	assert.True(t, size.Equal(decimal.NewFromFloat(1)), "expected min_trade floor, got %s", size)
}

func TestSize_ClampedToMaxTrade(t *testing.T) {
	m := New(testConfig(), decimal.NewFromFloat(1000))
	size := m.Size(types.EngineMain, 1.0) // kelly = 1, kelly_fraction 0.25 -> 250
	assert.True(t, size.LessThanOrEqual(decimal.NewFromFloat(25)), "expected clamp to max_trade, got %s", size)
}

func TestSize_ClampedToMaxTradePct(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTradeMain = decimal.NewFromFloat(1000) // unclamp so pct kicks in
	m := New(cfg, decimal.NewFromFloat(100))
	size := m.Size(types.EngineMain, 1.0) // 5% of 100 = 5
	assert.True(t, size.LessThanOrEqual(decimal.NewFromFloat(5)), "expected clamp to 5%% of capital, got %s", size)
}

func TestSize_UnknownEngineReturnsZero(t *testing.T) {
	m := New(testConfig(), decimal.NewFromFloat(1000))
	size := m.Size(types.EngineArb, 0.9)
	assert.True(t, size.IsZero())
}

func TestCanTrade_DailyTradeCapBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.DailyTradeCap = 1
	m := New(cfg, decimal.NewFromFloat(1000))

	ok, _ := m.CanTrade(types.EngineMain)
	require.True(t, ok)

	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(5), true)

	ok, reason := m.CanTrade(types.EngineMain)
	assert.False(t, ok)
	assert.Contains(t, reason, "trade count")
}

func TestCanTrade_LossStreakTripsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.LossStreakCap = 2
	m := New(cfg, decimal.NewFromFloat(1000))

	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(-5), false)
	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(-5), false)

	ok, reason := m.CanTrade(types.EngineMain)
	assert.False(t, ok)
	assert.Contains(t, reason, "loss streak")
}

func TestCanTrade_DailyLossPctCapBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossPctCap = decimal.NewFromFloat(10)
	cfg.LossStreakCap = 100 // avoid tripping the streak gate first
	m := New(cfg, decimal.NewFromFloat(1000))

	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(-150), false)

	ok, reason := m.CanTrade(types.EngineMain)
	assert.False(t, ok)
	assert.Contains(t, reason, "loss cap")
}

func TestRecordTrade_UpdatesCapitalAndStats(t *testing.T) {
	m := New(testConfig(), decimal.NewFromFloat(1000))

	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(10), true)
	assert.True(t, m.Capital().Equal(decimal.NewFromFloat(1010)))

	stats := m.Stats(types.EngineMain)
	assert.Equal(t, 1, stats.Trades)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 0, stats.ConsecutiveLosses)

	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(-5), false)
	stats = m.Stats(types.EngineMain)
	assert.Equal(t, 1, stats.Losses)
	assert.Equal(t, 1, stats.ConsecutiveLosses)
}

func TestSyncLiveBankroll_IgnoresNonPositive(t *testing.T) {
	m := New(testConfig(), decimal.NewFromFloat(500))
	m.SyncLiveBankroll(decimal.Zero)
	assert.True(t, m.Capital().Equal(decimal.NewFromFloat(500)))

	m.SyncLiveBankroll(decimal.NewFromFloat(750))
	assert.True(t, m.Capital().Equal(decimal.NewFromFloat(750)))
}

func TestBudgetRemaining_NeverNegative(t *testing.T) {
	m := New(testConfig(), decimal.NewFromFloat(100))
	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(-1000), false)
	remaining := m.BudgetRemaining(types.EngineMain)
	assert.True(t, remaining.GreaterThanOrEqual(decimal.Zero))
}

func TestBudgetAllows_BlocksOnceStartOfDayBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.BudgetPctMain = decimal.NewFromFloat(10) // 10% of 1000 = 100
	m := New(cfg, decimal.NewFromFloat(1000))

	assert.True(t, m.BudgetAllows(types.EngineMain, decimal.NewFromFloat(60)))
	m.RecordSpend(types.EngineMain, decimal.NewFromFloat(60))

	assert.True(t, m.BudgetAllows(types.EngineMain, decimal.NewFromFloat(40)))
	assert.False(t, m.BudgetAllows(types.EngineMain, decimal.NewFromFloat(41)))
}

func TestRecordSpend_DoesNotMoveWithResolvedPnL(t *testing.T) {
	m := New(testConfig(), decimal.NewFromFloat(1000))

	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(-500), false)
	stats := m.Stats(types.EngineMain)
	assert.True(t, stats.BudgetSpent.IsZero(), "resolved PnL must not move BudgetSpent, only RecordSpend at placement does")

	m.RecordSpend(types.EngineMain, decimal.NewFromFloat(25))
	stats = m.Stats(types.EngineMain)
	assert.True(t, stats.BudgetSpent.Equal(decimal.NewFromFloat(25)))
}

func TestCheckDayReset_PreservesCapitalAcrossDays(t *testing.T) {
	m := New(testConfig(), decimal.NewFromFloat(1000))
	m.RecordTrade(types.EngineMain, decimal.NewFromFloat(20), true)

	// Simulate a day boundary by forcing today back.
	m.mu.Lock()
	m.today = dayKey(time.Now().Add(-48 * time.Hour))
	m.mu.Unlock()

	m.checkDayReset()

	stats := m.Stats(types.EngineMain)
	assert.Equal(t, 0, stats.Trades)
	assert.True(t, m.Capital().Equal(decimal.NewFromFloat(1020)), "capital should roll, not reset")
}
