// Package config loads every runtime tunable from the environment once, at
// bootstrap, into one explicit struct. The runtime reads its environment
// only here; the standalone scripts/db_setup.go reads DATABASE_URL and
// SQLITE_PATH itself.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config is the Bot context's single configuration object.
type Config struct {
	// Bootstrap
	LogLevel string
	Debug    bool

	// CLI-equivalent surface (§6)
	Bankroll             decimal.Decimal
	Cycles               int
	EnableArb            bool
	ArbOnly              bool
	EnableHedge          bool
	EnableLateWindow     bool
	EnableMarketMaker    bool
	Enable5m             bool
	EnableDashboard      bool
	SyncLiveBankroll     bool
	LiveBankrollPollSecs int
	StrategyDelaySecs    int

	// Wallet / exchange auth (Exchange Client only)
	RPCURL             string
	PrivateKey         string
	FunderAddress      string
	SignatureType      int
	PolymarketCLOBURL  string
	PolymarketGammaURL string
	DryRun             bool

	// Oracle Engine
	StreamURL              string
	WatchdogIntervalSecs   int
	WatchdogStaleSecs      int
	ReconnectBaseSecs      int
	ReconnectMaxSecs       int
	ConsensusStaleSecs     int
	ConsensusDivergencePct decimal.Decimal
	MinCandles             int

	// Signal Engine
	MomentumCandles      int
	RSIPeriod            int
	MACDFast             int
	MACDSlow             int
	MACDSignal           int
	EMAFast              int
	EMASlow              int
	VolMinPct            decimal.Decimal
	VolMaxPct            decimal.Decimal
	ConfidenceThreshold  float64
	LateWindowMinDrift   decimal.Decimal
	LateWindowDriftScale decimal.Decimal
	LateWindowBaseConf   float64
	LateWindowMaxConf    float64

	// Risk Manager
	KellyFraction   decimal.Decimal
	MinTrade        decimal.Decimal
	MaxTradeMain    decimal.Decimal
	MaxTradeLate    decimal.Decimal
	MaxTrade5m      decimal.Decimal
	MaxTradePctMain decimal.Decimal
	BudgetPctMain   decimal.Decimal
	BudgetPctLate   decimal.Decimal
	BudgetPct5m     decimal.Decimal
	DailyTradeCap   int
	DailyLossPctCap decimal.Decimal
	LossStreakCap   int
	CooldownMinutes int

	// Exchange Client
	Timeframes        []int
	MaxSlippagePct    decimal.Decimal
	VenueMinShares    decimal.Decimal
	FeeFallbackBps    decimal.Decimal
	FeeCacheSecs      int
	MaxEntryPriceLate decimal.Decimal

	// Arb Scanner
	ArbPollIntervalSecs      int
	ArbDiscoveryIntervalSecs int
	ArbThreshold             decimal.Decimal
	ArbMinEdgePct            decimal.Decimal
	ArbSizePerSideUSD        decimal.Decimal
	ArbDailyCap              int
	ArbBudgetUSD             decimal.Decimal
	ArbCooldownSecs          int

	// Market Maker
	MakerRefreshSecs         int
	MakerNumLevels           int
	MakerHalfSpread          decimal.Decimal
	MakerLevelSpacing        decimal.Decimal
	MakerSizeUSD             decimal.Decimal
	MakerMaxImbalance        decimal.Decimal
	MakerMaxDailyBudget      decimal.Decimal
	MakerMaxOpenOrders       int
	MakerPullBeforeCloseSecs int

	// Orchestrator
	EntryLeadSecs      int
	EntryWindowSecs    int
	LateWindowLeadSecs int

	// Domain-stack endpoints (§9B)
	DatabaseURL    string // empty -> local sqlite file
	SqlitePath     string
	RedisAddr      string
	NATSURL        string
	MetricsAddr    string
	TelegramToken  string
	TelegramChatID int64
	BinanceAPIBase string
}

// Load reads every field from the environment, applying defaults, and
// validates the fields that must be present outside dry-run / fixed-bankroll
// modes.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Debug:    getEnvBool("DEBUG", false),

		Bankroll:             getEnvDecimal("BANKROLL", decimal.Zero),
		Cycles:               getEnvInt("CYCLES", 0),
		EnableArb:            getEnvBool("ENABLE_ARB", false),
		ArbOnly:              getEnvBool("ARB_ONLY", false),
		EnableHedge:          getEnvBool("ENABLE_HEDGE", false),
		EnableLateWindow:     getEnvBool("ENABLE_LATE_WINDOW", false),
		EnableMarketMaker:    getEnvBool("ENABLE_MM", false),
		Enable5m:             getEnvBool("ENABLE_5M", false),
		EnableDashboard:      getEnvBool("ENABLE_DASHBOARD", false),
		SyncLiveBankroll:     getEnvBool("SYNC_LIVE_BANKROLL", false),
		LiveBankrollPollSecs: getEnvInt("LIVE_BANKROLL_POLL_SECS", 60),
		StrategyDelaySecs:    getEnvInt("STRATEGY_DELAY_SECS", 0),

		RPCURL:             os.Getenv("RPC_URL"),
		PrivateKey:         os.Getenv("PRIVATE_KEY"),
		FunderAddress:      os.Getenv("FUNDER_ADDRESS"),
		SignatureType:      getEnvInt("SIGNATURE_TYPE", 0),
		PolymarketCLOBURL:  getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		PolymarketGammaURL: getEnv("POLYMARKET_GAMMA_URL", "https://gamma-api.polymarket.com"),
		DryRun:             getEnvBool("DRY_RUN", true),

		StreamURL:              getEnv("ORACLE_STREAM_URL", "wss://ws-subscriptions-clob.polymarket.com/ws"),
		WatchdogIntervalSecs:   getEnvInt("ORACLE_WATCHDOG_INTERVAL_SECS", 10),
		WatchdogStaleSecs:      getEnvInt("ORACLE_WATCHDOG_STALE_SECS", 30),
		ReconnectBaseSecs:      getEnvInt("ORACLE_RECONNECT_BASE_SECS", 5),
		ReconnectMaxSecs:       getEnvInt("ORACLE_RECONNECT_MAX_SECS", 120),
		ConsensusStaleSecs:     getEnvInt("ORACLE_CONSENSUS_STALE_SECS", 60),
		ConsensusDivergencePct: getEnvDecimal("ORACLE_DIVERGENCE_PCT", decimal.NewFromFloat(1.0)),
		MinCandles:             getEnvInt("ORACLE_MIN_CANDLES", 30),

		MomentumCandles:      getEnvInt("SIGNAL_MOMENTUM_CANDLES", 5),
		RSIPeriod:            getEnvInt("SIGNAL_RSI_PERIOD", 14),
		MACDFast:             getEnvInt("SIGNAL_MACD_FAST", 12),
		MACDSlow:             getEnvInt("SIGNAL_MACD_SLOW", 26),
		MACDSignal:           getEnvInt("SIGNAL_MACD_SIGNAL", 9),
		EMAFast:              getEnvInt("SIGNAL_EMA_FAST", 9),
		EMASlow:              getEnvInt("SIGNAL_EMA_SLOW", 21),
		VolMinPct:            getEnvDecimal("SIGNAL_VOL_MIN_PCT", decimal.NewFromFloat(0.015)),
		VolMaxPct:            getEnvDecimal("SIGNAL_VOL_MAX_PCT", decimal.NewFromFloat(2.0)),
		ConfidenceThreshold:  getEnvFloat("SIGNAL_CONFIDENCE_THRESHOLD", 0.62),
		LateWindowMinDrift:   getEnvDecimal("LATE_WINDOW_MIN_DRIFT_PCT", decimal.NewFromFloat(0.03)),
		LateWindowDriftScale: getEnvDecimal("LATE_WINDOW_DRIFT_SCALE_PCT", decimal.NewFromFloat(0.20)),
		LateWindowBaseConf:   getEnvFloat("LATE_WINDOW_BASE_CONF", 0.60),
		LateWindowMaxConf:    getEnvFloat("LATE_WINDOW_MAX_CONF", 0.90),

		KellyFraction:   getEnvDecimal("RISK_KELLY_FRACTION", decimal.NewFromFloat(0.25)),
		MinTrade:        getEnvDecimal("RISK_MIN_TRADE", decimal.NewFromFloat(1)),
		MaxTradeMain:    getEnvDecimal("RISK_MAX_TRADE_MAIN", decimal.NewFromFloat(25)),
		MaxTradeLate:    getEnvDecimal("RISK_MAX_TRADE_LATE", decimal.NewFromFloat(15)),
		MaxTrade5m:      getEnvDecimal("RISK_MAX_TRADE_5M", decimal.NewFromFloat(15)),
		MaxTradePctMain: getEnvDecimal("RISK_MAX_TRADE_PCT_MAIN", decimal.NewFromFloat(5)),
		BudgetPctMain:   getEnvDecimal("RISK_BUDGET_PCT_MAIN", decimal.NewFromFloat(40)),
		BudgetPctLate:   getEnvDecimal("RISK_BUDGET_PCT_LATE", decimal.NewFromFloat(20)),
		BudgetPct5m:     getEnvDecimal("RISK_BUDGET_PCT_5M", decimal.NewFromFloat(20)),
		DailyTradeCap:   getEnvInt("RISK_DAILY_TRADE_CAP", 40),
		DailyLossPctCap: getEnvDecimal("RISK_DAILY_LOSS_PCT_CAP", decimal.NewFromFloat(20)),
		LossStreakCap:   getEnvInt("RISK_LOSS_STREAK_CAP", 3),
		CooldownMinutes: getEnvInt("RISK_COOLDOWN_MINUTES", 30),

		Timeframes:        []int{5, 15, 30, 60},
		MaxSlippagePct:    getEnvDecimal("EXCHANGE_MAX_SLIPPAGE_PCT", decimal.NewFromFloat(0.02)),
		VenueMinShares:    getEnvDecimal("EXCHANGE_VENUE_MIN_SHARES", decimal.NewFromInt(5)),
		FeeFallbackBps:    getEnvDecimal("EXCHANGE_FEE_FALLBACK_BPS", decimal.NewFromFloat(156)),
		FeeCacheSecs:      getEnvInt("EXCHANGE_FEE_CACHE_SECS", 60),
		MaxEntryPriceLate: getEnvDecimal("LATE_WINDOW_MAX_ENTRY_PRICE", decimal.NewFromFloat(0.80)),

		ArbPollIntervalSecs:      getEnvInt("ARB_POLL_INTERVAL_SECS", 8),
		ArbDiscoveryIntervalSecs: getEnvInt("ARB_DISCOVERY_INTERVAL_SECS", 45),
		ArbThreshold:             getEnvDecimal("ARB_THRESHOLD", decimal.NewFromFloat(0.98)),
		ArbMinEdgePct:            getEnvDecimal("ARB_MIN_EDGE_PCT", decimal.NewFromFloat(0.5)),
		ArbSizePerSideUSD:        getEnvDecimal("ARB_SIZE_PER_SIDE_USD", decimal.NewFromFloat(10)),
		ArbDailyCap:              getEnvInt("ARB_DAILY_CAP", 50),
		ArbBudgetUSD:             getEnvDecimal("ARB_BUDGET_USD", decimal.NewFromFloat(200)),
		ArbCooldownSecs:          getEnvInt("ARB_COOLDOWN_SECS", 120),

		MakerRefreshSecs:         getEnvInt("MAKER_REFRESH_SECS", 5),
		MakerNumLevels:           getEnvInt("MAKER_NUM_LEVELS", 3),
		MakerHalfSpread:          getEnvDecimal("MAKER_HALF_SPREAD", decimal.NewFromFloat(0.01)),
		MakerLevelSpacing:        getEnvDecimal("MAKER_LEVEL_SPACING", decimal.NewFromFloat(0.01)),
		MakerSizeUSD:             getEnvDecimal("MAKER_SIZE_USD", decimal.NewFromFloat(5)),
		MakerMaxImbalance:        getEnvDecimal("MAKER_MAX_IMBALANCE", decimal.NewFromFloat(50)),
		MakerMaxDailyBudget:      getEnvDecimal("MAKER_MAX_DAILY_BUDGET", decimal.NewFromFloat(500)),
		MakerMaxOpenOrders:       getEnvInt("MAKER_MAX_OPEN_ORDERS", 12),
		MakerPullBeforeCloseSecs: getEnvInt("MAKER_PULL_BEFORE_CLOSE_SECS", 30),

		EntryLeadSecs:      getEnvInt("ENTRY_LEAD_SECS", 60),
		EntryWindowSecs:    getEnvInt("ENTRY_WINDOW_SECS", 20),
		LateWindowLeadSecs: getEnvInt("LATE_WINDOW_LEAD_SECS", 90),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SqlitePath:     getEnv("SQLITE_PATH", "data/polybot.db"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		NATSURL:        os.Getenv("NATS_URL"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		BinanceAPIBase: getEnv("BINANCE_API_BASE", "https://api.binance.com"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if !cfg.DryRun && cfg.PrivateKey == "" {
		return nil, fmt.Errorf("PRIVATE_KEY is required outside dry-run mode")
	}
	if cfg.Bankroll.IsZero() && !cfg.SyncLiveBankroll {
		return nil, fmt.Errorf("BANKROLL is required unless SYNC_LIVE_BANKROLL is set")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}
