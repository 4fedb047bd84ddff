package storage

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/duskline/polybot/internal/types"
)

// Store wraps a gorm connection. It is sqlite-backed by default and
// postgres-backed when DatabaseURL is set, per the persistence layer's
// single-backend design.
type Store struct {
	db *gorm.DB
}

// Open connects and migrates. databaseURL selects postgres; sqlitePath is
// used when databaseURL is empty.
func Open(databaseURL, sqlitePath string) (*Store, error) {
	var dialector gorm.Dialector
	if databaseURL != "" {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(sqlitePath)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &DailyStats{}, &RiskState{}, &ExecutionPosition{}, &ActiveQuote{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	backend := "sqlite"
	if databaseURL != "" {
		backend = "postgres"
	}
	log.Info().Str("backend", backend).Msg("💾 storage connected")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WipeAll deletes every row from every managed table, used by the db_setup
// maintenance script when rotating between a sqlite and Postgres backend.
func (s *Store) WipeAll() error {
	for _, model := range []any{&TradeRecord{}, &DailyStats{}, &RiskState{}, &ExecutionPosition{}, &ActiveQuote{}} {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return fmt.Errorf("storage: wipe: %w", err)
		}
	}
	return nil
}

// SaveTradeRecord upserts a trade by ID.
func (s *Store) SaveTradeRecord(rec *types.TradeRecord) error {
	row := fromTradeRecord(rec)
	return s.db.Save(&row).Error
}

// PendingTradeRecords returns trades awaiting resolution, oldest first.
func (s *Store) PendingTradeRecords() ([]*types.TradeRecord, error) {
	var rows []TradeRecord
	if err := s.db.Where("outcome = ? AND archived = ?", string(types.OutcomePending), false).
		Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTradeRecord(r))
	}
	return out, nil
}

// ArchiveTradeRecord marks a resolved trade as archived rather than
// deleting it, so trade history remains queryable.
func (s *Store) ArchiveTradeRecord(id string) error {
	return s.db.Model(&TradeRecord{}).Where("id = ?", id).Update("archived", true).Error
}

// UpsertDailyStats writes the current snapshot for (date, engine).
func (s *Store) UpsertDailyStats(stats types.DailyStats) error {
	row := DailyStats{
		Date: stats.Date, Engine: string(stats.Engine),
		Trades: stats.Trades, Wins: stats.Wins, Losses: stats.Losses,
		PnL: stats.PnL, ConsecutiveLosses: stats.ConsecutiveLosses,
		BudgetSpent: stats.BudgetSpent, CooldownUntil: stats.CooldownUntil,
		StartOfDayCapital: stats.StartOfDayCapital,
	}
	return s.db.Save(&row).Error
}

// SaveRiskState persists today's capital snapshot.
func (s *Store) SaveRiskState(date string, capital, dailyPnL decimal.Decimal, consecutiveLosses int, circuitTripped bool) error {
	row := RiskState{
		Date: date, Capital: capital, DailyPnL: dailyPnL,
		ConsecutiveLosses: consecutiveLosses, CircuitTripped: circuitTripped,
		UpdatedAt: time.Now(),
	}
	return s.db.Save(&row).Error
}

// LoadRiskState returns today's snapshot, or nil if none exists.
func (s *Store) LoadRiskState(date string) (*RiskState, error) {
	var row RiskState
	err := s.db.Where("date = ?", date).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SaveExecutionPosition upserts an in-flight position.
func (s *Store) SaveExecutionPosition(pos *ExecutionPosition) error {
	return s.db.Save(pos).Error
}

// DeleteExecutionPosition removes a closed position.
func (s *Store) DeleteExecutionPosition(id string) error {
	return s.db.Delete(&ExecutionPosition{}, "id = ?", id).Error
}

// AllExecutionPositions loads every persisted position, used for startup
// reconciliation.
func (s *Store) AllExecutionPositions() ([]*ExecutionPosition, error) {
	var rows []*ExecutionPosition
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveActiveQuote upserts a resting maker quote.
func (s *Store) SaveActiveQuote(q *types.ActiveQuote) error {
	row := ActiveQuote{
		OrderID: q.OrderID, TokenID: q.TokenID, ConditionID: q.ConditionID,
		Side: q.Side, Price: q.Price, Size: q.Size, PostedAt: q.PostedAt,
	}
	return s.db.Save(&row).Error
}

// DeleteActiveQuote removes a cancelled or filled quote.
func (s *Store) DeleteActiveQuote(orderID string) error {
	return s.db.Delete(&ActiveQuote{}, "order_id = ?", orderID).Error
}

// AllActiveQuotes loads every persisted quote, used on boot to cancel
// stale resting orders left by a previous run.
func (s *Store) AllActiveQuotes() ([]*types.ActiveQuote, error) {
	var rows []ActiveQuote
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.ActiveQuote, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.ActiveQuote{
			OrderID: r.OrderID, TokenID: r.TokenID, ConditionID: r.ConditionID,
			Side: r.Side, Price: r.Price, Size: r.Size, PostedAt: r.PostedAt,
		})
	}
	return out, nil
}

func fromTradeRecord(rec *types.TradeRecord) TradeRecord {
	return TradeRecord{
		ID: rec.ID, Timestamp: rec.Timestamp, MarketID: rec.MarketID,
		Engine: string(rec.Engine), Direction: string(rec.Direction),
		Confidence: rec.Confidence, EntryPrice: rec.EntryPrice, SizeUSD: rec.SizeUSD,
		OraclePriceAtEntry: rec.OraclePriceAtEntry, Outcome: string(rec.Outcome),
		RealizedPnL: rec.RealizedPnL, ExchangeOrderID: rec.ExchangeOrderID,
		ResolvedAt: rec.ResolvedAt, Archived: rec.Outcome != types.OutcomePending && time.Since(rec.ResolvedAt) > time.Hour,
	}
}

func toTradeRecord(row TradeRecord) *types.TradeRecord {
	return &types.TradeRecord{
		ID: row.ID, Timestamp: row.Timestamp, MarketID: row.MarketID,
		Engine: types.Engine(row.Engine), Direction: types.Direction(row.Direction),
		Confidence: row.Confidence, EntryPrice: row.EntryPrice, SizeUSD: row.SizeUSD,
		OraclePriceAtEntry: row.OraclePriceAtEntry, Outcome: types.Outcome(row.Outcome),
		RealizedPnL: row.RealizedPnL, ExchangeOrderID: row.ExchangeOrderID,
		ResolvedAt: row.ResolvedAt,
	}
}
