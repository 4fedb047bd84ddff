// Package oracle supplies live and authoritative prices, per-window opening
// anchors, and OHLC candles to the rest of the trading runtime. A single
// long-lived stream task writes the shared price buffers; every other
// component only reads them (§5).
package oracle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/metrics"
	"github.com/duskline/polybot/internal/types"
)

// Health is the stream's exposed counters.
type Health struct {
	Attempts            int64
	Successes           int64
	ConsecutiveFailures int64
	LastSuccess         time.Time
}

// Engine is the Oracle component: one per asset.
type Engine struct {
	cfg   *config.Config
	asset string

	authoritative atomic.Pointer[types.PricePoint]
	exchangeNative atomic.Pointer[types.PricePoint]

	anchorMu sync.Mutex
	anchors  map[string]*types.WindowAnchor

	healthMu sync.RWMutex
	health   Health

	watchdogMu    sync.Mutex
	lastMessageAt time.Time
	activeConn    *websocket.Conn

	binance *binanceSource
}

// New constructs the Oracle Engine for one asset (e.g. "BTC").
func New(cfg *config.Config, asset string) *Engine {
	e := &Engine{
		cfg:     cfg,
		asset:   asset,
		anchors: make(map[string]*types.WindowAnchor),
		binance: newBinanceSource(cfg, asset),
	}
	e.binance.engine = e
	return e
}

// ConsensusPrice selects the best available price per §4.1's priority order:
// (a) authoritative if fresh, else (b) exchange-native if fresh, else (c)
// a REST fetch of the exchange ticker. No independent aggregator (d) is
// queried.
func (e *Engine) ConsensusPrice(ctx context.Context) (types.ConsensusPrice, error) {
	staleAfter := time.Duration(e.cfg.ConsensusStaleSecs) * time.Second

	auth := e.authoritative.Load()
	if auth != nil && auth.Age() < staleAfter {
		return e.buildConsensus(*auth, nil), nil
	}

	native := e.exchangeNative.Load()
	if native != nil && native.Age() < staleAfter {
		cp := e.buildConsensus(*native, auth)
		return cp, nil
	}

	// Both stream buffers stale: fall back to a synchronous REST fetch of
	// (c) the exchange ticker, the only REST source fetched, and take the
	// median of what answers.
	points, err := e.fetchRESTFallback(ctx)
	if err != nil {
		return types.ConsensusPrice{}, fmt.Errorf("oracle: all price sources unavailable: %w", err)
	}
	return e.medianConsensus(points, auth), nil
}

func (e *Engine) buildConsensus(primary types.PricePoint, authoritative *types.PricePoint) types.ConsensusPrice {
	cp := types.ConsensusPrice{
		Price:      primary.Price,
		Sources:    []string{primary.Source},
		Confidence: 1.0,
		Timestamp:  primary.Timestamp,
	}
	if authoritative != nil {
		cp.AuthoritativePrice = authoritative.Price
		cp.HasAuthoritative = true
	}
	return cp
}

func (e *Engine) medianConsensus(points []types.PricePoint, authoritative *types.PricePoint) types.ConsensusPrice {
	if len(points) == 0 {
		return types.ConsensusPrice{}
	}
	prices := make([]decimal.Decimal, len(points))
	sources := make([]string, len(points))
	for i, p := range points {
		prices[i] = p.Price
		sources[i] = p.Source
	}
	median := medianDecimal(prices)
	spread := spreadPct(prices, median)

	confidence := 1.0 - float64(len(points)-1)*0.1
	if confidence < 0.3 {
		confidence = 0.3
	}

	cp := types.ConsensusPrice{
		Price:      median,
		Sources:    sources,
		SpreadPct:  spread,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}
	if authoritative != nil {
		cp.AuthoritativePrice = authoritative.Price
		cp.HasAuthoritative = true
	}
	return cp
}

func medianDecimal(ds []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal(nil), ds...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].GreaterThan(sorted[j]); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

func spreadPct(ds []decimal.Decimal, median decimal.Decimal) decimal.Decimal {
	if median.IsZero() || len(ds) == 0 {
		return decimal.Zero
	}
	min, max := ds[0], ds[0]
	for _, d := range ds {
		if d.LessThan(min) {
			min = d
		}
		if d.GreaterThan(max) {
			max = d
		}
	}
	return max.Sub(min).Div(median).Mul(decimal.NewFromInt(100))
}

func (e *Engine) fetchRESTFallback(ctx context.Context) ([]types.PricePoint, error) {
	var points []types.PricePoint
	if p, err := e.binance.restTicker(ctx); err == nil {
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no REST source answered")
	}
	return points, nil
}

// WindowAnchor returns the immutable open-price anchor for the window
// containing boundary, capturing it on first request (§4.1, invariant I1).
func (e *Engine) WindowAnchor(ctx context.Context, windowMin int, boundary time.Time) (*types.WindowAnchor, error) {
	key := fmt.Sprintf("%d:%d", windowMin, boundary.Unix())

	e.anchorMu.Lock()
	if a, ok := e.anchors[key]; ok {
		e.anchorMu.Unlock()
		return a, nil
	}
	e.anchorMu.Unlock()

	cp, err := e.ConsensusPrice(ctx)
	if err != nil {
		return nil, err
	}

	price := cp.Price
	source := "consensus"
	if cp.HasAuthoritative {
		price = cp.AuthoritativePrice
		source = "authoritative"
	}

	anchor := &types.WindowAnchor{
		Boundary:   boundary,
		OpenPrice:  price,
		Source:     source,
		CapturedAt: time.Now(),
	}

	e.anchorMu.Lock()
	if existing, ok := e.anchors[key]; ok {
		e.anchorMu.Unlock()
		return existing, nil
	}
	e.anchors[key] = anchor
	e.anchorMu.Unlock()

	log.Info().
		Str("asset", e.asset).
		Time("boundary", boundary).
		Str("open_price", price.String()).
		Str("source", source).
		Msg("⚓ window anchor captured")
	return anchor, nil
}

// Candles fetches OHLC history at the requested interval, requiring at
// least MinCandles bars for the strategy to proceed.
func (e *Engine) Candles(ctx context.Context, interval string, limit int) ([]types.Candle, error) {
	candles, err := e.binance.candles(ctx, interval, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) < e.cfg.MinCandles {
		return nil, fmt.Errorf("oracle: only %d candles available, need %d", len(candles), e.cfg.MinCandles)
	}
	return candles, nil
}

// Health returns a snapshot of the stream's health counters.
func (e *Engine) Health() Health {
	e.healthMu.RLock()
	defer e.healthMu.RUnlock()
	return e.health
}

func (e *Engine) recordAttempt() {
	e.healthMu.Lock()
	e.health.Attempts++
	e.healthMu.Unlock()
	metrics.OracleStreamReconnects.Inc()
}

func (e *Engine) recordSuccess() {
	e.healthMu.Lock()
	e.health.Successes++
	e.health.ConsecutiveFailures = 0
	e.health.LastSuccess = time.Now()
	e.healthMu.Unlock()
	metrics.OracleConsecutiveFailures.Set(0)
}

func (e *Engine) recordFailure() {
	e.healthMu.Lock()
	e.health.ConsecutiveFailures++
	failures := e.health.ConsecutiveFailures
	e.healthMu.Unlock()
	metrics.OracleConsecutiveFailures.Set(float64(failures))
}
