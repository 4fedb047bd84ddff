// Package arb runs an independent fast-polling loop that detects and
// executes fee-adjusted arbitrage across concurrently discovered markets.
package arb

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/exchange"
	"github.com/duskline/polybot/internal/metrics"
	"github.com/duskline/polybot/internal/types"
)

// Opportunity is one net-positive-edge market found by a scan.
type Opportunity struct {
	Market   *types.Market
	Combined decimal.Decimal
	EdgePct  decimal.Decimal
	NetEdge  decimal.Decimal
}

// Scanner is the Arb Scanner component.
type Scanner struct {
	cfg    *config.Config
	client *exchange.Client

	mu               sync.Mutex
	cooldownUntil    map[string]time.Time
	expired          map[string]*types.Market
	dailyTrades      int
	dailySpent       decimal.Decimal
	dayStart         time.Time
	consecutiveErrs  int
	nextScanAllowed  time.Time
}

// New constructs an Arb Scanner sharing the runtime's Exchange Client.
func New(cfg *config.Config, client *exchange.Client) *Scanner {
	return &Scanner{
		cfg:           cfg,
		client:        client,
		cooldownUntil: make(map[string]time.Time),
		expired:       make(map[string]*types.Market),
		dailySpent:    decimal.Zero,
		dayStart:      time.Now(),
	}
}

// Run polls every poll_interval_secs, re-discovering markets every 45s and
// otherwise only refreshing prices, until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	pollInterval := time.Duration(s.cfg.ArbPollIntervalSecs) * time.Second
	discoveryInterval := time.Duration(s.cfg.ArbDiscoveryIntervalSecs) * time.Second

	lastDiscovery := time.Time{}
	var markets []*types.Market

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			if !s.nextScanAllowed.IsZero() && time.Now().Before(s.nextScanAllowed) {
				s.mu.Unlock()
				continue
			}
			s.mu.Unlock()

			if time.Since(lastDiscovery) >= discoveryInterval {
				fresh, err := s.client.DiscoverMarkets(ctx, "BTC", s.cfg.Timeframes)
				if err != nil {
					s.recordScanError()
					continue
				}
				markets = fresh
				lastDiscovery = time.Now()
			}

			s.expireOldMarkets(markets)
			s.scan(ctx, markets)
			s.resetErrorBackoff()
			s.maybeResetDaily()
		}
	}
}

func (s *Scanner) expireOldMarkets(markets []*types.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, m := range markets {
		if m.EndTime.Before(now) {
			s.expired[m.ConditionID] = m
		}
	}
}

// scan computes combined/edge_pct/net edge for every live market and
// executes opportunities ordered by edge descending.
func (s *Scanner) scan(ctx context.Context, markets []*types.Market) {
	metrics.ArbCyclesRun.Inc()
	now := time.Now()
	var opps []Opportunity

	for _, m := range markets {
		if !m.EndTime.After(now) {
			continue
		}
		combined := m.UpPrice.Add(m.DownPrice)
		if combined.GreaterThanOrEqual(s.cfg.ArbThreshold) {
			continue
		}
		edgePct := decimal.NewFromInt(1).Sub(combined).Mul(decimal.NewFromInt(100))
		if edgePct.LessThan(s.cfg.ArbMinEdgePct) {
			continue
		}

		feeYes := s.parabolicFeePct(m.UpPrice)
		feeNo := s.parabolicFeePct(m.DownPrice)
		netEdge := edgePct.Sub(feeYes).Sub(feeNo)
		if netEdge.LessThanOrEqual(decimal.Zero) {
			continue
		}

		opps = append(opps, Opportunity{Market: m, Combined: combined, EdgePct: edgePct, NetEdge: netEdge})
	}

	sortByEdgeDesc(opps)
	if len(opps) > 0 {
		metrics.ArbOpportunitiesFound.Add(float64(len(opps)))
	}

	for _, opp := range opps {
		s.maybeExecute(ctx, opp)
	}
}

func sortByEdgeDesc(opps []Opportunity) {
	for i := 1; i < len(opps); i++ {
		for j := i; j > 0 && opps[j-1].NetEdge.LessThan(opps[j].NetEdge); j-- {
			opps[j-1], opps[j] = opps[j], opps[j-1]
		}
	}
}

// parabolicFeePct mirrors the Exchange Client's fallback formula for venues
// where a live per-token fee lookup is unavailable in the scan hot path.
func (s *Scanner) parabolicFeePct(p decimal.Decimal) decimal.Decimal {
	four := decimal.NewFromInt(4)
	return s.cfg.FeeFallbackBps.
		Div(decimal.NewFromInt(10000)).
		Mul(decimal.NewFromInt(100)).
		Mul(four).
		Mul(p).
		Mul(decimal.NewFromInt(1).Sub(p))
}

func (s *Scanner) maybeExecute(ctx context.Context, opp Opportunity) {
	s.mu.Lock()
	if until, ok := s.cooldownUntil[opp.Market.ConditionID]; ok && time.Now().Before(until) {
		s.mu.Unlock()
		return
	}
	if s.dailyTrades >= s.cfg.ArbDailyCap {
		s.mu.Unlock()
		return
	}
	perSide := s.cfg.ArbSizePerSideUSD
	if s.dailySpent.Add(perSide.Mul(decimal.NewFromInt(2))).GreaterThan(s.cfg.ArbBudgetUSD) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	status := s.executeBothSides(ctx, opp, perSide)

	s.mu.Lock()
	s.dailyTrades++
	s.dailySpent = s.dailySpent.Add(perSide.Mul(decimal.NewFromInt(2)))
	s.cooldownUntil[opp.Market.ConditionID] = time.Now().Add(time.Duration(s.cfg.ArbCooldownSecs) * time.Second)
	s.mu.Unlock()

	log.Info().
		Str("market", opp.Market.Slug).
		Str("net_edge_pct", opp.NetEdge.StringFixed(3)).
		Str("status", status).
		Msg("⚡ arb opportunity executed")
}

func (s *Scanner) executeBothSides(ctx context.Context, opp Opportunity, perSide decimal.Decimal) string {
	upRec, upErr := s.client.PlaceOrder(ctx, exchange.PlaceOrderInput{
		Market: opp.Market, Engine: types.EngineArb, Direction: types.Up, SizeUSD: perSide,
	})
	downRec, downErr := s.client.PlaceOrder(ctx, exchange.PlaceOrderInput{
		Market: opp.Market, Engine: types.EngineArb, Direction: types.Down, SizeUSD: perSide,
	})

	switch {
	case upRec != nil && downRec != nil:
		return "filled"
	case upRec != nil || downRec != nil:
		return "partial"
	default:
		if upErr != nil || downErr != nil {
			return "failed"
		}
		return "failed"
	}
}

// recordScanError implements the exponential error backoff: next scan
// allowed at now + min(300, poll * 2^errors).
func (s *Scanner) recordScanError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrs++
	pollSecs := float64(s.cfg.ArbPollIntervalSecs)
	delay := math.Min(300, pollSecs*math.Pow(2, float64(s.consecutiveErrs)))
	s.nextScanAllowed = time.Now().Add(time.Duration(delay) * time.Second)
}

func (s *Scanner) resetErrorBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrs = 0
	s.nextScanAllowed = time.Time{}
}

func (s *Scanner) maybeResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.dayStart) >= 24*time.Hour {
		s.dailyTrades = 0
		s.dailySpent = decimal.Zero
		s.dayStart = time.Now()
	}
}
