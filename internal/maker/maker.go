// Package maker runs an independent loop maintaining post-only resting
// quotes around mid to capture spread and maker rebates, managing
// inventory imbalance across the two outcome sides.
package maker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/exchange"
	"github.com/duskline/polybot/internal/metrics"
	"github.com/duskline/polybot/internal/types"
)

// Maker is the Market Maker component.
type Maker struct {
	cfg    *config.Config
	client *exchange.Client

	mu              sync.Mutex
	quotes          []*types.ActiveQuote
	cancelledIDs    []string
	cancelledSet    map[string]bool
	yesFillUSD      decimal.Decimal
	noFillUSD       decimal.Decimal
	dailyFillUSD    decimal.Decimal
	dayStart        time.Time
	currentMarket   *types.Market
}

// New constructs a Market Maker sharing the runtime's Exchange Client.
func New(cfg *config.Config, client *exchange.Client) *Maker {
	return &Maker{
		cfg:          cfg,
		client:       client,
		cancelledSet: make(map[string]bool),
		dayStart:     time.Now(),
	}
}

// Run executes one cycle every refresh_secs until ctx is cancelled.
func (m *Maker) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(m.cfg.MakerRefreshSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Maker) cycle(ctx context.Context) {
	metrics.MakerCyclesRun.Inc()
	defer func() {
		m.mu.Lock()
		open := len(m.quotes)
		m.mu.Unlock()
		metrics.MakerOpenQuotes.Set(float64(open))
	}()

	m.maybeResetDaily()
	m.detectFills(ctx)
	m.pullBeforeClose(ctx)

	markets, err := m.client.DiscoverMarkets(ctx, "BTC", m.cfg.Timeframes)
	if err != nil || len(markets) == 0 {
		return
	}
	target := mostLiquid(markets)
	if target == nil {
		return
	}

	m.cancelAllQuotes(ctx)

	m.mu.Lock()
	m.currentMarket = target
	m.mu.Unlock()

	mid := target.UpPrice
	if mid.LessThan(decimal.NewFromFloat(0.35)) || mid.GreaterThan(decimal.NewFromFloat(0.65)) {
		return
	}

	m.mu.Lock()
	imbalance := m.yesFillUSD.Sub(m.noFillUSD).Abs()
	skipYes := imbalance.GreaterThanOrEqual(m.cfg.MakerMaxImbalance) && m.yesFillUSD.GreaterThan(m.noFillUSD)
	skipNo := imbalance.GreaterThanOrEqual(m.cfg.MakerMaxImbalance) && m.noFillUSD.GreaterThan(m.yesFillUSD)
	openCount := len(m.quotes)
	dailySpent := m.dailyFillUSD
	m.mu.Unlock()

	if dailySpent.GreaterThanOrEqual(m.cfg.MakerMaxDailyBudget) {
		return
	}

	for i := 0; i < m.cfg.MakerNumLevels; i++ {
		if openCount >= m.cfg.MakerMaxOpenOrders {
			break
		}
		offset := m.cfg.MakerHalfSpread.Add(decimal.NewFromInt(int64(i)).Mul(m.cfg.MakerLevelSpacing))

		if !skipYes {
			yesPrice := mid.Sub(offset)
			if m.priceInRange(yesPrice) {
				if q := m.postQuote(ctx, target, target.UpTokenID, "YES", yesPrice); q != nil {
					openCount++
				}
			}
		}
		if !skipNo {
			noPrice := decimal.NewFromInt(1).Sub(mid).Sub(offset)
			if m.priceInRange(noPrice) {
				if q := m.postQuote(ctx, target, target.DownTokenID, "NO", noPrice); q != nil {
					openCount++
				}
			}
		}
	}
}

func (m *Maker) priceInRange(p decimal.Decimal) bool {
	return p.GreaterThanOrEqual(decimal.NewFromFloat(0.25)) && p.LessThanOrEqual(decimal.NewFromFloat(0.75))
}

func (m *Maker) postQuote(ctx context.Context, mkt *types.Market, tokenID, side string, price decimal.Decimal) *types.ActiveQuote {
	shares := m.cfg.MakerSizeUSD.Div(price)
	if shares.LessThan(decimal.NewFromInt(5)) {
		shares = decimal.NewFromInt(5)
	}
	orderID, ok, err := m.client.PlaceMakerOrder(ctx, tokenID, price, shares)
	if err != nil || !ok || orderID == "" {
		return nil
	}
	q := &types.ActiveQuote{
		OrderID:     orderID,
		TokenID:     tokenID,
		ConditionID: mkt.ConditionID,
		Side:        side,
		Price:       price,
		Size:        shares,
		PostedAt:    time.Now(),
	}
	m.mu.Lock()
	m.quotes = append(m.quotes, q)
	m.mu.Unlock()
	return q
}

// detectFills runs before anything else each cycle: a quote whose order ID
// is absent from the venue's open-orders list, and not one we cancelled
// ourselves, is treated as filled.
func (m *Maker) detectFills(ctx context.Context) {
	m.mu.Lock()
	quotes := append([]*types.ActiveQuote(nil), m.quotes...)
	market := m.currentMarket
	m.mu.Unlock()
	if market == nil || len(quotes) == 0 {
		return
	}

	openIDs, err := m.client.OpenOrderIDs(ctx, market.ConditionID)
	if err != nil {
		return
	}
	open := make(map[string]bool, len(openIDs))
	for _, id := range openIDs {
		open[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var remaining []*types.ActiveQuote
	for _, q := range m.quotes {
		if open[q.OrderID] || m.cancelledSet[q.OrderID] {
			remaining = append(remaining, q)
			continue
		}
		fillUSD := q.Size.Mul(q.Price)
		if q.Side == "YES" {
			m.yesFillUSD = m.yesFillUSD.Add(fillUSD)
		} else {
			m.noFillUSD = m.noFillUSD.Add(fillUSD)
		}
		m.dailyFillUSD = m.dailyFillUSD.Add(fillUSD)
		log.Info().Str("order_id", q.OrderID).Str("side", q.Side).Msg("💰 maker quote filled")
	}
	m.quotes = remaining
}

// pullBeforeClose cancels all quotes on any market within
// pull_before_close_secs of expiry.
func (m *Maker) pullBeforeClose(ctx context.Context) {
	m.mu.Lock()
	market := m.currentMarket
	m.mu.Unlock()
	if market == nil {
		return
	}
	if market.TimeRemaining() <= time.Duration(m.cfg.MakerPullBeforeCloseSecs)*time.Second {
		m.cancelAllQuotes(ctx)
	}
}

// cancelAllQuotes prevents stale accumulation when the top market changes.
func (m *Maker) cancelAllQuotes(ctx context.Context) {
	m.mu.Lock()
	quotes := m.quotes
	m.quotes = nil
	m.mu.Unlock()

	for _, q := range quotes {
		m.client.CancelOrder(ctx, q.OrderID)
		m.addCancelled(q.OrderID)
	}
}

// addCancelled records a cancelled order ID, pruning to the newest 200
// entries once the set exceeds 500 (§4.6 budget).
func (m *Maker) addCancelled(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledSet[orderID] = true
	m.cancelledIDs = append(m.cancelledIDs, orderID)
	if len(m.cancelledIDs) > 500 {
		drop := m.cancelledIDs[:len(m.cancelledIDs)-200]
		for _, id := range drop {
			delete(m.cancelledSet, id)
		}
		m.cancelledIDs = m.cancelledIDs[len(m.cancelledIDs)-200:]
	}
}

// maybeResetDaily clears fills, imbalance, and the cancelled-ID set every
// 24h.
func (m *Maker) maybeResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.dayStart) < 24*time.Hour {
		return
	}
	m.yesFillUSD = decimal.Zero
	m.noFillUSD = decimal.Zero
	m.dailyFillUSD = decimal.Zero
	m.cancelledIDs = nil
	m.cancelledSet = make(map[string]bool)
	m.dayStart = time.Now()
}

func mostLiquid(markets []*types.Market) *types.Market {
	if len(markets) == 0 {
		return nil
	}
	sorted := append([]*types.Market(nil), markets...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Liquidity.GreaterThan(sorted[j].Liquidity)
	})
	return sorted[0]
}
