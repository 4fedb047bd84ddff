package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/duskline/polybot/internal/arb"
	"github.com/duskline/polybot/internal/broadcast"
	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/exchange"
	"github.com/duskline/polybot/internal/maker"
	"github.com/duskline/polybot/internal/metrics"
	"github.com/duskline/polybot/internal/notify"
	"github.com/duskline/polybot/internal/oracle"
	"github.com/duskline/polybot/internal/risk"
	"github.com/duskline/polybot/internal/signal"
	"github.com/duskline/polybot/internal/storage"
	"github.com/duskline/polybot/internal/types"
)

// Orchestrator owns the event loop: it wakes the 15m and 5m trading cycles
// at their boundaries, runs the late-window sweep between them, starts
// every other long-lived task, and is the sole component that routes a
// resolved trade's PnL into a risk bucket so invariant I2 holds.
type Orchestrator struct {
	cfg         *config.Config
	oracle      *oracle.Engine
	signal      *signal.Engine
	riskMgr     *risk.Manager
	exchange    *exchange.Client
	store       *storage.Store
	notifier    *notify.Notifier
	bus         broadcast.Bus
	arbScanner  *arb.Scanner
	marketMaker *maker.Maker

	mu                      sync.Mutex
	lateWindowTraded        map[string]bool
	routedTradeIDs          map[string]bool
	directionalIntervalMins int
	lastBankrollSync        time.Time
	cycleCount              int
}

// New wires the Orchestrator to every other component. arbScanner and
// marketMaker may be nil when their engines are disabled.
func New(
	cfg *config.Config,
	oracleEngine *oracle.Engine,
	signalEngine *signal.Engine,
	riskMgr *risk.Manager,
	exClient *exchange.Client,
	store *storage.Store,
	notifier *notify.Notifier,
	bus broadcast.Bus,
	arbScanner *arb.Scanner,
	marketMaker *maker.Maker,
) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, oracle: oracleEngine, signal: signalEngine, riskMgr: riskMgr,
		exchange: exClient, store: store, notifier: notifier, bus: bus,
		arbScanner: arbScanner, marketMaker: marketMaker,
		lateWindowTraded:        make(map[string]bool),
		routedTradeIDs:          make(map[string]bool),
		directionalIntervalMins: 15,
	}
}

// Reconcile loads persisted positions and resting quotes from storage on
// boot: positions are only logged as recovered (they are not loaded back
// into the Exchange Client or any engine, so resolution polling does not
// see them), and any maker quotes left resting from a previous session are
// cancelled outright.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	if o.store == nil {
		log.Info().Msg("📦 no storage backend — skipping startup reconciliation")
		return nil
	}

	positions, err := o.store.AllExecutionPositions()
	if err != nil {
		return fmt.Errorf("orchestrator: load positions: %w", err)
	}
	if len(positions) > 0 {
		log.Warn().Int("count", len(positions)).Msg("⚠️ found persisted positions from a previous session")
		for _, p := range positions {
			log.Info().Str("id", p.ID).Str("market", p.MarketID).Str("engine", p.Engine).
				Time("opened_at", p.OpenedAt).Msg("📥 recovered position")
		}
	}

	quotes, err := o.store.AllActiveQuotes()
	if err != nil {
		return fmt.Errorf("orchestrator: load quotes: %w", err)
	}
	for _, q := range quotes {
		o.exchange.CancelOrder(ctx, q.OrderID)
		_ = o.store.DeleteActiveQuote(q.OrderID)
	}
	if len(quotes) > 0 {
		log.Info().Int("count", len(quotes)).Msg("🧹 cancelled stale maker quotes from a previous session")
	}
	return nil
}

// Run starts every long-lived task under one errgroup bound to ctx and
// blocks until ctx is cancelled or a task returns a fatal error.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.oracle.Run(ctx) })
	g.Go(func() error { return o.tradingLoop(ctx, types.EngineMain, 15) })

	if o.cfg.Enable5m {
		g.Go(func() error { return o.tradingLoop(ctx, types.Engine5m, 5) })
	}
	if o.cfg.EnableLateWindow {
		g.Go(func() error { return o.lateWindowLoop(ctx) })
	}
	g.Go(func() error { return o.directionalRefreshLoop(ctx) })

	if o.cfg.EnableArb && o.arbScanner != nil {
		g.Go(func() error { return o.arbScanner.Run(ctx) })
	}
	if o.cfg.EnableMarketMaker && o.marketMaker != nil {
		g.Go(func() error { return o.marketMaker.Run(ctx) })
	}
	if o.cfg.SyncLiveBankroll {
		g.Go(func() error { return o.bankrollSyncLoop(ctx) })
	}
	if o.bus != nil {
		g.Go(func() error { return o.dashboardPushLoop(ctx) })
	}

	err := g.Wait()
	o.shutdown()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (o *Orchestrator) shutdown() {
	log.Info().Msg("🛑 orchestrator shutting down")
	if o.bus != nil {
		o.bus.Close()
	}
}

// tradingLoop is the 15m/5m trading cycle: it ticks frequently but only
// fires runCycle once per boundary's entry window, skipping 5m ticks that
// coincide with a 15m boundary (invariant I3).
func (o *Orchestrator) tradingLoop(ctx context.Context, engine types.Engine, windowMin int) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var lastTraded time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			if engine == types.Engine5m && IsFifteenMinuteBoundary(now) {
				continue
			}
			next := NextBoundary(now, windowMin)
			if !IsInEntryWindow(now, next, o.cfg.EntryLeadSecs, o.cfg.EntryWindowSecs) {
				continue
			}
			if lastTraded.Equal(next) {
				continue
			}
			lastTraded = next
			o.runCycle(ctx, engine, windowMin, next)
		}
	}
}

// runCycle implements the ordered §4.7 cycle steps: anchor, delay, price +
// candles, discovery + fee, decision, bankroll sync, risk gate, hedge, size,
// place, resolve.
func (o *Orchestrator) runCycle(ctx context.Context, engine types.Engine, windowMin int, boundary time.Time) {
	o.mu.Lock()
	o.cycleCount++
	cycle := o.cycleCount
	o.mu.Unlock()

	anchor, err := o.oracle.WindowAnchor(ctx, windowMin, boundary)
	if err != nil {
		log.Warn().Err(err).Str("engine", string(engine)).Msg("cycle: anchor capture failed")
		return
	}

	if o.cfg.StrategyDelaySecs > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(o.cfg.StrategyDelaySecs) * time.Second):
		}
	}

	cp, err := o.oracle.ConsensusPrice(ctx)
	if err != nil {
		log.Warn().Err(err).Str("engine", string(engine)).Msg("cycle: consensus price unavailable")
		return
	}

	interval := o.directionalIntervalFor(windowMin)
	candles, err := o.oracle.Candles(ctx, fmt.Sprintf("%dm", interval), 100)
	if err != nil {
		log.Warn().Err(err).Str("engine", string(engine)).Msg("cycle: insufficient candles")
		return
	}

	markets, err := o.exchange.DiscoverMarkets(ctx, "BTC", o.cfg.Timeframes)
	if err != nil || len(markets) == 0 {
		log.Warn().Err(err).Str("engine", string(engine)).Msg("cycle: market discovery failed")
		return
	}
	current := exchange.CurrentWindowMarkets(markets, windowMin, time.Now())
	leading := mostLiquidMarket(current)
	if leading == nil {
		log.Debug().Str("engine", string(engine)).Msg("cycle: no tradable market for this window")
		return
	}

	feePct := o.exchange.FeePct(ctx, leading.UpTokenID, leading.UpPrice)

	decision := o.signal.Decide(candles, cp.Price, anchor, feePct)
	o.publishState(cycle, cp, anchor, decision)
	if !decision.ShouldTrade {
		return
	}

	if o.cfg.SyncLiveBankroll {
		o.maybeSyncBankroll(ctx)
	}

	if ok, reason := o.riskMgr.CanTrade(engine); !ok {
		metrics.RiskCanTradeBlocked.WithLabelValues(string(engine), reason).Inc()
		if o.notifier != nil {
			o.notifier.RiskGateTripped(engine, reason)
		}
		return
	}

	if o.cfg.EnableHedge {
		o.runHedgePass(ctx, engine, decision)
	}

	size := o.riskMgr.Size(engine, decision.Confidence)
	if size.IsZero() {
		return
	}
	if !o.riskMgr.BudgetAllows(engine, size) {
		metrics.RiskCanTradeBlocked.WithLabelValues(string(engine), "daily budget at cap").Inc()
		return
	}

	rec, err := o.exchange.PlaceOrder(ctx, exchange.PlaceOrderInput{
		Market: leading, Engine: engine, Direction: decision.Direction,
		SizeUSD: size, OraclePrice: cp.Price, Confidence: decision.Confidence,
	})
	if err != nil {
		log.Error().Err(err).Str("engine", string(engine)).Msg("cycle: order placement error")
		if o.notifier != nil {
			o.notifier.Error(err)
		}
	}
	if rec != nil {
		o.riskMgr.RecordSpend(engine, size)
		metrics.OrdersPlaced.WithLabelValues(string(engine), "filled").Inc()
		if o.notifier != nil {
			o.notifier.TradeOpened(rec)
		}
		o.publishTrade("open", rec)
		if o.store != nil {
			_ = o.store.SaveTradeRecord(rec)
		}
	}

	o.pollAndRouteResolutions(ctx)
}

// runHedgePass locks in partial profit on open trades whose direction now
// contradicts a sufficiently confident new decision.
func (o *Orchestrator) runHedgePass(ctx context.Context, engine types.Engine, decision types.StrategyDecision) {
	if decision.Confidence < o.cfg.ConfidenceThreshold {
		return
	}
	for _, t := range o.exchange.OpenTrades() {
		if t.Engine != engine || t.Direction == decision.Direction {
			continue
		}
		mkt, ok := o.exchange.ActiveMarket(t.MarketID)
		if !ok {
			continue
		}
		hedgeSize := t.SizeUSD.Div(decimal.NewFromInt(2))
		if !o.riskMgr.BudgetAllows(engine, hedgeSize) {
			continue
		}
		rec, err := o.exchange.PlaceOrder(ctx, exchange.PlaceOrderInput{
			Market: mkt, Engine: engine, Direction: decision.Direction,
			SizeUSD: hedgeSize, OraclePrice: decision.CurrentPrice, Confidence: decision.Confidence,
		})
		if err != nil {
			log.Warn().Err(err).Msg("hedge pass: order failed")
			continue
		}
		if rec == nil {
			continue
		}
		o.riskMgr.RecordSpend(engine, hedgeSize)
		log.Info().Str("market", mkt.Slug).Str("hedge_direction", string(decision.Direction)).
			Msg("🔒 hedge order placed")
		o.publishTrade("open", rec)
		if o.store != nil {
			_ = o.store.SaveTradeRecord(rec)
		}
	}
}

// lateWindowLoop sweeps, between entry windows, markets within
// late_window_lead_secs of expiry for a pure-drift late entry.
func (o *Orchestrator) lateWindowLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var lastBoundary time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			boundary15 := NextBoundary(now, 15)
			if !boundary15.Equal(lastBoundary) {
				o.mu.Lock()
				o.lateWindowTraded = make(map[string]bool)
				o.mu.Unlock()
				lastBoundary = boundary15
			}
			if IsInEntryWindow(now, boundary15, o.cfg.EntryLeadSecs, o.cfg.EntryWindowSecs) {
				continue
			}
			o.sweepLateWindow(ctx)
		}
	}
}

func (o *Orchestrator) sweepLateWindow(ctx context.Context) {
	for _, m := range o.exchange.ActiveMarkets() {
		if m.TimeframeMin == 5 {
			continue
		}
		remaining := m.TimeRemaining()
		if !InLateWindow(remaining, o.cfg.LateWindowLeadSecs) {
			continue
		}

		o.mu.Lock()
		already := o.lateWindowTraded[m.ConditionID]
		o.mu.Unlock()
		if already {
			continue
		}

		anchor, err := o.oracle.WindowAnchor(ctx, m.TimeframeMin, m.WindowTS)
		if err != nil {
			continue
		}
		cp, err := o.oracle.ConsensusPrice(ctx)
		if err != nil {
			continue
		}

		decision := o.signal.LateWindowDecide(cp.Price, anchor.OpenPrice, remaining)
		if !decision.ShouldTrade {
			continue
		}

		if ok, reason := o.riskMgr.CanTrade(types.EngineLateWindow); !ok {
			metrics.RiskCanTradeBlocked.WithLabelValues(string(types.EngineLateWindow), reason).Inc()
			if o.notifier != nil {
				o.notifier.RiskGateTripped(types.EngineLateWindow, reason)
			}
			continue
		}

		price := m.UpPrice
		if decision.Direction == types.Down {
			price = m.DownPrice
		}
		if price.GreaterThan(o.cfg.MaxEntryPriceLate) {
			continue
		}

		size := o.riskMgr.Size(types.EngineLateWindow, decision.Confidence)
		if size.IsZero() {
			continue
		}
		if !o.riskMgr.BudgetAllows(types.EngineLateWindow, size) {
			metrics.RiskCanTradeBlocked.WithLabelValues(string(types.EngineLateWindow), "daily budget at cap").Inc()
			continue
		}

		rec, err := o.exchange.PlaceOrder(ctx, exchange.PlaceOrderInput{
			Market: m, Engine: types.EngineLateWindow, Direction: decision.Direction,
			SizeUSD: size, OraclePrice: cp.Price, Confidence: decision.Confidence,
		})
		if err != nil {
			log.Warn().Err(err).Msg("late-window: order failed")
			continue
		}

		o.mu.Lock()
		o.lateWindowTraded[m.ConditionID] = true
		o.mu.Unlock()

		if rec != nil {
			o.riskMgr.RecordSpend(types.EngineLateWindow, size)
			metrics.OrdersPlaced.WithLabelValues(string(types.EngineLateWindow), "filled").Inc()
			if o.notifier != nil {
				o.notifier.TradeOpened(rec)
			}
			o.publishTrade("open", rec)
			if o.store != nil {
				_ = o.store.SaveTradeRecord(rec)
			}
		}
	}

	o.pollAndRouteResolutions(ctx)
}

// pollAndRouteResolutions applies each newly-resolved trade's PnL to
// exactly one engine's risk bucket (invariant I2), deduping against
// routedTradeIDs since the main and 5m loops may both observe the same
// resolved trade in the same tick.
func (o *Orchestrator) pollAndRouteResolutions(ctx context.Context) {
	resolved := o.exchange.PollResolutions(ctx)
	for _, rec := range resolved {
		o.mu.Lock()
		if o.routedTradeIDs[rec.ID] {
			o.mu.Unlock()
			continue
		}
		o.routedTradeIDs[rec.ID] = true
		o.mu.Unlock()

		won := rec.Outcome == types.OutcomeWin
		o.riskMgr.RecordTrade(rec.Engine, rec.RealizedPnL, won)
		metrics.RiskCapital.Set(toFloat(o.riskMgr.Capital()))

		if o.notifier != nil {
			o.notifier.TradeResolved(rec)
		}
		o.publishTrade("resolved", rec)
		if o.store != nil {
			_ = o.store.SaveTradeRecord(rec)
			_ = o.store.ArchiveTradeRecord(rec.ID)
		}
	}
}

// directionalRefreshLoop re-evaluates directionalIntervalMins every 45s
// when the 5m loop is off; when it's on, the main interval is locked at 15.
func (o *Orchestrator) directionalRefreshLoop(ctx context.Context) error {
	if o.cfg.Enable5m {
		o.mu.Lock()
		o.directionalIntervalMins = 15
		o.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(45 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			seen := make(map[int]bool)
			for _, m := range o.exchange.ActiveMarkets() {
				seen[m.TimeframeMin] = true
			}
			tfs := make([]int, 0, len(seen))
			for tf := range seen {
				tfs = append(tfs, tf)
			}
			interval := PickDirectionalInterval(tfs)
			if interval == 0 {
				continue
			}
			o.mu.Lock()
			o.directionalIntervalMins = interval
			o.mu.Unlock()
		}
	}
}

func (o *Orchestrator) directionalIntervalFor(windowMin int) int {
	if windowMin == 5 {
		return 5
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.directionalIntervalMins
}

// bankrollSyncLoop periodically overwrites Risk Manager capital from the
// exchange's reported balance.
func (o *Orchestrator) bankrollSyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(o.cfg.LiveBankrollPollSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.syncBankroll(ctx)
		}
	}
}

func (o *Orchestrator) maybeSyncBankroll(ctx context.Context) {
	o.mu.Lock()
	due := time.Since(o.lastBankrollSync) >= time.Duration(o.cfg.LiveBankrollPollSecs)*time.Second
	if due {
		o.lastBankrollSync = time.Now()
	}
	o.mu.Unlock()
	if due {
		o.syncBankroll(ctx)
	}
}

func (o *Orchestrator) syncBankroll(ctx context.Context) {
	balance, err := o.exchange.GetBalance(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("bankroll sync: balance fetch failed")
		return
	}
	o.riskMgr.SyncLiveBankroll(balance)
	metrics.RiskCapital.Set(toFloat(o.riskMgr.Capital()))
}

// dashboardPushLoop publishes a lightweight price_tick every 2s between
// full state snapshots.
func (o *Orchestrator) dashboardPushLoop(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cp, err := o.oracle.ConsensusPrice(ctx)
			if err != nil {
				continue
			}
			o.bus.Publish(broadcast.SubjectPriceTick, broadcast.PriceTickMessage{
				Type: "price_tick", Price: cp.Price.String(), Timestamp: time.Now(),
			})
		}
	}
}

func (o *Orchestrator) publishState(cycle int, cp types.ConsensusPrice, anchor *types.WindowAnchor, decision types.StrategyDecision) {
	if o.bus == nil {
		return
	}
	anchorStr := ""
	if anchor != nil {
		anchorStr = anchor.OpenPrice.String()
	}
	dec := decision
	o.bus.Publish(broadcast.SubjectState, broadcast.StateMessage{
		Type:        "state",
		Cycle:       cycle,
		OraclePrice: cp.Price.String(),
		Anchor:      anchorStr,
		Decision:    &dec,
		Stats: map[string]types.DailyStats{
			string(types.EngineMain):       o.riskMgr.Stats(types.EngineMain),
			string(types.Engine5m):         o.riskMgr.Stats(types.Engine5m),
			string(types.EngineLateWindow): o.riskMgr.Stats(types.EngineLateWindow),
		},
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) publishTrade(event string, rec *types.TradeRecord) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(broadcast.SubjectTradeNotify, broadcast.TradeNotificationMessage{
		Type: "trade_notification", Event: event, Record: rec,
	})
}

func mostLiquidMarket(markets []*types.Market) *types.Market {
	var best *types.Market
	for _, m := range markets {
		if !m.Tradable {
			continue
		}
		if best == nil || m.Liquidity.GreaterThan(best.Liquidity) {
			best = m
		}
	}
	return best
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
