// Package signal implements the deterministic, stateless mapping from
// candles + current price + optional anchor + optional fee to a
// StrategyDecision. Nothing here performs I/O; it is pure function over its
// inputs, safe to unit test without a clock or network.
package signal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/types"
)

// Engine holds the tunables that parameterize the otherwise-pure signal
// math (periods, thresholds) — everything else is computed fresh per call.
// The indicator weights are fixed in score and are not configurable.
type Engine struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Decide runs the full gating pipeline from §4.2 and returns one
// StrategyDecision for the current cycle.
func (e *Engine) Decide(candles []types.Candle, currentPrice decimal.Decimal, anchor *types.WindowAnchor, feePct decimal.Decimal) types.StrategyDecision {
	hasAnchor := anchor != nil
	var anchorPrice decimal.Decimal
	var driftPct float64
	if hasAnchor {
		anchorPrice = anchor.OpenPrice
		if !anchorPrice.IsZero() {
			driftPct = toFloat(currentPrice.Sub(anchorPrice).Div(anchorPrice).Mul(decimal.NewFromInt(100)))
		}
	}

	prices := closes(candles)
	volPct := stdevReturns(prices, 20)

	dec := types.StrategyDecision{
		CurrentPrice:  currentPrice,
		Anchor:        anchorPrice,
		HasAnchor:     hasAnchor,
		DriftPct:      driftPct,
		VolatilityPct: volPct,
		Direction:     types.Hold,
	}

	// Gate 1: volatility band.
	minVol := toFloat(e.cfg.VolMinPct)
	maxVol := toFloat(e.cfg.VolMaxPct)
	if volPct < minVol || volPct > maxVol {
		dec.Reason = fmt.Sprintf("volatility too low/high: %.4f%% not in [%.4f, %.4f]", volPct, minVol, maxVol)
		return dec
	}

	signals := e.computeSignals(candles, currentPrice, anchorPrice, hasAnchor, driftPct)
	dec.Signals = signals

	// Gate 2: chop filter (anchor-present only).
	if hasAnchor {
		upCount, downCount := 0, 0
		for _, s := range signals {
			if s.Name == "price_vs_open" {
				continue
			}
			switch s.Direction {
			case types.Up:
				upCount++
			case types.Down:
				downCount++
			}
		}
		if upCount == 2 && downCount == 2 && abs(driftPct) < 0.12 {
			dec.Reason = "chop filter: indicators split 2-2 with negligible drift"
			return dec
		}
	}

	direction, confidence := e.score(signals, hasAnchor)
	dec.Direction = direction
	dec.Confidence = confidence

	if direction == types.Hold {
		dec.Reason = "no directional edge after weighted scoring"
		return dec
	}

	// Gate 4: agreement filter.
	if hasAnchor {
		opposing := 0
		for _, s := range signals {
			if s.Name == "price_vs_open" {
				continue
			}
			if s.Direction != types.Hold && s.Direction != direction {
				opposing++
			}
		}
		if opposing >= 3 {
			dec.Direction = types.Hold
			dec.Reason = "agreement filter: 3+ indicators oppose"
			return dec
		}
		if opposing >= 2 && abs(driftPct) < 0.10 {
			dec.Direction = types.Hold
			dec.Reason = "agreement filter: 2+ indicators oppose on thin drift"
			return dec
		}
	}

	// Gate 5: fee-adjusted edge.
	rawEdge := abs(confidence-0.5) * 200
	fee := toFloat(feePct)
	if rawEdge < fee {
		dec.Direction = types.Hold
		dec.Reason = fmt.Sprintf("fee-adjusted edge too thin: %.3f%% < fee %.3f%%", rawEdge, fee)
		return dec
	}

	dec.ShouldTrade = direction != types.Hold && confidence >= e.cfg.ConfidenceThreshold
	if !dec.ShouldTrade {
		dec.Reason = fmt.Sprintf("confidence %.3f below threshold %.3f", confidence, e.cfg.ConfidenceThreshold)
	} else {
		dec.Reason = "directional edge confirmed"
	}
	return dec
}

func (e *Engine) computeSignals(candles []types.Candle, currentPrice, anchor decimal.Decimal, hasAnchor bool, driftPct float64) []types.Signal {
	prices := closes(candles)
	signals := make([]types.Signal, 0, 5)

	if hasAnchor {
		signals = append(signals, priceVsOpenSignal(driftPct))
	}

	signals = append(signals, momentumSignal(prices, e.cfg.MomentumCandles))
	signals = append(signals, rsiSignal(prices, e.cfg.RSIPeriod))
	signals = append(signals, macdSignal(prices, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal))
	signals = append(signals, emaCrossSignal(prices, e.cfg.EMAFast, e.cfg.EMASlow))

	return signals
}

func priceVsOpenSignal(driftPct float64) types.Signal {
	dir := types.Hold
	if driftPct > 0.04 {
		dir = types.Up
	} else if driftPct < -0.04 {
		dir = types.Down
	}
	strength := 0.0
	if dir != types.Hold {
		strength = clamp01(abs(driftPct) / 0.15)
	}
	return types.Signal{Name: "price_vs_open", Direction: dir, Strength: strength, Raw: driftPct}
}

func momentumSignal(prices []float64, k int) types.Signal {
	if len(prices) <= k {
		return types.Signal{Name: "momentum", Direction: types.Hold}
	}
	current := prices[len(prices)-1]
	prior := prices[len(prices)-1-k]
	if prior == 0 {
		return types.Signal{Name: "momentum", Direction: types.Hold}
	}
	pct := (current - prior) / prior * 100
	dir := types.Hold
	if abs(pct) > 0.02 {
		if pct > 0 {
			dir = types.Up
		} else {
			dir = types.Down
		}
	}
	strength := 0.0
	if dir != types.Hold {
		strength = clamp01(abs(pct) / 0.5)
	}
	return types.Signal{Name: "momentum", Direction: dir, Strength: strength, Raw: pct}
}

func rsiSignal(prices []float64, period int) types.Signal {
	rsi := wilderRSI(prices, period)
	dir := types.Hold
	strength := 0.0
	switch {
	case rsi < 30:
		dir = types.Up
		strength = clamp01((30 - rsi) / 30)
	case rsi > 70:
		dir = types.Down
		strength = clamp01((rsi - 70) / 30)
	case rsi < 45:
		dir = types.Up
		strength = clamp01((45-rsi)/15) * 0.4
	case rsi > 55:
		dir = types.Down
		strength = clamp01((rsi-55)/15) * 0.4
	}
	return types.Signal{Name: "rsi", Direction: dir, Strength: strength, Raw: rsi}
}

func macdSignal(prices []float64, fast, slow, sig int) types.Signal {
	_, _, hist, prevHist := macd(prices, fast, slow, sig)
	dir := types.Hold
	if hist > 0 {
		dir = types.Up
	} else if hist < 0 {
		dir = types.Down
	}
	strength := clamp01(abs(hist) / 0.1)
	flipped := (hist > 0 && prevHist <= 0) || (hist < 0 && prevHist >= 0)
	if flipped {
		strength = clamp01(strength * 1.5)
	}
	return types.Signal{Name: "macd", Direction: dir, Strength: strength, Raw: hist}
}

func emaCrossSignal(prices []float64, fast, slow int) types.Signal {
	fastVal := ema(prices, fast)
	slowVal := ema(prices, slow)
	if slowVal == 0 {
		return types.Signal{Name: "ema_cross", Direction: types.Hold}
	}
	spreadPct := (fastVal - slowVal) / slowVal * 100
	dir := types.Hold
	if spreadPct > 0 {
		dir = types.Up
	} else if spreadPct < 0 {
		dir = types.Down
	}
	strength := clamp01(abs(spreadPct) / 0.15)

	// "Fresh cross" when the prior bar's fast/slow relationship disagreed.
	if len(prices) > 1 {
		prevFast := ema(prices[:len(prices)-1], fast)
		prevSlow := ema(prices[:len(prices)-1], slow)
		prevDir := prevFast - prevSlow
		if (spreadPct > 0) != (prevDir > 0) {
			strength = clamp01(strength * 2)
		}
	}
	return types.Signal{Name: "ema_cross", Direction: dir, Strength: strength, Raw: spreadPct}
}

// score applies the weighting scheme from §4.2: price_vs_open gets 0.70 of
// the total when an anchor is present and the remaining four share 0.30 in
// the fixed ratios below; without an anchor the four use full weight. The
// ratios are constants here, not read from configuration.
func (e *Engine) score(signals []types.Signal, hasAnchor bool) (types.Direction, float64) {
	weights := map[string]float64{
		"momentum":  0.30,
		"rsi":       0.25,
		"macd":      0.25,
		"ema_cross": 0.20,
	}
	if hasAnchor {
		for k, w := range weights {
			weights[k] = w * 0.30
		}
		weights["price_vs_open"] = 0.70
	}

	upScore, downScore, total := 0.0, 0.0, 0.0
	for _, s := range signals {
		w := weights[s.Name]
		contribution := s.Strength * w
		total += w
		switch s.Direction {
		case types.Up:
			upScore += contribution
		case types.Down:
			downScore += contribution
		}
	}
	if total == 0 {
		return types.Hold, 0
	}

	var direction types.Direction
	var winner float64
	if upScore > downScore {
		direction = types.Up
		winner = upScore
	} else if downScore > upScore {
		direction = types.Down
		winner = downScore
	} else {
		return types.Hold, 0
	}

	confidence := (winner / total) * clamp01(total/0.5)
	if confidence > 0.92 {
		confidence = 0.92
	}
	return direction, confidence
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
