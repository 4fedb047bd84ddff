package signal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/types"
)

// LateWindowDecide is the separate pure-drift decision used near window
// expiry, per §4.2's late-window variant. It never looks at candles: only
// current price, anchor, and time remaining matter this close to
// resolution.
func (e *Engine) LateWindowDecide(currentPrice, anchor decimal.Decimal, timeRemaining time.Duration) types.StrategyDecision {
	dec := types.StrategyDecision{
		CurrentPrice: currentPrice,
		Anchor:       anchor,
		HasAnchor:    true,
		Direction:    types.Hold,
	}
	if anchor.IsZero() {
		dec.Reason = "no anchor available for late-window decision"
		return dec
	}

	driftPct := toFloat(currentPrice.Sub(anchor).Div(anchor).Mul(decimal.NewFromInt(100)))
	dec.DriftPct = driftPct

	minDrift := toFloat(e.cfg.LateWindowMinDrift)
	if abs(driftPct) < minDrift {
		dec.Reason = fmt.Sprintf("late-window drift %.4f%% below minimum %.4f%%", driftPct, minDrift)
		return dec
	}

	if driftPct > 0 {
		dec.Direction = types.Up
	} else {
		dec.Direction = types.Down
	}

	driftScale := toFloat(e.cfg.LateWindowDriftScale)
	base := e.cfg.LateWindowBaseConf
	maxConf := e.cfg.LateWindowMaxConf
	frac := clamp01((abs(driftPct) - minDrift) / (driftScale - minDrift))
	confidence := base + frac*(maxConf-base)

	if timeRemaining < 60*time.Second {
		confidence += 0.02
	}
	if confidence > maxConf {
		confidence = maxConf
	}

	dec.Confidence = confidence
	dec.ShouldTrade = confidence >= e.cfg.ConfidenceThreshold
	if dec.ShouldTrade {
		dec.Reason = "late-window drift confirmed"
	} else {
		dec.Reason = fmt.Sprintf("late-window confidence %.3f below threshold", confidence)
	}
	return dec
}
