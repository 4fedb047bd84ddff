package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// FeePct returns the taker fee percentage for a token at price p, preferring
// a live fee-bps lookup (cached per token for fee_cache_secs) and falling
// back to the parabolic approximation when the live lookup is unavailable
// (§4.4.4). When both are available and disagree materially, the live value
// wins and the divergence is logged at warn level (Open Question (b)).
func (c *Client) FeePct(ctx context.Context, tokenID string, p decimal.Decimal) decimal.Decimal {
	fallback := c.parabolicFee(p)

	bps, ok := c.lookupFeeBps(ctx, tokenID)
	if !ok {
		return fallback
	}

	live := bps.Div(decimal.NewFromInt(10000)).
		Mul(decimal.NewFromInt(1).Sub(p)).
		Mul(decimal.NewFromInt(100))

	diff := live.Sub(fallback).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.5)) {
		log.Warn().
			Str("token_id", tokenID).
			Str("live_fee_pct", live.StringFixed(4)).
			Str("fallback_fee_pct", fallback.StringFixed(4)).
			Msg("⚠️ live fee diverges from parabolic fallback")
	}
	return live
}

// parabolicFee is fallback * 4 * p * (1-p), maximal at p=0.5.
func (c *Client) parabolicFee(p decimal.Decimal) decimal.Decimal {
	four := decimal.NewFromInt(4)
	return c.cfg.FeeFallbackBps.
		Div(decimal.NewFromInt(10000)).
		Mul(decimal.NewFromInt(100)).
		Mul(four).
		Mul(p).
		Mul(decimal.NewFromInt(1).Sub(p))
}

func (c *Client) lookupFeeBps(ctx context.Context, tokenID string) (decimal.Decimal, bool) {
	key := "fee_bps:" + tokenID
	if c.feeCache != nil {
		if v, ok := c.feeCache.Get(ctx, key); ok {
			if d, err := decimal.NewFromString(v); err == nil {
				return d, true
			}
		}
	}

	if c.dryRun {
		return decimal.Zero, false
	}

	url := fmt.Sprintf("%s/fee-rate?token_id=%s", c.cfg.PolymarketCLOBURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, false
	}
	defer resp.Body.Close()

	var out struct {
		FeeBps float64 `json:"feeRateBps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, false
	}

	bps := decimal.NewFromFloat(out.FeeBps)
	if c.feeCache != nil {
		ttl := time.Duration(c.cfg.FeeCacheSecs) * time.Second
		c.feeCache.Set(ctx, key, strconv.FormatFloat(out.FeeBps, 'f', -1, 64), ttl)
	}
	return bps, true
}
