package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/types"
)

// rawResolution is the venue's per-market resolution response.
type rawResolution struct {
	Closed  bool       `json:"closed"`
	Winner  flexString `json:"winningOutcome"`
}

// PollResolutions checks every pending TradeRecord against the venue's
// per-market endpoint, settles outcome and PnL, and archives records older
// than one hour since resolution (§4.4.3).
func (c *Client) PollResolutions(ctx context.Context) []*types.TradeRecord {
	c.mu.RLock()
	pending := make([]*types.TradeRecord, 0, len(c.tradeRecords))
	for _, r := range c.tradeRecords {
		if r.Outcome == types.OutcomePending {
			pending = append(pending, r)
		}
	}
	c.mu.RUnlock()

	var resolved []*types.TradeRecord
	for _, rec := range pending {
		res, err := c.fetchResolution(ctx, rec.MarketID)
		if err != nil || !res.Closed || res.Winner == "" {
			continue
		}

		winner := types.Up
		if res.Winner == "Down" || res.Winner == "DOWN" || res.Winner == "No" {
			winner = types.Down
		}

		c.mu.Lock()
		rec.Outcome = types.OutcomeWin
		if rec.Direction != winner {
			rec.Outcome = types.OutcomeLoss
		}
		rec.RealizedPnL = c.settlePnL(rec)
		rec.ResolvedAt = time.Now()
		c.mu.Unlock()

		log.Info().
			Str("market", rec.MarketID).
			Str("outcome", string(rec.Outcome)).
			Str("pnl", rec.RealizedPnL.StringFixed(2)).
			Msg("📊 trade resolved")
		resolved = append(resolved, rec)
	}

	c.archiveOldResolutions()
	return resolved
}

// OpenTrades returns a snapshot of every trade still awaiting resolution,
// used by the orchestrator's hedge pass.
func (c *Client) OpenTrades() []*types.TradeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.TradeRecord, 0, len(c.tradeRecords))
	for _, r := range c.tradeRecords {
		if r.Outcome == types.OutcomePending {
			out = append(out, r)
		}
	}
	return out
}

// settlePnL computes realized PnL: on win, shares-size where shares =
// size/entry_price; on loss, -size.
func (c *Client) settlePnL(rec *types.TradeRecord) decimal.Decimal {
	if rec.Outcome == types.OutcomeLoss {
		return rec.SizeUSD.Neg()
	}
	if rec.EntryPrice.IsZero() {
		return decimal.Zero
	}
	shares := rec.SizeUSD.Div(rec.EntryPrice)
	return shares.Sub(rec.SizeUSD)
}

func (c *Client) fetchResolution(ctx context.Context, conditionID string) (*rawResolution, error) {
	url := fmt.Sprintf("%s/markets/%s", c.cfg.PolymarketGammaURL, conditionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw rawResolution
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// archiveOldResolutions moves resolved records older than 1 hour out of the
// live map, per §4.4.3.
func (c *Client) archiveOldResolutions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-time.Hour)
	for id, rec := range c.tradeRecords {
		if rec.Outcome != types.OutcomePending && rec.ResolvedAt.Before(cutoff) {
			c.archived = append(c.archived, rec)
			delete(c.tradeRecords, id)
		}
	}
}

// ArchivedTrades returns a snapshot of records moved out of the live map.
func (c *Client) ArchivedTrades() []*types.TradeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.TradeRecord, len(c.archived))
	copy(out, c.archived)
	return out
}

// TradeRecordByID looks up a trade record by ID across both the live map and
// the archive, used by the orchestrator's resolution-routing disambiguation.
func (c *Client) TradeRecordByID(id string) (*types.TradeRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.tradeRecords[id]; ok {
		return r, true
	}
	for _, r := range c.archived {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}
