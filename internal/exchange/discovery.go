package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/types"
)

// candidateSlugs builds the deterministic slug template for one asset and
// timeframe across window offsets {-1, 0, +1, +2}, per §4.4.1.
func candidateSlugs(asset string, timeframeMin int, now time.Time) []string {
	w := time.Duration(timeframeMin) * time.Minute
	boundary := now.Truncate(w)
	slugs := make([]string, 0, 4)
	for _, offset := range []int{-1, 0, 1, 2} {
		ts := boundary.Add(time.Duration(offset) * w)
		slugs = append(slugs, fmt.Sprintf("%s-updown-%dm-%d", asset, timeframeMin, ts.Unix()))
	}
	return slugs
}

// CurrentBoundary floors now to the W-minute grid.
func CurrentBoundary(now time.Time, windowMin int) time.Time {
	w := time.Duration(windowMin) * time.Minute
	return now.Truncate(w)
}

// NextBoundary is CurrentBoundary + W.
func NextBoundary(now time.Time, windowMin int) time.Time {
	return CurrentBoundary(now, windowMin).Add(time.Duration(windowMin) * time.Minute)
}

// DiscoverMarkets fetches candidate markets for the given asset and
// timeframes by slug. When at least one slug lookup fails and none returns a
// market, it falls back to one page (up to 100 entries) of the events
// endpoint filtered on slug prefix; further pages are not fetched. It then
// enriches each discovered market's token IDs and mid prices via the
// order-book API.
func (c *Client) DiscoverMarkets(ctx context.Context, asset string, timeframes []int) ([]*types.Market, error) {
	now := time.Now()

	type result struct {
		market *types.Market
		err    error
	}
	var wg sync.WaitGroup
	resultsCh := make(chan result, len(timeframes)*4)

	for _, tf := range timeframes {
		for _, slug := range candidateSlugs(asset, tf, now) {
			wg.Add(1)
			go func(slug string, tf int) {
				defer wg.Done()
				m, err := c.fetchMarketBySlug(ctx, slug, asset, tf)
				resultsCh <- result{market: m, err: err}
			}(slug, tf)
		}
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var markets []*types.Market
	var missed bool
	for r := range resultsCh {
		if r.err != nil {
			missed = true
			continue
		}
		if r.market != nil {
			markets = append(markets, r.market)
		}
	}

	if missed && len(markets) == 0 {
		fallback, err := c.fetchMarketsByPrefix(ctx, fmt.Sprintf("%s-updown", asset))
		if err == nil {
			markets = append(markets, fallback...)
		}
	}

	for _, m := range markets {
		c.enrichMarket(ctx, m)
	}

	c.setActiveMarkets(markets)
	return markets, nil
}

func (c *Client) fetchMarketBySlug(ctx context.Context, slug, asset string, timeframeMin int) (*types.Market, error) {
	url := fmt.Sprintf("%s/markets/slug/%s", c.cfg.PolymarketGammaURL, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slug %s: status %d", slug, resp.StatusCode)
	}

	var raw rawMarket
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw.normalize(asset, timeframeMin, slug)
}

func (c *Client) fetchMarketsByPrefix(ctx context.Context, prefix string) ([]*types.Market, error) {
	url := fmt.Sprintf("%s/events?active=true&closed=false&limit=100", c.cfg.PolymarketGammaURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raws []rawMarket
	if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
		return nil, err
	}

	var out []*types.Market
	for _, raw := range raws {
		if len(raw.Slug) < len(prefix) || raw.Slug[:len(prefix)] != prefix {
			continue
		}
		m, err := raw.normalize("", 0, raw.Slug)
		if err == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// enrichMarket replaces placeholder token IDs with the venue's real outcome
// token IDs and canonical mid prices via the order-book API.
func (c *Client) enrichMarket(ctx context.Context, m *types.Market) {
	url := fmt.Sprintf("%s/book?token_id=%s", c.cfg.PolymarketCLOBURL, m.UpTokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var book rawBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return
	}
	if mid, ok := book.mid(); ok {
		m.UpPrice = mid
		m.DownPrice = decimal.NewFromInt(1).Sub(mid)
	}
	m.Tradable = m.EndTime.After(time.Now())
}

// CurrentWindowMarkets applies the §4.4.1 current-window filter: within the
// last 90s of the current window, only next-boundary markets qualify;
// otherwise only current-boundary markets do.
func CurrentWindowMarkets(markets []*types.Market, windowMin int, now time.Time) []*types.Market {
	cur := CurrentBoundary(now, windowMin)
	next := NextBoundary(now, windowMin)
	within90s := cur.Add(time.Duration(windowMin)*time.Minute-90*time.Second).Before(now)

	target := cur
	if within90s {
		target = next
	}

	var out []*types.Market
	for _, m := range markets {
		if m.WindowTS.Equal(target) {
			out = append(out, m)
		}
	}
	return out
}
