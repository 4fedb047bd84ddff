package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/errs"
	"github.com/duskline/polybot/internal/types"
)

// orderState names one point in the §4.4.2 placement state machine.
type orderState string

const (
	stateStart              orderState = "S0"
	stateFOKSubmitted       orderState = "S1"
	stateLimitWithSlippage  orderState = "S2"
	stateLimitSubmitted     orderState = "S3"
	stateFilled             orderState = "S-fill"
	stateCancelledNoFill    orderState = "S-cancelled-no-fill"
	stateGhost              orderState = "S-ghost"
	statePhantom            orderState = "S-phantom"
)

// PlaceOrderInput is the normalized request to place a directional order.
type PlaceOrderInput struct {
	Market     *types.Market
	Engine     types.Engine
	Direction  types.Direction
	SizeUSD    decimal.Decimal
	OraclePrice decimal.Decimal
	Confidence float64
	LimitFromStart bool
}

// PlaceOrder runs the full order-placement state machine and returns a
// TradeRecord only on positive verification (invariant I4). Ghost and
// phantom fills return (nil, err) wrapping errs.ErrGhostFill or
// errs.ErrPhantomFill; every other outcome without a verified fill returns
// either (nil, nil) or (nil, err).
func (c *Client) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*types.TradeRecord, error) {
	tokenID := in.Market.UpTokenID
	if in.Direction == types.Down {
		tokenID = in.Market.DownTokenID
	}

	execPrice := in.Market.UpPrice
	if in.Direction == types.Down {
		execPrice = in.Market.DownPrice
	}
	if execPrice.IsZero() {
		execPrice = decimal.NewFromFloat(0.5)
	}

	shares := in.SizeUSD.Div(execPrice)
	if shares.LessThan(c.cfg.VenueMinShares) {
		shares = c.cfg.VenueMinShares
	}

	if c.dryRun {
		return c.simulatePaperFill(in, tokenID, execPrice, shares)
	}

	orderType := "FOK"
	state := stateFOKSubmitted
	if in.LimitFromStart {
		orderType = "GTC"
		state = stateLimitSubmitted
	}

	resp, err := c.submitOrder(ctx, tokenID, "BUY", execPrice, shares, orderType)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransientNetwork, err)
	}

	switch state {
	case stateFOKSubmitted:
		if resp.success && resp.filled {
			return c.verifyAndRecord(ctx, in, resp.orderID, execPrice, in.SizeUSD)
		}
		if strings.Contains(resp.reason, "cannot fully fill") {
			return c.retryAsLimitWithSlippage(ctx, in, tokenID, execPrice, shares)
		}
		log.Warn().Str("order_id", resp.orderID).Str("reason", resp.reason).Msg("⚠️ order rejected")
		return nil, nil

	case stateLimitSubmitted:
		return c.handleRestingOrder(ctx, in, resp, execPrice, 12*time.Second)
	}
	return nil, nil
}

func (c *Client) retryAsLimitWithSlippage(ctx context.Context, in PlaceOrderInput, tokenID string, price, shares decimal.Decimal) (*types.TradeRecord, error) {
	bumped := price.Mul(decimal.NewFromInt(1).Add(c.cfg.MaxSlippagePct))
	resp, err := c.submitOrder(ctx, tokenID, "BUY", bumped, shares, "GTC")
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransientNetwork, err)
	}
	return c.handleRestingOrder(ctx, in, resp, bumped, 10*time.Second)
}

// handleRestingOrder implements the S2/S3 "live" wait-then-cancel-or-requery
// path shared by the slippage-bumped limit and the limit-from-start paths.
func (c *Client) handleRestingOrder(ctx context.Context, in PlaceOrderInput, resp *orderResponse, price decimal.Decimal, wait time.Duration) (*types.TradeRecord, error) {
	if resp.status != "live" {
		if resp.filled {
			return c.verifyAndRecord(ctx, in, resp.orderID, price, in.SizeUSD)
		}
		return nil, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}

	if c.cancelOrder(ctx, resp.orderID) {
		log.Info().Str("order_id", resp.orderID).Msg("🚫 resting order cancelled, no fill")
		return nil, nil
	}

	status, err := c.orderStatus(ctx, resp.orderID)
	if err != nil {
		return nil, nil
	}
	if status.confirmed() {
		return c.verifyAndRecord(ctx, in, resp.orderID, price, in.SizeUSD)
	}
	log.Error().Str("order_id", resp.orderID).Msg("👻 ghost fill: cancel failed and status unresolved")
	return nil, errs.Wrap(errs.ErrGhostFill, fmt.Errorf("order %s", resp.orderID))
}

// verifyAndRecord implements the S-fill verification wait (3s then 2s) that
// must positively confirm a fill before a TradeRecord is created.
func (c *Client) verifyAndRecord(ctx context.Context, in PlaceOrderInput, orderID string, price, sizeUSD decimal.Decimal) (*types.TradeRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(3 * time.Second):
	}

	status, err := c.orderStatus(ctx, orderID)
	if err == nil && status.confirmed() {
		return c.recordFill(in, orderID, price, sizeUSD), nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
	}

	status, err = c.orderStatus(ctx, orderID)
	if err == nil && status.confirmed() {
		return c.recordFill(in, orderID, price, sizeUSD), nil
	}

	if err == nil && status.isFilled() && !status.hasTxProof() {
		log.Error().Str("order_id", orderID).Msg("👻 ghost fill: success reported with no transaction hashes")
		return nil, errs.Wrap(errs.ErrGhostFill, fmt.Errorf("order %s", orderID))
	}

	log.Error().Str("order_id", orderID).Msg("👻 phantom fill: verification failed after retry")
	return nil, errs.Wrap(errs.ErrPhantomFill, fmt.Errorf("order %s", orderID))
}

func (c *Client) recordFill(in PlaceOrderInput, orderID string, price, sizeUSD decimal.Decimal) *types.TradeRecord {
	rec := &types.TradeRecord{
		ID:                 uuid.NewString(),
		Timestamp:          time.Now(),
		MarketID:           in.Market.ConditionID,
		Engine:             in.Engine,
		Direction:          in.Direction,
		Confidence:         in.Confidence,
		EntryPrice:         price,
		SizeUSD:            sizeUSD,
		OraclePriceAtEntry: in.OraclePrice,
		Outcome:            types.OutcomePending,
		ExchangeOrderID:    orderID,
	}
	c.mu.Lock()
	c.tradeRecords[rec.ID] = rec
	c.mu.Unlock()
	log.Info().
		Str("market", in.Market.Slug).
		Str("direction", string(in.Direction)).
		Str("size", sizeUSD.StringFixed(2)).
		Str("entry", price.StringFixed(4)).
		Msg("✅ trade recorded")
	return rec
}

// simulatePaperFill fills immediately at the market's quoted price, used
// in dry-run / paper mode so the rest of the runtime exercises the same
// code paths without a live venue.
func (c *Client) simulatePaperFill(in PlaceOrderInput, tokenID string, price, shares decimal.Decimal) (*types.TradeRecord, error) {
	_ = tokenID
	_ = shares
	orderID := "paper-" + uuid.NewString()
	return c.recordFill(in, orderID, price, in.SizeUSD), nil
}

// orderResponse normalizes the venue's order-submission response.
type orderResponse struct {
	orderID string
	success bool
	filled  bool
	status  string
	reason  string
}

func (c *Client) submitOrder(ctx context.Context, tokenID, side string, price, size decimal.Decimal, orderType string) (*orderResponse, error) {
	payload, err := c.signer.SignOrder(OrderRequest{TokenID: tokenID, Side: side, Price: price, Size: size, OrderType: orderType})
	if err != nil {
		return nil, errs.Wrap(errs.ErrSigningFailure, err)
	}
	body, _ := json.Marshal(payload)
	url := c.cfg.PolymarketCLOBURL + "/order"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		OrderID string `json:"orderID"`
		Success bool   `json:"success"`
		Status  string `json:"status"`
		Error   string `json:"errorMsg"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return &orderResponse{
		orderID: out.OrderID,
		success: out.Success,
		filled:  out.Status == "matched" || out.Status == "filled",
		status:  out.Status,
		reason:  out.Error,
	}, nil
}

func (c *Client) cancelOrder(ctx context.Context, orderID string) bool {
	url := c.cfg.PolymarketCLOBURL + "/order/" + orderID
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) orderStatus(ctx context.Context, orderID string) (rawOrderStatus, error) {
	url := c.cfg.PolymarketCLOBURL + "/data/order/" + orderID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return rawOrderStatus{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rawOrderStatus{}, err
	}
	defer resp.Body.Close()

	var status rawOrderStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return rawOrderStatus{}, err
	}
	return status, nil
}

// PlaceMakerOrder exposes the post-only GTC primitive used by the market
// maker (§4.4.5). "Would cross spread" is a normal non-fatal rejection.
func (c *Client) PlaceMakerOrder(ctx context.Context, tokenID string, price, size decimal.Decimal) (string, bool, error) {
	if c.dryRun {
		return "paper-mm-" + uuid.NewString(), true, nil
	}
	resp, err := c.submitOrder(ctx, tokenID, "BUY", price, size, "GTC-post-only")
	if err != nil {
		return "", false, errs.Wrap(errs.ErrTransientNetwork, err)
	}
	if !resp.success && strings.Contains(resp.reason, "would cross") {
		return "", false, nil
	}
	return resp.orderID, resp.success, nil
}

// CancelOrder is exported for the market maker's cancellation paths.
func (c *Client) CancelOrder(ctx context.Context, orderID string) bool {
	if c.dryRun {
		return true
	}
	return c.cancelOrder(ctx, orderID)
}

// OpenOrderIDs returns the venue's open-order IDs for a market, used by the
// market maker's fill-detection step.
func (c *Client) OpenOrderIDs(ctx context.Context, conditionID string) ([]string, error) {
	if c.dryRun {
		return nil, nil
	}
	url := fmt.Sprintf("%s/data/orders?market=%s", c.cfg.PolymarketCLOBURL, conditionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	var orders []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		return nil, err
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids, nil
}
