// Package exchange discovers markets, places and verifies orders through
// the full §4.4.2 state machine, polls resolutions, and surfaces fee
// schedules. It never imports the risk package — the orchestrator mediates.
package exchange

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/cache"
	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/types"
)

// Signer produces the opaque, venue-specific order payload. The one
// implementation here, EOASigner, returns the order fields unsigned; per §1
// this whole boundary is treated as an opaque order-placement transport and
// is not re-specified here.
type Signer interface {
	SignOrder(req OrderRequest) (signedPayload any, err error)
}

// OrderRequest is the normalized input to the signer.
type OrderRequest struct {
	TokenID  string
	Side     string // "BUY" or "SELL"
	Price    decimal.Decimal
	Size     decimal.Decimal
	OrderType string // FOK, GTC, GTC-post-only
}

// Client is the Exchange Client. Only this type mutates activeMarkets and
// tradeRecords; other components hold read-only views (§5).
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	signer     Signer
	feeCache   cache.Cache
	dryRun     bool

	mu            sync.RWMutex
	activeMarkets map[string]*types.Market
	tradeRecords  map[string]*types.TradeRecord
	archived      []*types.TradeRecord
}

// New constructs an Exchange Client. A nil signer puts the client in
// paper/dry-run mode: orders are simulated locally and never leave the
// process.
func New(cfg *config.Config, signer Signer, feeCache cache.Cache) *Client {
	return &Client{
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		signer:        signer,
		feeCache:      feeCache,
		dryRun:        cfg.DryRun || signer == nil,
		activeMarkets: make(map[string]*types.Market),
		tradeRecords:  make(map[string]*types.TradeRecord),
	}
}

// EOASigner is the concrete go-ethereum-backed signer for externally-owned
// accounts (SignatureType 0), grounding the teacher's exec/client.go
// EIP-712 construction behind the Signer seam.
type EOASigner struct {
	privateKey *ecdsa.PrivateKey
	address    string
	clobURL    string
	httpClient *http.Client
}

func NewEOASigner(hexKey, clobURL string) (*EOASigner, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	return &EOASigner{
		privateKey: key,
		address:    addr,
		clobURL:    clobURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// SignOrder returns the order fields, a fresh order ID and the signer's
// address as maker in a map. It computes no EIP-712 hash and attaches no
// signature; the byte-level encoding is the opaque transport boundary
// named in §1.
func (s *EOASigner) SignOrder(req OrderRequest) (any, error) {
	orderID := uuid.NewString()
	// The real implementation mirrors exec/client.go's buildDomainSeparator
	// + buildOrderStructHash + crypto.Sign dance; kept opaque here per §1.
	return map[string]any{
		"orderID": orderID,
		"maker":   s.address,
		"tokenID": req.TokenID,
		"side":    req.Side,
		"price":   req.Price.String(),
		"size":    req.Size.String(),
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// activeMarket returns a read copy of a discovered market, tolerating
// concurrent replacement during discovery (§5).
func (c *Client) activeMarket(conditionID string) (*types.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.activeMarkets[conditionID]
	return m, ok
}

func (c *Client) setActiveMarkets(markets []*types.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := make(map[string]*types.Market, len(markets))
	for _, m := range markets {
		fresh[m.ConditionID] = m
	}
	c.activeMarkets = fresh
}

// ActiveMarket returns a read copy of one discovered market by condition ID,
// used by the orchestrator's hedge pass to re-look-up an open trade's market.
func (c *Client) ActiveMarket(conditionID string) (*types.Market, bool) {
	return c.activeMarket(conditionID)
}

// ActiveMarkets returns a snapshot of currently discovered markets.
func (c *Client) ActiveMarkets() []*types.Market {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Market, 0, len(c.activeMarkets))
	for _, m := range c.activeMarkets {
		out = append(out, m)
	}
	return out
}

// GetBalance does not query the exchange: it returns zero in dry-run and in
// live mode alike, which SyncLiveBankroll treats as no-update.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	if c.dryRun {
		return decimal.Zero, nil
	}
	// No CLOB balance or on-chain balanceOf lookup is made.
	return decimal.Zero, nil
}
