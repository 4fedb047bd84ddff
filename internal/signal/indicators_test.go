package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/types"
)

func makeCandles(closes []float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{
			Timestamp: time.Now().Add(time.Duration(i) * time.Minute),
			Close:     decimal.NewFromFloat(c),
		}
	}
	return out
}

func TestWilderRSI_FlatSeriesIsFifty(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100
	}
	rsi := wilderRSI(prices, 14)
	assert.InDelta(t, 50.0, rsi, 25.0, "flat/insufficient series should not report an extreme RSI")
}

func TestWilderRSI_AllGainsApproachesHundred(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	rsi := wilderRSI(prices, 14)
	assert.Greater(t, rsi, 90.0)
}

func TestEMA_SeedsWithSMAWhenShort(t *testing.T) {
	prices := []float64{10, 20, 30}
	got := ema(prices, 10)
	assert.InDelta(t, 20.0, got, 0.001)
}

func TestStdevReturns_ZeroForConstantPrices(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 50000
	}
	vol := stdevReturns(prices, 20)
	assert.Equal(t, 0.0, vol)
}

func TestClamp01_BoundsInput(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(2))
	assert.Equal(t, 0.5, clamp01(0.5))
}

func TestDecide_HoldsWhenVolatilityOutOfBand(t *testing.T) {
	cfg := &config.Config{
		VolMinPct:           decimal.NewFromFloat(0.015),
		VolMaxPct:           decimal.NewFromFloat(2.0),
		ConfidenceThreshold: 0.62,
	}
	e := New(cfg)

	flat := makeCandles([]float64{
		50000, 50000, 50000, 50000, 50000, 50000, 50000, 50000, 50000, 50000,
		50000, 50000, 50000, 50000, 50000, 50000, 50000, 50000, 50000, 50000,
		50000, 50000,
	})

	dec := e.Decide(flat, decimal.NewFromFloat(50000), nil, decimal.Zero)
	assert.False(t, dec.ShouldTrade)
	assert.Contains(t, dec.Reason, "volatility")
}

func TestDecide_FeeGateBlocksThinEdge(t *testing.T) {
	cfg := &config.Config{
		VolMinPct:           decimal.NewFromFloat(0.0),
		VolMaxPct:           decimal.NewFromFloat(1000),
		ConfidenceThreshold: 0.01,
		MomentumCandles:     5,
		RSIPeriod:           14,
		MACDFast:            12,
		MACDSlow:            26,
		MACDSignal:          9,
		EMAFast:             9,
		EMASlow:             21,
	}
	e := New(cfg)

	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 50000 + float64(i)*0.1
	}
	candles := makeCandles(prices)

	// This series scores confidence 0.25 (raw edge 50%), so a 60% fee
	// leaves no edge.
	dec := e.Decide(candles, decimal.NewFromFloat(50006), nil, decimal.NewFromFloat(60))
	assert.False(t, dec.ShouldTrade)
	assert.Contains(t, dec.Reason, "fee")
}
