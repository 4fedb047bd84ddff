package oracle

import (
	"context"
	"fmt"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/types"
)

// binanceSource wires source (b) the exchange-native streaming feed and
// source (c) the exchange REST ticker, using the exchange's own Go SDK
// rather than the hand-rolled WebSocket client the rest of the pack uses
// for custom venues.
type binanceSource struct {
	cfg    *config.Config
	symbol string
	rest   *binance.Client

	engine *Engine
}

func newBinanceSource(cfg *config.Config, asset string) *binanceSource {
	return &binanceSource{
		cfg:    cfg,
		symbol: asset + "USDT",
		rest:   binance.NewClient("", ""),
	}
}

// run subscribes to the aggregate-trade stream and writes each tick into
// the Oracle Engine's exchange-native price buffer, reconnecting on error
// with the same backoff policy as the authoritative stream.
func (b *binanceSource) run(ctx context.Context) error {
	backoff := time.Duration(b.cfg.ReconnectBaseSecs) * time.Second
	maxBackoff := time.Duration(b.cfg.ReconnectMaxSecs) * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		doneC, stopC, err := binance.WsAggTradeServe(b.symbol, b.handleTrade, b.handleErr)
		if err != nil {
			log.Warn().Err(err).Msg("binance stream subscribe failed")
			if !sleepOrDone(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = time.Duration(b.cfg.ReconnectBaseSecs) * time.Second

		select {
		case <-ctx.Done():
			close(stopC)
			return ctx.Err()
		case <-doneC:
		}
	}
}

func (b *binanceSource) handleTrade(event *binance.WsAggTradeEvent) {
	if b.engine == nil || event == nil {
		return
	}
	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		return
	}
	b.engine.exchangeNative.Store(&types.PricePoint{
		Source:    "binance_ws",
		Price:     price,
		Timestamp: time.Now(),
	})
}

func (b *binanceSource) handleErr(err error) {
	log.Warn().Err(err).Msg("binance stream error")
}

// restTicker fetches source (c), the exchange REST ticker.
func (b *binanceSource) restTicker(ctx context.Context) (types.PricePoint, error) {
	svc := b.rest.NewListPricesService().Symbol(b.symbol)
	prices, err := svc.Do(ctx)
	if err != nil || len(prices) == 0 {
		return types.PricePoint{}, fmt.Errorf("binance rest ticker: %w", err)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return types.PricePoint{}, err
	}
	return types.PricePoint{Source: "binance_rest", Price: price, Timestamp: time.Now()}, nil
}

// candles fetches OHLCV bars via the REST klines endpoint.
func (b *binanceSource) candles(ctx context.Context, interval string, limit int) ([]types.Candle, error) {
	klines, err := b.rest.NewKlinesService().
		Symbol(b.symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	out := make([]types.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		close, _ := decimal.NewFromString(k.Close)
		volume, _ := decimal.NewFromString(k.Volume)
		out = append(out, types.Candle{
			Timestamp: time.UnixMilli(k.OpenTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			Interval:  interval,
		})
	}
	return out, nil
}
