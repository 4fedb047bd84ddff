package oracle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/types"
)

// Run starts the persistent authoritative-oracle stream and its watchdog,
// blocking until ctx is cancelled. Two subscribe frames are sent on each
// connect: one per topic (price updates, resolution announcements).
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		e.streamLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.watchdogLoop(ctx)
	}()

	go func() {
		if err := e.binance.run(ctx); err != nil {
			log.Warn().Err(err).Msg("exchange-native feed stopped")
		}
	}()

	wg.Wait()
	return ctx.Err()
}

// streamLoop maintains the authoritative-oracle connection, reconnecting
// with exponential backoff starting at reconnect_base_secs, doubling each
// failure, capped at reconnect_max_secs, resetting on successful connect.
func (e *Engine) streamLoop(ctx context.Context) {
	backoff := time.Duration(e.cfg.ReconnectBaseSecs) * time.Second
	maxBackoff := time.Duration(e.cfg.ReconnectMaxSecs) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.recordAttempt()
		closeCh, err := e.connectAndRead(ctx)
		if err != nil {
			e.recordFailure()
			log.Warn().Err(err).Dur("backoff", backoff).Msg("oracle stream connect failed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		e.recordSuccess()
		backoff = time.Duration(e.cfg.ReconnectBaseSecs) * time.Second

		select {
		case <-ctx.Done():
			return
		case <-closeCh:
		}
		e.recordFailure()
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// connectAndRead dials the stream, sends both subscribe frames, and starts a
// background reader; it returns a channel closed when the connection drops.
func (e *Engine) connectAndRead(ctx context.Context) (<-chan struct{}, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, e.cfg.StreamURL, nil)
	if err != nil {
		return nil, err
	}

	subscribe := []map[string]any{
		{"type": "subscribe", "channel": "price", "asset": e.asset},
		{"type": "subscribe", "channel": "resolution", "asset": e.asset},
	}
	for _, frame := range subscribe {
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			return nil, err
		}
	}

	e.watchdogMu.Lock()
	e.lastMessageAt = time.Now()
	e.activeConn = conn
	e.watchdogMu.Unlock()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			e.watchdogMu.Lock()
			e.lastMessageAt = time.Now()
			e.watchdogMu.Unlock()
			e.handleStreamMessage(data)
		}
	}()
	return closed, nil
}

func (e *Engine) handleStreamMessage(data []byte) {
	var msg struct {
		Channel string `json:"channel"`
		Price   string `json:"price"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return
	}
	e.authoritative.Store(&types.PricePoint{
		Source:    "authoritative",
		Price:     price,
		Timestamp: time.Now(),
	})
}

// watchdogLoop force-closes the stream if no authoritative message has
// arrived within watchdog_stale_secs, which triggers reconnect in
// streamLoop.
func (e *Engine) watchdogLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.WatchdogIntervalSecs) * time.Second
	staleAfter := time.Duration(e.cfg.WatchdogStaleSecs) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.watchdogMu.Lock()
			last := e.lastMessageAt
			conn := e.activeConn
			e.watchdogMu.Unlock()

			if conn != nil && !last.IsZero() && time.Since(last) > staleAfter {
				log.Warn().Dur("stale_for", time.Since(last)).Msg("🐕 oracle watchdog: forcing reconnect")
				conn.Close()
			}
		}
	}
}
