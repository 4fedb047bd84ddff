// Package broadcast publishes the runtime's state/price_tick/trade_notification
// wire messages onto subjects an external dashboard could subscribe to. The
// runtime only publishes; it never serves a dashboard itself (out of scope).
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/duskline/polybot/internal/types"
)

const (
	SubjectState       = "polybot.state"
	SubjectPriceTick   = "polybot.price_tick"
	SubjectTradeNotify = "polybot.trade_notification"
)

// StateMessage is the full-snapshot `state` wire message (§6).
type StateMessage struct {
	Type          string              `json:"type"`
	Cycle         int                 `json:"cycle"`
	OraclePrice   string              `json:"oracle_price"`
	Anchor        string              `json:"anchor"`
	Decision      *types.StrategyDecision `json:"decision,omitempty"`
	Stats         map[string]types.DailyStats `json:"stats"`
	OpenPositions int                 `json:"open_positions"`
	Timestamp     time.Time           `json:"timestamp"`
}

// PriceTickMessage is the lightweight `price_tick` message pushed between
// cycles.
type PriceTickMessage struct {
	Type      string    `json:"type"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeNotificationMessage wraps an open/resolved trade event.
type TradeNotificationMessage struct {
	Type   string             `json:"type"`
	Event  string             `json:"event"` // "open" | "resolved"
	Record *types.TradeRecord `json:"record"`
}

// Bus is the publish-only seam both the NATS-backed and in-process
// implementations satisfy.
type Bus interface {
	Publish(subject string, payload any)
	Close()
}

// New constructs a NATS-backed bus when natsURL is set, otherwise an
// in-process channel fan-out so the runtime never blocks on a missing
// broker.
func New(natsURL string) Bus {
	if natsURL == "" {
		return newLocalBus()
	}
	nc, err := nats.Connect(natsURL, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		log.Warn().Err(err).Str("url", natsURL).Msg("broadcast: NATS connect failed, falling back to in-process bus")
		return newLocalBus()
	}
	log.Info().Str("url", natsURL).Msg("📡 broadcast bus connected to NATS")
	return &natsBus{conn: nc}
}

type natsBus struct {
	conn *nats.Conn
}

func (b *natsBus) Publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		log.Debug().Err(err).Str("subject", subject).Msg("broadcast publish failed")
	}
}

func (b *natsBus) Close() {
	b.conn.Drain()
}

// localBus fans out to in-process subscriber channels; used whenever
// NATS_URL is unset.
type localBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

func newLocalBus() *localBus {
	return &localBus{subs: make(map[string][]chan []byte)}
}

// Subscribe returns a channel of JSON-encoded payloads for subject,
// available only on the in-process bus.
func (b *localBus) Subscribe(subject string) <-chan []byte {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], ch)
	b.mu.Unlock()
	return ch
}

func (b *localBus) Publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	b.mu.RLock()
	chans := b.subs[subject]
	b.mu.RUnlock()
	for _, ch := range chans {
		select {
		case ch <- data:
		default:
		}
	}
}

func (b *localBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan []byte)
}
