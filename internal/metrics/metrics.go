// Package metrics exposes ambient health counters for the Oracle, Risk
// Manager, Exchange Client, Arb Scanner, and Market Maker over a
// Prometheus /metrics endpoint. This is distinct from the out-of-scope
// rendering dashboard — it serves raw gauges/counters, not rendered state.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	OracleStreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_oracle_stream_reconnects_total",
		Help: "Total authoritative-oracle stream reconnect attempts.",
	})
	OracleConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybot_oracle_consecutive_failures",
		Help: "Current consecutive oracle stream connect failures.",
	})

	RiskCanTradeBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polybot_risk_blocked_total",
		Help: "Total CanTrade rejections, labeled by engine and reason.",
	}, []string{"engine", "reason"})
	RiskCapital = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybot_risk_capital_usd",
		Help: "Current tracked capital in USD.",
	})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polybot_orders_placed_total",
		Help: "Total order placements, labeled by engine and outcome.",
	}, []string{"engine", "outcome"})

	ArbCyclesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_arb_cycles_total",
		Help: "Total arb scanner cycles executed.",
	})
	ArbOpportunitiesFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_arb_opportunities_total",
		Help: "Total net-positive-edge arb opportunities found.",
	})

	MakerCyclesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_maker_cycles_total",
		Help: "Total market maker cycles executed.",
	})
	MakerOpenQuotes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybot_maker_open_quotes",
		Help: "Current number of resting maker quotes.",
	})
)

// Serve starts the /metrics HTTP server, returning when ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("📊 metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
