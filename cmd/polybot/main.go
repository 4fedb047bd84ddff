// Polybot - autonomous binary prediction bot for Polymarket crypto markets.
//
// This process uses technical indicators on live crypto prices to predict
// UP/DOWN resolution of Polymarket's 5/15/30/60-minute BTC windows.
//
// Architecture: Oracle → Signal → Risk → Exchange, supervised by one
// Orchestrator event loop.
package main

import (
	"context"
	"os"
	osignal "os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/duskline/polybot/internal/arb"
	"github.com/duskline/polybot/internal/broadcast"
	"github.com/duskline/polybot/internal/cache"
	"github.com/duskline/polybot/internal/config"
	"github.com/duskline/polybot/internal/exchange"
	"github.com/duskline/polybot/internal/maker"
	"github.com/duskline/polybot/internal/metrics"
	"github.com/duskline/polybot/internal/notify"
	"github.com/duskline/polybot/internal/oracle"
	"github.com/duskline/polybot/internal/orchestrator"
	"github.com/duskline/polybot/internal/risk"
	"github.com/duskline/polybot/internal/signal"
	"github.com/duskline/polybot/internal/storage"
)

const version = "4.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	log.Info().Str("version", version).Bool("dry_run", cfg.DryRun).Msg("🚀 Polybot starting...")

	store, err := storage.Open(cfg.DatabaseURL, cfg.SqlitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage backend")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	oracleEngine := oracle.New(cfg, "BTC")
	signalEngine := signal.New(cfg)
	riskMgr := risk.New(cfg, cfg.Bankroll)

	feeCache := buildFeeCache(cfg)

	var signer exchange.Signer
	if !cfg.DryRun && cfg.PrivateKey != "" {
		eoa, err := exchange.NewEOASigner(cfg.PrivateKey, cfg.PolymarketCLOBURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize exchange signer")
		}
		signer = eoa
	}
	exClient := exchange.New(cfg, signer, feeCache)

	var notifier *notify.Notifier
	if cfg.TelegramToken != "" {
		notifier, err = notify.New(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram notifier disabled")
		}
	}

	var bus broadcast.Bus
	if cfg.EnableDashboard {
		bus = broadcast.New(cfg.NATSURL)
	}

	var arbScanner *arb.Scanner
	if cfg.EnableArb {
		arbScanner = arb.New(cfg, exClient)
	}
	var marketMaker *maker.Maker
	if cfg.EnableMarketMaker {
		marketMaker = maker.New(cfg, exClient)
	}

	orch := orchestrator.New(cfg, oracleEngine, signalEngine, riskMgr, exClient, store, notifier, bus, arbScanner, marketMaker)

	if err := orch.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("Startup reconciliation failed, continuing")
	}

	if notifier != nil {
		notifier.Startup(runMode(cfg), cfg.Bankroll)
	}

	var g errgroup.Group
	g.Go(func() error { return orch.Run(ctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(ctx, cfg.MetricsAddr) })
	}

	log.Info().Msg("✅ All services started")
	log.Info().Msg("📊 Architecture: Oracle → Signal → Risk → Exchange")

	quit := make(chan os.Signal, 1)
	osignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("🛑 Shutting down...")
	cancel()

	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("service exited with error during shutdown")
	}

	log.Info().Msg("👋 Goodbye!")
}

func runMode(cfg *config.Config) string {
	if cfg.DryRun {
		return "paper"
	}
	return "live"
}

func buildFeeCache(cfg *config.Config) cache.Cache {
	if cfg.RedisAddr != "" {
		return cache.NewRedisCache(cfg.RedisAddr)
	}
	return cache.NewMemCache()
}
