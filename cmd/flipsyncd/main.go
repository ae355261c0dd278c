package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flipgg/flipsync/internal/bus"
	"github.com/flipgg/flipsync/internal/commitment"
	"github.com/flipgg/flipsync/internal/config"
	"github.com/flipgg/flipsync/internal/connmon"
	"github.com/flipgg/flipsync/internal/gateway"
	"github.com/flipgg/flipsync/internal/session"
	"github.com/flipgg/flipsync/internal/transport"
	"github.com/flipgg/flipsync/internal/wallet"
)

func main() {
	configPath := flag.String("config", "flipsync.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.LogLevel)
	if cfg.LocalPlayer == "" {
		log.Fatal().Msg("local player identity required (local_player / FLIPSYNC_LOCAL_PLAYER)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := commitment.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("failed to open commitment store")
	}
	defer store.Close()

	eventBus := bus.New()
	monitor := connmon.New(connmon.Config{
		FailureThreshold: cfg.Engine.BreakerThreshold,
		Cooldown:         cfg.Engine.BreakerCooldown,
	})

	syncer, err := startTransport(ctx, cfg, eventBus, monitor)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start transport")
	}

	bridge := wallet.NewBridge(cfg.Wallet.BridgeURL)
	sender := wallet.NewSender(bridge, syncer)

	manager := session.NewManager(session.Config{
		SelectionWindow: cfg.Engine.SelectionWindow,
		ExpiryWindow:    cfg.Engine.ExpiryWindow,
		StaleThreshold:  cfg.Engine.StaleThreshold,
	}, clockwork.NewRealClock(), eventBus, store, monitor, sender)

	gw := gateway.NewServer(manager, cfg.LocalPlayer, monitor)
	httpServer := &http.Server{
		Addr:    cfg.Gateway.Addr,
		Handler: gw.Handler(cfg.Gateway.AllowedOrigins),
	}
	go func() {
		log.Info().Str("addr", cfg.Gateway.Addr).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown failed")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// startTransport starts the configured event source and returns its resync
// surface for the wallet sender.
func startTransport(ctx context.Context, cfg config.Config, b *bus.Bus, monitor *connmon.Monitor) (wallet.Syncer, error) {
	switch cfg.Transport.Mode {
	case "nats":
		natsCfg := transport.DefaultNATSConfig()
		natsCfg.URL = cfg.Transport.NATS.URL
		natsCfg.StreamName = cfg.Transport.NATS.Stream
		natsCfg.ConsumerName = cfg.Transport.NATS.Consumer
		src, err := transport.NewNATSSource(natsCfg, b, monitor)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := src.Start(ctx); err != nil {
				log.Error().Err(err).Msg("NATS source stopped")
			}
			src.Close()
		}()
		return src, nil
	default:
		client := transport.NewWSClient(transport.DefaultWSConfig(cfg.Transport.URL), b, monitor)
		go client.Start(ctx)
		return client, nil
	}
}
