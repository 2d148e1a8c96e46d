package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/partywave/wavelength/internal/bridge"
	"github.com/partywave/wavelength/internal/game"
	"github.com/partywave/wavelength/internal/gateway"
	"github.com/partywave/wavelength/internal/store"
	"github.com/partywave/wavelength/internal/store/memstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, cleanup, err := setupStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up storage")
	}
	defer cleanup()

	feed, notifier, err := setupFeed(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up change feed")
	}

	clock := clockwork.NewRealClock()
	engine := game.NewEngine(st, clock)
	b := bridge.New(feed, clock, bridge.Config{PollInterval: cfg.Feed.PollInterval})

	go func() {
		if err := feed.Run(ctx); err != nil {
			log.Error().Err(err).Msg("change feed stopped")
		}
	}()
	go b.Run(ctx)

	serverCfg := gateway.DefaultConfig()
	serverCfg.Addr = cfg.Server.Addr
	serverCfg.PublicURL = cfg.Server.PublicURL
	server := gateway.NewServer(engine, st, b, notifier, serverCfg)

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("storage", cfg.Storage.Driver).
		Str("feed", cfg.Feed.Driver).
		Msg("starting wavelength coordinator")

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("shutdown complete")
}

func setupStorage(cfg *Config) (store.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memstore.New(), func() {}, nil
	case "postgres":
		db, err := setupDatabase(databaseConfigFromEnv())
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgres(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func setupFeed(cfg *Config) (bridge.Feed, bridge.Notifier, error) {
	switch cfg.Feed.Driver {
	case "postgres":
		// Triggers raise the notifications; no publisher side needed.
		feedCfg := bridge.DefaultPGFeedConfig()
		feedCfg.DatabaseURL = databaseConfigFromEnv().DSN()
		if cfg.Feed.NotifyChannel != "" {
			feedCfg.NotifyChannel = cfg.Feed.NotifyChannel
		}
		feed, err := bridge.NewPGFeed(feedCfg)
		if err != nil {
			return nil, nil, err
		}
		return feed, bridge.NoopNotifier{}, nil
	case "nats":
		url := cfg.Feed.NATSURL
		if url == "" {
			url = getEnv("NATS_URL", "nats://localhost:4222")
		}
		conn, err := bridge.ConnectNATS(url)
		if err != nil {
			return nil, nil, err
		}
		return bridge.NewNATSFeed(conn), bridge.NewNATSNotifier(conn), nil
	case "poll":
		feed := bridge.NewPollFeed()
		return feed, bridge.NewLocalNotifier(feed), nil
	default:
		return nil, nil, fmt.Errorf("unknown feed driver %q", cfg.Feed.Driver)
	}
}
