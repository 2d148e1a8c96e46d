// Headless participant: joins (or hosts) a room over the shared store
// and plays through the same session coordinator a UI would use. Handy
// for soak-testing the mesh with real connections.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/partywave/wavelength/internal/bridge"
	"github.com/partywave/wavelength/internal/game"
	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/peer"
	"github.com/partywave/wavelength/internal/rtc"
	"github.com/partywave/wavelength/internal/session"
	"github.com/partywave/wavelength/internal/signaling"
	"github.com/partywave/wavelength/internal/store"
)

func main() {
	var (
		host       = flag.Bool("host", false, "create a room instead of joining")
		roomName   = flag.String("room", "Wavelength Night", "room name when hosting")
		code       = flag.String("code", "", "room code to join")
		playerName = flag.String("name", "agent", "player name")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	st := store.NewPostgres(db)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clock := clockwork.NewRealClock()
	engine := game.NewEngine(st, clock)

	feedCfg := bridge.DefaultPGFeedConfig()
	feedCfg.DatabaseURL = dsn
	feed, err := bridge.NewPGFeed(feedCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up change feed")
	}
	b := bridge.New(feed, clock, bridge.DefaultConfig())
	go func() {
		if err := feed.Run(ctx); err != nil {
			log.Error().Err(err).Msg("change feed stopped")
		}
	}()
	go b.Run(ctx)

	peerID := game.GeneratePeerID()
	relay := signaling.NewClient(st, peerID, clock, signaling.DefaultConfig())
	transport := rtc.NewTransport(rtc.DefaultConfig())
	mesh := peer.NewManager(peerID, transport, relay, session.NewRoster(st), clock, peer.DefaultConfig())

	sess := session.New(engine, st, mesh, relay, b, bridge.NoopNotifier{})
	sess.SetCallbacks(session.Callbacks{
		OnUpdate: func(view session.View) {
			if view.State != nil {
				log.Info().
					Int("round", view.State.CurrentRound).
					Int("score", view.State.TeamScore).
					Int("lives", view.State.LivesRemaining).
					Int("players", len(view.Players)).
					Msg("state update")
			}
		},
		OnChat: func(name, text string) {
			log.Info().Str("from", name).Str("text", text).Msg("chat")
		},
		OnReveal: func(result game.RevealResult) {
			log.Info().Int("points", result.Points).Bool("lost_life", result.LostLife).Msg("round revealed")
		},
	})

	if *host {
		if err := sess.Host(ctx, *roomName, *playerName, models.RoomSettings{}); err != nil {
			log.Fatal().Err(err).Msg("failed to host room")
		}
		view := sess.View()
		log.Info().Str("room_code", view.Room.Code).Msg("hosting room")
	} else {
		if *code == "" {
			log.Fatal().Msg("-code is required when not hosting")
		}
		if err := sess.Join(ctx, *code, *playerName); err != nil {
			log.Fatal().Err(err).Msg("failed to join room")
		}
		log.Info().Str("room_code", *code).Msg("joined room")
	}

	<-ctx.Done()
	sess.Leave(context.Background())
	log.Info().Msg("session closed")
}
