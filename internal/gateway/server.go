package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/partywave/wavelength/internal/bridge"
	"github.com/partywave/wavelength/internal/game"
	"github.com/partywave/wavelength/internal/store"
)

type Config struct {
	Addr      string
	PublicURL string // Base URL embedded in join QR codes
	Hub       HubConfig
}

func DefaultConfig() Config {
	return Config{
		Addr:      ":8080",
		PublicURL: "http://localhost:8080",
		Hub:       DefaultHubConfig(),
	}
}

// Server is the HTTP surface over the coordinator. Room-scoped change
// watchers run only while a room has at least one WebSocket
// subscriber.
type Server struct {
	engine   *game.Engine
	store    store.Store
	hub      *Hub
	bridge   *bridge.Bridge
	notifier bridge.Notifier
	cfg      Config

	httpServer *http.Server

	watchMu sync.Mutex
	watches map[uuid.UUID]func()
}

func NewServer(engine *game.Engine, s store.Store, b *bridge.Bridge, notifier bridge.Notifier, cfg Config) *Server {
	srv := &Server{
		engine:   engine,
		store:    s,
		hub:      NewHub(cfg.Hub),
		bridge:   b,
		notifier: notifier,
		cfg:      cfg,
		watches:  make(map[uuid.UUID]func()),
	}
	srv.hub.onRoomActive = srv.watchRoom
	srv.hub.onRoomIdle = srv.unwatchRoom
	return srv
}

func (s *Server) routes() http.Handler {
	router := httprouter.New()

	router.POST("/api/game/create", s.handleCreateGame)
	router.POST("/api/game/join", s.handleJoinGame)
	router.POST("/api/game/start", s.handleStartGame)
	router.POST("/api/game/set-target", s.handleSetTarget)
	router.POST("/api/game/hint", s.handleSubmitHint)
	router.POST("/api/game/dial", s.handleMoveDial)
	router.POST("/api/game/lock", s.handleLockPosition)
	router.POST("/api/game/reveal", s.handleReveal)
	router.POST("/api/game/advance", s.handleAdvanceRound)
	router.GET("/api/game/state", s.handleGameState)
	router.GET("/api/rooms/:code/qr", s.handleRoomQR)
	router.POST("/api/signaling", s.handleSendSignal)
	router.GET("/api/signaling", s.handleConsumeSignals)
	router.GET("/ws", s.handleWebSocket)
	router.GET("/health", s.handleHealth)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	// h2c lets local tooling speak HTTP/2 without TLS.
	return h2c.NewHandler(handler, &http2.Server{})
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go s.hub.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server starting")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown failed")
		}
		return nil
	}
}

// watchRoom starts change watchers for a room and pushes a fresh
// snapshot event to its subscribers on every change.
func (s *Server) watchRoom(roomID uuid.UUID) {
	push := func(ctx context.Context) {
		snapshot, err := s.engine.GetSnapshot(ctx, roomID)
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to fetch snapshot for push")
			return
		}
		s.hub.BroadcastToRoom(roomID, Event{Type: "snapshot", Data: snapshot})
	}

	cancels := []func(){
		s.bridge.Subscribe(bridge.TablePlayers, roomID, push),
		s.bridge.Subscribe(bridge.TableGameStates, roomID, push),
		s.bridge.Subscribe(bridge.TableRounds, roomID, push),
		s.bridge.Subscribe(bridge.TableDials, roomID, push),
		s.bridge.Subscribe(bridge.TableRooms, roomID, push),
	}
	cancel := func() {
		for _, c := range cancels {
			c()
		}
	}

	s.watchMu.Lock()
	if _, exists := s.watches[roomID]; exists {
		s.watchMu.Unlock()
		cancel()
		return
	}
	s.watches[roomID] = cancel
	s.watchMu.Unlock()

	log.Debug().Str("room_id", roomID.String()).Msg("room watch started")
}

func (s *Server) unwatchRoom(roomID uuid.UUID) {
	s.watchMu.Lock()
	cancel, exists := s.watches[roomID]
	delete(s.watches, roomID)
	s.watchMu.Unlock()

	if exists {
		cancel()
		log.Debug().Str("room_id", roomID.String()).Msg("room watch stopped")
	}
}

func (s *Server) notifyAll(ctx context.Context, roomID uuid.UUID, tables ...string) {
	for _, table := range tables {
		s.notifier.Notify(ctx, table, roomID)
	}
}

func (s *Server) joinURL(code string) string {
	return strings.TrimSuffix(s.cfg.PublicURL, "/") + "/join/" + code
}
