// Package signaling implements the relay client used to bootstrap
// peer connections. Messages travel through a persisted, room-scoped
// log; a message stays in the store until the addressee explicitly
// consumes it, so nothing is lost across transient store errors.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partywave/wavelength/internal/models"
	"github.com/partywave/wavelength/internal/store"
)

type Config struct {
	// PollInterval bounds how stale an undelivered message can get
	// when no push nudge arrives.
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second}
}

// Client sends and receives directed signaling messages for one local
// peer. Subscribe drains the log on a poll ticker and on Nudge, which
// the synchronization bridge fires when it observes a signaling write.
type Client struct {
	store  store.SignalStore
	peerID string
	clock  clockwork.Clock
	cfg    Config

	mu     sync.Mutex
	cancel context.CancelFunc
	nudge  chan struct{}
}

func NewClient(s store.SignalStore, peerID string, clock clockwork.Clock, cfg Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Client{
		store:  s,
		peerID: peerID,
		clock:  clock,
		cfg:    cfg,
		nudge:  make(chan struct{}, 1),
	}
}

// Send persists one directed message. A nil toPeerID broadcasts to the
// room. Failures are returned to the caller; the connection attempt
// that needed the message will stall and hit the connect timeout.
func (c *Client) Send(ctx context.Context, roomID uuid.UUID, toPeerID *string, typ models.SignalType, payload json.RawMessage) error {
	_, err := c.store.InsertSignal(ctx, store.InsertSignalParams{
		RoomID:     roomID,
		FromPeerID: c.peerID,
		ToPeerID:   toPeerID,
		Type:       typ,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}

// Subscribe starts draining messages addressed to this peer in the
// room, invoking handler for each in creation order. Calling Subscribe
// again replaces the previous subscription.
func (c *Client) Subscribe(roomID uuid.UUID, handler func(models.Signal)) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, roomID, handler)
}

// Nudge asks the subscription loop to drain immediately instead of
// waiting for the next poll tick.
func (c *Client) Nudge() {
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

// Unsubscribe stops the subscription loop. Safe to call repeatedly or
// when nothing is subscribed.
func (c *Client) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Client) run(ctx context.Context, roomID uuid.UUID, handler func(models.Signal)) {
	ticker := c.clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	// Initial drain so offers queued before we subscribed are handled.
	c.drain(ctx, roomID, handler)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.nudge:
			c.drain(ctx, roomID, handler)
		case <-ticker.Chan():
			c.drain(ctx, roomID, handler)
		}
	}
}

func (c *Client) drain(ctx context.Context, roomID uuid.UUID, handler func(models.Signal)) {
	signals, err := c.store.ConsumeSignals(ctx, roomID, c.peerID)
	if err != nil {
		// Transient: undelivered rows stay unconsumed and are picked
		// up on the next tick.
		log.Warn().Err(err).Str("peer_id", c.peerID).Msg("failed to consume signals")
		return
	}
	for _, signal := range signals {
		handler(signal)
	}
}
