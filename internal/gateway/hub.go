// Package gateway exposes the coordinator over HTTP: a REST surface
// mirroring the game operations, a room-scoped WebSocket fan-out fed
// by the change feed, and the signaling relay endpoints browser
// clients use to bootstrap their peer mesh.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is one frame pushed to room subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub manages WebSocket connections pooled by room.
type Hub struct {
	roomConnections map[uuid.UUID]map[*wsConn]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   HubConfig

	broadcastCh chan broadcastMessage

	// Fired outside the hub lock when a room gains its first
	// subscriber or loses its last one; the server uses these to
	// start and stop the room's change watchers.
	onRoomActive func(roomID uuid.UUID)
	onRoomIdle   func(roomID uuid.UUID)
}

type wsConn struct {
	id     string
	roomID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	roomID uuid.UUID
	event  Event
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Party clients connect from arbitrary origins.
			return true
		},
	}
}

func NewHub(config HubConfig) *Hub {
	return &Hub{
		roomConnections: make(map[uuid.UUID]map[*wsConn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 256),
	}
}

// Start processes broadcast messages until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hub shutting down")
			return
		case message := <-h.broadcastCh:
			h.handleBroadcast(message)
		}
	}
}

// Upgrade turns an HTTP request into a room-subscribed WebSocket
// connection.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, roomID uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &wsConn{
		id:     uuid.New().String(),
		roomID: roomID,
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    h,
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("room_id", roomID.String()).
		Msg("websocket connection established")
	return nil
}

// BroadcastToRoom queues an event for every subscriber of a room.
func (h *Hub) BroadcastToRoom(roomID uuid.UUID, event Event) {
	select {
	case h.broadcastCh <- broadcastMessage{roomID: roomID, event: event}:
	default:
		log.Warn().Str("room_id", roomID.String()).Msg("broadcast channel full, dropping event")
	}
}

func (h *Hub) register(c *wsConn) {
	h.mu.Lock()
	first := h.roomConnections[c.roomID] == nil
	if first {
		h.roomConnections[c.roomID] = make(map[*wsConn]bool)
	}
	h.roomConnections[c.roomID][c] = true
	h.mu.Unlock()

	if first && h.onRoomActive != nil {
		h.onRoomActive(c.roomID)
	}
}

func (h *Hub) unregister(c *wsConn) {
	h.mu.Lock()
	last := false
	if connections, exists := h.roomConnections[c.roomID]; exists {
		if _, exists := connections[c]; exists {
			delete(connections, c)
			close(c.send)
			if len(connections) == 0 {
				delete(h.roomConnections, c.roomID)
				last = true
			}
		}
	}
	h.mu.Unlock()

	if last && h.onRoomIdle != nil {
		h.onRoomIdle(c.roomID)
	}
}

func (h *Hub) handleBroadcast(message broadcastMessage) {
	h.mu.RLock()
	connections, exists := h.roomConnections[message.roomID]
	if !exists {
		h.mu.RUnlock()
		return
	}
	targets := make([]*wsConn, 0, len(connections))
	for c := range connections {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Slow consumer; drop the connection, it can resubscribe.
			log.Warn().Str("connection_id", c.id).Msg("send buffer full, closing connection")
			h.unregister(c)
			c.conn.Close()
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			break
		}
		// The push channel is one-way; inbound frames only refresh the
		// read deadline.
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

// Stats reports the number of rooms and connections currently served.
func (h *Hub) Stats() (rooms, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.roomConnections {
		connections += len(conns)
	}
	return len(h.roomConnections), connections
}
