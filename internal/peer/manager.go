// Package peer maintains the mesh of direct connections between the
// local participant and every other member of a room. Connections are
// bootstrapped through a signaling relay and exchange game messages
// over one reliable ordered channel per remote peer.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partywave/wavelength/internal/models"
)

// Relay is the signaling path used to bootstrap connections.
type Relay interface {
	Send(ctx context.Context, roomID uuid.UUID, toPeerID *string, typ models.SignalType, payload json.RawMessage) error
	Subscribe(roomID uuid.UUID, handler func(models.Signal))
	Unsubscribe()
}

// Roster enumerates the peer identifiers of a room's current members.
type Roster interface {
	PeerIDs(ctx context.Context, roomID uuid.UUID) ([]string, error)
}

// State is the lifecycle state of one tracked remote peer.
type State int

const (
	StateConnecting State = iota
	StateOpen
)

// Callbacks are the typed observer hooks the manager fires. Nil
// callbacks are skipped.
type Callbacks struct {
	OnPeerConnected    func(peerID string)
	OnPeerDisconnected func(peerID string)
	OnMessage          func(fromPeerID string, data []byte)
}

type Config struct {
	ChannelLabel string
	// ConnectTimeout evicts a peer that never leaves StateConnecting,
	// so a lost signaling reply cannot leave a half-open entry behind
	// forever.
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChannelLabel:   "wavelength",
		ConnectTimeout: 30 * time.Second,
	}
}

var ErrNotJoined = errors.New("peer: not joined to a room")

// Manager owns one connection and one message channel per remote
// peer. Entries are exclusively owned by this instance and are
// destroyed on disconnect or leave, never shared.
type Manager struct {
	peerID    string
	transport Transport
	relay     Relay
	roster    Roster
	clock     clockwork.Clock
	cfg       Config
	callbacks Callbacks

	mu     sync.Mutex
	joined bool
	roomID uuid.UUID
	peers  map[string]*remotePeer
}

type remotePeer struct {
	id        string
	conn      Conn
	channel   Channel
	state     State
	initiator bool

	// Candidates that arrived before the remote description are
	// buffered here and flushed once it is applied.
	remoteSet bool
	pending   []Candidate

	timer clockwork.Timer
}

func NewManager(peerID string, transport Transport, relay Relay, roster Roster, clock clockwork.Clock, cfg Config) *Manager {
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = DefaultConfig().ChannelLabel
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	return &Manager{
		peerID:    peerID,
		transport: transport,
		relay:     relay,
		roster:    roster,
		clock:     clock,
		cfg:       cfg,
		peers:     make(map[string]*remotePeer),
	}
}

// SetCallbacks registers the observer hooks. Must be called before
// JoinRoom.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.callbacks = cb
}

// PeerID returns the local peer identifier.
func (m *Manager) PeerID() string {
	return m.peerID
}

// JoinRoom subscribes to the room's signaling feed and initiates a
// connection to every member already present. Members joining later
// reach us through their own offers.
func (m *Manager) JoinRoom(ctx context.Context, roomID uuid.UUID) error {
	m.mu.Lock()
	m.joined = true
	m.roomID = roomID
	m.mu.Unlock()

	m.relay.Subscribe(roomID, m.handleSignal)

	peerIDs, err := m.roster.PeerIDs(ctx, roomID)
	if err != nil {
		return err
	}
	for _, remoteID := range peerIDs {
		if remoteID == m.peerID {
			continue
		}
		if err := m.initiate(ctx, remoteID); err != nil {
			log.Error().Err(err).Str("remote_peer", remoteID).Msg("failed to initiate peer connection")
		}
	}
	return nil
}

// LeaveRoom closes and evicts every tracked peer and unsubscribes from
// the signaling feed. Idempotent.
func (m *Manager) LeaveRoom() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*remotePeer)
	m.joined = false
	m.mu.Unlock()

	m.relay.Unsubscribe()

	for _, rp := range peers {
		rp.teardown()
	}
}

// Broadcast writes data to every channel currently open. Peers whose
// channel is not open are skipped without error; there is no queueing
// or replay, late joiners catch up from persisted state.
func (m *Manager) Broadcast(data []byte) {
	for _, rp := range m.openPeers() {
		if err := rp.channel.Send(data); err != nil {
			log.Error().Err(err).Str("remote_peer", rp.id).Msg("failed to send to peer")
		}
	}
}

// SendToPeer is the unicast equivalent of Broadcast: a no-op when the
// peer's channel is not open.
func (m *Manager) SendToPeer(peerID string, data []byte) {
	m.mu.Lock()
	rp, ok := m.peers[peerID]
	open := ok && rp.state == StateOpen && rp.channel != nil && rp.channel.Open()
	m.mu.Unlock()

	if !open {
		return
	}
	if err := rp.channel.Send(data); err != nil {
		log.Error().Err(err).Str("remote_peer", peerID).Msg("failed to send to peer")
	}
}

// ConnectedPeers returns the ids of peers whose channel is open.
func (m *Manager) ConnectedPeers() []string {
	peers := m.openPeers()
	ids := make([]string, 0, len(peers))
	for _, rp := range peers {
		ids = append(ids, rp.id)
	}
	return ids
}

// Connected reports whether at least one peer channel is open.
func (m *Manager) Connected() bool {
	return len(m.openPeers()) > 0
}

// Connecting reports whether any peer is still mid-handshake.
func (m *Manager) Connecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rp := range m.peers {
		if rp.state == StateConnecting {
			return true
		}
	}
	return false
}

func (m *Manager) openPeers() []*remotePeer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*remotePeer
	for _, rp := range m.peers {
		if rp.state == StateOpen && rp.channel != nil && rp.channel.Open() {
			out = append(out, rp)
		}
	}
	return out
}

// track registers a new peer entry unless one already exists. Only one
// connection per remote peer is permitted; an established link is
// never overridden by a late duplicate.
func (m *Manager) track(remoteID string, initiator bool) (*remotePeer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.joined {
		return nil, false
	}
	if _, exists := m.peers[remoteID]; exists {
		return nil, false
	}
	rp := &remotePeer{id: remoteID, state: StateConnecting, initiator: initiator}
	m.peers[remoteID] = rp
	return rp, true
}

func (m *Manager) initiate(ctx context.Context, remoteID string) error {
	rp, fresh := m.track(remoteID, true)
	if !fresh {
		return nil
	}

	conn, err := m.transport.NewConn(ctx)
	if err != nil {
		m.evict(remoteID, false)
		return err
	}
	m.wireConn(rp, conn)

	channel, err := conn.CreateDataChannel(m.cfg.ChannelLabel)
	if err != nil {
		m.evict(remoteID, false)
		return err
	}
	m.attachChannel(rp, channel)

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		m.evict(remoteID, false)
		return err
	}
	m.armTimeout(rp)

	return m.sendSignal(ctx, remoteID, models.SignalOffer, offer)
}

func (m *Manager) handleSignal(signal models.Signal) {
	// The relay already filters by addressee, but a broadcast row can
	// still carry our own echo.
	if signal.FromPeerID == m.peerID {
		return
	}
	if signal.ToPeerID != nil && *signal.ToPeerID != m.peerID {
		return
	}

	ctx := context.Background()
	switch signal.Type {
	case models.SignalOffer:
		m.handleOffer(ctx, signal)
	case models.SignalAnswer:
		m.handleAnswer(signal)
	case models.SignalICECandidate:
		m.handleCandidate(signal)
	default:
		log.Warn().Str("type", string(signal.Type)).Msg("unknown signal type")
	}
}

func (m *Manager) handleOffer(ctx context.Context, signal models.Signal) {
	var desc Description
	if err := json.Unmarshal(signal.Payload, &desc); err != nil {
		log.Warn().Err(err).Str("from_peer", signal.FromPeerID).Msg("malformed offer payload")
		return
	}

	rp, fresh := m.track(signal.FromPeerID, false)
	if !fresh {
		// Already connecting or open to this peer; the established
		// exchange wins.
		log.Debug().Str("from_peer", signal.FromPeerID).Msg("ignoring duplicate offer")
		return
	}

	conn, err := m.transport.NewConn(ctx)
	if err != nil {
		m.evict(signal.FromPeerID, false)
		log.Error().Err(err).Str("from_peer", signal.FromPeerID).Msg("failed to create responder connection")
		return
	}
	m.wireConn(rp, conn)
	conn.OnDataChannel(func(channel Channel) {
		m.attachChannel(rp, channel)
	})

	if err := conn.SetRemoteDescription(desc); err != nil {
		m.evict(signal.FromPeerID, false)
		log.Error().Err(err).Str("from_peer", signal.FromPeerID).Msg("failed to apply offer")
		return
	}
	m.flushCandidates(rp)

	answer, err := conn.CreateAnswer(ctx)
	if err != nil {
		m.evict(signal.FromPeerID, false)
		log.Error().Err(err).Str("from_peer", signal.FromPeerID).Msg("failed to create answer")
		return
	}
	m.armTimeout(rp)

	if err := m.sendSignal(ctx, signal.FromPeerID, models.SignalAnswer, answer); err != nil {
		log.Error().Err(err).Str("from_peer", signal.FromPeerID).Msg("failed to send answer")
	}
}

func (m *Manager) handleAnswer(signal models.Signal) {
	var desc Description
	if err := json.Unmarshal(signal.Payload, &desc); err != nil {
		log.Warn().Err(err).Str("from_peer", signal.FromPeerID).Msg("malformed answer payload")
		return
	}

	m.mu.Lock()
	rp, ok := m.peers[signal.FromPeerID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := rp.conn.SetRemoteDescription(desc); err != nil {
		log.Error().Err(err).Str("from_peer", signal.FromPeerID).Msg("failed to apply answer")
		return
	}
	m.flushCandidates(rp)
}

func (m *Manager) handleCandidate(signal models.Signal) {
	var cand Candidate
	if err := json.Unmarshal(signal.Payload, &cand); err != nil {
		log.Warn().Err(err).Str("from_peer", signal.FromPeerID).Msg("malformed candidate payload")
		return
	}

	m.mu.Lock()
	rp, ok := m.peers[signal.FromPeerID]
	if ok && !rp.remoteSet {
		rp.pending = append(rp.pending, cand)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := rp.conn.AddCandidate(cand); err != nil {
		log.Warn().Err(err).Str("from_peer", signal.FromPeerID).Msg("failed to add candidate")
	}
}

// flushCandidates applies candidates buffered before the remote
// description was ready.
func (m *Manager) flushCandidates(rp *remotePeer) {
	m.mu.Lock()
	rp.remoteSet = true
	pending := rp.pending
	rp.pending = nil
	m.mu.Unlock()

	for _, cand := range pending {
		if err := rp.conn.AddCandidate(cand); err != nil {
			log.Warn().Err(err).Str("remote_peer", rp.id).Msg("failed to add buffered candidate")
		}
	}
}

func (m *Manager) wireConn(rp *remotePeer, conn Conn) {
	m.mu.Lock()
	rp.conn = conn
	roomID := m.roomID
	m.mu.Unlock()

	remoteID := rp.id
	conn.OnCandidate(func(cand Candidate) {
		payload, err := json.Marshal(cand)
		if err != nil {
			return
		}
		to := remoteID
		if err := m.relay.Send(context.Background(), roomID, &to, models.SignalICECandidate, payload); err != nil {
			log.Warn().Err(err).Str("remote_peer", remoteID).Msg("failed to send candidate")
		}
	})
	conn.OnStateChange(func(state ConnState) {
		m.onConnState(remoteID, state)
	})
}

func (m *Manager) attachChannel(rp *remotePeer, channel Channel) {
	m.mu.Lock()
	rp.channel = channel
	m.mu.Unlock()

	remoteID := rp.id
	channel.OnMessage(func(data []byte) {
		if m.callbacks.OnMessage != nil {
			m.callbacks.OnMessage(remoteID, data)
		}
	})
}

func (m *Manager) onConnState(remoteID string, state ConnState) {
	switch state {
	case ConnConnected:
		m.mu.Lock()
		rp, ok := m.peers[remoteID]
		if !ok {
			m.mu.Unlock()
			return
		}
		rp.state = StateOpen
		if rp.timer != nil {
			rp.timer.Stop()
			rp.timer = nil
		}
		m.mu.Unlock()

		log.Info().Str("remote_peer", remoteID).Msg("peer connected")
		if m.callbacks.OnPeerConnected != nil {
			m.callbacks.OnPeerConnected(remoteID)
		}
	case ConnDisconnected, ConnFailed, ConnClosed:
		m.evict(remoteID, true)
	}
}

// evict removes a peer entry and tears its connection down. Messages
// to an evicted peer are silently dropped until a fresh offer/answer
// cycle re-establishes it.
func (m *Manager) evict(remoteID string, notify bool) {
	m.mu.Lock()
	rp, ok := m.peers[remoteID]
	if ok {
		delete(m.peers, remoteID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	rp.teardown()
	log.Info().Str("remote_peer", remoteID).Msg("peer disconnected")
	if notify && m.callbacks.OnPeerDisconnected != nil {
		m.callbacks.OnPeerDisconnected(remoteID)
	}
}

// armTimeout discards the peer if it has not reached open before the
// configured deadline, so a lost signaling reply cannot strand a
// half-open entry.
func (m *Manager) armTimeout(rp *remotePeer) {
	remoteID := rp.id
	timer := m.clock.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.mu.Lock()
		current, ok := m.peers[remoteID]
		stillConnecting := ok && current == rp && current.state == StateConnecting
		m.mu.Unlock()
		if stillConnecting {
			log.Warn().Str("remote_peer", remoteID).Dur("timeout", m.cfg.ConnectTimeout).Msg("peer connect timeout")
			m.evict(remoteID, true)
		}
	})

	m.mu.Lock()
	rp.timer = timer
	m.mu.Unlock()
}

func (m *Manager) sendSignal(ctx context.Context, toPeerID string, typ models.SignalType, desc Description) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	roomID := m.roomID
	m.mu.Unlock()
	to := toPeerID
	return m.relay.Send(ctx, roomID, &to, typ, payload)
}

func (rp *remotePeer) teardown() {
	if rp.timer != nil {
		rp.timer.Stop()
		rp.timer = nil
	}
	if rp.channel != nil {
		_ = rp.channel.Close()
	}
	if rp.conn != nil {
		_ = rp.conn.Close()
	}
}
