package peer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/partywave/wavelength/internal/models"
)

// relayHub delivers signals between fake relays synchronously, like a
// zero-latency signaling store.
type relayHub struct {
	mu   sync.Mutex
	subs map[string]func(models.Signal)
}

func newRelayHub() *relayHub {
	return &relayHub{subs: make(map[string]func(models.Signal))}
}

type fakeRelay struct {
	hub    *relayHub
	peerID string
}

func (r *fakeRelay) Send(ctx context.Context, roomID uuid.UUID, toPeerID *string, typ models.SignalType, payload json.RawMessage) error {
	signal := models.Signal{
		ID:         uuid.New(),
		RoomID:     roomID,
		FromPeerID: r.peerID,
		ToPeerID:   toPeerID,
		Type:       typ,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	r.hub.mu.Lock()
	var targets []func(models.Signal)
	for id, handler := range r.hub.subs {
		if id == r.peerID {
			continue
		}
		if toPeerID == nil || *toPeerID == id {
			targets = append(targets, handler)
		}
	}
	r.hub.mu.Unlock()
	for _, handler := range targets {
		handler(signal)
	}
	return nil
}

func (r *fakeRelay) Subscribe(roomID uuid.UUID, handler func(models.Signal)) {
	r.hub.mu.Lock()
	defer r.hub.mu.Unlock()
	r.hub.subs[r.peerID] = handler
}

func (r *fakeRelay) Unsubscribe() {
	r.hub.mu.Lock()
	defer r.hub.mu.Unlock()
	delete(r.hub.subs, r.peerID)
}

type fakeRoster struct {
	mu  sync.Mutex
	ids []string
}

func (r *fakeRoster) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *fakeRoster) PeerIDs(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...), nil
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (t *fakeTransport) NewConn(ctx context.Context) (Conn, error) {
	c := &fakeConn{}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1]
}

type fakeConn struct {
	mu            sync.Mutex
	remote        *Description
	candidates    []Candidate
	channel       *fakeChannel
	onDataChannel func(Channel)
	onCandidate   func(Candidate)
	onState       func(ConnState)
	closed        bool
}

func (c *fakeConn) CreateDataChannel(label string) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = &fakeChannel{label: label}
	return c.channel, nil
}

func (c *fakeConn) OnDataChannel(fn func(Channel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDataChannel = fn
}

func (c *fakeConn) CreateOffer(ctx context.Context) (Description, error) {
	return Description{Type: "offer", SDP: "sdp-offer"}, nil
}

func (c *fakeConn) CreateAnswer(ctx context.Context) (Description, error) {
	return Description{Type: "answer", SDP: "sdp-answer"}, nil
}

func (c *fakeConn) SetRemoteDescription(desc Description) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &desc
	return nil
}

func (c *fakeConn) AddCandidate(cand Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) OnCandidate(fn func(Candidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *fakeConn) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) fireState(state ConnState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

type fakeChannel struct {
	mu        sync.Mutex
	label     string
	open      bool
	peer      *fakeChannel
	onMessage func([]byte)
}

func (ch *fakeChannel) Label() string { return ch.label }

func (ch *fakeChannel) Send(data []byte) error {
	ch.mu.Lock()
	peer := ch.peer
	ch.mu.Unlock()
	if peer != nil {
		peer.deliver(data)
	}
	return nil
}

func (ch *fakeChannel) deliver(data []byte) {
	ch.mu.Lock()
	fn := ch.onMessage
	ch.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (ch *fakeChannel) OnOpen(fn func()) {}

func (ch *fakeChannel) OnMessage(fn func(data []byte)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onMessage = fn
}

func (ch *fakeChannel) OnClose(fn func()) {}

func (ch *fakeChannel) Open() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.open
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.open = false
	return nil
}

// completeHandshake links the initiator's created channel with a
// responder-side channel and fires the connected transitions, the way
// a real transport would after ICE succeeds.
func completeHandshake(t *testing.T, initiator, responder *fakeConn) {
	t.Helper()
	initiator.mu.Lock()
	initCh := initiator.channel
	initiator.mu.Unlock()
	if initCh == nil {
		t.Fatal("initiator created no data channel")
	}

	respCh := &fakeChannel{label: initCh.label}
	responder.mu.Lock()
	onDC := responder.onDataChannel
	responder.mu.Unlock()
	if onDC == nil {
		t.Fatal("responder registered no data channel handler")
	}
	onDC(respCh)

	initCh.mu.Lock()
	initCh.peer = respCh
	initCh.open = true
	initCh.mu.Unlock()
	respCh.mu.Lock()
	respCh.peer = initCh
	respCh.open = true
	respCh.mu.Unlock()

	initiator.fireState(ConnConnected)
	responder.fireState(ConnConnected)
}

type testPeer struct {
	id        string
	manager   *Manager
	transport *fakeTransport
	clock     *clockwork.FakeClock
}

func newTestPeer(hub *relayHub, roster *fakeRoster, id string) *testPeer {
	transport := &fakeTransport{}
	clock := clockwork.NewFakeClock()
	manager := NewManager(id, transport, &fakeRelay{hub: hub, peerID: id}, roster, clock, DefaultConfig())
	return &testPeer{id: id, manager: manager, transport: transport, clock: clock}
}

func TestHandshakeAndBroadcast(t *testing.T) {
	ctx := context.Background()
	hub := newRelayHub()
	roster := &fakeRoster{}
	roomID := uuid.New()

	alice := newTestPeer(hub, roster, "peer-alice")
	roster.add(alice.id)
	if err := alice.manager.JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("alice JoinRoom: %v", err)
	}

	var bobGot [][]byte
	var mu sync.Mutex
	bob := newTestPeer(hub, roster, "peer-bob")
	bob.manager.SetCallbacks(Callbacks{
		OnMessage: func(from string, data []byte) {
			mu.Lock()
			bobGot = append(bobGot, data)
			mu.Unlock()
		},
	})
	roster.add(bob.id)
	if err := bob.manager.JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("bob JoinRoom: %v", err)
	}

	// Bob initiated toward Alice; the relayed offer made Alice open a
	// responder connection and answer.
	if bob.transport.count() != 1 || alice.transport.count() != 1 {
		t.Fatalf("conns: bob=%d alice=%d, want 1 and 1", bob.transport.count(), alice.transport.count())
	}
	bobConn, aliceConn := bob.transport.last(), alice.transport.last()
	if aliceConn.remote == nil || aliceConn.remote.Type != "offer" {
		t.Fatalf("alice remote = %+v, want the offer", aliceConn.remote)
	}
	if bobConn.remote == nil || bobConn.remote.Type != "answer" {
		t.Fatalf("bob remote = %+v, want the answer", bobConn.remote)
	}

	completeHandshake(t, bobConn, aliceConn)

	if got := alice.manager.ConnectedPeers(); len(got) != 1 || got[0] != bob.id {
		t.Errorf("alice ConnectedPeers = %v, want [%s]", got, bob.id)
	}
	if !bob.manager.Connected() {
		t.Error("bob should report connected")
	}

	alice.manager.Broadcast([]byte("hello"))
	mu.Lock()
	defer mu.Unlock()
	if len(bobGot) != 1 || string(bobGot[0]) != "hello" {
		t.Errorf("bob received %q, want [hello]", bobGot)
	}
}

func TestDuplicateOfferIgnored(t *testing.T) {
	ctx := context.Background()
	hub := newRelayHub()
	roster := &fakeRoster{}
	roomID := uuid.New()

	alice := newTestPeer(hub, roster, "peer-alice")
	roster.add(alice.id)
	if err := alice.manager.JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	offer, _ := json.Marshal(Description{Type: "offer", SDP: "sdp"})
	signal := models.Signal{
		RoomID:     roomID,
		FromPeerID: "peer-bob",
		Type:       models.SignalOffer,
		Payload:    offer,
	}
	alice.manager.handleSignal(signal)
	alice.manager.handleSignal(signal)

	if got := alice.transport.count(); got != 1 {
		t.Errorf("responder connections = %d, want 1 (duplicate offer ignored)", got)
	}
}

func TestConnectTimeoutEvicts(t *testing.T) {
	ctx := context.Background()
	hub := newRelayHub()
	roster := &fakeRoster{}
	roomID := uuid.New()

	// Ghost is in the roster but never subscribes, so the offer is
	// never answered.
	roster.add("peer-ghost")
	alice := newTestPeer(hub, roster, "peer-alice")
	roster.add(alice.id)

	var disconnected []string
	var mu sync.Mutex
	alice.manager.SetCallbacks(Callbacks{
		OnPeerDisconnected: func(peerID string) {
			mu.Lock()
			disconnected = append(disconnected, peerID)
			mu.Unlock()
		},
	})
	if err := alice.manager.JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if !alice.manager.Connecting() {
		t.Fatal("should be connecting to the ghost")
	}

	alice.clock.Advance(DefaultConfig().ConnectTimeout)

	// The timer callback runs on its own goroutine.
	waitFor(t, func() bool { return !alice.manager.Connecting() })

	conn := alice.transport.last()
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("timed out connection should be closed")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(disconnected) != 1 || disconnected[0] != "peer-ghost" {
		t.Errorf("disconnected callbacks = %v, want [peer-ghost]", disconnected)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	ctx := context.Background()
	hub := newRelayHub()
	roster := &fakeRoster{}
	roomID := uuid.New()

	roster.add("peer-ghost")
	alice := newTestPeer(hub, roster, "peer-alice")
	roster.add(alice.id)
	if err := alice.manager.JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	conn := alice.transport.last()

	cand, _ := json.Marshal(Candidate{Candidate: "cand-1"})
	alice.manager.handleSignal(models.Signal{
		RoomID:     roomID,
		FromPeerID: "peer-ghost",
		Type:       models.SignalICECandidate,
		Payload:    cand,
	})
	conn.mu.Lock()
	buffered := len(conn.candidates)
	conn.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("candidate applied before remote description, want buffered")
	}

	answer, _ := json.Marshal(Description{Type: "answer", SDP: "sdp"})
	alice.manager.handleSignal(models.Signal{
		RoomID:     roomID,
		FromPeerID: "peer-ghost",
		Type:       models.SignalAnswer,
		Payload:    answer,
	})
	conn.mu.Lock()
	applied := len(conn.candidates)
	conn.mu.Unlock()
	if applied != 1 {
		t.Errorf("applied candidates = %d, want the buffered 1", applied)
	}
}

func TestLeaveRoomIdempotent(t *testing.T) {
	ctx := context.Background()
	hub := newRelayHub()
	roster := &fakeRoster{}
	roomID := uuid.New()

	roster.add("peer-ghost")
	alice := newTestPeer(hub, roster, "peer-alice")
	roster.add(alice.id)
	if err := alice.manager.JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	conn := alice.transport.last()

	alice.manager.LeaveRoom()
	alice.manager.LeaveRoom()

	if alice.manager.Connecting() || alice.manager.Connected() {
		t.Error("no peers should remain after leave")
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("connections should be closed on leave")
	}

	// Broadcast after leave is a silent no-op.
	alice.manager.Broadcast([]byte("late"))
}
