package protocol

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type fakeMesh struct {
	mu        sync.Mutex
	broadcast [][]byte
	direct    map[string][][]byte
}

func newFakeMesh() *fakeMesh {
	return &fakeMesh{direct: make(map[string][][]byte)}
}

func (m *fakeMesh) Broadcast(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = append(m.broadcast, data)
}

func (m *fakeMesh) SendToPeer(peerID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct[peerID] = append(m.direct[peerID], data)
}

func TestBroadcastEnvelope(t *testing.T) {
	mesh := newFakeMesh()
	b := NewBroadcaster(mesh, "peer-alice")

	playerID := uuid.New()
	b.Broadcast(MessageDialUpdate, DialUpdatePayload{
		PlayerID:   playerID,
		PlayerName: "Alice",
		Position:   62.5,
	})

	if len(mesh.broadcast) != 1 {
		t.Fatalf("broadcast frames = %d, want 1", len(mesh.broadcast))
	}
	var msg Message
	if err := json.Unmarshal(mesh.broadcast[0], &msg); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if msg.Type != MessageDialUpdate || msg.FromPeerID != "peer-alice" {
		t.Errorf("envelope = %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}

	var payload DialUpdatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.PlayerID != playerID || payload.Position != 62.5 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewDispatcher()

	var gotFrom string
	var gotPosition float64
	d.Handle(MessageDialUpdate, func(fromPeerID string, payload json.RawMessage) {
		var p DialUpdatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		gotFrom = fromPeerID
		gotPosition = p.Position
	})
	chatCalls := 0
	d.Handle(MessageChat, func(string, json.RawMessage) { chatCalls++ })

	data, err := Encode(MessageDialUpdate, "peer-bob", DialUpdatePayload{Position: 33})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	d.Dispatch("peer-bob", data)

	if gotFrom != "peer-bob" || gotPosition != 33 {
		t.Errorf("handler got from=%q position=%v", gotFrom, gotPosition)
	}
	if chatCalls != 0 {
		t.Errorf("chat handler called %d times, want 0", chatCalls)
	}
}

func TestDispatcherDropsMalformedAndUnknown(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Handle(MessageChat, func(string, json.RawMessage) { called = true })

	// Neither of these may panic or reach the handler.
	d.Dispatch("peer-bob", []byte(`{not json`))
	data, _ := Encode(MessageType("mystery"), "peer-bob", nil)
	d.Dispatch("peer-bob", data)

	if called {
		t.Error("handler called for malformed or unknown frames")
	}
}
