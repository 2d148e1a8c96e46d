package protocol

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Mesh is the outbound fan-out surface the broadcaster writes to.
type Mesh interface {
	Broadcast(data []byte)
	SendToPeer(peerID string, data []byte)
}

// Broadcaster serializes a message once and hands it to the mesh.
// Delivery is best effort; peers without an open channel are skipped
// and reconcile from persisted state.
type Broadcaster struct {
	mesh   Mesh
	peerID string
}

func NewBroadcaster(mesh Mesh, peerID string) *Broadcaster {
	return &Broadcaster{mesh: mesh, peerID: peerID}
}

func (b *Broadcaster) Broadcast(typ MessageType, payload any) {
	data, err := Encode(typ, b.peerID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(typ)).Msg("failed to encode broadcast")
		return
	}
	b.mesh.Broadcast(data)
}

func (b *Broadcaster) SendTo(peerID string, typ MessageType, payload any) {
	data, err := Encode(typ, b.peerID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(typ)).Msg("failed to encode message")
		return
	}
	b.mesh.SendToPeer(peerID, data)
}

// Dispatcher routes inbound envelopes to per-type handlers. Handlers
// receive the raw payload and the transport-verified sender id.
type Dispatcher struct {
	handlers map[MessageType]func(fromPeerID string, payload json.RawMessage)
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[MessageType]func(string, json.RawMessage)),
	}
}

// Handle registers the handler for one message type, replacing any
// previous registration.
func (d *Dispatcher) Handle(typ MessageType, fn func(fromPeerID string, payload json.RawMessage)) {
	d.handlers[typ] = fn
}

// Dispatch decodes one inbound frame and invokes its handler.
// Malformed frames and unknown types are logged and dropped; a bad
// frame from one peer must not take the session down.
func (d *Dispatcher) Dispatch(fromPeerID string, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("from_peer", fromPeerID).Msg("dropping malformed message")
		return
	}
	fn, ok := d.handlers[msg.Type]
	if !ok {
		log.Warn().Str("type", string(msg.Type)).Str("from_peer", fromPeerID).Msg("dropping message with no handler")
		return
	}
	fn(fromPeerID, msg.Payload)
}
