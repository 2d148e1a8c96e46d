package peer

import (
	"context"
)

// Description is a connection description exchanged as the payload of
// offer/answer signaling messages.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a connectivity candidate discovered during connection
// setup, exchanged asynchronously relative to the offer/answer pair.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ConnState is the coarse connection state reported by a transport.
type ConnState int

const (
	ConnConnected ConnState = iota
	ConnDisconnected
	ConnFailed
	ConnClosed
)

// Transport creates raw peer connections. The manager consumes this as
// a capability; ICE/STUN mechanics live entirely behind it.
type Transport interface {
	NewConn(ctx context.Context) (Conn, error)
}

// Conn is one direct connection to a remote peer. CreateOffer and
// CreateAnswer generate and apply the local description in one step.
type Conn interface {
	CreateDataChannel(label string) (Channel, error)
	OnDataChannel(fn func(Channel))
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetRemoteDescription(desc Description) error
	AddCandidate(cand Candidate) error
	OnCandidate(fn func(Candidate))
	OnStateChange(fn func(ConnState))
	Close() error
}

// Channel is a reliable, ordered message channel riding on a Conn.
type Channel interface {
	Label() string
	Send(data []byte) error
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	OnClose(fn func())
	Open() bool
	Close() error
}
