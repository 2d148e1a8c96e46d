// Package rtc adapts pion/webrtc to the peer transport interface. It
// is the only package aware of WebRTC; everything above it deals in
// descriptions, candidates and opaque channels.
package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/partywave/wavelength/internal/peer"
)

type Config struct {
	STUNServers []string
}

func DefaultConfig() Config {
	return Config{
		STUNServers: []string{"stun:stun.l.google.com:19302"},
	}
}

// Transport creates WebRTC peer connections with the configured ICE
// servers.
type Transport struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewTransport(cfg Config) *Transport {
	servers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, url := range cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return &Transport{
		api:    webrtc.NewAPI(),
		config: webrtc.Configuration{ICEServers: servers},
	}
}

func (t *Transport) NewConn(ctx context.Context) (peer.Conn, error) {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &conn{pc: pc}, nil
}

type conn struct {
	pc *webrtc.PeerConnection
}

func (c *conn) CreateDataChannel(label string) (peer.Channel, error) {
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	return &channel{dc: dc}, nil
}

func (c *conn) OnDataChannel(fn func(peer.Channel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&channel{dc: dc})
	})
}

// CreateOffer generates the local offer and applies it, which starts
// candidate gathering.
func (c *conn) CreateOffer(ctx context.Context) (peer.Description, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return peer.Description{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return peer.Description{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return peer.Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (c *conn) CreateAnswer(ctx context.Context) (peer.Description, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return peer.Description{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return peer.Description{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return peer.Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *conn) SetRemoteDescription(desc peer.Description) error {
	sd := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (c *conn) AddCandidate(cand peer.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

func (c *conn) OnCandidate(fn func(peer.Candidate)) {
	c.pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		// Gathering signals completion with a nil candidate.
		if ic == nil {
			return
		}
		init := ic.ToJSON()
		fn(peer.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (c *conn) OnStateChange(fn func(peer.ConnState)) {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			fn(peer.ConnConnected)
		case webrtc.PeerConnectionStateDisconnected:
			fn(peer.ConnDisconnected)
		case webrtc.PeerConnectionStateFailed:
			fn(peer.ConnFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(peer.ConnClosed)
		}
	})
}

func (c *conn) Close() error {
	return c.pc.Close()
}

type channel struct {
	dc *webrtc.DataChannel
}

func (ch *channel) Label() string {
	return ch.dc.Label()
}

func (ch *channel) Send(data []byte) error {
	return ch.dc.Send(data)
}

func (ch *channel) OnOpen(fn func()) {
	ch.dc.OnOpen(fn)
}

func (ch *channel) OnMessage(fn func(data []byte)) {
	ch.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (ch *channel) OnClose(fn func()) {
	ch.dc.OnClose(fn)
}

func (ch *channel) Open() bool {
	return ch.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (ch *channel) Close() error {
	return ch.dc.Close()
}
