package webrtcpeer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/session"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
)

// Peer is a pion PeerConnection speaking envelope payloads.
type Peer struct {
	pc     *webrtc.PeerConnection
	log    *slog.Logger
	events session.PeerEvents

	failOnce  sync.Once
	closeOnce sync.Once
}

var _ session.PeerConnection = (*Peer)(nil)

// NewFactory returns a session.PeerFactory creating Peers on api.
func NewFactory(api *webrtc.API, iceServers []webrtc.ICEServer, logger *slog.Logger) session.PeerFactory {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(peerKey string, events session.PeerEvents) (session.PeerConnection, error) {
		return NewPeer(api, iceServers, logger.With("peer", peerKey), events)
	}
}

func NewPeer(api *webrtc.API, iceServers []webrtc.ICEServer, logger *slog.Logger, events session.PeerEvents) (*Peer, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	p := &Peer{pc: pc, log: logger, events: events}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := signaling.EncodeCandidate(c.ToJSON())
		if err != nil {
			p.log.Warn("encode local candidate", "err", err)
			return
		}
		if events.OnLocalCandidate != nil {
			events.OnLocalCandidate(payload)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if err := validateTransferDataChannel(dc); err != nil {
			p.log.Warn("rejecting datachannel",
				"label", dc.Label(),
				"ordered", dc.Ordered(),
				"err", err,
			)
			_ = dc.Close()
			return
		}
		if events.OnDataChannel != nil {
			events.OnDataChannel(NewChannel(dc))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			p.failOnce.Do(func() {
				if events.OnFailed != nil {
					events.OnFailed(fmt.Errorf("peer connection %s", state))
				}
			})
		}
	})

	return p, nil
}

func (p *Peer) PeerConnection() *webrtc.PeerConnection { return p.pc }

func (p *Peer) CreateDataChannel() (session.DataChannel, error) {
	dc, err := CreateTransferDataChannel(p.pc)
	if err != nil {
		return nil, err
	}
	return NewChannel(dc), nil
}

func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local offer: %w", err)
	}
	return signaling.EncodeDescription(offer)
}

func (p *Peer) CreateAnswer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	return signaling.EncodeDescription(answer)
}

func (p *Peer) SetRemoteOffer(payload string) error {
	return p.setRemote(payload, webrtc.SDPTypeOffer)
}

func (p *Peer) SetRemoteAnswer(payload string) error {
	return p.setRemote(payload, webrtc.SDPTypeAnswer)
}

func (p *Peer) setRemote(payload string, want webrtc.SDPType) error {
	desc, err := signaling.DecodeDescription(payload, want)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(desc)
}

func (p *Peer) AddICECandidate(payload string) error {
	init, err := signaling.DecodeCandidate(payload)
	if err != nil {
		return err
	}
	return p.pc.AddICECandidate(init)
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
	})
	return err
}
