package session

import (
	"context"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/transfer"
)

// PeerConnection is the negotiation half of a peer transport. Descriptions and
// candidates cross this boundary as envelope payload strings.
type PeerConnection interface {
	// CreateDataChannel is only called on the offering side.
	CreateDataChannel() (DataChannel, error)
	// CreateOffer generates the local offer, sets it, and returns its payload.
	CreateOffer(ctx context.Context) (string, error)
	// CreateAnswer generates the local answer, sets it, and returns its payload.
	CreateAnswer(ctx context.Context) (string, error)
	SetRemoteOffer(payload string) error
	SetRemoteAnswer(payload string) error
	AddICECandidate(payload string) error
	Close() error
}

// DataChannel is the established data transport.
type DataChannel interface {
	transfer.Channel

	OnOpen(func())
	OnClose(func())
	OnMessage(func(isString bool, data []byte))
	// OnBufferedAmountLow arms f to run when the buffered amount falls to
	// threshold or below.
	OnBufferedAmountLow(threshold uint64, f func())
	Close() error
}

// PeerEvents are the asynchronous notifications a PeerConnection raises.
// Implementations may call them from any goroutine.
type PeerEvents struct {
	OnLocalCandidate func(payload string)
	// OnDataChannel delivers the channel opened by the remote offerer.
	OnDataChannel func(DataChannel)
	// OnFailed reports an unrecoverable transport failure.
	OnFailed func(err error)
}

// PeerFactory builds one PeerConnection for a session.
type PeerFactory func(peerKey string, events PeerEvents) (PeerConnection, error)

// Relay delivers outbound envelopes to the signaling relay.
type Relay interface {
	Send(env signaling.Envelope) error
}
