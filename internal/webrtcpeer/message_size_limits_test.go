package webrtcpeer

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/config"
)

func TestTransferDataChannel_OversizeMessageNotDelivered(t *testing.T) {
	// A peer that ignores the chunk size could otherwise make pion/SCTP
	// reassemble an arbitrarily large message before OnMessage runs. The SCTP
	// receive buffer is the receive-side hard cap.
	cfg := config.Config{
		WebRTCSCTPMaxReceiveBufferBytes: 16 * 1024,
	}

	api, err := NewAPI(cfg, nil)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}

	receiverPC, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection(receiver): %v", err)
	}
	t.Cleanup(func() { _ = receiverPC.Close() })

	senderPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection(sender): %v", err)
	}
	t.Cleanup(func() { _ = senderPC.Close() })

	received := make(chan int, 8)
	receiverOpen := make(chan struct{})

	receiverPC.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			return
		}
		dc.OnOpen(func() {
			select {
			case <-receiverOpen:
			default:
				close(receiverOpen)
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if msg.IsString {
				return
			}
			select {
			case received <- len(msg.Data):
			default:
			}
		})
	})

	senderDC, err := CreateTransferDataChannel(senderPC)
	if err != nil {
		t.Fatalf("CreateTransferDataChannel: %v", err)
	}
	senderOpen := make(chan struct{})
	senderDC.OnOpen(func() { close(senderOpen) })

	connectPeerConnections(t, senderPC, receiverPC)

	select {
	case <-senderOpen:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for sender datachannel open")
	}
	select {
	case <-receiverOpen:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for receiver datachannel open")
	}

	oversize := make([]byte, cfg.WebRTCSCTPMaxReceiveBufferBytes*4)
	if err := senderDC.Send(oversize); err != nil {
		t.Fatalf("Send(oversize): %v", err)
	}

	select {
	case n := <-received:
		t.Fatalf("unexpected delivery of oversized message: %d bytes", n)
	case <-time.After(750 * time.Millisecond):
	}
}
