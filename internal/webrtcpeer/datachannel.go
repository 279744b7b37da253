package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/session"
)

// DataChannelLabel is the label of the one channel an offerer opens.
const DataChannelLabel = "fileTransfer"

func validateTransferDataChannel(dc *webrtc.DataChannel) error {
	if dc.Label() != DataChannelLabel {
		return fmt.Errorf("expected label=%q (got %q)", DataChannelLabel, dc.Label())
	}
	// Chunks are reassembled by simple concatenation, so delivery must be
	// ordered and fully reliable.
	if !dc.Ordered() {
		return fmt.Errorf("transfer datachannel must be ordered (ordered=false)")
	}
	if dc.MaxPacketLifeTime() != nil {
		return fmt.Errorf("transfer datachannel must be fully reliable (maxPacketLifeTime must be unset)")
	}
	if dc.MaxRetransmits() != nil {
		return fmt.Errorf("transfer datachannel must be fully reliable (maxRetransmits must be unset)")
	}
	return nil
}

// CreateTransferDataChannel opens the ordered, reliable transfer channel.
func CreateTransferDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	return pc.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
}

// Channel wraps a pion DataChannel as a session.DataChannel.
type Channel struct {
	dc *webrtc.DataChannel
}

var _ session.DataChannel = (*Channel)(nil)

func NewChannel(dc *webrtc.DataChannel) *Channel {
	return &Channel{dc: dc}
}

func (c *Channel) Send(data []byte) error     { return c.dc.Send(data) }
func (c *Channel) SendText(text string) error { return c.dc.SendText(text) }
func (c *Channel) BufferedAmount() uint64     { return c.dc.BufferedAmount() }
func (c *Channel) OnOpen(f func())            { c.dc.OnOpen(f) }
func (c *Channel) OnClose(f func())           { c.dc.OnClose(f) }
func (c *Channel) Close() error               { return c.dc.Close() }

func (c *Channel) OnMessage(f func(isString bool, data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.IsString, msg.Data)
	})
}

func (c *Channel) OnBufferedAmountLow(threshold uint64, f func()) {
	c.dc.SetBufferedAmountLowThreshold(threshold)
	c.dc.OnBufferedAmountLow(f)
}

// Raw exposes the underlying pion channel.
func (c *Channel) Raw() *webrtc.DataChannel { return c.dc }
