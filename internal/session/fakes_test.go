package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
)

type fakeRelay struct {
	mu      sync.Mutex
	sent    []signaling.Envelope
	err     error
	deliver func(signaling.Envelope)
}

func (r *fakeRelay) Send(env signaling.Envelope) error {
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return err
	}
	r.sent = append(r.sent, env)
	deliver := r.deliver
	r.mu.Unlock()
	if deliver != nil {
		deliver(env)
	}
	return nil
}

func (r *fakeRelay) envelopes(typ signaling.EnvelopeType) []signaling.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []signaling.Envelope
	for _, env := range r.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type fakeChannel struct {
	mu        sync.Mutex
	open      bool
	closed    bool
	onOpen    func()
	onClose   func()
	onMessage func(bool, []byte)
	onLow     func()
	backlog   []fakeMessage
	peer      *fakeChannel
	// drop discards messages that arrive before OnMessage, the way pion does.
	drop bool
}

type fakeMessage struct {
	text bool
	data []byte
}

func (c *fakeChannel) Send(data []byte) error { return c.write(false, data) }

func (c *fakeChannel) SendText(text string) error { return c.write(true, []byte(text)) }

func (c *fakeChannel) write(text bool, data []byte) error {
	c.mu.Lock()
	peer := c.peer
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("channel closed")
	}
	if peer != nil {
		peer.receive(text, append([]byte(nil), data...))
	}
	return nil
}

func (c *fakeChannel) receive(text bool, data []byte) {
	c.mu.Lock()
	f := c.onMessage
	if f == nil && c.drop {
		c.mu.Unlock()
		return
	}
	if f == nil {
		c.backlog = append(c.backlog, fakeMessage{text: text, data: data})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	f(text, data)
}

func (c *fakeChannel) BufferedAmount() uint64 { return 0 }

func (c *fakeChannel) OnOpen(f func()) {
	c.mu.Lock()
	c.onOpen = f
	open := c.open
	c.mu.Unlock()
	if open {
		go f()
	}
}

func (c *fakeChannel) OnClose(f func()) {
	c.mu.Lock()
	c.onClose = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnMessage(f func(bool, []byte)) {
	c.mu.Lock()
	c.onMessage = f
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()
	for _, m := range backlog {
		f(m.text, m.data)
	}
}

func (c *fakeChannel) OnBufferedAmountLow(_ uint64, f func()) {
	c.mu.Lock()
	c.onLow = f
	c.mu.Unlock()
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	f := c.onClose
	c.mu.Unlock()
	if f != nil {
		go f()
	}
	return nil
}

func (c *fakeChannel) fireOpen() {
	c.mu.Lock()
	c.open = true
	f := c.onOpen
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

type fakePeer struct {
	owner  string
	remote string
	net    *fakeNet
	events PeerEvents

	mu         sync.Mutex
	calls      []string
	candidates []string
	dc         *fakeChannel
	channels   int
	closed     bool

	offerErr  error
	answerErr error
	remoteErr error
}

func (p *fakePeer) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePeer) CreateDataChannel() (DataChannel, error) {
	p.record("createDataChannel")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels++
	p.dc = &fakeChannel{}
	return p.dc, nil
}

func (p *fakePeer) CreateOffer(context.Context) (string, error) {
	p.record("createOffer")
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return "offer-from-" + p.owner, nil
}

func (p *fakePeer) CreateAnswer(context.Context) (string, error) {
	p.record("createAnswer")
	if p.answerErr != nil {
		return "", p.answerErr
	}
	return "answer-from-" + p.owner, nil
}

func (p *fakePeer) SetRemoteOffer(payload string) error {
	p.record("remoteOffer:" + payload)
	return p.remoteErr
}

func (p *fakePeer) SetRemoteAnswer(payload string) error {
	p.record("remoteAnswer:" + payload)
	if p.remoteErr != nil {
		return p.remoteErr
	}
	if p.net != nil {
		p.net.link(p)
	}
	return nil
}

func (p *fakePeer) AddICECandidate(payload string) error {
	p.record("candidate:" + payload)
	p.mu.Lock()
	p.candidates = append(p.candidates, payload)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// fakeNet opens a channel pair once the offerer applies the answer.
type fakeNet struct {
	mu    sync.Mutex
	peers map[string]*fakePeer
}

func (n *fakeNet) factory(owner string, peers *[]*fakePeer) PeerFactory {
	var mu sync.Mutex
	return func(remote string, events PeerEvents) (PeerConnection, error) {
		mu.Lock()
		defer mu.Unlock()
		p := &fakePeer{owner: owner, remote: remote, net: n, events: events}
		if n != nil {
			n.mu.Lock()
			n.peers[owner+">"+remote] = p
			n.mu.Unlock()
		}
		if peers != nil {
			*peers = append(*peers, p)
		}
		return p, nil
	}
}

func (n *fakeNet) link(offerer *fakePeer) {
	n.mu.Lock()
	answerer := n.peers[offerer.remote+">"+offerer.owner]
	n.mu.Unlock()
	if answerer == nil {
		return
	}
	offerer.mu.Lock()
	local := offerer.dc
	offerer.mu.Unlock()

	remote := &fakeChannel{peer: local}
	local.mu.Lock()
	local.peer = remote
	local.mu.Unlock()

	answerer.events.OnDataChannel(remote)
	remote.fireOpen()
	local.fireOpen()
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state=%s, want %s", s.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
