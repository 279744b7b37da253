// Package relayclient owns a peer's single control connection to the
// signaling relay.
package relayclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
)

const wsWriteWait = 1 * time.Second

var (
	ErrNotOpen   = errors.New("relayclient: connection not open")
	ErrRejected  = errors.New("relayclient: rejected by relay")
	ErrNoWelcome = errors.New("relayclient: connection closed before welcome")
)

// State is the control connection's lifecycle. Closed and Error are terminal;
// a Client is never re-dialed.
type State int32

const (
	Pending State = iota
	Open
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

type Config struct {
	// URL is the relay's WebSocket endpoint, e.g. ws://127.0.0.1:8080/ws.
	URL string
	// Key is the requested peer key. Empty lets the relay assign one.
	Key    string
	Logger *slog.Logger
	Dialer *websocket.Dialer

	// OnEnvelope is called once per inbound envelope, in receipt order, from
	// the read loop.
	OnEnvelope func(signaling.Envelope)
	// OnClientList receives each client list with our own key removed.
	OnClientList func([]string)
	// OnClose is called once when the connection ends. err is nil after Close.
	OnClose func(err error)
}

type Client struct {
	cfg Config
	log *slog.Logger

	state atomic.Int32

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu  sync.Mutex
	key string
	err error

	welcome     chan struct{}
	welcomeOnce sync.Once
	closing     atomic.Bool
	done        chan struct{}
}

func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		cfg:     cfg,
		log:     log,
		key:     cfg.Key,
		welcome: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Dial connects a new Client and waits for the relay's welcome.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := NewClient(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func endpoint(raw, key string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relayclient: parse relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("relayclient: relay url scheme must be ws or wss (got %q)", u.Scheme)
	}
	if key != "" {
		q := u.Query()
		q.Set("key", key)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the relay and blocks until the welcome envelope assigns our
// key. It may only be called once.
func (c *Client) Connect(ctx context.Context) error {
	if State(c.state.Load()) != Pending || c.conn != nil {
		return errors.New("relayclient: Connect called twice")
	}
	target, err := endpoint(c.cfg.URL, c.cfg.Key)
	if err != nil {
		c.finish(Error, err)
		return err
	}
	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		err = fmt.Errorf("relayclient: dial %s: %w", c.cfg.URL, err)
		c.finish(Error, err)
		return err
	}
	c.conn = conn
	c.state.Store(int32(Open))
	c.log.Debug("relay connected", "url", c.cfg.URL)

	go c.readLoop()

	select {
	case <-c.welcome:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrNoWelcome
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

// Key is the key the relay knows us by.
func (c *Client) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Err is the cause of an Error state.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection reaches Closed or Error.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send writes env with our key as sender. It fails with ErrNotOpen instead of
// queueing when the connection is not open.
func (c *Client) Send(env signaling.Envelope) error {
	if c.State() != Open {
		return ErrNotOpen
	}
	env.Sender = c.Key()
	b, err := env.Marshal()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("relayclient: write %s: %w", env.Type, err)
	}
	return nil
}

// SendText relays a text message to target.
func (c *Client) SendText(target, text string) error {
	return c.Send(signaling.Envelope{Type: signaling.TypeText, Target: target, Payload: text})
}

// EnterGroup scopes our client list to group.
func (c *Client) EnterGroup(group string) error {
	return c.Send(signaling.Envelope{Type: signaling.TypeEnterGroup, Payload: group})
}

// Close sends a normal close frame and releases the connection.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	if c.conn == nil {
		c.finish(Closed, nil)
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	err := c.conn.Close()
	c.finish(Closed, nil)
	return err
}

func (c *Client) readLoop() {
	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}
		if msgType != websocket.TextMessage {
			c.log.Warn("ignoring non-text relay message")
			continue
		}
		env, err := signaling.ParseEnvelope(msg)
		if err != nil {
			c.log.Warn("ignoring malformed envelope", "err", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env signaling.Envelope) {
	switch env.Type {
	case signaling.TypeWelcome:
		if env.Target != "" {
			c.mu.Lock()
			c.key = env.Target
			c.mu.Unlock()
		}
		c.log.Info("relay welcome", "peer", env.Target)
		c.welcomeOnce.Do(func() { close(c.welcome) })
	case signaling.TypeClientList:
		if c.cfg.OnClientList != nil {
			c.cfg.OnClientList(signaling.ParseClientList(env.Payload, c.Key()))
		}
	}
	if c.cfg.OnEnvelope != nil {
		c.cfg.OnEnvelope(env)
	}
}

func (c *Client) readFailed(err error) {
	if c.closing.Load() {
		c.finish(Closed, nil)
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			c.finish(Closed, fmt.Errorf("relayclient: relay closed connection: %s", ce.Text))
			return
		case websocket.ClosePolicyViolation, websocket.CloseTryAgainLater:
			c.finish(Error, fmt.Errorf("%w: %s", ErrRejected, ce.Text))
			return
		}
	}
	c.finish(Error, fmt.Errorf("relayclient: read: %w", err))
}

func (c *Client) finish(state State, err error) {
	for {
		cur := State(c.state.Load())
		if cur == Closed || cur == Error {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(state)) {
			break
		}
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if err != nil {
		c.log.Warn("relay connection ended", "state", state, "err", err)
	} else {
		c.log.Debug("relay connection closed")
	}
	close(c.done)
	if c.cfg.OnClose != nil {
		c.cfg.OnClose(err)
	}
}
