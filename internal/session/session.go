package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/transfer"
)

var (
	ErrNegotiation = errors.New("session: negotiation failed")
	ErrTransport   = errors.New("session: transport failed")
	ErrRelay       = errors.New("session: relay failure")
	ErrClosed      = errors.New("session: closed")
	ErrNotOpen     = errors.New("session: not open")
	ErrOverloaded  = errors.New("session: too many pending events")
)

type eventKind int

const (
	evInitiate eventKind = iota
	evRemoteOffer
	evRemoteAnswer
	evRemoteCandidate
	evLocalCandidate
	evDataChannel
	evChannelOpen
	evChannelClosed
	evFailure
	evClose
)

type event struct {
	kind    eventKind
	payload string
	channel DataChannel
	err     error
}

// Session is one negotiation with one remote peer key. Every event is handled
// on a single serial executor in arrival order; the executor goroutine only
// runs while events are pending.
type Session struct {
	key string
	cfg *Config
	log *slog.Logger

	// onTerminal is set by the Registry.
	onTerminal func(*Session)

	mu         sync.Mutex
	state      State
	role       Role
	err        error
	queue      []event
	running    bool
	overloaded bool

	// Owned by the executor.
	pc        PeerConnection
	dc        DataChannel
	engine    *transfer.Engine
	remoteSet bool
	pending   []string
	timer     *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	openCh chan struct{}
	done   chan struct{}
}

func newSession(key string, cfg *Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		key:    key,
		cfg:    cfg,
		log:    cfg.Logger.With("peer", key),
		ctx:    ctx,
		cancel: cancel,
		openCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Session) Key() string { return s.key }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Err returns the terminal cause once the session is Closed or Error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// WaitOpen blocks until the session is Open, terminal, or ctx ends.
func (s *Session) WaitOpen(ctx context.Context) error {
	select {
	case <-s.openCh:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendFile streams r to the peer over the open data channel.
func (s *Session) SendFile(ctx context.Context, name, mimeType string, r io.Reader, size int64) error {
	engine, err := s.openEngine()
	if err != nil {
		return err
	}
	return engine.SendFile(ctx, name, mimeType, r, size)
}

// Flush waits until everything queued on the data channel has been sent.
func (s *Session) Flush(ctx context.Context) error {
	engine, err := s.openEngine()
	if err != nil {
		return err
	}
	return engine.Flush(ctx)
}

// SendText sends text over the open data channel.
func (s *Session) SendText(text string) error {
	engine, err := s.openEngine()
	if err != nil {
		return err
	}
	return engine.SendText(text)
}

func (s *Session) openEngine() (*transfer.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open {
		return nil, fmt.Errorf("%w (state %s)", ErrNotOpen, s.state)
	}
	return s.engine, nil
}

// Close tears the session down. A session that is already terminal is left
// unchanged.
func (s *Session) Close() {
	s.post(event{kind: evClose})
}

func (s *Session) post(ev event) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.overloaded {
		s.mu.Unlock()
		return
	}
	if limit := s.cfg.MaxPendingEvents; limit > 0 && len(s.queue) >= limit {
		s.overloaded = true
		s.queue = append(s.queue[:0], event{kind: evFailure, err: fmt.Errorf("%w: %w", ErrTransport, ErrOverloaded)})
	} else {
		s.queue = append(s.queue, ev)
	}
	if !s.running {
		s.running = true
		go s.run()
	}
	s.mu.Unlock()
}

func (s *Session) run() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handle(ev)
	}
}

// handle is the session's single event handler. It only runs on the executor.
func (s *Session) handle(ev event) {
	state := s.State()
	if state.Terminal() {
		return
	}

	switch ev.kind {
	case evInitiate:
		if state != Idle {
			s.log.Debug("connect ignored", "state", state)
			return
		}
		s.startOffer()

	case evRemoteOffer:
		if state != Idle {
			s.log.Warn("offer rejected", "state", state)
			return
		}
		s.answer(ev.payload)

	case evRemoteAnswer:
		if state != AwaitingAnswer {
			s.log.Warn("answer ignored", "state", state)
			return
		}
		if err := s.pc.SetRemoteAnswer(ev.payload); err != nil {
			s.fail(fmt.Errorf("%w: set remote answer: %w", ErrNegotiation, err))
			return
		}
		s.remoteDescriptionSet()
		s.transition(AwaitingOpen)

	case evRemoteCandidate:
		if !s.remoteSet {
			s.pending = append(s.pending, ev.payload)
			s.log.Debug("candidate queued", "queued", len(s.pending))
			return
		}
		s.addCandidate(ev.payload)

	case evLocalCandidate:
		if err := s.send(signaling.TypeCandidate, ev.payload); err != nil {
			s.log.Warn("candidate not sent", "err", err)
		}

	case evDataChannel:
		// The engine was installed by adopt; the executor only records the
		// channel so terminate can close it.
		s.dc = ev.channel

	case evChannelOpen:
		if state != AwaitingOpen {
			s.log.Warn("channel opened in unexpected state", "state", state)
			return
		}
		s.transition(Open)
		if s.timer != nil {
			s.timer.Stop()
		}
		close(s.openCh)
		if s.cfg.OnOpen != nil {
			s.cfg.OnOpen(s)
		}

	case evChannelClosed:
		if state == Open {
			s.terminate(Closed, ErrClosed)
			return
		}
		s.fail(fmt.Errorf("%w: channel closed before open", ErrTransport))

	case evFailure:
		s.fail(ev.err)

	case evClose:
		s.terminate(Closed, ErrClosed)
	}
}

func (s *Session) startOffer() {
	s.setRole(Offerer)
	s.transition(Offering)
	s.armTimeout()

	pc, err := s.peer()
	if err != nil {
		s.fail(err)
		return
	}
	dc, err := pc.CreateDataChannel()
	if err != nil {
		s.fail(fmt.Errorf("%w: create data channel: %w", ErrNegotiation, err))
		return
	}
	if err := s.attach(dc); err != nil {
		s.fail(err)
		return
	}

	offer, err := pc.CreateOffer(s.ctx)
	if err != nil {
		s.fail(fmt.Errorf("%w: create offer: %w", ErrNegotiation, err))
		return
	}
	if err := s.send(signaling.TypeOffer, offer); err != nil {
		s.fail(fmt.Errorf("%w: send offer: %w", ErrRelay, err))
		return
	}
	s.transition(AwaitingAnswer)
}

func (s *Session) answer(offer string) {
	s.setRole(Answerer)
	s.transition(Answering)
	s.armTimeout()

	pc, err := s.peer()
	if err != nil {
		s.fail(err)
		return
	}
	if err := pc.SetRemoteOffer(offer); err != nil {
		s.fail(fmt.Errorf("%w: set remote offer: %w", ErrNegotiation, err))
		return
	}
	s.remoteDescriptionSet()
	s.transition(AnswerReady)

	answer, err := pc.CreateAnswer(s.ctx)
	if err != nil {
		s.fail(fmt.Errorf("%w: create answer: %w", ErrNegotiation, err))
		return
	}
	if err := s.send(signaling.TypeAnswer, answer); err != nil {
		s.fail(fmt.Errorf("%w: send answer: %w", ErrRelay, err))
		return
	}
	s.transition(AwaitingOpen)
}

// remoteDescriptionSet flushes queued candidates in arrival order.
func (s *Session) remoteDescriptionSet() {
	s.remoteSet = true
	queued := s.pending
	s.pending = nil
	for _, c := range queued {
		s.addCandidate(c)
	}
	if len(queued) > 0 {
		s.log.Debug("queued candidates applied", "count", len(queued))
	}
}

func (s *Session) addCandidate(payload string) {
	if err := s.pc.AddICECandidate(payload); err != nil {
		s.log.Warn("candidate rejected", "err", err)
	}
}

func (s *Session) peer() (PeerConnection, error) {
	if s.pc != nil {
		return s.pc, nil
	}
	pc, err := s.cfg.NewPeer(s.key, PeerEvents{
		OnLocalCandidate: func(payload string) {
			s.post(event{kind: evLocalCandidate, payload: payload})
		},
		OnDataChannel: s.adopt,
		OnFailed: func(err error) {
			s.post(event{kind: evFailure, err: fmt.Errorf("%w: %w", ErrTransport, err)})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create peer connection: %w", ErrNegotiation, err)
	}
	s.pc = pc
	return pc, nil
}

func (s *Session) newEngine(dc DataChannel) (*transfer.Engine, error) {
	tcfg := s.cfg.Transfer
	tcfg.Logger = s.log
	tcfg.OnFile = func(f transfer.File) {
		if s.cfg.OnFile != nil {
			s.cfg.OnFile(s.key, f)
		}
	}
	tcfg.OnText = func(text string) {
		if s.cfg.OnText != nil {
			s.cfg.OnText(s.key, text)
		}
	}
	tcfg.OnError = func(err error) {
		if s.cfg.OnTransferError != nil {
			s.cfg.OnTransferError(s.key, err)
		}
	}
	engine, err := transfer.NewEngine(dc, tcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return engine, nil
}

// attach wires the offerer's own channel. It runs on the executor before the
// offer is sent, so nothing can arrive on dc yet.
func (s *Session) attach(dc DataChannel) error {
	engine, err := s.newEngine(dc)
	if err != nil {
		_ = dc.Close()
		return err
	}
	s.dc = dc
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
	s.wire(dc, engine)
	return nil
}

// adopt takes the answerer's channel from the peer connection's callback. The
// message handler has to be in place before the callback returns: the channel
// starts reading as soon as it does and drops anything nobody is listening
// for.
func (s *Session) adopt(dc DataChannel) {
	s.mu.Lock()
	if s.state.Terminal() || s.role != Answerer || s.engine != nil {
		s.mu.Unlock()
		s.log.Warn("unexpected data channel ignored")
		_ = dc.Close()
		return
	}
	engine, err := s.newEngine(dc)
	if err != nil {
		s.mu.Unlock()
		_ = dc.Close()
		s.post(event{kind: evFailure, err: err})
		return
	}
	s.engine = engine
	s.mu.Unlock()

	// evDataChannel is queued before the open and close callbacks can fire.
	s.post(event{kind: evDataChannel, channel: dc})
	s.wire(dc, engine)
}

func (s *Session) wire(dc DataChannel, engine *transfer.Engine) {
	dc.OnBufferedAmountLow(engine.HighWaterMark(), engine.Drained)
	dc.OnMessage(engine.HandleMessage)
	dc.OnOpen(func() { s.post(event{kind: evChannelOpen}) })
	dc.OnClose(func() { s.post(event{kind: evChannelClosed}) })
}

func (s *Session) armTimeout() {
	d := s.cfg.ConnectTimeout
	if d <= 0 {
		return
	}
	s.timer = time.AfterFunc(d, func() {
		s.post(event{kind: evFailure, err: fmt.Errorf("%w: not open after %s", ErrNegotiation, d)})
	})
}

func (s *Session) send(typ signaling.EnvelopeType, payload string) error {
	return s.cfg.Relay.Send(signaling.Envelope{Type: typ, Target: s.key, Payload: payload})
}

func (s *Session) setRole(r Role) {
	s.mu.Lock()
	s.role = r
	s.mu.Unlock()
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		s.log.Error("illegal state transition", "from", from, "to", to)
		return
	}
	s.state = to
	s.mu.Unlock()

	s.log.Debug("session state", "from", from, "state", to)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(s.key, from, to)
	}
}

func (s *Session) fail(err error) {
	s.terminate(Error, err)
}

func (s *Session) terminate(to State, cause error) {
	s.mu.Lock()
	from := s.state
	if from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.err = cause
	s.queue = nil
	engine := s.engine
	s.mu.Unlock()

	if to == Error {
		s.log.Warn("session failed", "from", from, "err", cause)
	} else {
		s.log.Info("session closed", "from", from)
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
	if engine != nil {
		engine.Close()
	}
	if s.dc != nil {
		_ = s.dc.Close()
	}
	if s.pc != nil {
		_ = s.pc.Close()
	}
	s.pending = nil
	close(s.done)

	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(s.key, from, to)
	}
	if s.onTerminal != nil {
		s.onTerminal(s)
	}
}
