package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/transfer"
)

const (
	DefaultMaxPendingEvents = 256
	// DefaultLateCandidateWindow is how long candidates from a peer whose
	// session just ended are dropped instead of opening a new session.
	DefaultLateCandidateWindow = 30 * time.Second
)

var ErrSelf = errors.New("session: cannot connect to own key")

type Config struct {
	Logger *slog.Logger
	Relay  Relay
	// NewPeer creates the transport for each session.
	NewPeer PeerFactory
	// SelfKey is this client's key; envelopes addressed from it are ignored.
	SelfKey string

	// MaxPendingEvents bounds each session's event queue. Overflow fails the
	// session.
	MaxPendingEvents int
	// ConnectTimeout fails a session that is not Open this long after leaving
	// Idle. Zero disables it.
	ConnectTimeout time.Duration
	// LateCandidateWindow defaults to DefaultLateCandidateWindow.
	LateCandidateWindow time.Duration
	Transfer            transfer.Config

	OnStateChange   func(peer string, from, to State)
	OnOpen          func(*Session)
	OnFile          func(peer string, f transfer.File)
	OnText          func(peer, text string)
	OnTransferError func(peer string, err error)
}

// Registry maps peer keys to sessions. It is the only state shared between
// sessions.
type Registry struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	// ended records when each recently released key's session went away.
	ended map[string]time.Time
}

func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Relay == nil {
		return nil, errors.New("session: nil relay")
	}
	if cfg.NewPeer == nil {
		return nil, errors.New("session: nil peer factory")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxPendingEvents == 0 {
		cfg.MaxPendingEvents = DefaultMaxPendingEvents
	}
	if cfg.LateCandidateWindow == 0 {
		cfg.LateCandidateWindow = DefaultLateCandidateWindow
	}
	return &Registry{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
		ended:    make(map[string]time.Time),
	}, nil
}

// SetSelfKey updates the key used to drop envelopes echoed from ourselves.
func (r *Registry) SetSelfKey(key string) {
	r.mu.Lock()
	r.cfg.SelfKey = key
	r.mu.Unlock()
}

// SessionFor returns the session for peerKey, creating it in Idle. Concurrent
// callers get the same instance.
func (r *Registry) SessionFor(peerKey string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[peerKey]; ok {
		return s
	}
	s := newSession(peerKey, &r.cfg)
	s.onTerminal = r.release
	r.sessions[peerKey] = s
	return s
}

func (r *Registry) Lookup(peerKey string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[peerKey]
	return s, ok
}

// Remove closes and forgets the session for peerKey.
func (r *Registry) Remove(peerKey string) {
	r.mu.Lock()
	s, ok := r.sessions[peerKey]
	if ok {
		r.forgetLocked(peerKey)
	}
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (r *Registry) release(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.key]; ok && cur == s {
		r.forgetLocked(s.key)
	}
	r.mu.Unlock()
}

func (r *Registry) forgetLocked(peerKey string) {
	delete(r.sessions, peerKey)
	now := time.Now()
	for k, at := range r.ended {
		if now.Sub(at) >= r.cfg.LateCandidateWindow {
			delete(r.ended, k)
		}
	}
	r.ended[peerKey] = now
}

// candidateTarget returns the session a remote candidate belongs to. A
// candidate may overtake its offer, so an unknown key gets a new Idle session
// that queues it, unless that key's session ended within the late-candidate
// window: then the candidate is a leftover of the old negotiation.
func (r *Registry) candidateTarget(peerKey string) (*Session, bool) {
	r.mu.Lock()
	if s, ok := r.sessions[peerKey]; ok {
		r.mu.Unlock()
		return s, true
	}
	if at, ok := r.ended[peerKey]; ok && time.Since(at) < r.cfg.LateCandidateWindow {
		r.mu.Unlock()
		return nil, false
	}
	r.mu.Unlock()
	return r.SessionFor(peerKey), true
}

// renegotiating clears the late-candidate guard once the peer starts over.
func (r *Registry) renegotiating(peerKey string) {
	r.mu.Lock()
	delete(r.ended, peerKey)
	r.mu.Unlock()
}

// Connect starts an offer to peerKey, reusing an existing session.
func (r *Registry) Connect(peerKey string) (*Session, error) {
	r.mu.Lock()
	self := r.cfg.SelfKey
	r.mu.Unlock()
	if peerKey == "" {
		return nil, fmt.Errorf("session: empty peer key")
	}
	if peerKey == self {
		return nil, ErrSelf
	}
	r.renegotiating(peerKey)
	s := r.SessionFor(peerKey)
	s.post(event{kind: evInitiate})
	return s, nil
}

// HandleEnvelope dispatches one inbound relay envelope.
func (r *Registry) HandleEnvelope(env signaling.Envelope) {
	r.mu.Lock()
	self := r.cfg.SelfKey
	r.mu.Unlock()
	if env.Sender == self && env.Type.Routed() {
		return
	}

	switch env.Type {
	case signaling.TypeOffer:
		r.renegotiating(env.Sender)
		r.SessionFor(env.Sender).post(event{kind: evRemoteOffer, payload: env.Payload})
	case signaling.TypeAnswer:
		s, ok := r.Lookup(env.Sender)
		if !ok {
			r.log.Debug("answer for unknown session", "peer", env.Sender)
			return
		}
		s.post(event{kind: evRemoteAnswer, payload: env.Payload})
	case signaling.TypeCandidate:
		s, ok := r.candidateTarget(env.Sender)
		if !ok {
			r.log.Debug("late candidate for ended session dropped", "peer", env.Sender)
			return
		}
		s.post(event{kind: evRemoteCandidate, payload: env.Payload})
	case signaling.TypeText:
		if r.cfg.OnText != nil {
			r.cfg.OnText(env.Sender, env.Payload)
		}
	case signaling.TypeError:
		p, err := signaling.DecodeError(env.Payload)
		if err != nil {
			r.log.Warn("malformed relay error", "err", err)
			return
		}
		r.log.Warn("relay error", "peer", p.Peer, "reason", p.Reason)
		if p.Peer == "" {
			return
		}
		if s, ok := r.Lookup(p.Peer); ok {
			s.post(event{kind: evFailure, err: fmt.Errorf("%w: %s", ErrRelay, p.Reason)})
		}
	}
}

// RelayClosed fails every session; the control connection is gone so no
// negotiation can make progress.
func (r *Registry) RelayClosed(cause error) {
	for _, s := range r.snapshot() {
		s.post(event{kind: evFailure, err: fmt.Errorf("%w: %w", ErrRelay, cause)})
	}
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		s.Close()
	}
}

// Keys returns the peer keys with a live session.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
