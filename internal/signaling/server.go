package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/ratelimit"
)

const (
	wsWriteWait = 1 * time.Second

	defaultMaxMessageBytes = 64 * 1024
	maxGroupBodyBytes      = 1 << 20

	closeReasonKeyInUse     = "key already connected"
	closeReasonTooMany      = "too many clients"
	closeReasonRateLimited  = "rate limit exceeded"
	closeReasonTextOnly     = "expected text message"
	closeReasonIdle         = "idle timeout"
	closeReasonShuttingDown = "server shutting down"
)

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Origins origin.Policy

	// MaxClients bounds concurrent connections. Zero means unlimited.
	MaxClients int
	// MaxMessageBytes bounds a single inbound frame.
	MaxMessageBytes int64
	// MaxMessagesPerSecond is the per-connection inbound rate. Zero disables it.
	MaxMessagesPerSecond int
	// IdleTimeout closes a connection that sends nothing (not even a pong)
	// for this long. Zero disables it.
	IdleTimeout time.Duration
	// PingInterval must be shorter than IdleTimeout. Zero disables pings.
	PingInterval time.Duration
	// GroupRequestsPerSecond limits the /group routes per remote host.
	GroupRequestsPerSecond int
}

// Server is the relay's HTTP surface: the /ws control socket plus the group
// directory routes.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	hub    *Hub
	groups *Groups

	groupLimiter *ratelimit.Keyed
	upgrader     websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	groups := NewGroups()
	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		groups:  groups,
		hub:     NewHub(log, cfg.Metrics, groups, cfg.MaxClients),
		conns:   make(map[*wsConn]struct{}),
	}
	if cfg.GroupRequestsPerSecond > 0 {
		rate := int64(cfg.GroupRequestsPerSecond)
		s.groupLimiter = ratelimit.NewKeyed(nil, rate, rate, 0)
	}
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		_, ok := cfg.Origins.Check(r)
		return ok
	}
	return s
}

func (s *Server) Hub() *Hub       { return s.hub }
func (s *Server) Groups() *Groups { return s.groups }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /group", s.limitGroups(s.getGroup))
	mux.HandleFunc("POST /group", s.limitGroups(s.createGroup))
	mux.HandleFunc("POST /group/join", s.limitGroups(s.joinGroup))
}

// Close sends a going-away close frame to every connected client.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, closeReasonShuttingDown)
	}
}

// Ready reports ErrShuttingDown once Close has been called.
func (s *Server) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	return nil
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func requestedKey(r *http.Request) string {
	q := r.URL.Query()
	if k := strings.TrimSpace(q.Get("key")); k != "" {
		return k
	}
	return strings.TrimSpace(q.Get("id"))
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	key := requestedKey(r)
	if key == "" {
		generated, err := NewKey()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		key = generated
	} else if !ValidKey(key) {
		s.metrics.Inc(metrics.ClientRejected)
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	defer conn.Close()

	if !s.track(c) {
		c.close(websocket.CloseGoingAway, closeReasonShuttingDown)
		return
	}
	defer s.untrack(c)

	if err := s.hub.Join(key, c); err != nil {
		switch {
		case errors.Is(err, ErrKeyInUse):
			c.close(websocket.ClosePolicyViolation, closeReasonKeyInUse)
		case errors.Is(err, ErrTooManyClients):
			c.close(websocket.CloseTryAgainLater, closeReasonTooMany)
		default:
			c.close(websocket.CloseInternalServerErr, "internal error")
		}
		s.log.Info("ws_rejected", "peer", key, "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	defer s.hub.Leave(key, c)

	s.readLoop(key, c)
}

func (s *Server) readLoop(key string, c *wsConn) {
	conn := c.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	idle := s.cfg.IdleTimeout
	extend := func() {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	if s.cfg.PingInterval > 0 {
		go c.pingLoop(s.cfg.PingInterval, done)
	}

	var limiter *ratelimit.TokenBucket
	if s.cfg.MaxMessagesPerSecond > 0 {
		rate := int64(s.cfg.MaxMessagesPerSecond)
		limiter = ratelimit.NewTokenBucket(nil, rate, rate)
	}

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				c.close(websocket.CloseNormalClosure, closeReasonIdle)
			}
			return
		}
		extend()

		if limiter != nil && !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			c.close(websocket.ClosePolicyViolation, closeReasonRateLimited)
			return
		}
		if msgType != websocket.TextMessage {
			c.close(websocket.CloseUnsupportedData, closeReasonTextOnly)
			return
		}

		env, err := ParseEnvelope(msg)
		if err != nil {
			s.metrics.Inc(metrics.EnvelopeInvalid)
			s.log.Debug("invalid envelope", "peer", key, "err", err)
			_ = c.Send(Envelope{
				Type:    TypeError,
				Sender:  ServerSender,
				Target:  key,
				Payload: EncodeError("", err.Error()),
			})
			continue
		}
		s.hub.Route(key, env)
	}
}

// wsConn serializes writes to one gorilla connection.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsConn) Send(env Envelope) error {
	b, err := env.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	_ = c.conn.Close()
}

func (c *wsConn) pingLoop(interval time.Duration, done <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Group routes.

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

func (s *Server) limitGroups(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.cfg.Origins.Check(r); !ok {
			writeJSONError(w, http.StatusForbidden, "forbidden", "origin not allowed")
			return
		}
		if s.groupLimiter != nil {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !s.groupLimiter.Allow(host) {
				s.metrics.Inc(metrics.DropReasonRateLimited)
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("group"))
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "missing group")
		return
	}
	grp, ok := s.groups.Get(key)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", "group not found")
		return
	}
	writeJSON(w, http.StatusOK, grp)
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req Group
	r.Body = http.MaxBytesReader(w, r.Body, maxGroupBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		return
	}
	if err := decodeStrictJSON(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}

	if req.Key == "" {
		req.Key, err = NewKey()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "failed to generate key")
			return
		}
	} else if !ValidKey(req.Key) {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid group key")
		return
	}
	if req.Name == "" {
		req.Name = petname.Generate(2, " ")
	}
	for _, m := range req.Members {
		if !ValidKey(m) {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid member key")
			return
		}
	}

	grp, err := s.groups.Create(req.Key, req.Name, req.Members)
	if errors.Is(err, ErrGroupExists) {
		writeJSONError(w, http.StatusConflict, "conflict", "group already exists")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.metrics.Inc(metrics.GroupCreated)
	s.log.Info("group created", "group", grp.Key, "members", len(grp.Members))
	writeJSON(w, http.StatusCreated, grp)
}

type joinRequest struct {
	UserKey  string `json:"userKey"`
	GroupKey string `json:"groupKey"`
}

func (s *Server) joinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxGroupBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		return
	}
	if err := decodeStrictJSON(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if !ValidKey(req.UserKey) || req.GroupKey == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "userKey and groupKey are required")
		return
	}

	grp, err := s.groups.Join(req.GroupKey, req.UserKey)
	if errors.Is(err, ErrGroupNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "group not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.metrics.Inc(metrics.GroupJoined)
	s.hub.AssignGroup(req.UserKey, req.GroupKey)
	writeJSON(w, http.StatusOK, grp)
}
