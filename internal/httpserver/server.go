package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/metrics"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// ReadinessCheck returns nil when the named dependency can serve traffic.
type ReadinessCheck func() error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

type Server struct {
	log     *slog.Logger
	cfg     config.Config
	build   BuildInfo
	metrics *metrics.Metrics

	serving atomic.Bool

	checksMu sync.RWMutex
	checks   []namedCheck

	mux *http.ServeMux
	srv *http.Server
}

// New builds the relay's HTTP front. With a nil m, /metrics answers 500.
func New(cfg config.Config, logger *slog.Logger, build BuildInfo, m *metrics.Metrics) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		metrics: m,
		mux:     http.NewServeMux(),
	}

	s.AddReadinessCheck("ice_config", cfg.ICEConfigError)
	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// The signaling WebSocket is long-lived; its deadlines are managed per
		// connection.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// AddReadinessCheck makes /readyz fail while check returns an error.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checksMu.Lock()
	s.checks = append(s.checks, namedCheck{name: name, check: check})
	s.checksMu.Unlock()
}

// failingChecks maps each failing check to its error text.
func (s *Server) failingChecks() map[string]string {
	s.checksMu.RLock()
	defer s.checksMu.RUnlock()
	var failing map[string]string
	for _, c := range s.checks {
		if err := c.check(); err != nil {
			if failing == nil {
				failing = make(map[string]string)
			}
			failing[c.name] = err.Error()
		}
	}
	return failing
}

func (s *Server) Serve(l net.Listener) error {
	s.serving.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serving.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.serving.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.serving.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if failing := s.failingChecks(); len(failing) > 0 {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "failing": failing})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.metrics))

	// Browser peers fetch their ICE servers here before creating a
	// PeerConnection.
	s.mux.HandleFunc("GET /webrtc/ice", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"iceServers": s.cfg.ICEServers})
	}))
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter records the response status and size. It passes Hijack through
// so the signaling WebSocket can upgrade behind the logging middleware.
type statusWriter struct {
	http.ResponseWriter
	status   int
	bytes    int64
	hijacked bool
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpserver: response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.hijacked = true
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			// Health checks hit these every few seconds.
			level := slog.LevelInfo
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"upgraded", sw.hijacked,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
