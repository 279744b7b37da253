package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
)

func startTestServer(t *testing.T, cfg config.Config) (baseURL string) {
	t.Helper()
	return startTestServerWithMetrics(t, cfg, nil)
}

func startTestServerWithMetrics(t *testing.T, cfg config.Config, m *metrics.Metrics) (baseURL string) {
	t.Helper()
	return startTestServerWith(t, cfg, m, nil)
}

// startTestServerWith lets setup register extra routes or readiness checks
// before serving.
func startTestServerWith(t *testing.T, cfg config.Config, m *metrics.Metrics, setup func(*Server)) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv := New(cfg, log, build, m)
	if setup != nil {
		setup(srv)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func TestHealthzReadyzVersion(t *testing.T) {
	cfg := config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}

	baseURL := startTestServer(t, cfg)

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
		},
	}

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/webrtc/ice")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
}

func TestICEEndpoint_RejectsCrossOrigin(t *testing.T) {
	cfg := config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
		ICEServers:      []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}

	baseURL := startTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/webrtc/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestReadyzFailsOnInvalidICEConfig(t *testing.T) {
	t.Setenv("PEERDROP_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Add(metrics.EnvelopeRouted, 3)

	baseURL := startTestServerWithMetrics(t, config.Config{Mode: config.ModeDev}, m)

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := `peerdrop_relay_events_total{event="` + metrics.EnvelopeRouted + `"} 3`
	if !strings.Contains(string(body), want) {
		t.Fatalf("body=%q, want line %q", body, want)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	baseURL := startTestServer(t, config.Config{Mode: config.ModeDev})

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	generated := resp.Header.Get("X-Request-ID")
	if _, err := uuid.Parse(generated); err != nil {
		t.Fatalf("X-Request-ID=%q is not a uuid: %v", generated, err)
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "client-supplied")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "client-supplied" {
		t.Fatalf("X-Request-ID=%q, want client-supplied", got)
	}
}

func TestICEEndpoint_AllowedOriginGetsCORSHeaders(t *testing.T) {
	cfg := config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"https://app.example.com"},
	}
	baseURL := startTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/webrtc/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	var healthy atomic.Bool
	baseURL := startTestServerWith(t, config.Config{Mode: config.ModeDev}, nil, func(s *Server) {
		s.AddReadinessCheck("signaling", func() error {
			if healthy.Load() {
				return nil
			}
			return errors.New("closed")
		})
	})

	resp, err := http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body struct {
		Ready   bool              `json:"ready"`
		Failing map[string]string `json:"failing"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable || body.Ready {
		t.Fatalf("status=%d ready=%v, want 503 not ready", resp.StatusCode, body.Ready)
	}
	if body.Failing["signaling"] != "closed" {
		t.Fatalf("failing=%v, want signaling=closed", body.Failing)
	}

	healthy.Store(true)
	resp, err = http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestSignalingUpgradeThroughMiddleware(t *testing.T) {
	sig := signaling.NewServer(signaling.Config{})
	t.Cleanup(sig.Close)
	baseURL := startTestServerWith(t, config.Config{Mode: config.ModeDev}, nil, func(s *Server) {
		sig.RegisterRoutes(s.Mux())
	})

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?key=alice"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("upgrade response missing X-Request-ID")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env signaling.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if env.Type != signaling.TypeWelcome || env.Target != "alice" {
		t.Fatalf("first envelope=%+v, want welcome for alice", env)
	}
}
