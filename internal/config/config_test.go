package config

import (
	"net"
	"strings"
	"testing"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Fatalf("RelayURL=%q, want %q", cfg.RelayURL, DefaultRelayURL)
	}
	if cfg.TransferChunkBytes != 16384 {
		t.Fatalf("TransferChunkBytes=%d, want 16384", cfg.TransferChunkBytes)
	}
	if cfg.TransferHighWaterMarkBytes != 65536 {
		t.Fatalf("TransferHighWaterMarkBytes=%d, want 65536", cfg.TransferHighWaterMarkBytes)
	}
	if cfg.TransferMaxFileBytes != 0 {
		t.Fatalf("TransferMaxFileBytes=%d, want 0", cfg.TransferMaxFileBytes)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if !cfg.WebRTCUDPListenIP.Equal(net.IPv4zero) {
		t.Fatalf("WebRTCUDPListenIP=%v, want 0.0.0.0", cfg.WebRTCUDPListenIP)
	}
	if cfg.WebRTCSCTPMaxReceiveBufferBytes != DefaultWebRTCSCTPMaxReceiveBufferBytes {
		t.Fatalf("WebRTCSCTPMaxReceiveBufferBytes=%d, want %d", cfg.WebRTCSCTPMaxReceiveBufferBytes, DefaultWebRTCSCTPMaxReceiveBufferBytes)
	}
	if cfg.SignalingWSPingInterval >= cfg.SignalingWSIdleTimeout {
		t.Fatalf("ping interval %v must be < idle timeout %v", cfg.SignalingWSPingInterval, cfg.SignalingWSIdleTimeout)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(lookupMap(nil), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel.String() != "INFO" {
		t.Fatalf("logLevel=%v, want INFO", cfg.LogLevel)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "prod"}), []string{"--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestTransferChunkBytes_Bounds(t *testing.T) {
	for _, raw := range []string{"0", "16385", "-1"} {
		_, err := load(lookupMap(map[string]string{envVarTransferChunkBytes: raw}), nil)
		if err == nil {
			t.Fatalf("%s=%s: expected error", envVarTransferChunkBytes, raw)
		}
	}

	cfg, err := load(lookupMap(map[string]string{envVarTransferChunkBytes: "4096"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TransferChunkBytes != 4096 {
		t.Fatalf("TransferChunkBytes=%d, want 4096", cfg.TransferChunkBytes)
	}
}

func TestTransferHighWaterMark_MustCoverChunk(t *testing.T) {
	_, err := load(lookupMap(nil), []string{"--transfer-high-water-mark-bytes", "1024"})
	if err == nil || !strings.Contains(err.Error(), envVarTransferHighWaterMarkBytes) {
		t.Fatalf("err=%v, want high-water mark error", err)
	}
}

func TestSignalingPingMustBeBelowIdle(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarSignalingWSIdleTimeout:  "5s",
		envVarSignalingWSPingInterval: "5s",
	}), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRelayURL_Validation(t *testing.T) {
	for _, raw := range []string{"http://relay/ws", "ws://", "::"} {
		if _, err := load(lookupMap(nil), []string{"--relay-url", raw}); err == nil {
			t.Fatalf("relay-url=%q: expected error", raw)
		}
	}
	cfg, err := load(lookupMap(map[string]string{envVarRelayURL: "wss://relay.example.com/ws"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayURL != "wss://relay.example.com/ws" {
		t.Fatalf("RelayURL=%q", cfg.RelayURL)
	}
}

func TestWebRTCUDPPortRange_RequiresBoth(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarWebRTCUDPPortMin: "50000"}), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWebRTCUDPPortRange_TooSmall(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarWebRTCUDPPortMin: "50000",
		envVarWebRTCUDPPortMax: "50010",
	}), nil)
	if err == nil || !strings.Contains(err.Error(), "too small") {
		t.Fatalf("err=%v, want too small", err)
	}
}

func TestWebRTCUDPPortRange_OK(t *testing.T) {
	cfg, err := load(lookupMap(nil), []string{"--webrtc-udp-port-min", "50000", "--webrtc-udp-port-max", "50199"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil || cfg.WebRTCUDPPortRange.Min != 50000 || cfg.WebRTCUDPPortRange.Max != 50199 {
		t.Fatalf("WebRTCUDPPortRange=%+v", cfg.WebRTCUDPPortRange)
	}
}

func TestWebRTCNAT1To1IPsAndCandidateType(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarWebRTCNAT1To1IPs:             "203.0.113.1, 203.0.113.2",
		envVarWebRTCNAT1To1IPCandidateType: "srflx",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.WebRTCNAT1To1IPs) != 2 || cfg.WebRTCNAT1To1IPs[1] != "203.0.113.2" {
		t.Fatalf("WebRTCNAT1To1IPs=%v", cfg.WebRTCNAT1To1IPs)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeSrflx {
		t.Fatalf("candidate type=%q, want srflx", cfg.WebRTCNAT1To1IPCandidateType)
	}

	if _, err := load(lookupMap(map[string]string{envVarWebRTCNAT1To1IPs: "example.com"}), nil); err == nil {
		t.Fatalf("expected error for hostname")
	}
	if _, err := load(lookupMap(map[string]string{envVarWebRTCNAT1To1IPCandidateType: "relay"}), nil); err == nil {
		t.Fatalf("expected error for candidate type")
	}
}

func TestWebRTCSCTPMaxReceiveBuffer_TooSmall(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarWebRTCSCTPMaxReceiveBuffer: "1024"}), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseAllowedOrigins_NormalizesAndValidates(t *testing.T) {
	got, err := parseAllowedOrigins(" HTTP://LOCALHOST:3000 ,*")
	if err != nil {
		t.Fatalf("parseAllowedOrigins: %v", err)
	}
	if len(got) != 2 || got[0] != "http://localhost:3000" || got[1] != "*" {
		t.Fatalf("got %v", got)
	}
	if _, err := parseAllowedOrigins("https://example.com/path"); err == nil {
		t.Fatalf("expected error for origin with path")
	}
}
