package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/origin"
)

const (
	envVarListenAddr      = "PEERDROP_RELAY_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "PEERDROP_RELAY_LOG_FORMAT"
	envVarLogLevel        = "PEERDROP_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "PEERDROP_RELAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "PEERDROP_RELAY_MODE"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarMaxClients                    = "MAX_CLIENTS"
	envVarMaxGroupRequestsPerSecond     = "MAX_GROUP_REQUESTS_PER_SECOND"

	// Peer side.
	envVarRelayURL                   = "PEERDROP_RELAY_URL"
	envVarTransferChunkBytes         = "TRANSFER_CHUNK_BYTES"
	envVarTransferHighWaterMarkBytes = "TRANSFER_HIGH_WATER_MARK_BYTES"
	envVarTransferMaxFileBytes       = "TRANSFER_MAX_FILE_BYTES"
	envVarPeerMaxPendingEvents       = "PEER_MAX_PENDING_EVENTS"
	envVarPeerConnectTimeout         = "PEER_CONNECT_TIMEOUT"

	envVarWebRTCUDPPortMin             = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = "WEBRTC_UDP_PORT_MAX"
	envVarWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	envVarWebRTCUDPListenIP            = "WEBRTC_UDP_LISTEN_IP"
	envVarWebRTCSCTPMaxReceiveBuffer   = "WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultRelayURL        = "ws://127.0.0.1:8080/ws"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultMaxGroupRequestsPerSecond     = 10

	// MaxTransferChunkBytes is the largest binary chunk a peer may put on the
	// data channel. Receivers built against the same wire format assume it.
	MaxTransferChunkBytes             = 16 * 1024
	DefaultTransferChunkBytes         = MaxTransferChunkBytes
	DefaultTransferHighWaterMarkBytes = 64 * 1024
	DefaultPeerMaxPendingEvents       = 256
	DefaultPeerConnectTimeout         = 30 * time.Second

	DefaultWebRTCUDPListenIP = "0.0.0.0"
)

const (
	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
	flagWebRTCSCTPMaxReceiveBuffer   = "webrtc-sctp-max-receive-buffer-bytes"
)

// recommendedWebRTCUDPPortRangeSize keeps operators from configuring a range
// that runs out under a handful of concurrent peers.
const recommendedWebRTCUDPPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// Config covers both the relay server and the peer client. Each binary reads
// the fields relevant to it.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// MaxClients caps concurrent relay connections. <= 0 means unlimited.
	MaxClients                int
	MaxGroupRequestsPerSecond int

	// RelayURL is the relay WebSocket endpoint dialed by peers.
	RelayURL string

	TransferChunkBytes         int
	TransferHighWaterMarkBytes int
	// TransferMaxFileBytes bounds a single received file. 0 means unlimited.
	TransferMaxFileBytes int64

	PeerMaxPendingEvents int
	PeerConnectTimeout   time.Duration

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. nil leaves port
	// selection to the OS.
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCNAT1To1IPs are literal public IPs advertised when the peer sits
	// behind a static NAT.
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	// WebRTCUDPListenIP restricts ICE to one local interface. 0.0.0.0 binds all.
	WebRTCUDPListenIP net.IP

	// WebRTCSCTPMaxReceiveBufferBytes caps what one association may buffer
	// before data channel handlers run.
	WebRTCSCTPMaxReceiveBufferBytes int

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports a malformed ICE server configuration. Load does not
// fail on it so the relay can still serve /healthz and report the problem via
// /readyz.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	relayURL := envOrDefault(lookup, envVarRelayURL, DefaultRelayURL)
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	peerConnectTimeout, err := envDurationOrDefault(lookup, envVarPeerConnectTimeout, DefaultPeerConnectTimeout)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxClients, err := envIntOrDefault(lookup, envVarMaxClients, 0)
	if err != nil {
		return Config{}, err
	}
	maxGroupRequestsPerSecond, err := envIntOrDefault(lookup, envVarMaxGroupRequestsPerSecond, DefaultMaxGroupRequestsPerSecond)
	if err != nil {
		return Config{}, err
	}

	transferChunkBytes, err := envIntOrDefault(lookup, envVarTransferChunkBytes, DefaultTransferChunkBytes)
	if err != nil {
		return Config{}, err
	}
	transferHighWaterMarkBytes, err := envIntOrDefault(lookup, envVarTransferHighWaterMarkBytes, DefaultTransferHighWaterMarkBytes)
	if err != nil {
		return Config{}, err
	}
	var transferMaxFileBytes int64
	if raw, ok := lookup(envVarTransferMaxFileBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTransferMaxFileBytes, raw, err)
		}
		transferMaxFileBytes = n
	}
	peerMaxPendingEvents, err := envIntOrDefault(lookup, envVarPeerMaxPendingEvents, DefaultPeerMaxPendingEvents)
	if err != nil {
		return Config{}, err
	}
	webrtcSCTPMaxReceiveBufferBytes, err := envIntOrDefault(lookup, envVarWebRTCSCTPMaxReceiveBuffer, 0)
	if err != nil {
		return Config{}, err
	}

	// WebRTC network defaults (env values become flag defaults).
	var webrtcUDPPortMin uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	var webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}

	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	fs := flag.NewFlagSet("webrtc-peer-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&maxClients, "max-clients", maxClients, "Maximum concurrent relay clients (0 = unlimited; env "+envVarMaxClients+")")
	fs.IntVar(&maxGroupRequestsPerSecond, "max-group-requests-per-second", maxGroupRequestsPerSecond, "Max /group HTTP requests per second per remote address (env "+envVarMaxGroupRequestsPerSecond+")")

	fs.StringVar(&relayURL, "relay-url", relayURL, "Relay WebSocket URL dialed by peers (env "+envVarRelayURL+")")
	fs.IntVar(&transferChunkBytes, "transfer-chunk-bytes", transferChunkBytes, "File chunk size in bytes (env "+envVarTransferChunkBytes+")")
	fs.IntVar(&transferHighWaterMarkBytes, "transfer-high-water-mark-bytes", transferHighWaterMarkBytes, "Pause sending while this many bytes are buffered (env "+envVarTransferHighWaterMarkBytes+")")
	fs.Int64Var(&transferMaxFileBytes, "transfer-max-file-bytes", transferMaxFileBytes, "Largest file accepted from a peer (0 = unlimited; env "+envVarTransferMaxFileBytes+")")
	fs.IntVar(&peerMaxPendingEvents, "peer-max-pending-events", peerMaxPendingEvents, "Per-peer negotiation event backlog (env "+envVarPeerMaxPendingEvents+")")
	fs.DurationVar(&peerConnectTimeout, "peer-connect-timeout", peerConnectTimeout, "Max time to wait for a peer transport to open (env "+envVarPeerConnectTimeout+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")
	fs.IntVar(&webrtcSCTPMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBuffer, webrtcSCTPMaxReceiveBufferBytes, "Max SCTP receive buffer size in bytes (0 = auto; env "+envVarWebRTCSCTPMaxReceiveBuffer+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if maxGroupRequestsPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-group-requests-per-second must be > 0", envVarMaxGroupRequestsPerSecond)
	}

	if err := validateRelayURL(relayURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--relay-url %q: %w", envVarRelayURL, relayURL, err)
	}
	if transferChunkBytes <= 0 || transferChunkBytes > MaxTransferChunkBytes {
		return Config{}, fmt.Errorf("%s/--transfer-chunk-bytes must be in 1..%d", envVarTransferChunkBytes, MaxTransferChunkBytes)
	}
	if transferHighWaterMarkBytes < transferChunkBytes {
		return Config{}, fmt.Errorf("%s/--transfer-high-water-mark-bytes must be >= %s (%d)", envVarTransferHighWaterMarkBytes, envVarTransferChunkBytes, transferChunkBytes)
	}
	if transferMaxFileBytes < 0 {
		return Config{}, fmt.Errorf("%s/--transfer-max-file-bytes must be >= 0 (0 = unlimited)", envVarTransferMaxFileBytes)
	}
	if peerMaxPendingEvents <= 0 {
		return Config{}, fmt.Errorf("%s/--peer-max-pending-events must be > 0", envVarPeerMaxPendingEvents)
	}
	if peerConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--peer-connect-timeout must be > 0", envVarPeerConnectTimeout)
	}
	if webrtcSCTPMaxReceiveBufferBytes < 0 {
		return Config{}, fmt.Errorf("%s/--%s must be >= 0 (0 = auto)", envVarWebRTCSCTPMaxReceiveBuffer, flagWebRTCSCTPMaxReceiveBuffer)
	}
	sctpRecvBuf := webrtcSCTPMaxReceiveBufferBytes
	if sctpRecvBuf == 0 {
		sctpRecvBuf = defaultWebRTCSCTPMaxReceiveBufferBytes(transferHighWaterMarkBytes)
	}
	if sctpRecvBuf < minWebRTCSCTPReceiveBufferBytes(transferChunkBytes) {
		return Config{}, fmt.Errorf("%s/--%s must be >= %d", envVarWebRTCSCTPMaxReceiveBuffer, flagWebRTCSCTPMaxReceiveBuffer, minWebRTCSCTPReceiveBufferBytes(transferChunkBytes))
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s/%s and %s/%s must be set together (or both unset)",
				envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin,
				envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax,
			)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		if size := int(max) - int(min) + 1; size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q", envVarWebRTCUDPListenIP, "--"+flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	var webrtcNAT1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		ips, err := parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarWebRTCNAT1To1IPs, "--"+flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, err)
		}
		webrtcNAT1To1IPs = ips
	}
	webrtcNAT1To1CandidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarWebRTCNAT1To1IPCandidateType, "--"+flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, err)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/%s: %w", envVarAllowedOrigins, "--allowed-origins", err)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		MaxClients:                    maxClients,
		MaxGroupRequestsPerSecond:     maxGroupRequestsPerSecond,

		RelayURL:                   strings.TrimSpace(relayURL),
		TransferChunkBytes:         transferChunkBytes,
		TransferHighWaterMarkBytes: transferHighWaterMarkBytes,
		TransferMaxFileBytes:       transferMaxFileBytes,
		PeerMaxPendingEvents:       peerMaxPendingEvents,
		PeerConnectTimeout:         peerConnectTimeout,

		WebRTCUDPPortRange:              webrtcUDPPortRange,
		WebRTCUDPListenIP:               webrtcUDPListenIP,
		WebRTCNAT1To1IPs:                webrtcNAT1To1IPs,
		WebRTCNAT1To1IPCandidateType:    webrtcNAT1To1CandidateType,
		WebRTCSCTPMaxReceiveBufferBytes: sctpRecvBuf,
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func validateRelayURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return fmt.Errorf("expected ws:// or wss://")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}
	return out, nil
}

func parsePortString(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	return parsePortUint(uint(n))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port must be in 1..65535 (got %d)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("expected host or srflx")
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if net.ParseIP(part) == nil {
			return nil, fmt.Errorf("not an IP literal: %q", part)
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no IPs given")
	}
	return out, nil
}
