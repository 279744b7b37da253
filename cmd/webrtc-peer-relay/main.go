package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A missing .env is normal; real environment variables always win.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting webrtc-peer-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_clients", cfg.MaxClients,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"ice_servers", len(cfg.ICEServers),
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	m := metrics.New()
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m)
	sig := signaling.NewServer(signalingConfig(cfg, logger, m))
	sig.RegisterRoutes(srv.Mux())
	srv.AddReadinessCheck("signaling", sig.Ready)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSockets are not tracked by http.Server; close them first so
	// clients see 1001 instead of a dropped TCP connection.
	sig.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func signalingConfig(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) signaling.Config {
	return signaling.Config{
		Logger:                 logger,
		Metrics:                m,
		Origins:                origin.Policy{Allowed: cfg.AllowedOrigins},
		MaxClients:             cfg.MaxClients,
		MaxMessageBytes:        cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond:   cfg.MaxSignalingMessagesPerSecond,
		IdleTimeout:            cfg.SignalingWSIdleTimeout,
		PingInterval:           cfg.SignalingWSPingInterval,
		GroupRequestsPerSecond: cfg.MaxGroupRequestsPerSecond,
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info for
	// `go run` / dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
