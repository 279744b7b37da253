package main

import (
	"log/slog"
	"slices"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-drop/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any web page can open a signaling socket)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxClients <= 0 {
		logger.Warn("startup security warning: MAX_CLIENTS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_clients_unlimited_in_prod",
			"max_clients", cfg.MaxClients,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND disables inbound rate limiting while --mode=prod",
			"warning_code", "signaling_rate_limit_disabled_in_prod",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.SignalingWSIdleTimeout > 10*time.Minute || cfg.SignalingWSIdleTimeout <= 0 {
		logger.Warn("startup security warning: SIGNALING_WS_IDLE_TIMEOUT is disabled or very large (dead sockets hold their key)",
			"warning_code", "signaling_idle_timeout_large",
			"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will report not ready",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}
}
