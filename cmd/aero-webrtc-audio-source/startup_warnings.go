package main

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: the signaling WebSocket is unauthenticated and accepts any origin; restrict access at the network edge",
			"warning_code", "signaling_unauthenticated",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.ICEServers) == 0 && len(cfg.WebRTCNAT1To1IPs) == 0 {
		logger.Warn("startup warning: no ICE servers and no NAT 1:1 IPs configured while --mode=prod (only host candidates will be offered)",
			"warning_code", "no_ice_servers_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.LogLevel <= slog.LevelDebug {
		logger.Warn("startup warning: debug logging while --mode=prod logs ICE candidates and session descriptions",
			"warning_code", "debug_logging_in_prod",
			"log_level", cfg.LogLevel.String(),
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.SignalingWSIdleTimeout > 10*time.Minute {
		logger.Warn("startup security warning: SIGNALING_WS_IDLE_TIMEOUT is very large (idle signaling sockets are held open longer)",
			"warning_code", "signaling_ws_idle_timeout_large",
			"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
			"mode", cfg.Mode,
		)
	}
}
