// Package config loads the audio source's settings. Environment variables
// provide defaults and command-line flags override them.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/media"
)

const (
	EnvListenAddr      = "AERO_WEBRTC_AUDIO_SOURCE_LISTEN_ADDR"
	EnvPublicBaseURL   = "AERO_WEBRTC_AUDIO_SOURCE_PUBLIC_BASE_URL"
	EnvLogFormat       = "AERO_WEBRTC_AUDIO_SOURCE_LOG_FORMAT"
	EnvLogLevel        = "AERO_WEBRTC_AUDIO_SOURCE_LOG_LEVEL"
	EnvLogFile         = "AERO_WEBRTC_AUDIO_SOURCE_LOG_FILE"
	EnvLogMaxSizeMB    = "AERO_WEBRTC_AUDIO_SOURCE_LOG_MAX_SIZE_MB"
	EnvLogMaxBackups   = "AERO_WEBRTC_AUDIO_SOURCE_LOG_MAX_BACKUPS"
	EnvLogMaxAgeDays   = "AERO_WEBRTC_AUDIO_SOURCE_LOG_MAX_AGE_DAYS"
	EnvLogCompress     = "AERO_WEBRTC_AUDIO_SOURCE_LOG_COMPRESS"
	EnvShutdownTimeout = "AERO_WEBRTC_AUDIO_SOURCE_SHUTDOWN_TIMEOUT"
	EnvMode            = "AERO_WEBRTC_AUDIO_SOURCE_MODE"

	// Negotiation and media.
	EnvNegotiationMode = "AERO_WEBRTC_AUDIO_SOURCE_NEGOTIATION_MODE"
	EnvCodec           = "AERO_WEBRTC_AUDIO_SOURCE_CODEC"
	EnvPayloadType     = "AERO_WEBRTC_AUDIO_SOURCE_PAYLOAD_TYPE"
	EnvToneHz          = "AERO_WEBRTC_AUDIO_SOURCE_TONE_HZ"
	EnvOpusBitrate     = "AERO_WEBRTC_AUDIO_SOURCE_OPUS_BITRATE"

	// Signaling WebSocket hardening.
	EnvSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	EnvSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	EnvMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	EnvMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	EnvSignalingSendQueueSize        = "SIGNALING_SEND_QUEUE_SIZE"

	EnvWebRTCUDPPortMin             = "WEBRTC_UDP_PORT_MIN"
	EnvWebRTCUDPPortMax             = "WEBRTC_UDP_PORT_MAX"
	EnvWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	EnvWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	EnvWebRTCUDPListenIP            = "WEBRTC_UDP_LISTEN_IP"

	DefaultListenAddr                         = "0.0.0.0:9001"
	DefaultShutdown                           = 15 * time.Second
	DefaultMode                          Mode = ModeDev
	DefaultNegotiationMode                    = NegotiationModeAsync
	DefaultCodec                              = media.CodecOpus
	DefaultPayloadType                        = media.DefaultPayloadType
	DefaultToneHz                             = media.DefaultToneHz
	DefaultOpusBitrate                        = media.DefaultOpusBitrate
	DefaultWebRTCUDPListenIP                  = "0.0.0.0"
	DefaultSignalingWSIdleTimeout             = 60 * time.Second
	DefaultSignalingWSPingInterval            = 20 * time.Second
	DefaultMaxSignalingMessageBytes           = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond      = 50
	DefaultSignalingSendQueueSize             = 64
	DefaultLogMaxSizeMB                       = 100
	DefaultLogMaxBackups                      = 3
	DefaultLogMaxAgeDays                      = 28
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// NegotiationMode selects what triggers offer creation.
type NegotiationMode string

const (
	NegotiationModeAsync NegotiationMode = "async"
	NegotiationModeEager NegotiationMode = "eager"
)

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	LogFormat       LogFormat
	LogLevel        slog.Level
	LogFile         LogFileConfig
	ShutdownTimeout time.Duration
	Mode            Mode

	NegotiationMode NegotiationMode
	Codec           media.Codec
	ToneHz          float64
	OpusBitrate     int

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueSize        int

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion
	// uses OS ephemeral port selection.
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCNAT1To1IPs are advertised for ICE when running behind NAT.
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	// WebRTCUDPListenIP restricts which local address ICE binds to. 0.0.0.0
	// keeps the library default.
	WebRTCUDPListenIP net.IP

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError is the ICE server configuration problem found at load time,
// if any. It fails readiness instead of startup.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

// rawSettings holds the string and numeric inputs that need validation after
// flags are parsed.
type rawSettings struct {
	mode, logFormat, logLevel string
	negotiationMode, codec    string
	payloadType               int
	ice                       iceSettings
	network                   networkFlags
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	env := &envReader{lookup: lookup}
	var (
		cfg Config
		raw rawSettings
	)

	fs := flag.NewFlagSet("aero-webrtc-audio-source", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.ListenAddr, "listen-addr", env.stringOr(EnvListenAddr, DefaultListenAddr), "HTTP and signaling WebSocket listen address (host:port)")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", env.stringOr(EnvPublicBaseURL, ""), "Public base URL (optional; used for logging)")
	fs.StringVar(&raw.mode, "mode", env.stringOr(EnvMode, string(DefaultMode)), "Run mode: dev or prod")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", env.durationOr(EnvShutdownTimeout, DefaultShutdown), "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&raw.logFormat, "log-format", env.stringOr(EnvLogFormat, ""), "Log format: text or json (default text in dev, json in prod)")
	fs.StringVar(&raw.logLevel, "log-level", env.stringOr(EnvLogLevel, ""), "Log level: debug, info, warn, error (default debug in dev, info in prod)")
	fs.StringVar(&cfg.LogFile.Path, "log-file", env.stringOr(EnvLogFile, ""), "Also write logs to this file with size-based rotation (env "+EnvLogFile+")")
	fs.IntVar(&cfg.LogFile.MaxSizeMB, "log-max-size-mb", env.intOr(EnvLogMaxSizeMB, DefaultLogMaxSizeMB), "Rotate the log file after this many megabytes (env "+EnvLogMaxSizeMB+")")
	fs.IntVar(&cfg.LogFile.MaxBackups, "log-max-backups", env.intOr(EnvLogMaxBackups, DefaultLogMaxBackups), "Rotated log files to keep (env "+EnvLogMaxBackups+")")
	fs.IntVar(&cfg.LogFile.MaxAgeDays, "log-max-age-days", env.intOr(EnvLogMaxAgeDays, DefaultLogMaxAgeDays), "Days to keep rotated log files (env "+EnvLogMaxAgeDays+")")
	fs.BoolVar(&cfg.LogFile.Compress, "log-compress", env.boolOr(EnvLogCompress, false), "Gzip rotated log files (env "+EnvLogCompress+")")

	fs.StringVar(&raw.negotiationMode, "negotiation-mode", env.stringOr(EnvNegotiationMode, string(DefaultNegotiationMode)), "Offer trigger: async (on negotiation-needed) or eager (at pipeline build) (env "+EnvNegotiationMode+")")
	fs.StringVar(&raw.codec, "codec", env.stringOr(EnvCodec, DefaultCodec), "Audio codec: opus or pcmu (env "+EnvCodec+")")
	fs.IntVar(&raw.payloadType, "payload-type", env.intOr(EnvPayloadType, DefaultPayloadType), "RTP payload type for opus, 96-127 (env "+EnvPayloadType+")")
	fs.Float64Var(&cfg.ToneHz, "tone-hz", env.floatOr(EnvToneHz, DefaultToneHz), "Test tone frequency in Hz (env "+EnvToneHz+")")
	fs.IntVar(&cfg.OpusBitrate, "opus-bitrate", env.intOr(EnvOpusBitrate, DefaultOpusBitrate), "Opus target bitrate in bits/sec (env "+EnvOpusBitrate+")")

	raw.ice.fromEnv(env)
	fs.StringVar(&raw.ice.serversJSON, "ice-servers-json", raw.ice.serversJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&raw.ice.stunURLs, "stun-urls", raw.ice.stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&raw.ice.turnURLs, "turn-urls", raw.ice.turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&raw.ice.turnUsername, "turn-username", raw.ice.turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&raw.ice.turnCredential, "turn-credential", raw.ice.turnCredential, "TURN credential (env "+envTurnCredential+")")

	raw.network.fromEnv(env)
	fs.UintVar(&raw.network.portMin, flagWebRTCUDPPortMin, raw.network.portMin, "Min UDP port for WebRTC ICE (0 = unset; env "+EnvWebRTCUDPPortMin+")")
	fs.UintVar(&raw.network.portMax, flagWebRTCUDPPortMax, raw.network.portMax, "Max UDP port for WebRTC ICE (0 = unset; env "+EnvWebRTCUDPPortMax+")")
	fs.StringVar(&raw.network.listenIP, flagWebRTCUDPListenIP, raw.network.listenIP, "Local listen IP for WebRTC ICE UDP sockets (env "+EnvWebRTCUDPListenIP+")")
	fs.StringVar(&raw.network.nat1To1IPs, flagWebRTCNAT1To1IPs, raw.network.nat1To1IPs, "Comma-separated public IPs to advertise for WebRTC ICE (env "+EnvWebRTCNAT1To1IPs+")")
	fs.StringVar(&raw.network.nat1To1Type, flagWebRTCNAT1To1IPCandidateType, raw.network.nat1To1Type, "Candidate type for NAT 1:1 IPs: host or srflx (env "+EnvWebRTCNAT1To1IPCandidateType+")")

	fs.DurationVar(&cfg.SignalingWSIdleTimeout, "signaling-ws-idle-timeout", env.durationOr(EnvSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout), "Close idle signaling WebSocket connections after this duration (env "+EnvSignalingWSIdleTimeout+")")
	fs.DurationVar(&cfg.SignalingWSPingInterval, "signaling-ws-ping-interval", env.durationOr(EnvSignalingWSPingInterval, DefaultSignalingWSPingInterval), "Ping interval on signaling WebSocket connections, below the idle timeout (env "+EnvSignalingWSPingInterval+")")
	fs.Int64Var(&cfg.MaxSignalingMessageBytes, "max-signaling-message-bytes", env.int64Or(EnvMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes), "Max inbound signaling WS message size in bytes (env "+EnvMaxSignalingMessageBytes+")")
	fs.IntVar(&cfg.MaxSignalingMessagesPerSecond, "max-signaling-messages-per-second", env.intOr(EnvMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond), "Max inbound signaling WS messages per second (env "+EnvMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&cfg.SignalingSendQueueSize, "signaling-send-queue-size", env.intOr(EnvSignalingSendQueueSize, DefaultSignalingSendQueueSize), "Outbound messages buffered per signaling client before it is dropped (env "+EnvSignalingSendQueueSize+")")

	if err := env.err(); err != nil {
		return Config{}, err
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := raw.resolve(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	// ICE problems are reported through readiness so the process still comes
	// up and says what is wrong.
	servers, err := raw.ice.servers()
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = servers
	}
	return cfg, nil
}

func (raw *rawSettings) resolve(cfg *Config) error {
	var err error
	cfg.Mode, err = choice("mode", raw.mode, map[string]Mode{
		"dev": ModeDev, "development": ModeDev,
		"prod": ModeProd, "production": ModeProd,
	}, "dev or prod")
	if err != nil {
		return err
	}
	cfg.LogFile.Path = strings.TrimSpace(cfg.LogFile.Path)
	if err := resolveLogging(cfg, raw.logFormat, raw.logLevel); err != nil {
		return err
	}

	cfg.NegotiationMode, err = choice("negotiation mode", raw.negotiationMode, map[string]NegotiationMode{
		"async": NegotiationModeAsync,
		"eager": NegotiationModeEager,
		"sync":  NegotiationModeEager,
	}, "async or eager")
	if err != nil {
		return fmt.Errorf("%s/--negotiation-mode: %w", EnvNegotiationMode, err)
	}

	if raw.payloadType < 0 || raw.payloadType > 127 {
		return fmt.Errorf("%s/--payload-type must be within 0-127; got %d", EnvPayloadType, raw.payloadType)
	}
	if cfg.Codec, err = media.LookupCodec(raw.codec, uint8(raw.payloadType)); err != nil {
		return fmt.Errorf("%s/--codec: %w", EnvCodec, err)
	}

	return raw.network.apply(cfg)
}

func (c *Config) validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("listen address must not be empty")
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be > 0")
	case c.ToneHz <= 0 || c.ToneHz >= float64(c.Codec.ClockRate)/2:
		return fmt.Errorf("%s/--tone-hz must be > 0 and below the %s Nyquist limit (%d Hz)", EnvToneHz, c.Codec.Name, c.Codec.ClockRate/2)
	case c.Codec.Name == media.CodecOpus && (c.OpusBitrate < 6000 || c.OpusBitrate > 510000):
		return fmt.Errorf("%s/--opus-bitrate must be within 6000-510000; got %d", EnvOpusBitrate, c.OpusBitrate)
	case c.SignalingWSIdleTimeout <= 0:
		return fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", EnvSignalingWSIdleTimeout)
	case c.SignalingWSPingInterval <= 0:
		return fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", EnvSignalingWSPingInterval)
	case c.SignalingWSPingInterval >= c.SignalingWSIdleTimeout:
		return fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", EnvSignalingWSPingInterval, EnvSignalingWSIdleTimeout)
	case c.MaxSignalingMessageBytes <= 0:
		return fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", EnvMaxSignalingMessageBytes)
	case c.MaxSignalingMessagesPerSecond <= 0:
		return fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", EnvMaxSignalingMessagesPerSecond)
	case c.SignalingSendQueueSize <= 0:
		return fmt.Errorf("%s/--signaling-send-queue-size must be > 0", EnvSignalingSendQueueSize)
	}
	return nil
}
