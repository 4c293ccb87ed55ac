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

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/readiness"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

const audioStreamID = "aero-audio"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	mode, err := coordinator.ParseMode(string(cfg.NegotiationMode))
	if err != nil {
		logger.Error("invalid negotiation mode", "err", err)
		return 2
	}

	// Construct the WebRTC API early so misconfigurations are caught on startup.
	api, err := webrtcpeer.NewAPI(cfg, cfg.Codec, webrtcpeer.APIOptions{
		LoggerFactory: webrtcpeer.NewLoggerFactory(logger),
	})
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		return 2
	}

	logger.Info("starting aero-webrtc-audio-source",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"negotiation_mode", mode,
		"codec", cfg.Codec.Name,
		"payload_type", cfg.Codec.PayloadType,
		"tone_hz", cfg.ToneHz,
		"ice_servers", len(cfg.ICEServers),
	)
	logStartupWarnings(logger, cfg)

	m := metrics.New()
	track, err := media.NewSinkTrack(cfg.Codec, audioStreamID)
	if err != nil {
		logger.Error("failed to create audio track", "err", err)
		return 2
	}
	pipeline, err := media.NewPipeline(media.PipelineConfig{
		Codec:   cfg.Codec,
		ToneHz:  cfg.ToneHz,
		Bitrate: cfg.OpusBitrate,
		Logger:  logger,
		Metrics: m,
	}, track)
	if err != nil {
		logger.Error("failed to build media pipeline", "err", err)
		return 2
	}

	endpoint, err := webrtcpeer.NewEndpoint(api, webrtcpeer.EndpointConfig{
		ICEServers: cfg.ICEServers,
		Logger:     logger,
		Metrics:    m,
	}, track)
	if err != nil {
		logger.Error("failed to create peer connection", "err", err)
		return 1
	}
	defer endpoint.Close()

	ready := readiness.New()
	coord, err := coordinator.New(coordinator.Config{
		Mode:      mode,
		Peer:      endpoint,
		Readiness: ready,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		logger.Error("failed to create negotiation coordinator", "err", err)
		return 2
	}

	sig := signaling.NewServer(signaling.Config{
		Events:            coord,
		Logger:            logger.With("component", "signaling"),
		Metrics:           m,
		IdleTimeout:       cfg.SignalingWSIdleTimeout,
		PingInterval:      cfg.SignalingWSPingInterval,
		MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
		MessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueSize:     cfg.SignalingSendQueueSize,
	})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Options{
		Status:    coord,
		Signaling: sig,
		Metrics:   m,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		return 1
	}

	if err := endpoint.Start(coord); err != nil {
		logger.Error("failed to start webrtc endpoint", "err", err)
		_ = ln.Close()
		return 1
	}
	// The transceiver now carries the sink; in eager mode this creates the offer.
	coord.PipelineBuilt()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		return pipeline.Run(gctx, ready.Done())
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
			_ = srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, coordinator.ErrSessionFailed) {
			logger.Error("negotiation session failed; exiting so the process can be restarted", "err", err)
		} else {
			logger.Error("exited with error", "err", err)
		}
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info, which
	// is populated for `go build` from a VCS checkout.
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
