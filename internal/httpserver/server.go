// Package httpserver serves the operational endpoints of the audio source and
// mounts the signaling WebSocket behind the shared middleware stack.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
)

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// StatusSource reports the negotiation session state for /status and /readyz.
type StatusSource interface {
	Status() coordinator.Status
	Failed() bool
}

type Options struct {
	Status    StatusSource
	Signaling http.Handler
	Metrics   *metrics.Metrics
}

type Server struct {
	cfg   config.Config
	log   *slog.Logger
	build BuildInfo
	opts  Options

	serving atomic.Bool
	http    *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, opts Options) *Server {
	s := &Server{cfg: cfg, log: logger, build: build, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /webrtc/ice", s.handleICE)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", metrics.PrometheusHandler(opts.Metrics))
	}
	if opts.Signaling != nil {
		// {$} pins the root pattern to "/" itself so unknown paths still 404.
		mux.Handle("GET /{$}", opts.Signaling)
		mux.Handle("GET /ws", opts.Signaling)
	}

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecovery(logger, withRequestID(withAccessLog(logger, mux))),
		ReadHeaderTimeout: 5 * time.Second,
		// No read/write timeouts: signaling sockets are long-lived and run
		// their own idle deadline.
	}
	return s
}

func (s *Server) Serve(l net.Listener) error {
	s.serving.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.http.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serving.Store(false)
	return s.http.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.serving.Store(false)
	return s.http.Close()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if reason := s.notReadyReason(); reason != "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) notReadyReason() string {
	switch {
	case !s.serving.Load():
		return "not serving"
	case s.cfg.ICEConfigError() != nil:
		return s.cfg.ICEConfigError().Error()
	case s.opts.Status != nil && s.opts.Status.Failed():
		return "negotiation session failed"
	}
	return ""
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.build)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "session not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Status.Status())
}

// handleICE hands the configured ICE servers to the browser in the
// RTCIceServer dictionary shape.
func (s *Server) handleICE(w http.ResponseWriter, _ *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"iceServers": config.ClientICEServers(s.cfg.ICEServers)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
