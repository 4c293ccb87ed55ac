package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/session"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/signaling"
)

type fakeStatus struct {
	failed atomic.Bool
}

func (f *fakeStatus) Status() coordinator.Status {
	phase := session.PhaseOfferSent.String()
	if f.failed.Load() {
		phase = session.PhaseFailed.String()
	}
	return coordinator.Status{
		Mode:    coordinator.ModeAsync,
		Session: session.Snapshot{Phase: phase, HasLocalDescription: true},
		Clients: 1,
	}
}

func (f *fakeStatus) Failed() bool { return f.failed.Load() }

type connectEvents struct {
	connected chan signaling.Client
}

func (e *connectEvents) ClientConnected(c signaling.Client) { e.connected <- c }
func (e *connectEvents) ClientMessage(string, []byte)       {}
func (e *connectEvents) ClientDisconnected(string)          {}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func startTestServer(t *testing.T, cfg config.Config, opts Options) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv := New(cfg, log, build, opts)

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

func getJSON(t *testing.T, url string, wantStatus int, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s status=%d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{})

	t.Run("healthz", func(t *testing.T) {
		var body map[string]any
		resp := getJSON(t, baseURL+"/healthz", http.StatusOK, &body)
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("missing X-Request-ID response header")
		}
	})

	t.Run("readyz", func(t *testing.T) {
		getJSON(t, baseURL+"/readyz", http.StatusOK, nil)
	})

	t.Run("version", func(t *testing.T) {
		var got BuildInfo
		getJSON(t, baseURL+"/version", http.StatusOK, &got)
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestRequestIDIsPropagated(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{})

	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID=%q, want req-123", got)
	}
}

func TestStatusAndReadyzFollowSession(t *testing.T) {
	status := &fakeStatus{}
	baseURL := startTestServer(t, testConfig(), Options{Status: status})

	var st coordinator.Status
	getJSON(t, baseURL+"/status", http.StatusOK, &st)
	if st.Session.Phase != session.PhaseOfferSent.String() || st.Clients != 1 {
		t.Fatalf("status=%+v", st)
	}
	getJSON(t, baseURL+"/readyz", http.StatusOK, nil)

	status.failed.Store(true)
	var body map[string]any
	getJSON(t, baseURL+"/readyz", http.StatusServiceUnavailable, &body)
	if body["ready"] != false {
		t.Fatalf("body=%v, want ready=false", body)
	}
}

func TestStatusWithoutSessionIsUnavailable(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{})
	getJSON(t, baseURL+"/status", http.StatusServiceUnavailable, nil)
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}

	baseURL := startTestServer(t, cfg, Options{})

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	getJSON(t, baseURL+"/webrtc/ice", http.StatusOK, &payload)
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
	if _, ok := payload.ICEServers[0]["username"]; ok {
		t.Fatalf("unexpected username on STUN server: %#v", payload.ICEServers[0])
	}
	if payload.ICEServers[1]["credential"] != "pass" {
		t.Fatalf("TURN credential=%v, want pass", payload.ICEServers[1]["credential"])
	}
}

func TestReadyzFailsOnInvalidICEConfig(t *testing.T) {
	t.Setenv("AERO_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	baseURL := startTestServer(t, cfg, Options{})
	getJSON(t, baseURL+"/readyz", http.StatusServiceUnavailable, nil)
	getJSON(t, baseURL+"/webrtc/ice", http.StatusServiceUnavailable, nil)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.OfferCreated)
	baseURL := startTestServer(t, testConfig(), Options{Metrics: m})

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `aero_webrtc_audio_source_events_total{event="offer_created"} 1`) {
		t.Fatalf("metrics body missing offer counter:\n%s", body)
	}
}

func TestSignalingUpgradeThroughMiddleware(t *testing.T) {
	events := &connectEvents{connected: make(chan signaling.Client, 4)}
	sig := signaling.NewServer(signaling.Config{
		Events: events,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	baseURL := startTestServer(t, testConfig(), Options{Signaling: sig})
	wsBase := "ws" + strings.TrimPrefix(baseURL, "http")

	for _, path := range []string{"/", "/ws"} {
		c, _, err := websocket.DefaultDialer.Dial(wsBase+path, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", path, err)
		}
		select {
		case <-events.connected:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: timeout waiting for ClientConnected", path)
		}
		_ = c.Close()
	}

	resp, err := http.Get(baseURL + "/not-a-route")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status=%d, want 404", resp.StatusCode)
	}
}
