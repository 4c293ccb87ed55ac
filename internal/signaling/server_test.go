package signaling

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
)

type clientMessage struct {
	id   string
	data []byte
}

type recordingEvents struct {
	connected    chan Client
	messages     chan clientMessage
	disconnected chan string
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{
		connected:    make(chan Client, 16),
		messages:     make(chan clientMessage, 256),
		disconnected: make(chan string, 16),
	}
}

func (e *recordingEvents) ClientConnected(c Client) { e.connected <- c }
func (e *recordingEvents) ClientMessage(id string, data []byte) {
	e.messages <- clientMessage{id: id, data: data}
}
func (e *recordingEvents) ClientDisconnected(id string) { e.disconnected <- id }

func (e *recordingEvents) waitConnected(t *testing.T) Client {
	t.Helper()
	select {
	case c := <-e.connected:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for ClientConnected")
		return nil
	}
}

func (e *recordingEvents) waitMessage(t *testing.T) clientMessage {
	t.Helper()
	select {
	case m := <-e.messages:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for ClientMessage")
		return clientMessage{}
	}
}

func (e *recordingEvents) waitDisconnected(t *testing.T) string {
	t.Helper()
	select {
	case id := <-e.disconnected:
		return id
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for ClientDisconnected")
		return ""
	}
}

func dialServer(t *testing.T, cfg Config) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(NewServer(cfg))
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial: %v", err)
	}
	return c, func() {
		_ = c.Close()
		ts.Close()
	}
}

func TestServer_MessagesDeliveredInOrderAndSendReachesClient(t *testing.T) {
	ev := newRecordingEvents()
	c, cleanup := dialServer(t, Config{Events: ev})
	defer cleanup()

	client := ev.waitConnected(t)

	for _, msg := range []string{`{"type":"answer","sdp":"v=0"}`, `{"ice":{"candidate":"a","sdpMLineIndex":0}}`, `not json`} {
		if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, want := range []string{`{"type":"answer","sdp":"v=0"}`, `{"ice":{"candidate":"a","sdpMLineIndex":0}}`, `not json`} {
		got := ev.waitMessage(t)
		if got.id != client.ID() {
			t.Fatalf("message id=%q, want %q", got.id, client.ID())
		}
		if string(got.data) != want {
			t.Fatalf("message=%q, want %q", got.data, want)
		}
	}

	if err := client.Send([]byte(`{"type":"offer","sdp":"v=0"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("received %q", data)
	}
}

func TestServer_ClientCloseReportsDisconnect(t *testing.T) {
	ev := newRecordingEvents()
	c, cleanup := dialServer(t, Config{Events: ev})
	defer cleanup()

	client := ev.waitConnected(t)
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	if got := ev.waitDisconnected(t); got != client.ID() {
		t.Fatalf("disconnected=%q, want %q", got, client.ID())
	}
	if err := client.Send([]byte("x")); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("Send after disconnect err=%v, want %v", err, ErrClientClosed)
	}
}

func TestServer_OversizedMessageCloses(t *testing.T) {
	m := metrics.New()
	ev := newRecordingEvents()
	c, cleanup := dialServer(t, Config{Events: ev, Metrics: m, MaxMessageBytes: 16})
	defer cleanup()
	ev.waitConnected(t)

	if err := c.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("err=%v, want close %d", err, websocket.CloseMessageTooBig)
	}
	ev.waitDisconnected(t)
	if got := m.Get(metrics.ClientMessageTooLarge); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.ClientMessageTooLarge, got)
	}
}

func TestServer_RateLimitCloses(t *testing.T) {
	m := metrics.New()
	ev := newRecordingEvents()
	c, cleanup := dialServer(t, Config{Events: ev, Metrics: m, MessagesPerSecond: 2})
	defer cleanup()
	ev.waitConnected(t)

	for i := 0; i < 5; i++ {
		if err := c.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
			break
		}
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v, want close %d", err, websocket.ClosePolicyViolation)
	}
	if got := m.Get(metrics.ClientRateLimited); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.ClientRateLimited, got)
	}
}

func TestWSClient_SendQueueFull(t *testing.T) {
	c := &wsClient{
		id:   "c1",
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("second Send err=%v, want %v", err, ErrSendQueueFull)
	}
	if c.closeCode != websocket.CloseTryAgainLater {
		t.Fatalf("closeCode=%d, want %d", c.closeCode, websocket.CloseTryAgainLater)
	}
	if err := c.Send([]byte("c")); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("Send after overflow err=%v, want %v", err, ErrClientClosed)
	}
}
