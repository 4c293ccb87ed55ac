package signaling

import (
	"io"
	"log/slog"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
)

type fakeClient struct {
	id      string
	sendErr error
	sent    [][]byte
	closed  int
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeClient) Close() { c.closed++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	a, b := &fakeClient{id: "a"}, &fakeClient{id: "b"}
	h.Register(a)
	h.Register(b)

	if n := h.Broadcast([]byte("hello")); n != 2 {
		t.Fatalf("delivered=%d, want 2", n)
	}
	for _, c := range []*fakeClient{a, b} {
		if len(c.sent) != 1 || string(c.sent[0]) != "hello" {
			t.Fatalf("client %s sent=%q", c.id, c.sent)
		}
	}
}

func TestHub_FailingClientDroppedOthersUnaffected(t *testing.T) {
	m := metrics.New()
	h := NewHub(discardLogger(), m)
	good := &fakeClient{id: "good"}
	bad := &fakeClient{id: "bad", sendErr: ErrSendQueueFull}
	h.Register(good)
	h.Register(bad)

	if n := h.Broadcast([]byte("x")); n != 1 {
		t.Fatalf("delivered=%d, want 1", n)
	}
	if h.Has("bad") {
		t.Fatalf("failing client still registered")
	}
	if bad.closed != 1 {
		t.Fatalf("failing client closed %d times, want 1", bad.closed)
	}
	if !h.Has("good") || len(good.sent) != 1 {
		t.Fatalf("good client affected: registered=%v sent=%d", h.Has("good"), len(good.sent))
	}
	if got := m.Get(metrics.ClientSendFailed); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.ClientSendFailed, got)
	}

	if n := h.Broadcast([]byte("y")); n != 1 {
		t.Fatalf("second broadcast delivered=%d, want 1", n)
	}
}

func TestHub_UnregisterUnknownIsNoop(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	if h.Unregister("missing") {
		t.Fatalf("Unregister(missing)=true, want false")
	}
	h.Register(&fakeClient{id: "a"})
	if !h.Unregister("a") {
		t.Fatalf("Unregister(a)=false, want true")
	}
	if h.Unregister("a") {
		t.Fatalf("second Unregister(a)=true, want false")
	}
	if h.Len() != 0 {
		t.Fatalf("Len=%d, want 0", h.Len())
	}
}

func TestHub_OnRegisterRunsOncePerClient(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	var seen []string
	h.OnRegister(func(c Client) {
		seen = append(seen, c.ID())
		h.SendTo(c.ID(), []byte("flush"))
	})

	a := &fakeClient{id: "a"}
	h.Register(a)
	h.Register(a)

	if len(seen) != 1 || seen[0] != "a" {
		t.Fatalf("OnRegister calls=%v, want [a]", seen)
	}
	if len(a.sent) != 1 || string(a.sent[0]) != "flush" {
		t.Fatalf("sent=%q, want one flush", a.sent)
	}
}

func TestHub_DispatchUnknownDoesNotAffectClients(t *testing.T) {
	m := metrics.New()
	h := NewHub(discardLogger(), m)
	a := &fakeClient{id: "a"}
	h.Register(a)

	msg := h.Dispatch("a", []byte(`{"hello":"world"}`))
	var unknown *UnknownMessage
	if u, ok := msg.(*UnknownMessage); !ok {
		t.Fatalf("Dispatch=%#v, want *UnknownMessage", msg)
	} else {
		unknown = u
	}
	if unknown.Err == nil {
		t.Fatalf("unexpected err: %v", unknown.Err)
	}
	if !h.Has("a") || a.closed != 0 {
		t.Fatalf("client affected by unknown message")
	}
	if got := m.Get(metrics.UnknownMessage); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.UnknownMessage, got)
	}

	if _, ok := h.Dispatch("a", []byte(`{"type":"answer","sdp":"v=0"}`)).(*AnswerMessage); !ok {
		t.Fatalf("answer not dispatched as *AnswerMessage")
	}
}
