package signaling

import (
	"errors"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
)

var (
	ErrSendQueueFull = errors.New("signaling: client send queue full")
	ErrClientClosed  = errors.New("signaling: client closed")
)

// Client is one connected signaling peer. Send must not block.
type Client interface {
	ID() string
	Send(payload []byte) error
	Close()
}

// Hub owns the set of connected clients. It is not safe for concurrent use;
// every method must run on the coordinator's event loop.
type Hub struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	clients    map[string]Client
	onRegister func(Client)
}

func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		clients: make(map[string]Client),
	}
}

// OnRegister sets the hook run after a client joins. The coordinator uses it
// to replay the offer and local candidates.
func (h *Hub) OnRegister(fn func(Client)) {
	h.onRegister = fn
}

func (h *Hub) Register(c Client) {
	if _, ok := h.clients[c.ID()]; ok {
		return
	}
	h.clients[c.ID()] = c
	h.metrics.Inc(metrics.ClientRegistered)
	h.log.Info("signaling client registered", "client_id", c.ID(), "clients", len(h.clients))
	if h.onRegister != nil {
		h.onRegister(c)
	}
}

// Unregister removes the client with id. Unknown ids are ignored.
func (h *Hub) Unregister(id string) bool {
	if _, ok := h.clients[id]; !ok {
		return false
	}
	delete(h.clients, id)
	h.metrics.Inc(metrics.ClientUnregistered)
	h.log.Info("signaling client unregistered", "client_id", id, "clients", len(h.clients))
	return true
}

// Broadcast enqueues payload to every client and returns how many accepted
// it. Clients that fail are dropped.
func (h *Hub) Broadcast(payload []byte) int {
	delivered := 0
	for id := range h.clients {
		if h.SendTo(id, payload) {
			delivered++
		}
	}
	return delivered
}

// SendTo enqueues payload to one client. A client that fails is unregistered
// and closed.
func (h *Hub) SendTo(id string, payload []byte) bool {
	c, ok := h.clients[id]
	if !ok {
		return false
	}
	if err := c.Send(payload); err != nil {
		h.metrics.Inc(metrics.ClientSendFailed)
		h.log.Warn("signaling send failed; dropping client", "client_id", id, "err", err)
		h.Unregister(id)
		c.Close()
		return false
	}
	return true
}

// Dispatch parses a message received from client id. Unknown shapes are
// logged and returned as *UnknownMessage.
func (h *Hub) Dispatch(id string, raw []byte) Inbound {
	msg := ParseInbound(raw)
	if unknown, ok := msg.(*UnknownMessage); ok {
		h.metrics.Inc(metrics.UnknownMessage)
		h.log.Warn("dropping unrecognized signaling message", "client_id", id, "bytes", len(raw), "err", unknown.Err)
	}
	return msg
}

func (h *Hub) Len() int { return len(h.clients) }

func (h *Hub) Has(id string) bool {
	_, ok := h.clients[id]
	return ok
}
