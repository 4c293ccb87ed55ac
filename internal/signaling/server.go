package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
)

const (
	wsWriteWait = 1 * time.Second

	DefaultIdleTimeout       = 60 * time.Second
	DefaultPingInterval      = 20 * time.Second
	DefaultMaxMessageBytes   = int64(64 * 1024)
	DefaultMessagesPerSecond = 50
	DefaultSendQueueSize     = 64
)

// Events receives connection lifecycle notifications. Implementations must
// not block; they hand the event to the owner of the Hub.
type Events interface {
	ClientConnected(c Client)
	ClientMessage(id string, data []byte)
	ClientDisconnected(id string)
}

type Config struct {
	Events  Events
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	IdleTimeout       time.Duration
	PingInterval      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond int
	SendQueueSize     int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	return c
}

// Server upgrades HTTP requests to signaling WebSockets. The endpoint is
// unauthenticated and accepts any origin.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		http.Error(w, "signaling not configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsClient{
		id:          uuid.NewString(),
		conn:        conn,
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, s.cfg.SendQueueSize),
		done:        make(chan struct{}),
		closeCode:   websocket.CloseNormalClosure,
		metrics:     s.cfg.Metrics,
	}
	c.log = s.cfg.Logger.With("client_id", c.id, "remote_addr", c.remoteAddr)
	c.log.Debug("signaling websocket accepted")

	s.cfg.Events.ClientConnected(c)
	go c.writePump(s.cfg.PingInterval)
	c.readPump(s.cfg)

	c.Close()
	s.cfg.Events.ClientDisconnected(c.id)
	c.log.Debug("signaling websocket closed", "duration", time.Since(c.connectedAt))
}

// wsClient pairs one reader (the HTTP handler goroutine) with one writer
// goroutine that drains send.
type wsClient struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	connectedAt time.Time

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeMu     sync.Mutex
	closeCode   int
	closeReason string

	log     *slog.Logger
	metrics *metrics.Metrics
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeWith(websocket.CloseTryAgainLater, "send queue full")
		return ErrSendQueueFull
	}
}

func (c *wsClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// closeWith records the close frame the writer should send, then closes.
func (c *wsClient) closeWith(code int, reason string) {
	c.closeMu.Lock()
	if c.closeReason == "" {
		c.closeCode = code
		c.closeReason = reason
	}
	c.closeMu.Unlock()
	c.Close()
}

func (c *wsClient) readPump(cfg Config) {
	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessagesPerSecond)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.metrics.Inc(metrics.ClientMessageTooLarge)
				c.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				c.log.Debug("signaling websocket idle timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.log.Debug("signaling websocket read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))

		// The limit is checked after reading so the close frame is not lost
		// behind unread data.
		if !limiter.Allow() {
			c.metrics.Inc(metrics.ClientRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.metrics.Inc(metrics.UnknownMessage)
			c.log.Warn("dropping non-text signaling frame", "type", msgType)
			continue
		}

		cfg.Events.ClientMessage(c.id, data)
	}
}

func (c *wsClient) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.closeMu.Lock()
			code, reason := c.closeCode, c.closeReason
			c.closeMu.Unlock()
			writeClose(c.conn, code, reason)
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.metrics.Inc(metrics.ClientSendFailed)
				c.log.Debug("signaling websocket write failed", "err", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
