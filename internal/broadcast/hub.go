package broadcast

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sidekick/internal/config"
	"sidekick/internal/model"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub serves /ws/state. Each client gets a bounded queue; a client whose
// queue is full is disconnected rather than slowing the others.
type Hub struct {
	mu           sync.Mutex
	clients      map[*client]struct{}
	last         []byte
	buffer       int
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

func NewHub(cfg config.WebSocketConfig, logger *slog.Logger) *Hub {
	buffer := cfg.ClientBuffer
	if buffer <= 0 {
		buffer = 32
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		clients:      make(map[*client]struct{}),
		buffer:       buffer,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	count := len(h.clients)
	h.mu.Unlock()
	if h.logger != nil {
		h.logger.Debug("websocket client connected", "remote", r.RemoteAddr, "clients", count)
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if bytes.Equal(bytes.TrimSpace(data), []byte("ping")) {
			h.enqueue(c, []byte("pong"))
		}
	}
}

func (h *Hub) writePump(c *client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			_ = c.conn.Close()
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// remove must be called without h.mu held.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) enqueue(c *client, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.dropLocked(c)
	}
}

func (h *Hub) broadcast(msg []byte, remember bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if remember {
		h.last = msg
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			if h.logger != nil {
				h.logger.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			}
			h.dropLocked(c)
		}
	}
}

func (h *Hub) PublishState(_ context.Context, st model.IntegratedState) error {
	msg, err := StateMessage(st)
	if err != nil {
		return err
	}
	h.broadcast(msg, true)
	return nil
}

func (h *Hub) PublishNotification(_ context.Context, n model.Notification) error {
	msg, err := NotificationMessage(n)
	if err != nil {
		return err
	}
	h.broadcast(msg, false)
	return nil
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}
