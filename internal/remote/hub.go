package remote

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = time.Second
	sendBuffer = 32
)

// client is one WebSocket peer. Only its writer goroutine writes to conn.
type client struct {
	conn *websocket.Conn
	send chan Event
}

// hub fans events out to every registered client. A client whose buffer is
// full is dropped rather than slowing the others down.
type hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{log: log, clients: make(map[*client]struct{})}
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("client joined", "remote", conn.RemoteAddr(), "clients", n)
	go h.writer(c)
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
	h.log.Debug("client left", "remote", c.conn.RemoteAddr(), "clients", len(h.clients))
}

// deliver queues ev for c alone.
func (h *hub) deliver(c *client, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.pushLocked(c, ev)
	}
}

func (h *hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.pushLocked(c, ev)
	}
}

func (h *hub) pushLocked(c *client, ev Event) {
	select {
	case c.send <- ev:
	default:
		h.log.Warn("client too slow, dropping", "remote", c.conn.RemoteAddr())
		h.removeLocked(c)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *hub) writer(c *client) {
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.log.Debug("write failed", "remote", c.conn.RemoteAddr(), "err", err)
			h.remove(c)
			return
		}
	}
}
