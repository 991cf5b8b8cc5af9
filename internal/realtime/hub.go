// Package realtime streams pushed alerts to WebSocket subscribers.
//
// Dashboards subscribe to /ws and receive every alert line as it leaves
// the pipeline. Delivery is best-effort: a slow client's buffer fills and
// the client is disconnected rather than ever backing up the pusher.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 1024

// client is one subscriber connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans alert lines out to all connected subscribers.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race

	totalAlerts  atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates a hub. Call Run before serving upgrades.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop; it exits when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("alert feed hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxClients {
				h.mu.Unlock()
				close(c.send)
				continue
			}
			h.clients[c] = true
			h.mu.Unlock()
			h.totalClients.Add(1)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case line := <-h.broadcast:
			h.totalAlerts.Add(1)
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- line:
				default:
					// Slow client; drop it rather than block the feed.
					go func(c *client) {
						select {
						case h.unregister <- c:
						case <-h.done:
						}
					}(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast enqueues one alert line for fan-out. Non-blocking: if the hub
// is saturated the line is simply not fed to subscribers.
func (h *Hub) Broadcast(line []byte) {
	// Copy: the caller reuses its buffer.
	msg := make([]byte, len(line))
	copy(msg, line)
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ServeWS upgrades an HTTP request into a feed subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop(h)
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// readLoop discards client frames; the feed is one-way. It exists to
// notice disconnects.
func (c *client) readLoop(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Stats returns lifetime counters for the ops surface.
func (h *Hub) Stats() (alerts, clients int64) {
	return h.totalAlerts.Load(), h.totalClients.Load()
}
