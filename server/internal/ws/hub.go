package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wardwatch/wardwatch/server/internal/api"
	"github.com/wardwatch/wardwatch/server/internal/dispatch"
	"github.com/wardwatch/wardwatch/server/internal/domain"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Type string      `json:"type"` // "snapshot" | "alert"
	Data interface{} `json:"data"`
}

// SnapshotData is the payload of the connect-time snapshot message.
type SnapshotData struct {
	Patients    []api.PatientSummary `json:"patients"`
	GeneratedAt string               `json:"generatedAt"`
}

// Filter narrows which alerts a subscriber receives.
type Filter struct {
	Ward    string
	MinTier domain.Tier
}

// matches reports whether an alert passes the filter.
func (f Filter) matches(a dispatch.Alert) bool {
	if f.Ward != "" && !strings.EqualFold(f.Ward, a.Ward) {
		return false
	}
	return domain.ParseTier(a.ToTier) >= f.MinTier
}

// Hub manages WebSocket subscribers and fans alert broadcasts out to the
// ones whose filter matches. It implements dispatch.Publisher.
type Hub struct {
	store *store.Store
	m     *metrics.Metrics
	now   func() time.Time // injectable for deterministic tests

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected subscriber.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	filter Filter
}

// New creates a Hub serving subscribers from st.
func New(st *store.Store, m *metrics.Metrics) *Hub {
	return &Hub{
		store:   st,
		m:       m,
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the connection and serves the subscriber: the snapshot
// of currently warning/critical admissions first, then the alert stream.
// Filter query parameters: ward, min_tier. Blocks until the connection
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Ward:    r.URL.Query().Get("ward"),
		MinTier: domain.ParseTier(r.URL.Query().Get("min_tier")),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		filter: filter,
	}

	// Resync-on-connect: the snapshot carries the true current state, so a
	// reconnecting client needs no replay of missed transitions. Queued
	// before the client is visible to publishers, so it is always the first
	// message out and no concurrent unregister can have closed the channel.
	if data, err := h.buildSnapshot(filter); err == nil {
		c.send <- data
	}

	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// PublishAlert sends an alert to every subscriber whose filter matches.
// Never blocks: a subscriber with a full buffer is dropped and must
// reconnect for a fresh snapshot. Sends happen under the read lock — send
// channels are only closed under the write lock, so a concurrent unregister
// can never close a channel mid-send. Callers may publish from any number
// of goroutines.
func (h *Hub) PublishAlert(a dispatch.Alert) {
	data, err := json.Marshal(Message{Type: "alert", Data: a})
	if err != nil {
		return
	}

	var drop []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.filter.matches(a) {
			continue
		}
		select {
		case c.send <- data:
		default:
			drop = append(drop, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range drop {
		slog.Warn("ws: dropping slow subscriber", "ward_filter", c.filter.Ward)
		h.unregister(c)
	}
}

// Count returns the number of currently connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.m.Subscribers.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.m.Subscribers.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

// buildSnapshot marshals the current warning/critical admissions matching
// the filter.
func (h *Hub) buildSnapshot(f Filter) ([]byte, error) {
	minTier := f.MinTier
	if minTier < domain.TierWarning {
		minTier = domain.TierWarning
	}
	now := h.now()
	msg := Message{
		Type: "snapshot",
		Data: SnapshotData{
			Patients:    api.BuildOverdue(h.store, now, api.ListFilter{Ward: f.Ward, MinTier: minTier}),
			GeneratedAt: now.UTC().Format(time.RFC3339),
		},
	}
	return json.Marshal(msg)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.m.Subscribers.Set(0)
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages
// (pong, close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
