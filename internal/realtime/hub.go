// Package realtime streams risk assessment events to WebSocket clients.
//
// Clients connect to /ws and receive every event by default. Sending a JSON
// Subscription narrows the stream to given event types, wallets, or a
// minimum score.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/chainwatch/internal/metrics"
)

var expectedCloses = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

const (
	// MaxClients caps concurrent WebSocket connections.
	MaxClients = 10000

	sendBuffer   = 256
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// EventType names a stream event.
type EventType string

const (
	EventRiskAssessed EventType = "risk.assessed"
	EventRiskAlert    EventType = "risk.alert"
	EventWalletSynced EventType = "wallet.synced"
)

// Event is one message on the stream. WalletID and Score drive
// subscription filtering; Data is the payload.
type Event struct {
	Type      EventType `json:"type"`
	WalletID  string    `json:"walletId,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Subscription filters what a client receives. The zero value receives
// everything.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	WalletIDs  []string    `json:"walletIds"`
	MinScore   float64     `json:"minScore"` // applies to risk events only
}

// Matches reports whether e passes the subscription filters.
func (s Subscription) Matches(e *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, e.Type) {
		return false
	}
	if len(s.WalletIDs) > 0 && e.WalletID != "" && !slices.Contains(s.WalletIDs, e.WalletID) {
		return false
	}
	if s.MinScore > 0 && e.Type != EventWalletSynced && e.Score < s.MinScore {
		return false
	}
	return true
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Hub fans events out to connected clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int

	delivered atomic.Int64
	dropped   atomic.Int64
	accepted  atomic.Int64
	peak      atomic.Int64
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "realtime"),
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run is the hub loop. It closes every client when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
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
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := int64(len(h.clients))
			h.mu.Unlock()
			h.accepted.Add(1)
			if n > h.peak.Load() {
				h.peak.Store(n)
			}
			metrics.ActiveWebSocketClients.Set(float64(n))

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case e := <-h.broadcast:
			h.fanOut(e)
		}
	}
}

func (h *Hub) fanOut(e *Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("failed to encode event", "type", e.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.subscription().Matches(e) {
			continue
		}
		select {
		case c.send <- payload:
			h.delivered.Add(1)
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			h.drop(c)
		}
		h.mu.Unlock()
		h.logger.Warn("disconnected slow clients", "count", len(slow))
	}
}

// drop removes a client; callers hold h.mu.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues an event without blocking. It reports false when the
// queue is full and the event was dropped.
func (h *Hub) Broadcast(e *Event) bool {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- e:
		return true
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping event", "type", e.Type)
		return false
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	PeakClients      int64 `json:"peakClients"`
	TotalClients     int64 `json:"totalClients"`
	Delivered        int64 `json:"delivered"`
	Dropped          int64 `json:"dropped"`
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: n,
		PeakClients:      h.peak.Load(),
		TotalClients:     h.accepted.Load(),
		Delivered:        h.delivered.Load(),
		Dropped:          h.dropped.Load(),
	}
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	full := len(h.clients) >= h.maxClients
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

// readLoop applies subscription updates until the connection closes.
func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, expectedCloses...) {
				c.hub.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
