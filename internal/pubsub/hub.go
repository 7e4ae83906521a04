// Package pubsub fans out events, alerts, and session updates to connected
// dashboard WebSocket clients on named channels, generalizing the agent
// execution server's per-connection connection-registry pattern into a
// channel-subscription model.
package pubsub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin enforcement lives in the HTTP auth middleware
	},
}

const (
	writeWait      = 5 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
)

// ChannelEvents, ChannelAlerts, and ChannelSessions are the three
// broadcast-wide channels; a per-session channel is "session:<id>".
const (
	ChannelEvents   = "events"
	ChannelAlerts   = "alerts"
	ChannelSessions = "sessions"
)

// Message is one server->client WebSocket frame.
type Message struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type clientRequest struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]bool
	subMu   sync.RWMutex
	done    chan struct{}
}

func (c *client) send(msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) isSubscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for sub := range c.subs {
		if sub == channel {
			return true
		}
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}
	return false
}

func (c *client) subscribe(channel string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs[channel] = true
}

func (c *client) unsubscribe(channel string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, channel)
}

// Hub tracks connected dashboard clients and their channel subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: map[string]*client{}}
}

// HandleWebSocket upgrades the request and services the connection until
// a read from it fails (the client disconnects or the connection is
// closed). New connections default-subscribe to the
// events and alerts channels.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "pubsub").Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		subs: map[string]bool{ChannelEvents: true, ChannelAlerts: true},
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	log.Info().Str("component", "pubsub").Str("client_id", c.id).Msg("client connected")
	_ = c.send(Message{Type: "connected", Data: map[string]string{"client_id": c.id}})

	go h.pingLoop(c)
	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	close(c.done)
	_ = conn.Close()
	log.Info().Str("component", "pubsub").Str("client_id", c.id).Msg("client disconnected")
}

func (h *Hub) pingLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.send(Message{Type: "error", Error: "invalid message"})
			continue
		}
		switch req.Action {
		case "subscribe":
			for _, ch := range req.Channels {
				c.subscribe(ch)
				_ = c.send(Message{Type: "subscribed", Channel: ch})
			}
		case "unsubscribe":
			for _, ch := range req.Channels {
				c.unsubscribe(ch)
				_ = c.send(Message{Type: "unsubscribed", Channel: ch})
			}
		case "ping":
			_ = c.send(Message{Type: "pong"})
		default:
			_ = c.send(Message{Type: "error", Error: "unknown action"})
		}
	}
}

// Publish delivers data to every client subscribed to channel (exactly, or
// via a trailing-* wildcard subscription). Delivery is best-effort and
// unordered; a client whose send fails is dropped from that channel so a
// slow/dead client doesn't retry forever.
func (h *Hub) Publish(channel, msgType string, data any) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.isSubscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	msg := Message{Type: msgType, Channel: channel, Data: data}
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			c.unsubscribe(channel)
		}
	}
}

// PublishEvent broadcasts an event to the events channel and its
// session-scoped channel.
func (h *Hub) PublishEvent(sessionID string, data any) {
	h.Publish(ChannelEvents, "event", data)
	h.Publish("session:"+sessionID, "event", data)
}

// PublishAlert broadcasts an alert to the alerts channel and its
// session-scoped channel.
func (h *Hub) PublishAlert(sessionID string, data any) {
	h.Publish(ChannelAlerts, "alert", data)
	h.Publish("session:"+sessionID, "alert", data)
}

// PublishSessionUpdate broadcasts a session lifecycle update.
func (h *Hub) PublishSessionUpdate(sessionID string, data any) {
	h.Publish(ChannelSessions, "session_update", data)
	h.Publish("session:"+sessionID, "session_update", data)
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
