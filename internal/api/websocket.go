// Package api provides the hub's HTTP API handlers and WebSocket feed
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Spatial-NVR/cctv-hub/internal/core"
	"github.com/Spatial-NVR/cctv-hub/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The hub has no authentication; any origin may watch the feed
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeMotion      MessageType = "motion"
	MessageTypeHealth      MessageType = "health"
	MessageTypeEvent       MessageType = "event"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool // camera names, "*" for all
}

func (c *Client) subscribed(camera string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions["*"] || c.subscriptions[camera]
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
	now        func() time.Time
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "websocket-hub"),
		now:        time.Now,
	}
}

var _ core.Broadcaster = (*Hub)(nil)

// Run starts the hub's main loop and closes every client when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client connected", "total_clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", "total_clients", n)
		}
	}
}

// BroadcastToCamera sends a message to clients subscribed to a specific camera
func (h *Hub) BroadcastToCamera(camera string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal camera message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.subscribed(camera) {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Client buffer full, dropping message", "camera", camera)
		}
	}
}

// BroadcastMotion implements core.Broadcaster
func (h *Hub) BroadcastMotion(msg core.MotionMessage) {
	h.BroadcastToCamera(msg.Camera, MotionUpdate(msg))
}

// BroadcastHealth implements core.Broadcaster
func (h *Hub) BroadcastHealth(msg core.HealthMessage) {
	h.BroadcastToCamera(msg.Camera, HealthUpdate(msg))
}

// ForwardEvents broadcasts every event received on ch until ctx is done or
// ch is closed
func (h *Hub) ForwardEvents(ctx context.Context, ch <-chan *events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.BroadcastToCamera(e.CameraID, EventUpdate(e))
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"*": true}, // Subscribe to all by default
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming messages from the client
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case MessageTypePing:
		response := Message{Type: MessageTypePong, Timestamp: time.Now()}
		if data, err := json.Marshal(response); err == nil {
			c.hub.mu.RLock()
			if c.hub.clients[c] {
				select {
				case c.send <- data:
				default:
				}
			}
			c.hub.mu.RUnlock()
		}

	case MessageTypeSubscribe:
		cameras := cameraList(msg.Data)
		c.mu.Lock()
		// An explicit subscription narrows the default "all cameras"
		delete(c.subscriptions, "*")
		for _, name := range cameras {
			c.subscriptions[name] = true
		}
		c.mu.Unlock()

	case MessageTypeUnsubscribe:
		cameras := cameraList(msg.Data)
		c.mu.Lock()
		for _, name := range cameras {
			delete(c.subscriptions, name)
		}
		c.mu.Unlock()
	}
}

func cameraList(data interface{}) []string {
	var names []string
	switch v := data.(type) {
	case string:
		names = append(names, v)
	case []interface{}:
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

// MotionUpdate creates a motion message
func MotionUpdate(msg core.MotionMessage) Message {
	return Message{
		Type:      MessageTypeMotion,
		Timestamp: msg.At,
		Data:      msg,
	}
}

// HealthUpdate creates a health message
func HealthUpdate(msg core.HealthMessage) Message {
	return Message{
		Type:      MessageTypeHealth,
		Timestamp: msg.At,
		Data:      msg,
	}
}

// EventUpdate creates an event log message
func EventUpdate(e *events.Event) Message {
	return Message{
		Type:      MessageTypeEvent,
		Timestamp: e.Timestamp,
		Data:      e,
	}
}
