package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"sigforge/core"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize  = 512
	sendChannelSize = 256

	// eventBuffer is how far the hub may lag behind the graph before
	// events are dropped.
	eventBuffer = 1024
)

// WebSocketMessage is the envelope for every message pushed to clients.
type WebSocketMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans graph events out to connected WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. Start must be called before use.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, sendChannelSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop until Stop. It must be called exactly once.
func (h *Hub) Start() {
	defer close(h.done)
	h.logger.Debug("WebSocket hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				_ = c.conn.Close()
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			h.logger.Debug("WebSocket hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("WebSocket client registered", "total_clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("WebSocket client unregistered", "total_clients", n)

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client; drop it rather than stall everyone else.
					go func(slow *client) {
						select {
						case h.unregister <- slow:
						case <-h.ctx.Done():
						}
						_ = slow.conn.Close()
					}(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a message for every client. It gives up after one
// second so a stalled hub never blocks the caller.
func (h *Hub) Broadcast(msgType string, data any) error {
	payload, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "type", msgType, "error", err)
		return err
	}
	select {
	case h.broadcast <- payload:
	case <-h.ctx.Done():
	case <-time.After(time.Second):
		h.logger.Warnw("WebSocket broadcast timeout", "type", msgType)
	}
	return nil
}

// Follow forwards every event published on bus to the clients until the
// returned function is called or the hub stops.
func (h *Hub) Follow(bus *core.EventBus) (stop func()) {
	events, unsubscribe := bus.Channel("websocket-hub", eventBuffer)
	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = h.Broadcast(string(ev.Type), ev)
			case <-h.ctx.Done():
				return
			}
		}
	}()
	return unsubscribe
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client and waits for the hub loop to exit.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Clients only listen; reads detect disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func serveWs(hub *Hub, allowedOrigins []string, logger *zap.SugaredLogger, w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origin, allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: hub, conn: conn, send: make(chan []byte, sendChannelSize)}
	select {
	case hub.register <- c:
	case <-hub.ctx.Done():
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
