// Package ws bridges the signal bus to WebSocket clients so UIs can stream
// market, trade, and redemption events without polling the REST API.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// defaultChannels are the pub/sub channels the hub subscribes to. They match
// the channels the engine publishes on.
var defaultChannels = []string{
	"markets",
	"trades",
	"redemptions",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware in front.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// Hub manages connected WebSocket clients and fans events from the signal
// bus out to every client subscribed to the source channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// broadcastMsg carries a message with its source channel so the hub can
// route it only to subscribed clients.
type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a Hub over the given signal bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  time.Now().UTC(),
	}
}

// Run starts the hub's event loop. It handles client registration and
// message broadcasting until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range defaultChannels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel forwards messages from one bus channel to the hub's
// broadcast loop.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("subscribed", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			h.broadcast <- broadcastMsg{channel: channel, data: data}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendWelcome()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription management frames from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendWelcome pushes a small envelope so clients can mark the connection as
// healthy before any market events flow.
func (c *client) sendWelcome() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"connected":      true,
			"uptime_seconds": uptime,
			"channels":       defaultChannels,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump pumps messages from the hub to the WebSocket connection, sending
// JSON text frames for data and periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
