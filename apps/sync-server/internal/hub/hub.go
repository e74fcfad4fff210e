package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
)

// ErrStopped is returned when the hub no longer runs
var ErrStopped = errors.New("hub stopped")

// FrameHandler consumes frames read from clients. HandleFrame is called on
// the client's read goroutine, so frames from one client arrive in order.
type FrameHandler interface {
	HandleFrame(clientID string, data []byte)
	// HandleDisconnect is called once when a client goes away on its own.
	// gen is the generation the client was registered with; explicit is
	// true when the client sent a close frame.
	HandleDisconnect(clientID string, gen uint64, explicit bool)
}

// Message represents a frame routed through the hub
type Message struct {
	ClientID string
	ExceptID string
	Data     []byte
}

type unregisterRequest struct {
	client *wsClient
	reply  chan bool
}

// wsClient represents a connected WebSocket client
type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	id        string
	gen       uint64
	send      chan []byte
	closeOnce sync.Once
}

func (c *wsClient) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub maintains the set of active clients and routes frames to them
type Hub struct {
	// Registered clients
	clients map[string]*wsClient

	// Frames for every client but ExceptID
	broadcast chan Message

	// Register requests from clients
	register chan *wsClient

	// Unregister requests from clients
	unregister chan unregisterRequest

	// Direct messages to specific clients
	direct chan Message

	// Server-initiated disconnects
	kick chan string

	// Lock for clients map
	mu sync.RWMutex

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}

	cfg     config.WebSocketConfig
	handler FrameHandler
	log     *slog.Logger
}

// NewHub creates a new hub
func NewHub(cfg config.WebSocketConfig, handler FrameHandler, log *slog.Logger) *Hub {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}

	return &Hub{
		broadcast:  make(chan Message),
		register:   make(chan *wsClient),
		unregister: make(chan unregisterRequest),
		clients:    make(map[string]*wsClient),
		direct:     make(chan Message),
		kick:       make(chan string),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		cfg:        cfg,
		handler:    handler,
		log:        logger.OrDiscard(log).With("component", "hub"),
	}
}

// SetHandler sets the frame handler. It must be called before Run.
func (h *Hub) SetHandler(handler FrameHandler) {
	h.handler = handler
}

// Run starts the hub
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.id]; ok {
				// A reconnect under the same ID replaces the old socket
				old.closeSend()
				h.log.Info("client superseded", "client_id", client.id)
			}
			h.clients[client.id] = client
			h.mu.Unlock()
			h.log.Debug("client registered", "client_id", client.id)

		case req := <-h.unregister:
			h.mu.Lock()
			cur, ok := h.clients[req.client.id]
			removed := ok && cur == req.client
			if removed {
				delete(h.clients, req.client.id)
			}
			h.mu.Unlock()
			req.client.closeSend()
			req.reply <- removed
			if removed {
				h.log.Debug("client unregistered", "client_id", req.client.id)
			}

		case id := <-h.kick:
			h.mu.Lock()
			if client, ok := h.clients[id]; ok {
				delete(h.clients, id)
				client.closeSend()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if id == message.ExceptID {
					continue
				}
				h.deliverLocked(client, message.Data)
			}
			h.mu.Unlock()

		case message := <-h.direct:
			h.mu.Lock()
			if client, exists := h.clients[message.ClientID]; exists {
				h.deliverLocked(client, message.Data)
			}
			h.mu.Unlock()

		case <-h.stopChan:
			h.mu.Lock()
			for id, client := range h.clients {
				client.conn.Close()
				client.closeSend()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliverLocked queues data for client, dropping the client when its queue
// is full. The handler hears about the drop as a non-explicit disconnect.
func (h *Hub) deliverLocked(client *wsClient, data []byte) {
	select {
	case client.send <- data:
	default:
		delete(h.clients, client.id)
		client.closeSend()
		h.log.Warn("client send queue full, dropping client", "client_id", client.id)
		if h.handler != nil {
			go h.handler.HandleDisconnect(client.id, client.gen, false)
		}
	}
}

// RegisterClient registers a new WebSocket client and starts its pumps.
// gen is handed back on HandleDisconnect.
func (h *Hub) RegisterClient(conn *websocket.Conn, clientID string, gen uint64) error {
	client := &wsClient{
		hub:  h,
		conn: conn,
		id:   clientID,
		gen:  gen,
		send: make(chan []byte, h.cfg.SendQueueSize),
	}

	select {
	case h.register <- client:
	case <-h.done:
		return ErrStopped
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// SendToClient sends a frame to a specific client
func (h *Hub) SendToClient(clientID string, data []byte) {
	select {
	case h.direct <- Message{ClientID: clientID, Data: data}:
	case <-h.done:
	}
}

// Broadcast sends a frame to every client except exceptID
func (h *Hub) Broadcast(data []byte, exceptID string) {
	select {
	case h.broadcast <- Message{ExceptID: exceptID, Data: data}:
	case <-h.done:
	}
}

// Disconnect closes the connection of clientID without notifying the handler
func (h *Hub) Disconnect(clientID string) {
	select {
	case h.kick <- clientID:
	case <-h.done:
	}
}

// Connected reports whether clientID has a live socket
func (h *Hub) Connected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[clientID]
	return ok
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Running reports whether the hub loop has not stopped
func (h *Hub) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Close closes the hub and every client connection
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	<-h.done
}

// readPump pumps frames from the WebSocket connection to the handler
func (c *wsClient) readPump() {
	explicit := false
	defer func() {
		c.conn.Close()

		reply := make(chan bool, 1)
		select {
		case c.hub.unregister <- unregisterRequest{client: c, reply: reply}:
			if <-reply && c.hub.handler != nil {
				c.hub.handler.HandleDisconnect(c.id, c.gen, explicit)
			}
		case <-c.hub.done:
		}
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			explicit = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		// Any frame proves liveness
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

		if c.hub.handler != nil {
			c.hub.handler.HandleFrame(c.id, message)
		}
	}
}

// writePump pumps frames from the hub to the WebSocket connection, one
// envelope per text frame.
func (c *wsClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
