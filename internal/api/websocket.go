package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/docmerge/core/merge"
	"github.com/FocuswithJustin/docmerge/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// ProgressMessage is one merge event as sent to WebSocket clients.
type ProgressMessage struct {
	merge.Event
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Client represents a WebSocket client connection. A client with a
// requestID only receives the events of that request.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	requestID string
}

// outbound is one encoded message and the request that produced it.
type outbound struct {
	requestID string
	data      []byte
}

// Hub maintains active WebSocket connections and broadcasts messages. The
// client set is owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	count      chan chan int
	done       chan struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run handles registration and broadcasting until ctx ends, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			logging.WebSocketEvent("client_connected", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				logging.WebSocketEvent("client_disconnected", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if client.requestID != "" && client.requestID != message.requestID {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					// slow consumer
					h.drop(client)
					logging.WebSocketEvent("client_dropped", len(h.clients))
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

// ClientCount returns the number of connected clients. It blocks until Run
// answers.
func (h *Hub) ClientCount(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	case <-ctx.Done():
		return 0
	}
}

// Broadcast queues a merge event for every client subscribed to all events
// or to the request in ctx. It never blocks: events are dropped when the
// queue is full.
func (h *Hub) Broadcast(ctx context.Context, ev merge.Event) {
	requestID := logging.GetRequestID(ctx)
	data, err := json.Marshal(ProgressMessage{
		Event:     ev,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logging.Error("failed to marshal progress message", "error", err)
		return
	}

	select {
	case h.broadcast <- outbound{requestID: requestID, data: data}:
	default:
		logging.Warn("broadcast channel full, dropping message", "type", ev.Type)
	}
}

// Observer adapts the hub to merge progress reporting for one request.
func (h *Hub) Observer(ctx context.Context) merge.Observer {
	return func(ev merge.Event) { h.Broadcast(ctx, ev) }
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// clients only listen; anything they send is discarded
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket unexpected close", "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
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

// checkOrigin accepts any origin when allowed is empty, otherwise only the
// listed ones. Requests without an Origin header are not from a browser and
// are accepted.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		logging.SecurityEvent("websocket_origin_rejected", "api", "origin", origin)
		return false
	}
}

// handleWebSocket upgrades the connection and registers the client with the
// hub. Without a request_id query parameter the client receives the shared
// feed of every merge on the server, document locations included. With
// ?request_id=ID it receives only the merge sent with that X-Request-ID.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		requestID: r.URL.Query().Get("request_id"),
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
