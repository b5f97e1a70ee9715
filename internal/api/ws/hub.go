package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/pkg/dto"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // door terminals and dashboards connect from other origins
	},
}

// Client is one connected WebSocket subscriber.
type Client struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[models.EventType]bool // empty means every type
}

func (c *Client) wants(typ models.EventType) bool {
	return len(c.types) == 0 || c.types[typ]
}

type message struct {
	typ  models.EventType
	data []byte
}

// Hub fans member events out to connected WebSocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "types", len(client.types))

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(msg.typ) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if h.clients[client] {
						slog.Warn("dropping slow ws client")
						h.drop(client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// drop removes a client. Callers hold mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues ev for delivery. It never blocks: when the hub is
// saturated the event is dropped for WebSocket subscribers.
func (h *Hub) Publish(_ context.Context, ev models.Event) error {
	data, err := json.Marshal(toWSEvent(ev))
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message{typ: ev.Type, data: data}:
	default:
		slog.Warn("ws broadcast queue full, event dropped", "type", ev.Type, "member", ev.MemberID)
	}
	return nil
}

func toWSEvent(ev models.Event) dto.WSEvent {
	return dto.WSEvent{
		ID:         ev.ID,
		Type:       string(ev.Type),
		Username:   ev.MemberID,
		FullName:   ev.FullName,
		Role:       ev.Role,
		PhotoCount: ev.PhotoCount,
		Confidence: ev.Confidence,
		Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339),
	}
}

// ParseTypes reads a comma separated event type filter such as
// "member.recognized,member.removed".
func ParseTypes(filter string) map[models.EventType]bool {
	types := make(map[models.EventType]bool)
	for _, t := range strings.Split(filter, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[models.EventType(t)] = true
		}
	}
	return types
}

// HandleWS upgrades the request and subscribes the client.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		types: ParseTypes(c.Query("type")),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		// Incoming messages are ignored; reading detects disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
