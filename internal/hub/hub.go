// Package hub pushes dashboard updates to websocket clients.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/emissions"
	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/carbonwatch/carbonwatch/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types sent to clients.
const (
	TypeSnapshot = "snapshot"
	TypeWarning  = "warning"
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// SnapshotEvent summarises an applied refresh.
type SnapshotEvent struct {
	Seq       uint64        `json:"seq"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Readings  int           `json:"readings"`
	Totals    types.Totals  `json:"totals"`
	Warning   types.Warning `json:"warning"`
	LastError string        `json:"lastError,omitempty"`
}

// Hub owns the client set. Run must be started before clients connect.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger

	// last snapshot, replayed to new clients; only touched by Run
	last []byte
}

// New creates a hub.
func New(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other origins, same as the CORS policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx ends, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.logger.Debugf("websocket client registered: %s", client.conn.RemoteAddr())
			if h.last != nil {
				client.send <- h.last
			}

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			if isSnapshot(message) {
				h.last = message
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warnf("websocket client %s send buffer full, removing", client.conn.RemoteAddr())
					h.remove(client)
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.count.Store(int64(len(h.clients)))
	h.logger.Debugf("websocket client unregistered: %s", client.conn.RemoteAddr())
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Broadcast sends msg to every client. It returns false once the hub has
// stopped.
func (h *Hub) Broadcast(msg Message) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("error marshalling %s message for broadcast: %v", msg.Type, err)
		return false
	}
	select {
	case h.broadcast <- b:
		return true
	case <-h.done:
		return false
	}
}

// BroadcastWarning pushes a warning transition.
func (h *Hub) BroadcastWarning(w types.Warning) bool {
	return h.Broadcast(Message{Type: TypeWarning, Payload: w})
}

// RefreshApplied broadcasts a summary of every applied refresh.
func (h *Hub) RefreshApplied(a store.Applied) {
	s := a.Snapshot
	h.Broadcast(Message{Type: TypeSnapshot, Payload: SnapshotEvent{
		Seq:       s.Seq,
		UpdatedAt: s.UpdatedAt,
		Readings:  len(s.Readings),
		Totals:    emissions.Aggregate(s.Readings),
		Warning:   s.Warning,
		LastError: s.LastError,
	}})
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func isSnapshot(message []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(message, &head) == nil && head.Type == TypeSnapshot
}
