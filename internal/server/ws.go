package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/glowf1sh/glowboxremote/internal/adaptive"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// local appliance UI; the API is not internet-facing
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	clientSendSize = 16
)

// Hub fans adaptive state snapshots out to connected websocket clients.
// Slow clients are dropped rather than allowed to stall the broadcast.
type Hub struct {
	logger hclog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		logger:  logger.Named("ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast sends a state snapshot to every connected client. Safe to
// call from the adaptive controller's OnState callback.
func (h *Hub) Broadcast(state adaptive.State) {
	data, err := json.Marshal(state)
	if err != nil {
		h.logger.Error("state snapshot marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client")
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*wsClient]struct{})
}

func (h *Hub) register(client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	return true
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// handleStateSocket upgrades the connection and streams state snapshots
// until the client goes away.
func (s *Server) handleStateSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}
	if !s.hub.register(client) {
		conn.Close()
		return
	}

	// push the current state immediately so the UI never waits a full
	// control period for the first frame
	if s.adaptive != nil {
		if data, err := json.Marshal(s.adaptive.GetState()); err == nil {
			select {
			case client.send <- data:
			default:
			}
		}
	}

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) writePump(client *wsClient) {
	defer client.conn.Close()

	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	// hub closed the channel; say goodbye properly
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// readPump discards inbound frames; the socket is publish-only. It exists
// to notice client disconnects promptly.
func (s *Server) readPump(client *wsClient) {
	defer s.hub.unregister(client)

	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
