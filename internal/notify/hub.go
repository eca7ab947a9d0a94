package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golfsync/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Event tells connected devices that fresh entities are available for an
// account, so an online device pulls its delta immediately instead of
// waiting for its next poll.
type Event struct {
	AccountID  string            `json:"accountId"`
	EntityType models.EntityType `json:"entityType"`
	EntityIDs  []string          `json:"entityIds"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Hub manages device websocket connections and broadcasts delta-available
// events. Broadcasting is best-effort: a slow or dead connection never
// blocks the apply path.
type Hub struct {
	logger *logrus.Logger

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(logger *logrus.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes all connections and waits for the broadcast loop to exit.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Publish queues an event for broadcast, dropping it if the channel is full.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case h.broadcast <- event:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("Notify broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected devices.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an HTTP connection and keeps it registered until
// the peer disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.WithField("clients", count).Debug("Device connected to notify hub")

	// Read loop only drains control frames; devices never send data here.
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			break
		}
	}

	h.removeClient(conn)
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal notify event")
				continue
			}

			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range conns {
				writeCtx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clientsMu.Unlock()
}
