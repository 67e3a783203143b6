// Package logstream fans out a running job's output chunks to connected
// WebSocket clients (spec §4.E log streaming).
package logstream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/quartzqueue/internal/platform/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChunkEvent is one flushed log chunk for a job, as broadcast to clients
// subscribed to that job (spec §4.E "labeled with a monotonic offset").
type ChunkEvent struct {
	JobID  string `json:"job_id"`
	Offset int64  `json:"offset"`
	Data   string `json:"data"`
}

// Hub manages WebSocket clients subscribed to one job's log stream and
// broadcasts chunks to them as they're flushed.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan ChunkEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *log.Logger
}

type client struct {
	jobID string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
}

// NewHub creates a new log-streaming hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan ChunkEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main event loop. Call as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to marshal log chunk event")
				continue
			}

			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				if c.jobID != event.JobID {
					continue
				}
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					delete(h.clients, c)
					close(c.send)
				}
				h.mu.Unlock()
			}
		}
	}
}

// Stop signals the hub's event loop to exit.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Publish broadcasts a chunk to every client subscribed to its job.
func (h *Hub) Publish(jobID string, offset int64, data []byte) {
	event := ChunkEvent{JobID: jobID, Offset: offset, Data: string(data)}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("job_id", jobID).Msg("log stream broadcast channel full, dropping chunk")
	}
}

// ServeWS upgrades the request and subscribes the connection to jobID's
// log stream.
func (h *Hub) ServeWS(jobID string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("log stream websocket upgrade failed")
		return
	}

	c := &client{jobID: jobID, hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
