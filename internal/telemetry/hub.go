// Package telemetry broadcasts frame results and the run report as JSON over
// websocket.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"gazepointer/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// client is one websocket subscriber with its own outbound queue
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to every connected client. Broadcasting never
// blocks: a client whose queue is full misses the message.
type Hub struct {
	clients map[*client]struct{}
	mu      sync.RWMutex
	log     logrus.FieldLogger
	dropped uint64
	closed  bool
}

// NewHub creates an empty hub
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     logger,
	}
}

// register adds a connection and starts its writer
func (h *Hub) register(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.clients[c] = struct{}{}
	h.log.Debugf("[Telemetry] Client registered from %s (total: %d)", conn.RemoteAddr(), len(h.clients))

	go h.writePump(c)
	return c, true
}

// unregister removes a client and stops its writer
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.Debugf("[Telemetry] Client unregistered (total: %d)", len(h.clients))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were not queued for slow clients
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Broadcast queues a raw message for every client
func (h *Hub) Broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.dropped++
		}
	}
}

// BroadcastJSON marshals v and broadcasts it
func (h *Hub) BroadcastJSON(v any) {
	if h.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Warn("[Telemetry] Error marshaling message")
		return
	}
	h.Broadcast(data)
}

// OnFrameResult broadcasts a frame result
func (h *Hub) OnFrameResult(res *pipeline.FrameResult) {
	h.BroadcastJSON(NewFrameMessage(res))
}

// BroadcastReport sends the end-of-run report
func (h *Hub) BroadcastReport(report *pipeline.Report) {
	h.BroadcastJSON(NewReportMessage(report))
}

// Close flushes queued messages with a close frame and disconnects clients
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// writePump drains the client queue and keeps the connection alive with pings
func (h *Hub) writePump(c *client) {
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
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.WithError(err).Debug("[Telemetry] Error sending to client")
				go h.unregister(c)
				drain(c.send)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go h.unregister(c)
				drain(c.send)
				return
			}
		}
	}
}

func drain(ch <-chan []byte) {
	for range ch {
	}
}
