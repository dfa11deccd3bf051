package ipc

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/actionator/pkg/wire"
)

const (
	clientSendBuffer  = 256
	clientWriteWait   = 15 * time.Second
	clientEnqueueWait = 10 * time.Second
)

// Hub fans action frames out to connected push clients. Broadcast waits for
// room in a client's queue for up to clientEnqueueWait; a client that stays
// full that long is disconnected.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*client]struct{}
	enqueueWait time.Duration
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*client]struct{}),
		enqueueWait: clientEnqueueWait,
	}
}

// Broadcast sends a frame to every interested client, in call order per
// client. Callers are expected to broadcast from one goroutine at a time.
func (h *Hub) Broadcast(frame wire.Frame) {
	data, err := frame.Encode()
	if err != nil {
		return
	}
	metricFramesBroadcast.Inc()

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.filter != nil && !c.filter(frame) {
			continue
		}
		select {
		case c.send <- data:
			continue
		case <-c.done:
			continue
		default:
		}
		h.enqueueSlow(c, data)
	}
}

func (h *Hub) enqueueSlow(c *client, data []byte) {
	timer := time.NewTimer(h.enqueueWait)
	defer timer.Stop()
	select {
	case c.send <- data:
	case <-c.done:
	case <-timer.C:
		metricClientsDropped.Inc()
		h.removeClient(c)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds a new client to the hub.
func (h *Hub) register(conn wsConn, filter func(wire.Frame) bool) *client {
	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		done:   make(chan struct{}),
		filter: filter,
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metricPushClients.Set(float64(n))
	return c
}

// removeClient disconnects and removes a client.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	metricPushClients.Set(float64(n))
}

type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(status websocket.StatusCode, reason string) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

type client struct {
	conn   wsConn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	filter func(wire.Frame) bool
}

func (c *client) writeLoop(ctx context.Context) error {
	for {
		select {
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, clientWriteWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop drains inbound messages so control frames are processed. Push
// clients have nothing to say; anything they send is ignored.
func (c *client) readLoop(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *client) close(status websocket.StatusCode, reason string) {
	_ = c.conn.Close(status, reason)
}

// frameFilter builds a client filter from the push request query. An empty
// forFunc and runID accept every frame.
func frameFilter(forFunc, runID string) func(wire.Frame) bool {
	if forFunc == "" && runID == "" {
		return nil
	}
	return func(f wire.Frame) bool {
		if forFunc != "" && f.ForFunc != forFunc {
			return false
		}
		if runID != "" && f.RunID != runID {
			return false
		}
		return true
	}
}
