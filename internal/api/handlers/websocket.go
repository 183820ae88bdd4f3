package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/pubsub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamRequest is a client-to-server control frame. Subscribing with no
// sectors or types streams everything.
type streamRequest struct {
	Action  string   `json:"action"`
	Sectors []string `json:"sectors,omitempty"`
	Types   []string `json:"types,omitempty"`
}

type streamClient struct {
	conn     *websocket.Conn
	send     chan pubsub.Envelope
	hub      *StreamHub
	clientID string

	mu      sync.Mutex
	sectors map[string]bool
	types   map[string]bool
}

// StreamHub fans engine events out to websocket clients. Events arrive
// either straight from the engine (Sink) or from the Redis subscriber
// when the process is one of several nodes; both paths feed the same
// broadcast channel.
type StreamHub struct {
	clients    map[*streamClient]bool
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan pubsub.Envelope
	mu         sync.RWMutex
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewStreamHub(logger *zap.Logger) *StreamHub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &StreamHub{
		clients:    make(map[*streamClient]bool),
		register:   make(chan *streamClient, 64),
		unregister: make(chan *streamClient, 64),
		broadcast:  make(chan pubsub.Envelope, 1024),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *StreamHub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client connected",
				zap.String("client_id", client.clientID), zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case envelope := <-h.broadcast:
			h.dispatch(envelope)
		}
	}
}

func (h *StreamHub) dispatch(envelope pubsub.Envelope) {
	h.mu.RLock()
	var toRemove []*streamClient
	for client := range h.clients {
		if !client.wants(envelope) {
			continue
		}
		select {
		case client.send <- envelope:
		default:
			toRemove = append(toRemove, client)
		}
	}
	h.mu.RUnlock()

	if len(toRemove) > 0 {
		h.mu.Lock()
		for _, client := range toRemove {
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		}
		h.mu.Unlock()
	}
}

// Broadcast queues an envelope for delivery, dropping it when the hub
// is saturated. Engine progress must never block on slow readers.
func (h *StreamHub) Broadcast(envelope pubsub.Envelope) {
	select {
	case h.broadcast <- envelope:
	default:
		h.logger.Warn("stream broadcast channel full, dropping event",
			zap.String("type", envelope.Type))
	}
}

// Sink adapts the hub into an engine EventSink for single-node setups
// without Redis.
func (h *StreamHub) Sink() engine.EventSink { return hubSink{hub: h} }

type hubSink struct {
	hub *StreamHub
}

func (s hubSink) Publish(_ context.Context, event engine.Event) {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		s.hub.logger.Warn("stream event payload not serializable",
			zap.String("type", string(event.Type)), zap.Error(err))
		return
	}
	s.hub.Broadcast(pubsub.Envelope{
		Type:      string(event.Type),
		Channel:   pubsub.ChannelFor(event.Type, event.SectorID),
		SectorID:  event.SectorID,
		Data:      data,
		Timestamp: event.Timestamp,
	})
}

// AttachSubscriber feeds the hub from the Redis event stream so every
// node broadcasts events produced anywhere in the cluster.
func (h *StreamHub) AttachSubscriber(ctx context.Context, sub *pubsub.Subscriber) error {
	sub.HandleAll(func(_ context.Context, envelope pubsub.Envelope) error {
		h.Broadcast(envelope)
		return nil
	})
	return sub.PSubscribe(ctx, pubsub.ChannelAll)
}

func (h *StreamHub) Stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(200 * time.Millisecond):
	}
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
}

func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle upgrades the request and runs the read/write pumps.
func (h *StreamHub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &streamClient{
		conn:     conn,
		send:     make(chan pubsub.Envelope, 256),
		hub:      h,
		clientID: fmt.Sprintf("ws-%d", time.Now().UnixNano()),
		sectors:  make(map[string]bool),
		types:    make(map[string]bool),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// wants applies the client's sector/type filters. Empty filter sets
// match everything.
func (c *streamClient) wants(envelope pubsub.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sectors) > 0 && !c.sectors[envelope.SectorID] {
		return false
	}
	if len(c.types) > 0 && !c.types[envelope.Type] {
		return false
	}
	return true
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		var req streamRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendControl("error", "invalid JSON frame")
			continue
		}
		switch req.Action {
		case "subscribe":
			c.updateFilters(req, true)
			c.sendControl("subscribed", "")
		case "unsubscribe":
			c.updateFilters(req, false)
			c.sendControl("unsubscribed", "")
		case "ping":
			c.sendControl("pong", "")
		default:
			c.sendControl("error", "unknown action: "+req.Action)
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case envelope, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(envelope); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) updateFilters(req streamRequest, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sector := range req.Sectors {
		if add {
			c.sectors[sector] = true
		} else {
			delete(c.sectors, sector)
		}
	}
	for _, t := range req.Types {
		if add {
			c.types[t] = true
		} else {
			delete(c.types, t)
		}
	}
}

func (c *streamClient) sendControl(kind, detail string) {
	data, _ := json.Marshal(gin.H{"result": kind, "detail": detail})
	envelope := pubsub.Envelope{
		Type:      "control",
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	select {
	case c.send <- envelope:
	default:
	}
}
