package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/toolflow/pkg/report"
	"github.com/harun/toolflow/pkg/toolcall"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event names streamed on /v1/events
const (
	EventCallFinished          = "call.finished"
	EventOrchestrationFinished = "orchestration.finished"
	EventCircuitOpen           = "circuit.open"
	EventCircuitClose          = "circuit.close"
)

const (
	eventSendBuffer  = 64
	eventWriteWait   = 10 * time.Second
	eventPongWait    = 60 * time.Second
	eventPingPeriod  = eventPongWait * 9 / 10
	eventMaxReadSize = 512
)

// EventMessage is one frame on the event stream
type EventMessage struct {
	Type      string      `json:"type"` // always "event"
	Event     string      `json:"event"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"ts"`
	Seq       int64       `json:"seq"`
}

type eventClient struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	ip          string
	connectedAt time.Time
}

// Hub fans engine events out to websocket subscribers. Subscribers that fall
// behind by more than the send buffer are disconnected.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*eventClient
	closed   bool
	seq      uint64
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*eventClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.With().Str("component", "events").Logger(),
		now:    time.Now,
	}
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every subscriber
func (h *Hub) Broadcast(event, requestID string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		RequestID: requestID,
		Data:      data,
		Timestamp: h.now().UnixMilli(),
		Seq:       int64(atomic.AddUint64(&h.seq, 1)),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Int64("seq", msg.Seq).Msg("Failed to marshal event")
		return
	}

	var slow []*eventClient

	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("clientId", c.id).Str("event", event).Msg("Subscriber too slow, disconnecting")
		h.remove(c)
	}
}

// OnCallFinished streams a settled call. It matches orchestrator.CallFunc.
func (h *Hub) OnCallFinished(ctx context.Context, requestID string, call *toolcall.ToolCall) {
	data := map[string]interface{}{
		"id":         call.ID,
		"key":        call.Key,
		"name":       call.Name,
		"status":     call.Status,
		"attempts":   call.Attempts,
		"elapsed_ms": call.Elapsed.Milliseconds(),
	}
	if call.Responder != "" && call.Responder != call.Name {
		data["responder"] = call.Responder
	}
	if call.Err != nil {
		data["error_kind"] = toolcall.KindName(toolcall.KindOf(call.Err))
		data["error"] = call.Err.Error()
	}
	h.Broadcast(EventCallFinished, requestID, data)
}

// OnOrchestrationFinished streams a request summary. It matches
// orchestrator.FinishFunc.
func (h *Hub) OnOrchestrationFinished(ctx context.Context, requestID string, res report.Result) {
	failed := make([]string, 0, res.FailedCount())
	for _, key := range res.Order {
		if _, ok := res.Failed[key]; ok {
			failed = append(failed, key)
		}
	}

	h.Broadcast(EventOrchestrationFinished, requestID, map[string]interface{}{
		"calls":      len(res.Order),
		"succeeded":  res.SucceededCount(),
		"failed":     failed,
		"degraded":   res.Degraded(),
		"elapsed_ms": res.TotalElapsed.Milliseconds(),
	})
}

// OnCircuitChange streams a breaker transition
func (h *Hub) OnCircuitChange(resource string, open bool) {
	event := EventCircuitClose
	if open {
		event = EventCircuitOpen
	}
	h.Broadcast(event, "", map[string]interface{}{"resource": resource})
}

// ServeHTTP upgrades the connection and subscribes it until either side
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		id = conn.RemoteAddr().String()
	}

	c := &eventClient{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, eventSendBuffer),
		ip:          clientIP(r),
		connectedAt: h.now(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[id] = c
	h.mu.Unlock()

	h.logger.Info().Str("clientId", id).Str("ip", c.ip).Msg("Event subscriber connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client frames and notices disconnects
func (h *Hub) readLoop(c *eventClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(eventMaxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("clientId", c.id).Msg("Event subscriber read error")
			}
			return
		}
	}
}

// writeLoop is the only writer of data frames for c
func (h *Hub) writeLoop(c *eventClient) {
	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug().Err(err).Str("clientId", c.id).Msg("Event write failed")
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// remove unsubscribes c. The writer sends a close frame once its queue drains.
func (h *Hub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)

	h.logger.Info().
		Str("clientId", c.id).
		Dur("connected", h.now().Sub(c.connectedAt)).
		Msg("Event subscriber disconnected")
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*eventClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
