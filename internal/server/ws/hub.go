// Package ws streams committed events to websocket clients. Clients choose
// topics such as market:<address> or forge:<source>; a trailing * matches a
// prefix.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// BusChannels are the pub/sub patterns the hub follows in multi-replica
// deployments.
var BusChannels = []string{"market:*", "forge:*", domain.TopicRegistry}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the envelope written to clients.
type Message struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeMsg is what a client sends to change its topics.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// Config carries what the hub reports in its hello message.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans events out to connected clients.
type Hub struct {
	clients   *xsync.Map[*client, struct{}]
	logger    *slog.Logger
	mode      string
	startedAt time.Time
}

// NewHub returns an empty hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:   xsync.NewMap[*client, struct{}](),
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      cfg.Mode,
		startedAt: startedAt,
	}
}

func (h *Hub) Name() string { return "ws_hub" }

// Consume implements events.Sink.
func (h *Hub) Consume(_ context.Context, batch []domain.Event) error {
	for _, ev := range batch {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		h.broadcast(ev.Topic, payload)
	}
	return nil
}

// Follow relays events published on bus by any replica. It blocks until ctx
// ends. Use it instead of registering the hub as a sink, not in addition.
func (h *Hub) Follow(ctx context.Context, bus domain.SignalBus, channels []string) error {
	for _, ch := range channels {
		msgs, err := bus.Subscribe(ctx, ch)
		if err != nil {
			return err
		}
		go func() {
			for data := range msgs {
				var ev struct {
					Topic string `json:"topic"`
				}
				if err := json.Unmarshal(data, &ev); err != nil {
					h.logger.Warn("dropping undecodable bus message", slog.String("channel", ch))
					continue
				}
				h.broadcast(ev.Topic, data)
			}
		}()
		h.logger.Info("following bus channel", slog.String("channel", ch))
	}
	<-ctx.Done()
	return ctx.Err()
}

// Run closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.clients.Range(func(c *client, _ struct{}) bool {
		h.remove(c)
		return true
	})
	return ctx.Err()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int { return h.clients.Size() }

func (h *Hub) broadcast(topic string, payload []byte) {
	data, err := json.Marshal(Message{Type: "event", Topic: topic, Payload: payload})
	if err != nil {
		return
	}
	h.clients.Range(func(c *client, _ struct{}) bool {
		if c.subscribed(topic) && !c.enqueue(data) {
			h.logger.Warn("dropping message for slow client", slog.String("topic", topic))
		}
		return true
	})
}

func (h *Hub) remove(c *client) {
	if _, ok := h.clients.LoadAndDelete(c); ok {
		c.close()
		h.logger.Info("client disconnected", slog.Int("total_clients", h.clients.Size()))
	}
}

// HandleWS upgrades the request. ?topics=a,b sets the initial topics;
// without it the client receives everything.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: xsync.NewMap[string, struct{}](),
	}
	initial := splitTopics(r.URL.Query().Get("topics"))
	if len(initial) == 0 {
		initial = []string{"*"}
	}
	c.apply(subscribeMsg{Action: "subscribe", Topics: initial})

	h.clients.Store(c, struct{}{})
	h.logger.Info("client connected", slog.Int("total_clients", h.clients.Size()))
	c.hello()

	go c.writePump()
	go c.readPump()
}

func splitTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	topics *xsync.Map[string, struct{}]

	mu     sync.RWMutex // guards send against close
	send   chan []byte
	closed bool
}

// enqueue reports false when the buffer is full. Closed clients swallow data.
func (c *client) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) apply(msg subscribeMsg) {
	for _, t := range msg.Topics {
		switch msg.Action {
		case "subscribe":
			c.topics.Store(t, struct{}{})
		case "unsubscribe":
			c.topics.Delete(t)
		}
	}
}

// subscribed matches exact topics and trailing-* prefixes.
func (c *client) subscribed(topic string) bool {
	if _, ok := c.topics.Load(topic); ok {
		return true
	}
	match := false
	c.topics.Range(func(sub string, _ struct{}) bool {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(topic, prefix) {
			match = true
			return false
		}
		return true
	})
	return match
}

func (c *client) hello() {
	payload, _ := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": max(int64(time.Since(c.hub.startedAt).Seconds()), 0),
	})
	if data, err := json.Marshal(Message{Type: "hello", Payload: payload}); err == nil {
		c.enqueue(data)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
