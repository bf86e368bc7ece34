package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"frameworks/spyglass/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection, bound to a tenant for its lifetime.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string

	mu     sync.RWMutex
	topics map[string]struct{}

	logger logging.Logger
}

// subscriptionMessage is what clients send to manage their topic set.
type subscriptionMessage struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// ServeWS upgrades the request and registers the client under tenantID. The
// caller resolves tenantID from the authenticated request context before
// upgrading.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		tenantID: tenantID,
		topics:   make(map[string]struct{}),
		logger:   h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// allowedTopic restricts subscriptions to the client's own tenant scope.
func (c *Client) allowedTopic(topic string) bool {
	return topic == "tenant:"+c.tenantID ||
		strings.HasPrefix(topic, "tenant:"+c.tenantID+":video:")
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		var sub subscriptionMessage
		if err := json.Unmarshal(message, &sub); err != nil {
			c.logger.WithError(err).Warn("Invalid subscription message")
			continue
		}
		c.handleSubscription(&sub)
	}
}

func (c *Client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush anything already queued into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

func (c *Client) handleSubscription(msg *subscriptionMessage) {
	var accepted, rejected []string

	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, topic := range msg.Topics {
			if !c.allowedTopic(topic) {
				rejected = append(rejected, topic)
				continue
			}
			c.topics[topic] = struct{}{}
			accepted = append(accepted, topic)
		}
	case "unsubscribe":
		for _, topic := range msg.Topics {
			delete(c.topics, topic)
		}
		accepted = msg.Topics
	}
	current := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		current = append(current, topic)
	}
	c.mu.Unlock()

	if len(rejected) > 0 {
		c.logger.WithFields(logging.Fields{
			"tenant_id": c.tenantID,
			"topics":    rejected,
		}).Warn("Rejected out-of-tenant subscription")
	}

	c.reply(map[string]interface{}{
		"type":     msg.Action + "_result",
		"accepted": accepted,
		"rejected": rejected,
		"topics":   current,
	})
}

func (c *Client) reply(data map[string]interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client reply")
		return
	}

	select {
	case c.send <- message:
	default:
		// The hub owns the channel close; a full queue just drops the reply.
		c.logger.WithField("tenant_id", c.tenantID).Warn("Client send queue full, dropping reply")
	}
}
