// Package realtime fans live-view notifications out to WebSocket clients.
// A client is bound to its tenant when the connection is upgraded; it can
// only subscribe to topics inside that tenant, so cross-tenant delivery is
// impossible regardless of what the client asks for.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"frameworks/spyglass/pkg/api/spyglass"
	"frameworks/spyglass/pkg/logging"
)

// envelope is the wire frame delivered to subscribed clients.
type envelope struct {
	Type      string                        `json:"type"`
	Topic     string                        `json:"topic"`
	Data      spyglass.LiveViewNotification `json:"data"`
	Timestamp time.Time                     `json:"timestamp"`
}

// Hub maintains the set of active clients and routes notifications to the
// ones subscribed to the notification's topic.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	mutex      sync.RWMutex
}

func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run drives the hub's main loop. Call it once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_count": count,
				"tenant_id":    client.tenantID,
			}).Info("Realtime client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_count": count,
			}).Info("Realtime client disconnected")

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Publish enqueues a notification for delivery. It satisfies the notify
// publisher contract; a full broadcast queue drops the frame rather than
// blocking the caller.
func (h *Hub) Publish(_ context.Context, topic string, n spyglass.LiveViewNotification) error {
	frame, err := json.Marshal(envelope{
		Type:      "live_view",
		Topic:     topic,
		Data:      n,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("Broadcast queue full, dropping live-view frame")
	}
	return nil
}

// Close is a no-op; client connections are owned by their pumps.
func (h *Hub) Close() error { return nil }

func (h *Hub) deliver(frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		h.logger.WithError(err).Error("Failed to unmarshal broadcast frame")
		return
	}

	// Write lock: slow clients are evicted inline.
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		// Tenant binding first, topic subscription second.
		if client.tenantID != env.Data.TenantID {
			continue
		}
		if !client.subscribed(env.Topic) {
			continue
		}
		select {
		case client.send <- frame:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Stats reports the current client and subscription counts. Exposed on the
// health endpoint.
func (h *Hub) Stats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	topicStats := make(map[string]int)
	for client := range h.clients {
		for topic := range client.topics {
			topicStats[topic]++
		}
	}
	return map[string]interface{}{
		"total_clients":       len(h.clients),
		"topic_subscriptions": topicStats,
	}
}
