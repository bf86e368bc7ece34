package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/spyglass/pkg/api/spyglass"
	"frameworks/spyglass/pkg/logging"
)

func newTestClient(h *Hub, tenantID string, topics ...string) *Client {
	c := &Client{
		hub:      h,
		send:     make(chan []byte, 16),
		tenantID: tenantID,
		topics:   make(map[string]struct{}),
		logger:   h.logger,
	}
	for _, topic := range topics {
		c.topics[topic] = struct{}{}
	}
	return c
}

func recv(t *testing.T, c *Client) envelope {
	t.Helper()
	select {
	case frame := <-c.send:
		var env envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return envelope{}
	}
}

func TestHub_DeliversToSubscribedTenantClient(t *testing.T) {
	h := NewHub(logging.NewLoggerWithService("realtime-test"))
	go h.Run()

	subscriber := newTestClient(h, "tenant-1", "tenant:tenant-1")
	otherTopic := newTestClient(h, "tenant-1", "tenant:tenant-1:video:v2")
	otherTenant := newTestClient(h, "tenant-2", "tenant:tenant-1")
	h.register <- subscriber
	h.register <- otherTopic
	h.register <- otherTenant

	n := spyglass.LiveViewNotification{TenantID: "tenant-1", VideoID: "v1", EventID: "e1"}
	require.NoError(t, h.Publish(context.Background(), "tenant:tenant-1", n))

	env := recv(t, subscriber)
	assert.Equal(t, "live_view", env.Type)
	assert.Equal(t, "tenant:tenant-1", env.Topic)
	assert.Equal(t, "e1", env.Data.EventID)

	// The video-scoped client and the foreign tenant get nothing, even
	// though the latter subscribed to the tenant-1 topic name.
	assert.Empty(t, otherTopic.send)
	assert.Empty(t, otherTenant.send)
}

func TestClient_AllowedTopic(t *testing.T) {
	h := NewHub(logging.NewLoggerWithService("realtime-test"))
	c := newTestClient(h, "tenant-1")

	assert.True(t, c.allowedTopic("tenant:tenant-1"))
	assert.True(t, c.allowedTopic("tenant:tenant-1:video:v1"))
	assert.False(t, c.allowedTopic("tenant:tenant-2"))
	assert.False(t, c.allowedTopic("tenant:tenant-2:video:v1"))
	assert.False(t, c.allowedTopic("tenant:tenant-10"))
}

// An overflowing reply must not close the send channel: the hub closes it on
// unregister, and a second close would panic the hub goroutine.
func TestClient_ReplyOverflowLeavesChannelOpen(t *testing.T) {
	h := NewHub(logging.NewLoggerWithService("realtime-test"))
	go h.Run()

	c := newTestClient(h, "tenant-1")
	h.register <- c

	for i := 0; i < cap(c.send); i++ {
		c.send <- []byte("queued")
	}
	c.reply(map[string]interface{}{"type": "subscribe_result"})

	// The reply is dropped and earlier frames are still deliverable.
	frame, ok := <-c.send
	require.True(t, ok)
	assert.Equal(t, []byte("queued"), frame)

	h.unregister <- c

	closed := false
	deadline := time.After(time.Second)
	for !closed {
		select {
		case _, ok := <-c.send:
			closed = !ok
		case <-deadline:
			t.Fatal("send channel never closed after unregister")
		}
	}
}

func TestClient_SubscriptionRejectsForeignTenant(t *testing.T) {
	h := NewHub(logging.NewLoggerWithService("realtime-test"))
	c := newTestClient(h, "tenant-1")

	c.handleSubscription(&subscriptionMessage{
		Action: "subscribe",
		Topics: []string{"tenant:tenant-1", "tenant:tenant-2"},
	})

	assert.True(t, c.subscribed("tenant:tenant-1"))
	assert.False(t, c.subscribed("tenant:tenant-2"))

	var reply map[string]interface{}
	require.NoError(t, json.Unmarshal(<-c.send, &reply))
	assert.Equal(t, "subscribe_result", reply["type"])
	assert.Equal(t, []interface{}{"tenant:tenant-2"}, reply["rejected"])
}
