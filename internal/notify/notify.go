// Package notify fans accepted view events out to the real-time channel.
// Publishing is fire-and-forget: the ingestion path spawns it off the request
// goroutine and a failed publish is logged, never surfaced to the caller.
package notify

import (
	"context"
	"fmt"

	"frameworks/spyglass/pkg/api/spyglass"
)

// TenantTopic is the per-tenant fan-out channel.
func TenantTopic(tenantID string) string {
	return fmt.Sprintf("tenant:%s", tenantID)
}

// VideoTopic is the per-video fan-out channel.
func VideoTopic(tenantID, videoID string) string {
	return fmt.Sprintf("tenant:%s:video:%s", tenantID, videoID)
}

// Publisher delivers a live-view notification to one topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, n spyglass.LiveViewNotification) error
	Close() error
}

// PublishView sends n to both topic scopes for the event's video.
func PublishView(ctx context.Context, p Publisher, n spyglass.LiveViewNotification) error {
	if err := p.Publish(ctx, TenantTopic(n.TenantID), n); err != nil {
		return err
	}
	return p.Publish(ctx, VideoTopic(n.TenantID, n.VideoID), n)
}

// Nop discards every notification. Used when no real-time backend is
// configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, spyglass.LiveViewNotification) error { return nil }
func (Nop) Close() error                                                         { return nil }

// Multi publishes to every backend in order and returns the first error
// after attempting all of them.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, n spyglass.LiveViewNotification) error {
	var firstErr error
	for _, p := range m {
		if err := p.Publish(ctx, topic, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, p := range m {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
