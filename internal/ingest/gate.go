// Package ingest accepts engagement events: validation, existence check,
// de-duplication, the durable write, and the asynchronous side effects.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"frameworks/spyglass/internal/notify"
	"frameworks/spyglass/internal/store"
	"frameworks/spyglass/pkg/api/spyglass"
	"frameworks/spyglass/pkg/apperrors"
	"frameworks/spyglass/pkg/logging"
	"frameworks/spyglass/pkg/models"
)

// DedupWindow is how far back a repeated view from the same viewer key is
// treated as the same view.
const DedupWindow = 30 * time.Minute

// Refresher schedules aggregate recomputation for the buckets containing at.
type Refresher interface {
	Enqueue(tenantID, videoID string, at time.Time)
}

// Gate is the ingestion entry point.
type Gate struct {
	events    store.EventStore
	catalog   store.VideoCatalog
	refresher Refresher
	publisher notify.Publisher
	logger    logging.Logger

	locks keyLock
	// nowFunc is swapped in tests to pin the clock.
	nowFunc func() time.Time
}

func NewGate(events store.EventStore, catalog store.VideoCatalog, refresher Refresher, publisher notify.Publisher, logger logging.Logger) *Gate {
	return &Gate{
		events:    events,
		catalog:   catalog,
		refresher: refresher,
		publisher: publisher,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Track validates and records one engagement event.
//
// De-duplication applies only to view events from identified viewers: a view
// with the same (tenant, video, viewer key) inside DedupWindow is answered
// with {accepted: false, deduped: true} and writes nothing. The
// check-then-insert pair runs under a per-viewer-key lock, which removes the
// double-count race between concurrent requests in this process; it stays
// best-effort across processes.
func (g *Gate) Track(ctx context.Context, tenantID string, viewerUserID *string, req spyglass.TrackRequest) (spyglass.TrackResponse, error) {
	if tenantID == "" {
		return spyglass.TrackResponse{}, apperrors.New(apperrors.KindInvalidArgument, "tenant id is required")
	}
	if req.VideoID == "" {
		return spyglass.TrackResponse{}, apperrors.New(apperrors.KindInvalidArgument, "video_id is required")
	}
	if !models.ValidEventType(req.EventType) {
		return spyglass.TrackResponse{}, apperrors.New(apperrors.KindInvalidArgument, "unknown event_type %q", req.EventType)
	}
	if req.PositionSeconds != nil && *req.PositionSeconds < 0 {
		return spyglass.TrackResponse{}, apperrors.New(apperrors.KindInvalidArgument, "position_seconds must be non-negative")
	}
	// Complete and exit carry the playhead; without it they contribute
	// nothing to watch time or retention.
	if req.PositionSeconds == nil && (req.EventType == models.EventComplete || req.EventType == models.EventExit) {
		return spyglass.TrackResponse{}, apperrors.New(apperrors.KindInvalidArgument, "position_seconds is required for %s events", req.EventType)
	}

	if _, err := g.catalog.Lookup(ctx, tenantID, req.VideoID); err != nil {
		return spyglass.TrackResponse{}, err
	}

	now := g.nowFunc().UTC()
	key := models.ResolveViewerKey(viewerUserID, req.SessionID)

	if req.EventType == models.EventView && key.Identified() {
		unlock := g.locks.Lock(tenantID + "\x00" + req.VideoID + "\x00" + key.String())
		defer unlock()

		seen, err := g.events.HasRecentView(ctx, tenantID, req.VideoID, key, now.Add(-DedupWindow))
		if err != nil {
			return spyglass.TrackResponse{}, err
		}
		if seen {
			return spyglass.TrackResponse{Accepted: false, Deduped: true}, nil
		}
	}

	ev := models.EngagementEvent{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		VideoID:         req.VideoID,
		ViewerUserID:    viewerUserID,
		SessionID:       req.SessionID,
		EventType:       req.EventType,
		PositionSeconds: req.PositionSeconds,
		Device:          req.Device,
		Browser:         req.Browser,
		OS:              req.OS,
		Country:         req.Country,
		City:            req.City,
		Referrer:        req.Referrer,
		UTMSource:       req.UTMSource,
		UTMMedium:       req.UTMMedium,
		UTMCampaign:     req.UTMCampaign,
		Metadata:        req.Metadata,
		Timestamp:       now,
	}
	if err := g.events.Insert(ctx, ev); err != nil {
		return spyglass.TrackResponse{}, err
	}

	if req.EventType == models.EventView {
		if err := g.catalog.IncrementViewCount(ctx, tenantID, req.VideoID); err != nil {
			// The raw event already landed; the counter catches up on
			// the next view.
			g.logger.WithError(err).WithFields(logging.Fields{
				"tenant_id": tenantID,
				"video_id":  req.VideoID,
			}).Warn("Failed to increment view count")
		}
		g.notifyView(ev)
	}

	g.refresher.Enqueue(tenantID, req.VideoID, now)

	return spyglass.TrackResponse{Accepted: true}, nil
}

// notifyView publishes the live-view notification off the request goroutine.
// Failures are logged and never reach the caller.
func (g *Gate) notifyView(ev models.EngagementEvent) {
	n := spyglass.LiveViewNotification{
		TenantID:  ev.TenantID,
		VideoID:   ev.VideoID,
		EventID:   ev.ID,
		Country:   ev.Country,
		Device:    ev.Device,
		Timestamp: ev.Timestamp,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := notify.PublishView(ctx, g.publisher, n); err != nil {
			g.logger.WithError(err).WithFields(logging.Fields{
				"tenant_id": n.TenantID,
				"video_id":  n.VideoID,
			}).Warn("Failed to publish live-view notification")
		}
	}()
}
