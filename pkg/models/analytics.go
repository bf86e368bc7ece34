package models

import "time"

// Engagement event types. Events arrive from players and embeds; only these
// values are accepted by the ingestion gate.
const (
	EventView     = "view"
	EventComplete = "complete"
	EventExit     = "exit"
	EventLike     = "like"
	EventDislike  = "dislike"
	EventComment  = "comment"
	EventShare    = "share"
	EventDownload = "download"
)

// ValidEventType reports whether t is a known engagement event type.
func ValidEventType(t string) bool {
	switch t {
	case EventView, EventComplete, EventExit, EventLike, EventDislike,
		EventComment, EventShare, EventDownload:
		return true
	}
	return false
}

// EngagementEvent is one recorded viewer action. Rows are append-only:
// they are never updated or deleted after insert; corrections happen by
// inserting compensating events.
type EngagementEvent struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	VideoID         string     `json:"video_id"`
	ViewerUserID    *string    `json:"viewer_user_id,omitempty"`
	SessionID       *string    `json:"session_id,omitempty"`
	EventType       string     `json:"event_type"`
	PositionSeconds *float64   `json:"position_seconds,omitempty"`
	Device          string     `json:"device,omitempty"`
	Browser         string     `json:"browser,omitempty"`
	OS              string     `json:"os,omitempty"`
	Country         string     `json:"country,omitempty"`
	City            string     `json:"city,omitempty"`
	Referrer        string     `json:"referrer,omitempty"`
	UTMSource       string     `json:"utm_source,omitempty"`
	UTMMedium       string     `json:"utm_medium,omitempty"`
	UTMCampaign     string     `json:"utm_campaign,omitempty"`
	Metadata        string     `json:"metadata,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Position returns the playback position or 0 when absent.
func (e EngagementEvent) Position() float64 {
	if e.PositionSeconds == nil {
		return 0
	}
	return *e.PositionSeconds
}

// DailyAggregate is the per-day rollup for one video.
type DailyAggregate struct {
	TenantID         string    `json:"tenant_id"`
	VideoID          string    `json:"video_id"`
	Date             time.Time `json:"date"`
	Views            int64     `json:"views"`
	UniqueViewers    int64     `json:"unique_viewers"`
	WatchTimeSeconds float64   `json:"watch_time_seconds"`
	Completes        int64     `json:"completes"`
}

// HourlyAggregate is the per-hour rollup for one video. BucketStart is
// truncated to the hour, UTC.
type HourlyAggregate struct {
	TenantID         string    `json:"tenant_id"`
	VideoID          string    `json:"video_id"`
	BucketStart      time.Time `json:"bucket_start"`
	Views            int64     `json:"views"`
	UniqueViewers    int64     `json:"unique_viewers"`
	WatchTimeSeconds float64   `json:"watch_time_seconds"`
	Completes        int64     `json:"completes"`
}

// CountryDailyAggregate is the per-day, per-country view rollup.
type CountryDailyAggregate struct {
	TenantID    string    `json:"tenant_id"`
	VideoID     string    `json:"video_id"`
	Date        time.Time `json:"date"`
	CountryCode string    `json:"country_code"`
	Views       int64     `json:"views"`
}

// Video is the slice of the video catalog this service reads: existence,
// duration for retention math, and the denormalized live view counter.
type Video struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	OwnerUserID     string  `json:"owner_user_id"`
	DurationSeconds float64 `json:"duration_seconds"`
	ViewCount       int64   `json:"view_count"`
}
