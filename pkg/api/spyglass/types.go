// Package spyglass holds the request/response types of the engagement
// analytics API. Field names in this package are the wire contract.
package spyglass

import "time"

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TrackRequest is the body of POST /track.
type TrackRequest struct {
	VideoID         string   `json:"video_id"`
	EventType       string   `json:"event_type"`
	SessionID       *string  `json:"session_id,omitempty"`
	PositionSeconds *float64 `json:"position_seconds,omitempty"`
	Device          string   `json:"device,omitempty"`
	Browser         string   `json:"browser,omitempty"`
	OS              string   `json:"os,omitempty"`
	Country         string   `json:"country,omitempty"`
	City            string   `json:"city,omitempty"`
	Referrer        string   `json:"referrer,omitempty"`
	UTMSource       string   `json:"utm_source,omitempty"`
	UTMMedium       string   `json:"utm_medium,omitempty"`
	UTMCampaign     string   `json:"utm_campaign,omitempty"`
	Metadata        string   `json:"metadata,omitempty"`
}

// TrackResponse reports the ingestion gate's decision.
type TrackResponse struct {
	Accepted bool `json:"accepted"`
	Deduped  bool `json:"deduped"`
}

// OverviewTotals are the summed engagement metrics for a range.
type OverviewTotals struct {
	Views            int64   `json:"views"`
	UniqueViewers    int64   `json:"unique_viewers"`
	WatchTimeSeconds float64 `json:"watch_time_seconds"`
	Completes        int64   `json:"completes"`
	AvgWatchTime     float64 `json:"avg_watch_time"`
}

// VideoViews is one entry of the top-videos breakdown.
type VideoViews struct {
	VideoID string `json:"video_id"`
	Views   int64  `json:"views"`
}

// CountryViews is one entry of the country breakdown.
type CountryViews struct {
	CountryCode string `json:"country_code"`
	Views       int64  `json:"views"`
}

// OverviewResponse is the body of GET /analytics/overview.
type OverviewResponse struct {
	TenantID     string         `json:"tenant_id"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	Totals       OverviewTotals `json:"totals"`
	TopVideos    []VideoViews   `json:"top_videos"`
	TopCountries []CountryViews `json:"top_countries"`
	Source       string         `json:"source"` // "aggregates" or "events"
	GeneratedAt  time.Time      `json:"generated_at"`
}

// TimeseriesPoint is one bucket of the time-series response.
type TimeseriesPoint struct {
	BucketStart      time.Time `json:"bucket_start"`
	Views            int64     `json:"views"`
	UniqueViewers    int64     `json:"unique_viewers"`
	WatchTimeSeconds float64   `json:"watch_time_seconds"`
	Completes        int64     `json:"completes"`
}

// TimeseriesResponse is the body of the timeseries endpoint.
type TimeseriesResponse struct {
	VideoID string            `json:"video_id"`
	Bucket  string            `json:"bucket"`
	Points  []TimeseriesPoint `json:"points"`
}

// RetentionPoint is one decile of the retention curve.
type RetentionPoint struct {
	PercentPosition int     `json:"percent_position"`
	Retention       float64 `json:"retention"`
}

// RetentionResponse is the body of the retention endpoint.
type RetentionResponse struct {
	VideoID         string           `json:"video_id"`
	DurationSeconds float64          `json:"duration_seconds"`
	TotalViews      int64            `json:"total_views"`
	Curve           []RetentionPoint `json:"curve"`
}

// BreakdownEntry is one group of an attribute breakdown.
type BreakdownEntry struct {
	Key          string  `json:"key"`
	Count        int64   `json:"count"`
	Percentage   float64 `json:"percentage"`
	AvgWatchTime float64 `json:"avg_watch_time"`
}

// BreakdownResponse is the body of the device/browser/os/geography endpoints.
type BreakdownResponse struct {
	VideoID     string           `json:"video_id"`
	Attribute   string           `json:"attribute"`
	TotalEvents int64            `json:"total_events"`
	Entries     []BreakdownEntry `json:"entries"`
}

// EngagementResponse is the body of the engagement endpoint.
type EngagementResponse struct {
	VideoID      string  `json:"video_id"`
	Likes        int64   `json:"likes"`
	Dislikes     int64   `json:"dislikes"`
	Comments     int64   `json:"comments"`
	Shares       int64   `json:"shares"`
	Downloads    int64   `json:"downloads"`
	LikeRatio    float64 `json:"like_ratio"`
	CommentRatio float64 `json:"comment_ratio"`
	ShareRatio   float64 `json:"share_ratio"`
}

// LiveViewNotification is the payload published on accepted view events.
type LiveViewNotification struct {
	TenantID  string    `json:"tenant_id"`
	VideoID   string    `json:"video_id"`
	EventID   string    `json:"event_id"`
	Country   string    `json:"country,omitempty"`
	Device    string    `json:"device,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
