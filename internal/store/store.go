// Package store is the tenant-scoped data access layer. Every method takes
// the tenant id as its first argument and every query binds it as a mandatory
// filter, so tenant isolation cannot be bypassed at a call site.
package store

import (
	"context"
	"time"

	"frameworks/spyglass/pkg/models"
)

// EventQuery bounds a raw-event scan. The time range is half-open
// [Start, End); a zero End means unbounded. Limit caps the number of rows a
// scan may touch — exceeding it yields a resource_exhausted error rather
// than an unbounded read.
type EventQuery struct {
	VideoID string // empty = all videos of the tenant
	Start   time.Time
	End     time.Time
	Limit   int
}

// EventStore is the append-only collection of raw engagement events. It is
// the source of truth: rows are inserted once and never mutated.
type EventStore interface {
	// Insert appends one accepted event.
	Insert(ctx context.Context, ev models.EngagementEvent) error
	// HasRecentView reports whether a view event for the same
	// (tenant, video, viewer key) exists at or after since.
	HasRecentView(ctx context.Context, tenantID, videoID string, key models.ViewerKey, since time.Time) (bool, error)
	// EventsInRange returns matching events ordered by timestamp ascending.
	EventsInRange(ctx context.Context, tenantID string, q EventQuery) ([]models.EngagementEvent, error)
}

// AggregateStore holds the three pre-computed rollup granularities. Writes
// replace the whole bucket in a single statement so readers never observe a
// partially updated row.
type AggregateStore interface {
	UpsertDaily(ctx context.Context, agg models.DailyAggregate) error
	UpsertHourly(ctx context.Context, agg models.HourlyAggregate) error
	UpsertCountryDaily(ctx context.Context, agg models.CountryDailyAggregate) error

	// DailyRange returns daily rows with date in [start, end). An empty
	// videoID selects all videos of the tenant.
	DailyRange(ctx context.Context, tenantID, videoID string, start, end time.Time) ([]models.DailyAggregate, error)
	HourlyRange(ctx context.Context, tenantID, videoID string, start, end time.Time) ([]models.HourlyAggregate, error)
	CountryDailyRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.CountryDailyAggregate, error)
}

// VideoCatalog is the slice of the video catalog this subsystem consumes:
// existence/duration lookups and the denormalized live view counter.
type VideoCatalog interface {
	// Lookup returns the video or a not_found error.
	Lookup(ctx context.Context, tenantID, videoID string) (models.Video, error)
	// IncrementViewCount atomically bumps the video's live view counter.
	IncrementViewCount(ctx context.Context, tenantID, videoID string) error
}
