// Package query answers the read-side analytics requests. Reads prefer the
// pre-computed aggregate tables; when a range has no aggregate rows yet the
// engine recomputes the same shape from raw events with the shared rollup
// functions, so both paths return the same numbers.
package query

import (
	"context"
	"sort"
	"time"

	"frameworks/spyglass/internal/aggregates"
	"frameworks/spyglass/internal/store"
	"frameworks/spyglass/pkg/api/spyglass"
	"frameworks/spyglass/pkg/apperrors"
	"frameworks/spyglass/pkg/logging"
	"frameworks/spyglass/pkg/models"
)

const (
	// DefaultFallbackMaxRows bounds how many raw events a fallback
	// recomputation may scan before failing with resource_exhausted.
	DefaultFallbackMaxRows = 500000

	minTopN = 1
	maxTopN = 50

	BucketHour = "hour"
	BucketDay  = "day"

	sourceAggregates = "aggregates"
	sourceEvents     = "events"
)

// Engine serves all read-only analytics operations.
type Engine struct {
	events          store.EventStore
	aggs            store.AggregateStore
	catalog         store.VideoCatalog
	logger          logging.Logger
	fallbackMaxRows int
}

func NewEngine(events store.EventStore, aggs store.AggregateStore, catalog store.VideoCatalog, logger logging.Logger, fallbackMaxRows int) *Engine {
	if fallbackMaxRows <= 0 {
		fallbackMaxRows = DefaultFallbackMaxRows
	}
	return &Engine{
		events:          events,
		aggs:            aggs,
		catalog:         catalog,
		logger:          logger,
		fallbackMaxRows: fallbackMaxRows,
	}
}

func clampTopN(n int) int {
	if n < minTopN {
		return minTopN
	}
	if n > maxTopN {
		return maxTopN
	}
	return n
}

// Overview sums the range across all of the tenant's videos and attaches the
// top-N videos and countries by views. If the range has zero daily aggregate
// rows the whole response is recomputed from raw events, which keeps results
// correct before the first refresh lands.
func (e *Engine) Overview(ctx context.Context, tenantID string, start, end time.Time, topN int) (spyglass.OverviewResponse, error) {
	if err := validateRange(start, end); err != nil {
		return spyglass.OverviewResponse{}, err
	}
	topN = clampTopN(topN)

	daily, err := e.aggs.DailyRange(ctx, tenantID, "", start, end)
	if err != nil {
		return spyglass.OverviewResponse{}, err
	}

	source := sourceAggregates
	var countries []models.CountryDailyAggregate
	if len(daily) == 0 {
		events, err := e.rawEvents(ctx, tenantID, "", start, end)
		if err != nil {
			return spyglass.OverviewResponse{}, err
		}
		daily = aggregates.DailyFromEvents(tenantID, events)
		countries = aggregates.CountryDailyFromEvents(tenantID, events)
		source = sourceEvents
	} else {
		countries, err = e.aggs.CountryDailyRange(ctx, tenantID, start, end)
		if err != nil {
			return spyglass.OverviewResponse{}, err
		}
	}

	resp := spyglass.OverviewResponse{
		TenantID:     tenantID,
		Start:        start,
		End:          end,
		Source:       source,
		TopVideos:    topVideos(daily, topN),
		TopCountries: topCountries(countries, topN),
		GeneratedAt:  time.Now().UTC(),
	}
	for _, agg := range daily {
		resp.Totals.Views += agg.Views
		resp.Totals.UniqueViewers += agg.UniqueViewers
		resp.Totals.WatchTimeSeconds += agg.WatchTimeSeconds
		resp.Totals.Completes += agg.Completes
	}
	if resp.Totals.Views > 0 {
		resp.Totals.AvgWatchTime = resp.Totals.WatchTimeSeconds / float64(resp.Totals.Views)
	}
	return resp, nil
}

func topVideos(daily []models.DailyAggregate, topN int) []spyglass.VideoViews {
	views := make(map[string]int64)
	for _, agg := range daily {
		views[agg.VideoID] += agg.Views
	}
	out := make([]spyglass.VideoViews, 0, len(views))
	for videoID, n := range views {
		out = append(out, spyglass.VideoViews{VideoID: videoID, Views: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].VideoID < out[j].VideoID
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func topCountries(countries []models.CountryDailyAggregate, topN int) []spyglass.CountryViews {
	views := make(map[string]int64)
	for _, agg := range countries {
		views[agg.CountryCode] += agg.Views
	}
	out := make([]spyglass.CountryViews, 0, len(views))
	for code, n := range views {
		out = append(out, spyglass.CountryViews{CountryCode: code, Views: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].CountryCode < out[j].CountryCode
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Timeseries returns per-bucket metrics for one video. Day buckets fall back
// to raw events when no aggregate rows exist; hour buckets never fall back,
// hourly granularity is best-effort and not reconstructed on demand.
func (e *Engine) Timeseries(ctx context.Context, tenantID, videoID, bucket string, start, end time.Time) (spyglass.TimeseriesResponse, error) {
	if videoID == "" {
		return spyglass.TimeseriesResponse{}, apperrors.New(apperrors.KindInvalidArgument, "video_id is required")
	}
	if err := validateRange(start, end); err != nil {
		return spyglass.TimeseriesResponse{}, err
	}

	resp := spyglass.TimeseriesResponse{VideoID: videoID, Bucket: bucket}
	switch bucket {
	case BucketHour:
		hourly, err := e.aggs.HourlyRange(ctx, tenantID, videoID, start, end)
		if err != nil {
			return spyglass.TimeseriesResponse{}, err
		}
		for _, agg := range hourly {
			resp.Points = append(resp.Points, spyglass.TimeseriesPoint{
				BucketStart:      agg.BucketStart,
				Views:            agg.Views,
				UniqueViewers:    agg.UniqueViewers,
				WatchTimeSeconds: agg.WatchTimeSeconds,
				Completes:        agg.Completes,
			})
		}
	case BucketDay:
		daily, err := e.aggs.DailyRange(ctx, tenantID, videoID, start, end)
		if err != nil {
			return spyglass.TimeseriesResponse{}, err
		}
		if len(daily) == 0 {
			events, err := e.rawEvents(ctx, tenantID, videoID, start, end)
			if err != nil {
				return spyglass.TimeseriesResponse{}, err
			}
			daily = aggregates.DailyFromEvents(tenantID, events)
		}
		for _, agg := range daily {
			resp.Points = append(resp.Points, spyglass.TimeseriesPoint{
				BucketStart:      agg.Date,
				Views:            agg.Views,
				UniqueViewers:    agg.UniqueViewers,
				WatchTimeSeconds: agg.WatchTimeSeconds,
				Completes:        agg.Completes,
			})
		}
	default:
		return spyglass.TimeseriesResponse{}, apperrors.New(apperrors.KindInvalidArgument, "bucket must be %q or %q", BucketHour, BucketDay)
	}
	return resp, nil
}

// Retention computes the ten-decile retention curve from the video's raw
// events. retention[i] is the percentage of views still watching at i% of
// the video's duration, judged by exit/complete positions.
func (e *Engine) Retention(ctx context.Context, tenantID, videoID string) (spyglass.RetentionResponse, error) {
	if videoID == "" {
		return spyglass.RetentionResponse{}, apperrors.New(apperrors.KindInvalidArgument, "video_id is required")
	}

	video, err := e.catalog.Lookup(ctx, tenantID, videoID)
	if err != nil {
		return spyglass.RetentionResponse{}, err
	}
	if video.DurationSeconds <= 0 {
		return spyglass.RetentionResponse{}, apperrors.New(apperrors.KindInvalidState, "video %s has no known duration", videoID)
	}

	events, err := e.rawEvents(ctx, tenantID, videoID, time.Time{}, time.Time{})
	if err != nil {
		return spyglass.RetentionResponse{}, err
	}

	var views int64
	var positions []float64
	for _, ev := range events {
		switch ev.EventType {
		case models.EventView:
			views++
		case models.EventExit, models.EventComplete:
			if ev.PositionSeconds != nil {
				positions = append(positions, *ev.PositionSeconds)
			}
		}
	}

	resp := spyglass.RetentionResponse{
		VideoID:         videoID,
		DurationSeconds: video.DurationSeconds,
		TotalViews:      views,
	}
	for i := 10; i <= 100; i += 10 {
		point := spyglass.RetentionPoint{PercentPosition: i}
		if views > 0 {
			threshold := video.DurationSeconds * float64(i) / 100
			var reached int64
			for _, pos := range positions {
				if pos >= threshold {
					reached++
				}
			}
			point.Retention = 100 * float64(reached) / float64(views)
		}
		resp.Curve = append(resp.Curve, point)
	}
	return resp, nil
}

// Breakdown attribute names.
const (
	AttrDevice  = "device"
	AttrBrowser = "browser"
	AttrOS      = "os"
	AttrCountry = "country"
)

// Breakdown groups the video's raw events in [start, end) by one attribute.
// Each group carries its share of all events and the average watch time of
// its exit/complete events.
func (e *Engine) Breakdown(ctx context.Context, tenantID, videoID, attribute string, start, end time.Time) (spyglass.BreakdownResponse, error) {
	if videoID == "" {
		return spyglass.BreakdownResponse{}, apperrors.New(apperrors.KindInvalidArgument, "video_id is required")
	}

	var pick func(models.EngagementEvent) string
	switch attribute {
	case AttrDevice:
		pick = func(ev models.EngagementEvent) string { return ev.Device }
	case AttrBrowser:
		pick = func(ev models.EngagementEvent) string { return ev.Browser }
	case AttrOS:
		pick = func(ev models.EngagementEvent) string { return ev.OS }
	case AttrCountry:
		pick = func(ev models.EngagementEvent) string { return ev.Country }
	default:
		return spyglass.BreakdownResponse{}, apperrors.New(apperrors.KindInvalidArgument, "unknown breakdown attribute %q", attribute)
	}

	events, err := e.rawEvents(ctx, tenantID, videoID, start, end)
	if err != nil {
		return spyglass.BreakdownResponse{}, err
	}

	type group struct {
		count      int64
		watchTime  float64
		watchCount int64
	}
	groups := make(map[string]*group)
	for _, ev := range events {
		key := pick(ev)
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.count++
		if ev.EventType == models.EventExit || ev.EventType == models.EventComplete {
			g.watchTime += ev.Position()
			g.watchCount++
		}
	}

	resp := spyglass.BreakdownResponse{
		VideoID:     videoID,
		Attribute:   attribute,
		TotalEvents: int64(len(events)),
	}
	for key, g := range groups {
		entry := spyglass.BreakdownEntry{
			Key:        key,
			Count:      g.count,
			Percentage: 100 * float64(g.count) / float64(len(events)),
		}
		if g.watchCount > 0 {
			entry.AvgWatchTime = g.watchTime / float64(g.watchCount)
		}
		resp.Entries = append(resp.Entries, entry)
	}
	sort.Slice(resp.Entries, func(i, j int) bool {
		if resp.Entries[i].Count != resp.Entries[j].Count {
			return resp.Entries[i].Count > resp.Entries[j].Count
		}
		return resp.Entries[i].Key < resp.Entries[j].Key
	})
	return resp, nil
}

// Engagement counts the reaction events for one video in [start, end).
func (e *Engine) Engagement(ctx context.Context, tenantID, videoID string, start, end time.Time) (spyglass.EngagementResponse, error) {
	if videoID == "" {
		return spyglass.EngagementResponse{}, apperrors.New(apperrors.KindInvalidArgument, "video_id is required")
	}

	events, err := e.rawEvents(ctx, tenantID, videoID, start, end)
	if err != nil {
		return spyglass.EngagementResponse{}, err
	}

	resp := spyglass.EngagementResponse{VideoID: videoID}
	var views int64
	for _, ev := range events {
		switch ev.EventType {
		case models.EventView:
			views++
		case models.EventLike:
			resp.Likes++
		case models.EventDislike:
			resp.Dislikes++
		case models.EventComment:
			resp.Comments++
		case models.EventShare:
			resp.Shares++
		case models.EventDownload:
			resp.Downloads++
		}
	}
	if resp.Likes+resp.Dislikes > 0 {
		resp.LikeRatio = 100 * float64(resp.Likes) / float64(resp.Likes+resp.Dislikes)
	}
	if views > 0 {
		resp.CommentRatio = 100 * float64(resp.Comments) / float64(views)
		resp.ShareRatio = 100 * float64(resp.Shares) / float64(views)
	}
	return resp, nil
}

func (e *Engine) rawEvents(ctx context.Context, tenantID, videoID string, start, end time.Time) ([]models.EngagementEvent, error) {
	return e.events.EventsInRange(ctx, tenantID, store.EventQuery{
		VideoID: videoID,
		Start:   start,
		End:     end,
		Limit:   e.fallbackMaxRows,
	})
}

func validateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperrors.New(apperrors.KindInvalidArgument, "start and end are required")
	}
	if !start.Before(end) {
		return apperrors.New(apperrors.KindInvalidArgument, "start must be before end")
	}
	return nil
}
