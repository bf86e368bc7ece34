// Package aggregates recomputes the time-bucketed rollups from raw events.
// The rollup math lives in pure functions so the maintainer and the query
// fallback path produce identical numbers from the same events.
package aggregates

import (
	"sort"
	"time"

	"frameworks/spyglass/pkg/models"
)

// Metrics is the shared rollup shape for one bucket of events.
type Metrics struct {
	Views            int64
	UniqueViewers    int64
	WatchTimeSeconds float64
	Completes        int64
}

// Compute rolls up one bucket. The caller scopes events to the bucket.
//
// uniqueViewers is the number of distinct non-null viewer user ids plus the
// number of distinct session ids among events without a user id. The two sets
// are summed, not deduplicated across each other: an anonymous session counts
// separately from an authenticated identity even when it is the same person
// across a login boundary, so the metric overcounts at login boundaries.
func Compute(events []models.EngagementEvent) Metrics {
	var m Metrics
	users := make(map[string]struct{})
	anonSessions := make(map[string]struct{})
	for _, ev := range events {
		if ev.ViewerUserID != nil {
			users[*ev.ViewerUserID] = struct{}{}
		} else if ev.SessionID != nil {
			anonSessions[*ev.SessionID] = struct{}{}
		}
		switch ev.EventType {
		case models.EventView:
			m.Views++
		case models.EventComplete:
			m.Completes++
			m.WatchTimeSeconds += ev.Position()
		case models.EventExit:
			m.WatchTimeSeconds += ev.Position()
		}
	}
	m.UniqueViewers = int64(len(users) + len(anonSessions))
	return m
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// HourOf truncates t to its UTC hour.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// ComputeDaily rolls up one (tenant, video, day) bucket.
func ComputeDaily(tenantID, videoID string, day time.Time, events []models.EngagementEvent) models.DailyAggregate {
	m := Compute(events)
	return models.DailyAggregate{
		TenantID:         tenantID,
		VideoID:          videoID,
		Date:             DayOf(day),
		Views:            m.Views,
		UniqueViewers:    m.UniqueViewers,
		WatchTimeSeconds: m.WatchTimeSeconds,
		Completes:        m.Completes,
	}
}

// ComputeHourly rolls up one (tenant, video, hour) bucket.
func ComputeHourly(tenantID, videoID string, hourStart time.Time, events []models.EngagementEvent) models.HourlyAggregate {
	m := Compute(events)
	return models.HourlyAggregate{
		TenantID:         tenantID,
		VideoID:          videoID,
		BucketStart:      HourOf(hourStart),
		Views:            m.Views,
		UniqueViewers:    m.UniqueViewers,
		WatchTimeSeconds: m.WatchTimeSeconds,
		Completes:        m.Completes,
	}
}

// ComputeCountryDaily rolls up per-country view counts for one
// (tenant, video, day) bucket. Events without a country are grouped under the
// empty code. Only views are tracked at this granularity.
func ComputeCountryDaily(tenantID, videoID string, day time.Time, events []models.EngagementEvent) []models.CountryDailyAggregate {
	views := make(map[string]int64)
	for _, ev := range events {
		if ev.EventType == models.EventView {
			views[ev.Country]++
		}
	}
	out := make([]models.CountryDailyAggregate, 0, len(views))
	for country, n := range views {
		out = append(out, models.CountryDailyAggregate{
			TenantID:    tenantID,
			VideoID:     videoID,
			Date:        DayOf(day),
			CountryCode: country,
			Views:       n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CountryCode < out[j].CountryCode })
	return out
}

// DailyFromEvents reconstructs daily buckets directly from raw events,
// grouped by (video, UTC day). The query engine uses this when a range has
// no aggregate rows yet; because it runs Compute per bucket it returns
// exactly what the maintainer would have written.
func DailyFromEvents(tenantID string, events []models.EngagementEvent) []models.DailyAggregate {
	type key struct {
		videoID string
		day     time.Time
	}
	buckets := make(map[key][]models.EngagementEvent)
	for _, ev := range events {
		k := key{videoID: ev.VideoID, day: DayOf(ev.Timestamp)}
		buckets[k] = append(buckets[k], ev)
	}
	out := make([]models.DailyAggregate, 0, len(buckets))
	for k, evs := range buckets {
		out = append(out, ComputeDaily(tenantID, k.videoID, k.day, evs))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].VideoID < out[j].VideoID
	})
	return out
}

// CountryDailyFromEvents reconstructs the per-country daily buckets from raw
// events, mirroring DailyFromEvents for the geography fallback.
func CountryDailyFromEvents(tenantID string, events []models.EngagementEvent) []models.CountryDailyAggregate {
	type key struct {
		videoID string
		day     time.Time
	}
	buckets := make(map[key][]models.EngagementEvent)
	for _, ev := range events {
		k := key{videoID: ev.VideoID, day: DayOf(ev.Timestamp)}
		buckets[k] = append(buckets[k], ev)
	}
	var out []models.CountryDailyAggregate
	for k, evs := range buckets {
		out = append(out, ComputeCountryDaily(tenantID, k.videoID, k.day, evs)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].VideoID != out[j].VideoID {
			return out[i].VideoID < out[j].VideoID
		}
		return out[i].CountryCode < out[j].CountryCode
	})
	return out
}
