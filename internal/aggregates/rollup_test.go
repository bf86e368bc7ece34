package aggregates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"frameworks/spyglass/pkg/models"
)

func strptr(s string) *string { return &s }
func f64ptr(f float64) *float64 { return &f }

func TestCompute_UniqueViewersUnionRule(t *testing.T) {
	// user-1 appears both logged in and as anonymous session s1. The union
	// rule counts them separately: 2 distinct users + 1 anonymous session.
	events := []models.EngagementEvent{
		{EventType: models.EventView, ViewerUserID: strptr("user-1")},
		{EventType: models.EventView, ViewerUserID: strptr("user-1")},
		{EventType: models.EventView, ViewerUserID: strptr("user-2")},
		{EventType: models.EventView, SessionID: strptr("s1")},
		{EventType: models.EventView, ViewerUserID: strptr("user-1"), SessionID: strptr("s1")},
	}

	m := Compute(events)
	assert.Equal(t, int64(5), m.Views)
	assert.Equal(t, int64(3), m.UniqueViewers)
}

func TestCompute_WatchTimeFromCompleteAndExit(t *testing.T) {
	events := []models.EngagementEvent{
		{EventType: models.EventView, SessionID: strptr("s1"), PositionSeconds: f64ptr(999)},
		{EventType: models.EventExit, SessionID: strptr("s1"), PositionSeconds: f64ptr(120)},
		{EventType: models.EventComplete, SessionID: strptr("s2"), PositionSeconds: f64ptr(600)},
		{EventType: models.EventLike, SessionID: strptr("s2")},
	}

	m := Compute(events)
	assert.Equal(t, int64(1), m.Views)
	assert.Equal(t, int64(1), m.Completes)
	assert.Equal(t, 720.0, m.WatchTimeSeconds)
}

func TestComputeCountryDaily_GroupsViewsOnly(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []models.EngagementEvent{
		{EventType: models.EventView, Country: "DE"},
		{EventType: models.EventView, Country: "DE"},
		{EventType: models.EventView, Country: "US"},
		{EventType: models.EventExit, Country: "US"},
		{EventType: models.EventView},
	}

	got := ComputeCountryDaily("tenant-1", "v1", day, events)
	assert.Len(t, got, 3)
	byCountry := map[string]int64{}
	for _, agg := range got {
		byCountry[agg.CountryCode] = agg.Views
	}
	assert.Equal(t, int64(2), byCountry["DE"])
	assert.Equal(t, int64(1), byCountry["US"])
	assert.Equal(t, int64(1), byCountry[""])
}

func TestDailyFromEvents_MatchesComputeDaily(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []models.EngagementEvent{
		{VideoID: "v1", EventType: models.EventView, SessionID: strptr("s1"), Timestamp: day.Add(10 * time.Hour)},
		{VideoID: "v1", EventType: models.EventExit, SessionID: strptr("s1"), PositionSeconds: f64ptr(90), Timestamp: day.Add(10*time.Hour + 3*time.Minute)},
		{VideoID: "v1", EventType: models.EventView, ViewerUserID: strptr("user-1"), Timestamp: day.Add(26 * time.Hour)}, // next day
	}

	got := DailyFromEvents("tenant-1", events)
	assert.Equal(t, []models.DailyAggregate{
		ComputeDaily("tenant-1", "v1", day, events[:2]),
		ComputeDaily("tenant-1", "v1", day.AddDate(0, 0, 1), events[2:]),
	}, got)
}

func TestDayAndHourTruncation(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2025, 3, 10, 0, 30, 12, 0, loc) // 2025-03-09 23:30:12 UTC

	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), DayOf(at))
	assert.Equal(t, time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC), HourOf(at))
}
