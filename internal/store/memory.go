package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"frameworks/spyglass/pkg/apperrors"
	"frameworks/spyglass/pkg/models"
)

// MemoryEventStore is an in-process EventStore. It backs the memory storage
// backend and the package tests.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []models.EngagementEvent
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) Insert(_ context.Context, ev models.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryEventStore) HasRecentView(_ context.Context, tenantID, videoID string, key models.ViewerKey, since time.Time) (bool, error) {
	if !key.Identified() {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.TenantID != tenantID || ev.VideoID != videoID || ev.EventType != models.EventView {
			continue
		}
		if ev.Timestamp.Before(since) {
			continue
		}
		if models.ResolveViewerKey(ev.ViewerUserID, ev.SessionID) == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryEventStore) EventsInRange(_ context.Context, tenantID string, q EventQuery) ([]models.EngagementEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.EngagementEvent
	for _, ev := range s.events {
		if ev.TenantID != tenantID {
			continue
		}
		if q.VideoID != "" && ev.VideoID != q.VideoID {
			continue
		}
		if !q.Start.IsZero() && ev.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && !ev.Timestamp.Before(q.End) {
			continue
		}
		out = append(out, ev)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		return nil, apperrors.New(apperrors.KindResourceExhausted, "event scan exceeds %d rows, narrow the range", q.Limit)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// MemoryAggregateStore is an in-process AggregateStore.
type MemoryAggregateStore struct {
	mu           sync.RWMutex
	daily        map[string]models.DailyAggregate
	hourly       map[string]models.HourlyAggregate
	countryDaily map[string]models.CountryDailyAggregate
}

func NewMemoryAggregateStore() *MemoryAggregateStore {
	return &MemoryAggregateStore{
		daily:        make(map[string]models.DailyAggregate),
		hourly:       make(map[string]models.HourlyAggregate),
		countryDaily: make(map[string]models.CountryDailyAggregate),
	}
}

func bucketKey(parts ...string) string {
	key := parts[0]
	for _, p := range parts[1:] {
		key += "\x00" + p
	}
	return key
}

func (s *MemoryAggregateStore) UpsertDaily(_ context.Context, agg models.DailyAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily[bucketKey(agg.TenantID, agg.VideoID, agg.Date.Format("2006-01-02"))] = agg
	return nil
}

func (s *MemoryAggregateStore) UpsertHourly(_ context.Context, agg models.HourlyAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hourly[bucketKey(agg.TenantID, agg.VideoID, agg.BucketStart.Format(time.RFC3339))] = agg
	return nil
}

func (s *MemoryAggregateStore) UpsertCountryDaily(_ context.Context, agg models.CountryDailyAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countryDaily[bucketKey(agg.TenantID, agg.VideoID, agg.Date.Format("2006-01-02"), agg.CountryCode)] = agg
	return nil
}

func (s *MemoryAggregateStore) DailyRange(_ context.Context, tenantID, videoID string, start, end time.Time) ([]models.DailyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DailyAggregate
	for _, agg := range s.daily {
		if agg.TenantID != tenantID {
			continue
		}
		if videoID != "" && agg.VideoID != videoID {
			continue
		}
		if agg.Date.Before(start) || !agg.Date.Before(end) {
			continue
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryAggregateStore) HourlyRange(_ context.Context, tenantID, videoID string, start, end time.Time) ([]models.HourlyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HourlyAggregate
	for _, agg := range s.hourly {
		if agg.TenantID != tenantID {
			continue
		}
		if videoID != "" && agg.VideoID != videoID {
			continue
		}
		if agg.BucketStart.Before(start) || !agg.BucketStart.Before(end) {
			continue
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

func (s *MemoryAggregateStore) CountryDailyRange(_ context.Context, tenantID string, start, end time.Time) ([]models.CountryDailyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CountryDailyAggregate
	for _, agg := range s.countryDaily {
		if agg.TenantID != tenantID {
			continue
		}
		if agg.Date.Before(start) || !agg.Date.Before(end) {
			continue
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// MemoryVideoCatalog is an in-process VideoCatalog.
type MemoryVideoCatalog struct {
	mu     sync.RWMutex
	videos map[string]models.Video
}

func NewMemoryVideoCatalog() *MemoryVideoCatalog {
	return &MemoryVideoCatalog{videos: make(map[string]models.Video)}
}

// Put registers a video. Used by the memory backend seeder and tests.
func (c *MemoryVideoCatalog) Put(v models.Video) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videos[bucketKey(v.TenantID, v.ID)] = v
}

func (c *MemoryVideoCatalog) Lookup(_ context.Context, tenantID, videoID string) (models.Video, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.videos[bucketKey(tenantID, videoID)]
	if !ok {
		return models.Video{}, apperrors.New(apperrors.KindNotFound, "video %s not found", videoID)
	}
	return v, nil
}

func (c *MemoryVideoCatalog) IncrementViewCount(_ context.Context, tenantID, videoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := bucketKey(tenantID, videoID)
	v, ok := c.videos[key]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "video %s not found", videoID)
	}
	v.ViewCount++
	c.videos[key] = v
	return nil
}
