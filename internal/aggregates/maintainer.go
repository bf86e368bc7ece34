package aggregates

import (
	"context"
	"sync"
	"time"

	"frameworks/spyglass/internal/store"
	"frameworks/spyglass/pkg/logging"
)

// BucketKey identifies one refresh unit: everything recomputed for a
// (tenant, video, hour) touches the enclosing day and country buckets too.
type BucketKey struct {
	TenantID  string
	VideoID   string
	HourStart time.Time
}

// Maintainer recomputes aggregate buckets from raw events. Refreshes run on
// a single background worker; requests for a bucket that is already pending
// coalesce into one recompute. Refresh is replace-whole-bucket from source,
// so running one redundantly is harmless.
type Maintainer struct {
	events  store.EventStore
	aggs    store.AggregateStore
	logger  logging.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[BucketKey]struct{}
	wake    chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMaintainer creates a stopped maintainer; call Start to launch the
// worker. timeout bounds each bucket recompute, zero means 30s.
func NewMaintainer(events store.EventStore, aggs store.AggregateStore, logger logging.Logger, timeout time.Duration) *Maintainer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Maintainer{
		events:  events,
		aggs:    aggs,
		logger:  logger,
		timeout: timeout,
		pending: make(map[BucketKey]struct{}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *Maintainer) Start() {
	go m.run()
}

// Stop drains the pending set and waits for the worker to exit.
func (m *Maintainer) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Enqueue schedules a refresh of the buckets containing at. It never blocks
// and never fails: the raw event write is the durable source of truth and a
// lost refresh is repaired by the next one or by the query fallback.
func (m *Maintainer) Enqueue(tenantID, videoID string, at time.Time) {
	key := BucketKey{TenantID: tenantID, VideoID: videoID, HourStart: HourOf(at)}

	m.mu.Lock()
	m.pending[key] = struct{}{}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Maintainer) run() {
	defer close(m.done)
	for {
		select {
		case <-m.wake:
			m.drain()
		case <-m.stop:
			m.drain()
			return
		}
	}
}

func (m *Maintainer) drain() {
	for {
		m.mu.Lock()
		var key BucketKey
		found := false
		for k := range m.pending {
			key, found = k, true
			break
		}
		if found {
			delete(m.pending, key)
		}
		m.mu.Unlock()
		if !found {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := m.RefreshBuckets(ctx, key); err != nil {
			m.logger.WithError(err).WithFields(logging.Fields{
				"tenant_id":  key.TenantID,
				"video_id":   key.VideoID,
				"hour_start": key.HourStart,
			}).Warn("Aggregate refresh failed, fallback path stays authoritative")
		}
		cancel()
	}
}

// RefreshBuckets recomputes the daily, hourly, and per-country daily buckets
// containing key.HourStart from scratch. Idempotent: it rescans the raw
// events for the whole day and replaces each bucket in a single upsert.
func (m *Maintainer) RefreshBuckets(ctx context.Context, key BucketKey) error {
	day := DayOf(key.HourStart)
	dayEvents, err := m.events.EventsInRange(ctx, key.TenantID, store.EventQuery{
		VideoID: key.VideoID,
		Start:   day,
		End:     day.AddDate(0, 0, 1),
	})
	if err != nil {
		return err
	}

	if err := m.aggs.UpsertDaily(ctx, ComputeDaily(key.TenantID, key.VideoID, day, dayEvents)); err != nil {
		return err
	}

	hourStart := HourOf(key.HourStart)
	hourEnd := hourStart.Add(time.Hour)
	hourEvents := dayEvents[:0:0]
	for _, ev := range dayEvents {
		ts := ev.Timestamp.UTC()
		if !ts.Before(hourStart) && ts.Before(hourEnd) {
			hourEvents = append(hourEvents, ev)
		}
	}
	if err := m.aggs.UpsertHourly(ctx, ComputeHourly(key.TenantID, key.VideoID, hourStart, hourEvents)); err != nil {
		return err
	}

	for _, agg := range ComputeCountryDaily(key.TenantID, key.VideoID, day, dayEvents) {
		if err := m.aggs.UpsertCountryDaily(ctx, agg); err != nil {
			return err
		}
	}
	return nil
}
