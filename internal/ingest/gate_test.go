package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/spyglass/internal/store"
	"frameworks/spyglass/pkg/api/spyglass"
	"frameworks/spyglass/pkg/apperrors"
	"frameworks/spyglass/pkg/logging"
	"frameworks/spyglass/pkg/models"
)

type recordingRefresher struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingRefresher) Enqueue(string, string, time.Time) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

func (r *recordingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type waitPublisher struct {
	mu     sync.Mutex
	topics []string
	notify chan struct{}
}

func newWaitPublisher() *waitPublisher {
	return &waitPublisher{notify: make(chan struct{}, 16)}
}

func (p *waitPublisher) Publish(_ context.Context, topic string, _ spyglass.LiveViewNotification) error {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.mu.Unlock()
	p.notify <- struct{}{}
	return nil
}

func (p *waitPublisher) Close() error { return nil }

func (p *waitPublisher) waitFor(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.notify:
		case <-time.After(time.Second):
			t.Fatalf("expected %d publishes", n)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func strptr(s string) *string { return &s }

type gateFixture struct {
	gate      *Gate
	events    *store.MemoryEventStore
	catalog   *store.MemoryVideoCatalog
	refresher *recordingRefresher
	publisher *waitPublisher
	now       time.Time
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	f := &gateFixture{
		events:    store.NewMemoryEventStore(),
		catalog:   store.NewMemoryVideoCatalog(),
		refresher: &recordingRefresher{},
		publisher: newWaitPublisher(),
		now:       time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	f.catalog.Put(models.Video{ID: "v1", TenantID: "tenant-1", DurationSeconds: 600})
	f.gate = NewGate(f.events, f.catalog, f.refresher, f.publisher, logging.NewLoggerWithService("ingest-test"))
	f.gate.nowFunc = func() time.Time { return f.now }
	return f
}

func (f *gateFixture) track(t *testing.T, req spyglass.TrackRequest) spyglass.TrackResponse {
	t.Helper()
	resp, err := f.gate.Track(context.Background(), "tenant-1", nil, req)
	require.NoError(t, err)
	return resp
}

func TestTrack_DedupWithinWindow(t *testing.T) {
	f := newGateFixture(t)
	req := spyglass.TrackRequest{VideoID: "v1", EventType: models.EventView, SessionID: strptr("s1")}

	first := f.track(t, req)
	assert.True(t, first.Accepted)
	assert.False(t, first.Deduped)

	// Five minutes later, same session: deduped, no writes.
	f.now = f.now.Add(5 * time.Minute)
	second := f.track(t, req)
	assert.False(t, second.Accepted)
	assert.True(t, second.Deduped)

	events, err := f.events.EventsInRange(context.Background(), "tenant-1", store.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	v, err := f.catalog.Lookup(context.Background(), "tenant-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ViewCount)
}

func TestTrack_WindowBoundary(t *testing.T) {
	f := newGateFixture(t)
	req := spyglass.TrackRequest{VideoID: "v1", EventType: models.EventView, SessionID: strptr("s1")}

	f.track(t, req)
	f.now = f.now.Add(31 * time.Minute)
	resp := f.track(t, req)
	assert.True(t, resp.Accepted)

	events, err := f.events.EventsInRange(context.Background(), "tenant-1", store.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	v, err := f.catalog.Lookup(context.Background(), "tenant-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ViewCount)
}

func TestTrack_UnidentifiedViewerSkipsDedup(t *testing.T) {
	f := newGateFixture(t)
	req := spyglass.TrackRequest{VideoID: "v1", EventType: models.EventView}

	assert.True(t, f.track(t, req).Accepted)
	assert.True(t, f.track(t, req).Accepted)

	events, err := f.events.EventsInRange(context.Background(), "tenant-1", store.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestTrack_AuthenticatedViewerKeyWinsOverSession(t *testing.T) {
	f := newGateFixture(t)

	// Same user from two different sessions: still one view.
	resp, err := f.gate.Track(context.Background(), "tenant-1", strptr("user-1"),
		spyglass.TrackRequest{VideoID: "v1", EventType: models.EventView, SessionID: strptr("s1")})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)

	resp, err = f.gate.Track(context.Background(), "tenant-1", strptr("user-1"),
		spyglass.TrackRequest{VideoID: "v1", EventType: models.EventView, SessionID: strptr("s2")})
	require.NoError(t, err)
	assert.True(t, resp.Deduped)
}

func TestTrack_NonViewEventsNeverDeduped(t *testing.T) {
	f := newGateFixture(t)
	req := spyglass.TrackRequest{VideoID: "v1", EventType: models.EventLike, SessionID: strptr("s1")}

	assert.True(t, f.track(t, req).Accepted)
	assert.True(t, f.track(t, req).Accepted)

	// Likes do not bump the view counter.
	v, err := f.catalog.Lookup(context.Background(), "tenant-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.ViewCount)
}

func TestTrack_ValidationAndNotFound(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Track(ctx, "tenant-1", nil, spyglass.TrackRequest{EventType: models.EventView})
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))

	_, err = f.gate.Track(ctx, "tenant-1", nil, spyglass.TrackRequest{VideoID: "v1", EventType: "applause"})
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))

	neg := -1.0
	_, err = f.gate.Track(ctx, "tenant-1", nil, spyglass.TrackRequest{VideoID: "v1", EventType: models.EventExit, PositionSeconds: &neg})
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))

	// Complete and exit must carry the playhead.
	_, err = f.gate.Track(ctx, "tenant-1", nil, spyglass.TrackRequest{VideoID: "v1", EventType: models.EventComplete})
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))

	_, err = f.gate.Track(ctx, "tenant-1", nil, spyglass.TrackRequest{VideoID: "v1", EventType: models.EventExit})
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))

	_, err = f.gate.Track(ctx, "tenant-1", nil, spyglass.TrackRequest{VideoID: "missing", EventType: models.EventView})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	// The video exists under tenant-1 only.
	_, err = f.gate.Track(ctx, "tenant-2", nil, spyglass.TrackRequest{VideoID: "v1", EventType: models.EventView})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestTrack_PublishesBothTopicScopes(t *testing.T) {
	f := newGateFixture(t)
	f.track(t, spyglass.TrackRequest{VideoID: "v1", EventType: models.EventView, SessionID: strptr("s1")})

	topics := f.publisher.waitFor(t, 2)
	assert.Contains(t, topics, "tenant:tenant-1")
	assert.Contains(t, topics, "tenant:tenant-1:video:v1")
}

func TestTrack_EnqueuesRefresh(t *testing.T) {
	f := newGateFixture(t)
	f.track(t, spyglass.TrackRequest{VideoID: "v1", EventType: models.EventExit, SessionID: strptr("s1"), PositionSeconds: f64ptr(12)})
	assert.Equal(t, 1, f.refresher.count())
}

func f64ptr(f float64) *float64 { return &f }

func TestTrack_ConcurrentSameKeySingleAccept(t *testing.T) {
	f := newGateFixture(t)
	req := spyglass.TrackRequest{VideoID: "v1", EventType: models.EventView, SessionID: strptr("s1")}

	const n = 8
	var wg sync.WaitGroup
	accepted := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.gate.Track(context.Background(), "tenant-1", nil, req)
			if err != nil {
				t.Error(err)
				return
			}
			accepted <- resp.Accepted
		}()
	}
	wg.Wait()
	close(accepted)

	var accepts int
	for ok := range accepted {
		if ok {
			accepts++
		}
	}
	assert.Equal(t, 1, accepts)
}
