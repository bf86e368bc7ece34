package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/spyglass/internal/aggregates"
	"frameworks/spyglass/internal/export"
	"frameworks/spyglass/internal/ingest"
	"frameworks/spyglass/internal/notify"
	"frameworks/spyglass/internal/query"
	"frameworks/spyglass/internal/realtime"
	"frameworks/spyglass/internal/store"
	"frameworks/spyglass/pkg/api/spyglass"
	"frameworks/spyglass/pkg/logging"
	"frameworks/spyglass/pkg/middleware"
	"frameworks/spyglass/pkg/models"
)

type testEnv struct {
	router     *gin.Engine
	events     *store.MemoryEventStore
	aggs       *store.MemoryAggregateStore
	catalog    *store.MemoryVideoCatalog
	maintainer *aggregates.Maintainer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.NewLoggerWithService("handlers-test")

	env := &testEnv{
		events:  store.NewMemoryEventStore(),
		aggs:    store.NewMemoryAggregateStore(),
		catalog: store.NewMemoryVideoCatalog(),
	}
	env.catalog.Put(models.Video{ID: "v1", TenantID: "tenant-1", DurationSeconds: 600})

	env.maintainer = aggregates.NewMaintainer(env.events, env.aggs, log, 0)
	env.maintainer.Start()
	t.Cleanup(env.maintainer.Stop)

	h := realtime.NewHub(log)
	go h.Run()

	Init(
		ingest.NewGate(env.events, env.catalog, env.maintainer, notify.Nop{}, log),
		query.NewEngine(env.events, env.aggs, env.catalog, log, 0),
		export.NewExporter(env.events),
		h,
		log,
		nil,
	)

	router := gin.New()
	router.Use(middleware.TenantContextMiddleware())
	router.POST("/track", TrackEvent)
	router.GET("/analytics/overview", GetOverview)
	router.GET("/analytics/videos/:video_id/timeseries", GetTimeseries)
	router.GET("/analytics/videos/:video_id/retention", GetRetention)
	router.GET("/analytics/videos/:video_id/geography", GetGeography)
	router.GET("/analytics/videos/:video_id/devices", GetDevices)
	router.GET("/analytics/videos/:video_id/engagement", GetEngagement)
	router.GET("/analytics/videos/:video_id/export.csv", ExportCSV)
	env.router = router
	return env
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Tenant-ID", "tenant-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestTrackEvent_AcceptAndDedup(t *testing.T) {
	env := setupTestEnv(t)
	body := `{"video_id":"v1","event_type":"view","session_id":"s1"}`

	w := env.do(http.MethodPost, "/track", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp spyglass.TrackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)

	w = env.do(http.MethodPost, "/track", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)
	assert.True(t, resp.Deduped)
}

func TestTrackEvent_RequiresTenantHeader(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/track", strings.NewReader(`{"video_id":"v1","event_type":"view"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackEvent_UnknownVideo(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(http.MethodPost, "/track", `{"video_id":"missing","event_type":"view"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrackEvent_ViewerHeaderDedupsAcrossSessions(t *testing.T) {
	env := setupTestEnv(t)
	viewer := map[string]string{"X-Viewer-ID": "user-1"}

	w := env.do(http.MethodPost, "/track", `{"video_id":"v1","event_type":"view","session_id":"s1"}`, viewer)
	require.Equal(t, http.StatusOK, w.Code)

	var resp spyglass.TrackResponse
	w = env.do(http.MethodPost, "/track", `{"video_id":"v1","event_type":"view","session_id":"s2"}`, viewer)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Deduped)
}

func TestGetOverview_FallbackRightAfterFirstView(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(http.MethodPost, "/track", `{"video_id":"v1","event_type":"view","session_id":"s1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/analytics/overview", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp spyglass.OverviewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Totals.Views)
	assert.Equal(t, int64(1), resp.Totals.UniqueViewers)
}

func TestGetOverview_RejectsBadTimes(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(http.MethodGet, "/analytics/overview?start=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTimeseries_UnknownBucket(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(http.MethodGet, "/analytics/videos/v1/timeseries?bucket=week", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRetention_UnknownDurationConflicts(t *testing.T) {
	env := setupTestEnv(t)
	env.catalog.Put(models.Video{ID: "nodur", TenantID: "tenant-1"})

	w := env.do(http.MethodGet, "/analytics/videos/nodur/retention", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodGet, "/analytics/videos/ghost/retention", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDevices_AttributeSwitch(t *testing.T) {
	env := setupTestEnv(t)
	env.do(http.MethodPost, "/track", `{"video_id":"v1","event_type":"view","session_id":"s1","browser":"Firefox"}`, nil)

	w := env.do(http.MethodGet, "/analytics/videos/v1/devices?attribute=browser", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp spyglass.BreakdownResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "browser", resp.Attribute)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "Firefox", resp.Entries[0].Key)
}

func TestExportCSV_QuotedReferrer(t *testing.T) {
	env := setupTestEnv(t)
	env.do(http.MethodPost, "/track", `{"video_id":"v1","event_type":"view","session_id":"s1"}`, nil)
	env.do(http.MethodPost, "/track", `{"video_id":"v1","event_type":"exit","session_id":"s1","position_seconds":42,"referrer":"https://a.example/?x=1,2"}`, nil)

	w := env.do(http.MethodGet, "/analytics/videos/v1/export.csv", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "engagement-v1.csv")

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(export.Header, ","), lines[0])
	assert.Contains(t, lines[2], `"https://a.example/?x=1,2"`)
}
