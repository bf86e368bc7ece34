package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"frameworks/spyglass/internal/export"
	"frameworks/spyglass/internal/ingest"
	"frameworks/spyglass/internal/metrics"
	"frameworks/spyglass/internal/query"
	"frameworks/spyglass/internal/realtime"
	"frameworks/spyglass/pkg/api/spyglass"
	"frameworks/spyglass/pkg/apperrors"
	"frameworks/spyglass/pkg/logging"
)

var (
	gate           *ingest.Gate
	engine         *query.Engine
	exporter       *export.Exporter
	hub            *realtime.Hub
	logger         logging.Logger
	serviceMetrics *metrics.Metrics
)

// Init initializes the handlers package with its collaborators
func Init(g *ingest.Gate, e *query.Engine, exp *export.Exporter, h *realtime.Hub, log logging.Logger, m *metrics.Metrics) {
	gate = g
	engine = e
	exporter = exp
	hub = h
	logger = log
	serviceMetrics = m
}

func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidArgument:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidState:
		return http.StatusConflict
	case apperrors.KindResourceExhausted:
		return http.StatusTooManyRequests
	case apperrors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
	}
	c.JSON(status, spyglass.ErrorResponse{Error: err.Error()})
}

// timeRange parses start/end query parameters, defaulting to the trailing
// window when absent.
func timeRange(c *gin.Context, window time.Duration) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	startRaw := c.DefaultQuery("start", now.Add(-window).Format(time.RFC3339))
	endRaw := c.DefaultQuery("end", now.Format(time.RFC3339))

	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, spyglass.ErrorResponse{Error: "Invalid start format, want RFC3339"})
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, spyglass.ErrorResponse{Error: "Invalid end format, want RFC3339"})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func viewerUserID(c *gin.Context) *string {
	if userID := c.GetString("user_id"); userID != "" {
		return &userID
	}
	return nil
}

// TrackEvent ingests one engagement event (tenant-scoped)
func TrackEvent(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req spyglass.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, spyglass.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := gate.Track(c.Request.Context(), tenantID, viewerUserID(c), req)
	if err != nil {
		if serviceMetrics != nil {
			serviceMetrics.EventsTracked.WithLabelValues(req.EventType, "error").Inc()
		}
		respondError(c, err)
		return
	}

	if serviceMetrics != nil {
		status := "accepted"
		if resp.Deduped {
			status = "deduped"
			serviceMetrics.DedupHits.WithLabelValues(req.EventType).Inc()
		}
		serviceMetrics.EventsTracked.WithLabelValues(req.EventType, status).Inc()
	}
	c.JSON(http.StatusOK, resp)
}

// GetOverview returns the tenant-wide engagement summary for a range
func GetOverview(c *gin.Context) {
	start := time.Now()
	defer func() {
		if serviceMetrics != nil {
			serviceMetrics.QueryDuration.WithLabelValues("overview").Observe(time.Since(start).Seconds())
		}
	}()

	tenantID := c.GetString("tenant_id")
	from, to, ok := timeRange(c, 30*24*time.Hour)
	if !ok {
		return
	}

	topN, err := strconv.Atoi(c.DefaultQuery("top", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, spyglass.ErrorResponse{Error: "Invalid top parameter"})
		return
	}

	resp, err := engine.Overview(c.Request.Context(), tenantID, from, to, topN)
	if err != nil {
		respondError(c, err)
		return
	}
	if serviceMetrics != nil {
		serviceMetrics.AnalyticsQueries.WithLabelValues("overview", resp.Source).Inc()
		if resp.Source == "events" {
			serviceMetrics.FallbackQueries.WithLabelValues("overview").Inc()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetTimeseries returns per-bucket metrics for one video
func GetTimeseries(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	videoID := c.Param("video_id")
	bucket := c.DefaultQuery("bucket", query.BucketDay)

	from, to, ok := timeRange(c, 7*24*time.Hour)
	if !ok {
		return
	}

	resp, err := engine.Timeseries(c.Request.Context(), tenantID, videoID, bucket, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if serviceMetrics != nil {
		serviceMetrics.AnalyticsQueries.WithLabelValues("timeseries", bucket).Inc()
	}
	c.JSON(http.StatusOK, resp)
}

// GetRetention returns the ten-decile retention curve for one video
func GetRetention(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	videoID := c.Param("video_id")

	resp, err := engine.Retention(c.Request.Context(), tenantID, videoID)
	if err != nil {
		respondError(c, err)
		return
	}
	if serviceMetrics != nil {
		serviceMetrics.AnalyticsQueries.WithLabelValues("retention", "ok").Inc()
	}
	c.JSON(http.StatusOK, resp)
}

// GetGeography returns the per-country breakdown for one video
func GetGeography(c *gin.Context) {
	breakdown(c, query.AttrCountry)
}

// GetDevices returns the device breakdown for one video; the attribute
// parameter switches to browser or os
func GetDevices(c *gin.Context) {
	breakdown(c, c.DefaultQuery("attribute", query.AttrDevice))
}

func breakdown(c *gin.Context, attribute string) {
	tenantID := c.GetString("tenant_id")
	videoID := c.Param("video_id")

	from, to, ok := timeRange(c, 30*24*time.Hour)
	if !ok {
		return
	}

	resp, err := engine.Breakdown(c.Request.Context(), tenantID, videoID, attribute, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if serviceMetrics != nil {
		serviceMetrics.AnalyticsQueries.WithLabelValues("breakdown", attribute).Inc()
	}
	c.JSON(http.StatusOK, resp)
}

// GetEngagement returns the reaction counts and ratios for one video
func GetEngagement(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	videoID := c.Param("video_id")

	from, to, ok := timeRange(c, 30*24*time.Hour)
	if !ok {
		return
	}

	resp, err := engine.Engagement(c.Request.Context(), tenantID, videoID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if serviceMetrics != nil {
		serviceMetrics.AnalyticsQueries.WithLabelValues("engagement", "ok").Inc()
	}
	c.JSON(http.StatusOK, resp)
}

// ExportCSV streams the video's raw events as a CSV attachment
func ExportCSV(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	videoID := c.Param("video_id")

	from, to, ok := timeRange(c, 30*24*time.Hour)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="engagement-`+videoID+`.csv"`)

	if err := exporter.WriteCSV(c.Request.Context(), c.Writer, tenantID, videoID, from, to); err != nil {
		if !c.Writer.Written() {
			c.Header("Content-Disposition", "")
			respondError(c, err)
			return
		}
		// Rows are already on the wire; log and cut the stream.
		logger.WithError(err).WithFields(logging.Fields{
			"tenant_id": tenantID,
			"video_id":  videoID,
		}).Error("CSV export failed mid-stream")
		c.Abort()
		return
	}
	if serviceMetrics != nil {
		serviceMetrics.ExportRows.WithLabelValues("csv").Inc()
	}
}

// ServeWS upgrades the request to a live-view WebSocket subscription
func ServeWS(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	hub.ServeWS(c.Writer, c.Request, tenantID)
}
