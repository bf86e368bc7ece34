package store

import (
	"context"
	"database/sql"
	"time"

	"frameworks/spyglass/pkg/apperrors"
	"frameworks/spyglass/pkg/database"
	"frameworks/spyglass/pkg/logging"
	"frameworks/spyglass/pkg/models"
)

// ClickHouseEventStore persists engagement events in the append-only
// engagement_events table. Writes go through the native batch interface,
// reads through the database/sql interface.
type ClickHouseEventStore struct {
	native database.ClickHouseNativeConn
	sql    database.ClickHouseConn
	logger logging.Logger
}

// NewClickHouseEventStore wires both ClickHouse interfaces.
func NewClickHouseEventStore(native database.ClickHouseNativeConn, sqlConn database.ClickHouseConn, logger logging.Logger) *ClickHouseEventStore {
	return &ClickHouseEventStore{native: native, sql: sqlConn, logger: logger}
}

const eventColumns = `
	id, tenant_id, video_id, viewer_user_id, session_id, event_type,
	position_seconds, device, browser, os, country, city, referrer,
	utm_source, utm_medium, utm_campaign, metadata, timestamp`

// Insert appends one event.
func (s *ClickHouseEventStore) Insert(ctx context.Context, ev models.EngagementEvent) error {
	batch, err := s.native.PrepareBatch(ctx, `
		INSERT INTO engagement_events (`+eventColumns+`
		)`)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "prepare event insert")
	}

	if err := batch.Append(
		ev.ID,
		ev.TenantID,
		ev.VideoID,
		ev.ViewerUserID,
		ev.SessionID,
		ev.EventType,
		ev.PositionSeconds,
		ev.Device,
		ev.Browser,
		ev.OS,
		ev.Country,
		ev.City,
		ev.Referrer,
		ev.UTMSource,
		ev.UTMMedium,
		ev.UTMCampaign,
		ev.Metadata,
		ev.Timestamp,
	); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "append event insert")
	}

	if err := batch.Send(); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "send event insert")
	}
	return nil
}

// HasRecentView checks the trailing de-dup window for a prior view by the
// same viewer key.
func (s *ClickHouseEventStore) HasRecentView(ctx context.Context, tenantID, videoID string, key models.ViewerKey, since time.Time) (bool, error) {
	if !key.Identified() {
		return false, nil
	}

	// A row with both ids resolves to the user key, so a session match only
	// counts when the row carries no user id.
	keyCondition := "session_id = ? AND (viewer_user_id IS NULL OR viewer_user_id = '')"
	if key.Kind == models.ViewerAuthenticated {
		keyCondition = "viewer_user_id = ?"
	}

	var count uint64
	err := s.sql.QueryRowContext(ctx, `
		SELECT count()
		FROM engagement_events
		WHERE tenant_id = ? AND video_id = ? AND event_type = ?
		AND `+keyCondition+`
		AND timestamp >= ?
	`, tenantID, videoID, models.EventView, key.Value, since).Scan(&count)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.KindUnavailable, "dedup window lookup")
	}
	return count > 0, nil
}

// EventsInRange returns events ordered by timestamp ascending. Scans are
// capped at q.Limit rows; larger result sets fail with resource_exhausted.
func (s *ClickHouseEventStore) EventsInRange(ctx context.Context, tenantID string, q EventQuery) ([]models.EngagementEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM engagement_events
		WHERE tenant_id = ?`
	args := []interface{}{tenantID}

	if q.VideoID != "" {
		query += " AND video_id = ?"
		args = append(args, q.VideoID)
	}
	if !q.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, q.Start)
	}
	if !q.End.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, q.End)
	}
	query += " ORDER BY timestamp ASC"
	if q.Limit > 0 {
		// One extra row to detect an over-limit scan.
		query += " LIMIT ?"
		args = append(args, q.Limit+1)
	}

	rows, err := s.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "event range query")
	}
	defer rows.Close()

	var events []models.EngagementEvent
	for rows.Next() {
		var ev models.EngagementEvent
		var viewerUserID, sessionID sql.NullString
		var position sql.NullFloat64
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.VideoID, &viewerUserID, &sessionID,
			&ev.EventType, &position, &ev.Device, &ev.Browser, &ev.OS,
			&ev.Country, &ev.City, &ev.Referrer, &ev.UTMSource, &ev.UTMMedium,
			&ev.UTMCampaign, &ev.Metadata, &ev.Timestamp,
		); err != nil {
			s.logger.WithError(err).Error("Failed to scan engagement event")
			continue
		}
		if viewerUserID.Valid {
			ev.ViewerUserID = &viewerUserID.String
		}
		if sessionID.Valid {
			ev.SessionID = &sessionID.String
		}
		if position.Valid {
			ev.PositionSeconds = &position.Float64
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "event range scan")
	}
	if q.Limit > 0 && len(events) > q.Limit {
		return nil, apperrors.New(apperrors.KindResourceExhausted, "event scan exceeds %d rows, narrow the range", q.Limit)
	}
	return events, nil
}
