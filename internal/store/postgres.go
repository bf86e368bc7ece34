package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"frameworks/spyglass/pkg/apperrors"
	"frameworks/spyglass/pkg/database"
	"frameworks/spyglass/pkg/logging"
	"frameworks/spyglass/pkg/models"
)

// PostgresAggregateStore keeps the pre-computed rollups in Postgres. Every
// upsert is a single INSERT ... ON CONFLICT DO UPDATE statement, so a bucket
// is always replaced atomically and readers never see a half-written row.
type PostgresAggregateStore struct {
	db     database.PostgresConn
	logger logging.Logger
}

func NewPostgresAggregateStore(db database.PostgresConn, logger logging.Logger) *PostgresAggregateStore {
	return &PostgresAggregateStore{db: db, logger: logger}
}

func (s *PostgresAggregateStore) UpsertDaily(ctx context.Context, agg models.DailyAggregate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_daily_aggregates (tenant_id, video_id, date, views, unique_viewers, watch_time_seconds, completes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, video_id, date)
		DO UPDATE SET
			views = EXCLUDED.views,
			unique_viewers = EXCLUDED.unique_viewers,
			watch_time_seconds = EXCLUDED.watch_time_seconds,
			completes = EXCLUDED.completes,
			updated_at = NOW()
	`, agg.TenantID, agg.VideoID, agg.Date, agg.Views, agg.UniqueViewers, agg.WatchTimeSeconds, agg.Completes)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "upsert daily aggregate")
	}
	return nil
}

func (s *PostgresAggregateStore) UpsertHourly(ctx context.Context, agg models.HourlyAggregate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_hourly_aggregates (tenant_id, video_id, bucket_start, views, unique_viewers, watch_time_seconds, completes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, video_id, bucket_start)
		DO UPDATE SET
			views = EXCLUDED.views,
			unique_viewers = EXCLUDED.unique_viewers,
			watch_time_seconds = EXCLUDED.watch_time_seconds,
			completes = EXCLUDED.completes,
			updated_at = NOW()
	`, agg.TenantID, agg.VideoID, agg.BucketStart, agg.Views, agg.UniqueViewers, agg.WatchTimeSeconds, agg.Completes)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "upsert hourly aggregate")
	}
	return nil
}

func (s *PostgresAggregateStore) UpsertCountryDaily(ctx context.Context, agg models.CountryDailyAggregate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_country_daily_aggregates (tenant_id, video_id, date, country_code, views, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant_id, video_id, date, country_code)
		DO UPDATE SET
			views = EXCLUDED.views,
			updated_at = NOW()
	`, agg.TenantID, agg.VideoID, agg.Date, agg.CountryCode, agg.Views)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "upsert country daily aggregate")
	}
	return nil
}

func (s *PostgresAggregateStore) DailyRange(ctx context.Context, tenantID, videoID string, start, end time.Time) ([]models.DailyAggregate, error) {
	query := `
		SELECT tenant_id, video_id, date, views, unique_viewers, watch_time_seconds, completes
		FROM video_daily_aggregates
		WHERE tenant_id = $1 AND date >= $2 AND date < $3`
	args := []interface{}{tenantID, start, end}
	if videoID != "" {
		query += " AND video_id = $4"
		args = append(args, videoID)
	}
	query += " ORDER BY date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "daily aggregate range")
	}
	defer rows.Close()

	var aggs []models.DailyAggregate
	for rows.Next() {
		var agg models.DailyAggregate
		if err := rows.Scan(&agg.TenantID, &agg.VideoID, &agg.Date, &agg.Views, &agg.UniqueViewers, &agg.WatchTimeSeconds, &agg.Completes); err != nil {
			s.logger.WithError(err).Error("Failed to scan daily aggregate")
			continue
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

func (s *PostgresAggregateStore) HourlyRange(ctx context.Context, tenantID, videoID string, start, end time.Time) ([]models.HourlyAggregate, error) {
	query := `
		SELECT tenant_id, video_id, bucket_start, views, unique_viewers, watch_time_seconds, completes
		FROM video_hourly_aggregates
		WHERE tenant_id = $1 AND bucket_start >= $2 AND bucket_start < $3`
	args := []interface{}{tenantID, start, end}
	if videoID != "" {
		query += " AND video_id = $4"
		args = append(args, videoID)
	}
	query += " ORDER BY bucket_start ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "hourly aggregate range")
	}
	defer rows.Close()

	var aggs []models.HourlyAggregate
	for rows.Next() {
		var agg models.HourlyAggregate
		if err := rows.Scan(&agg.TenantID, &agg.VideoID, &agg.BucketStart, &agg.Views, &agg.UniqueViewers, &agg.WatchTimeSeconds, &agg.Completes); err != nil {
			s.logger.WithError(err).Error("Failed to scan hourly aggregate")
			continue
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

func (s *PostgresAggregateStore) CountryDailyRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.CountryDailyAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, video_id, date, country_code, views
		FROM video_country_daily_aggregates
		WHERE tenant_id = $1 AND date >= $2 AND date < $3
		ORDER BY date ASC
	`, tenantID, start, end)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "country daily aggregate range")
	}
	defer rows.Close()

	var aggs []models.CountryDailyAggregate
	for rows.Next() {
		var agg models.CountryDailyAggregate
		if err := rows.Scan(&agg.TenantID, &agg.VideoID, &agg.Date, &agg.CountryCode, &agg.Views); err != nil {
			s.logger.WithError(err).Error("Failed to scan country daily aggregate")
			continue
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

// PostgresVideoCatalog exposes the slice of the video catalog this service
// consumes.
type PostgresVideoCatalog struct {
	db     database.PostgresConn
	logger logging.Logger
}

func NewPostgresVideoCatalog(db database.PostgresConn, logger logging.Logger) *PostgresVideoCatalog {
	return &PostgresVideoCatalog{db: db, logger: logger}
}

func (c *PostgresVideoCatalog) Lookup(ctx context.Context, tenantID, videoID string) (models.Video, error) {
	var v models.Video
	err := c.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, owner_user_id, duration_seconds, view_count
		FROM videos
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, videoID).Scan(&v.ID, &v.TenantID, &v.OwnerUserID, &v.DurationSeconds, &v.ViewCount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Video{}, apperrors.New(apperrors.KindNotFound, "video %s not found", videoID)
	}
	if err != nil {
		return models.Video{}, apperrors.Wrap(err, apperrors.KindUnavailable, "video lookup")
	}
	return v, nil
}

// IncrementViewCount bumps the denormalized counter in place. The single
// UPDATE keeps concurrent increments from losing updates.
func (c *PostgresVideoCatalog) IncrementViewCount(ctx context.Context, tenantID, videoID string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE videos SET view_count = view_count + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, videoID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "increment view count")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.New(apperrors.KindNotFound, "video %s not found", videoID)
	}
	return nil
}
