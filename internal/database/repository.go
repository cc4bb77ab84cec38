package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/streamvault/streamvault/pkg/models"
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Downloads

// CreateDownload creates a new download record
func (r *Repository) CreateDownload(ctx context.Context, download *models.Download) error {
	if download.ID == "" {
		download.ID = uuid.New().String()
	}

	query := `
		INSERT INTO downloads (id, title, status, progress, retry_count, segments_total, segments_done, request)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		download.ID, download.Title, download.Status, download.Progress,
		download.RetryCount, download.SegmentsTotal, download.SegmentsDone, download.Request,
	).Scan(&download.CreatedAt, &download.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create download: %w", err)
	}

	return nil
}

// GetDownload retrieves a download by ID
func (r *Repository) GetDownload(ctx context.Context, id string) (*models.Download, error) {
	var download models.Download

	query := `
		SELECT id, title, status, progress, error_msg, retry_count, segments_total,
		       segments_done, video_id, started_at, completed_at, created_at, updated_at, request
		FROM downloads
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&download.ID, &download.Title, &download.Status, &download.Progress,
		&download.ErrorMsg, &download.RetryCount, &download.SegmentsTotal,
		&download.SegmentsDone, &download.VideoID, &download.StartedAt,
		&download.CompletedAt, &download.CreatedAt, &download.UpdatedAt, &download.Request,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("download not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}

	return &download, nil
}

// UpdateDownload updates a download record
func (r *Repository) UpdateDownload(ctx context.Context, download *models.Download) error {
	query := `
		UPDATE downloads
		SET title = $2, status = $3, progress = $4, error_msg = $5, retry_count = $6,
		    segments_total = $7, segments_done = $8, video_id = $9, started_at = $10,
		    completed_at = $11, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query,
		download.ID, download.Title, download.Status, download.Progress,
		download.ErrorMsg, download.RetryCount, download.SegmentsTotal,
		download.SegmentsDone, download.VideoID, download.StartedAt, download.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}

	return nil
}

// ListDownloads retrieves all downloads with pagination
func (r *Repository) ListDownloads(ctx context.Context, limit, offset int) ([]*models.Download, error) {
	query := `
		SELECT id, title, status, progress, error_msg, retry_count, segments_total,
		       segments_done, video_id, started_at, completed_at, created_at, updated_at, request
		FROM downloads
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	return scanDownloads(rows)
}

// GetResumableDownloads retrieves downloads that should be re-queued after a
// restart: anything not in a terminal state and not deliberately paused.
func (r *Repository) GetResumableDownloads(ctx context.Context) ([]*models.Download, error) {
	query := `
		SELECT id, title, status, progress, error_msg, retry_count, segments_total,
		       segments_done, video_id, started_at, completed_at, created_at, updated_at, request
		FROM downloads
		WHERE status NOT IN ($1, $2, $3, $4)
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query,
		models.DownloadStatusCompleted, models.DownloadStatusFailed,
		models.DownloadStatusCancelled, models.DownloadStatusPaused,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get resumable downloads: %w", err)
	}
	defer rows.Close()

	return scanDownloads(rows)
}

func scanDownloads(rows pgx.Rows) ([]*models.Download, error) {
	var downloads []*models.Download
	for rows.Next() {
		var download models.Download
		err := rows.Scan(
			&download.ID, &download.Title, &download.Status, &download.Progress,
			&download.ErrorMsg, &download.RetryCount, &download.SegmentsTotal,
			&download.SegmentsDone, &download.VideoID, &download.StartedAt,
			&download.CompletedAt, &download.CreatedAt, &download.UpdatedAt, &download.Request,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		downloads = append(downloads, &download)
	}

	return downloads, nil
}

// Videos

// CreateVideo creates a new video record
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) error {
	if video.ID == "" {
		video.ID = uuid.New().String()
	}

	query := `
		INSERT INTO videos (id, title, source_url, storage_key, size, duration, resolution, container, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		video.ID, video.Title, video.SourceURL, video.StorageKey, video.Size,
		video.Duration, video.Resolution, video.Container, video.Metadata,
	).Scan(&video.CreatedAt, &video.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID
func (r *Repository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	var video models.Video

	query := `
		SELECT id, title, source_url, storage_key, size, duration, resolution,
		       container, metadata, created_at, updated_at
		FROM videos
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&video.ID, &video.Title, &video.SourceURL, &video.StorageKey, &video.Size,
		&video.Duration, &video.Resolution, &video.Container, &video.Metadata,
		&video.CreatedAt, &video.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("video not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return &video, nil
}

// ListVideos retrieves all videos with pagination
func (r *Repository) ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, error) {
	query := `
		SELECT id, title, source_url, storage_key, size, duration, resolution,
		       container, metadata, created_at, updated_at
		FROM videos
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		var video models.Video
		err := rows.Scan(
			&video.ID, &video.Title, &video.SourceURL, &video.StorageKey, &video.Size,
			&video.Duration, &video.Resolution, &video.Container, &video.Metadata,
			&video.CreatedAt, &video.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, &video)
	}

	return videos, nil
}

// DeleteVideo deletes a video record
func (r *Repository) DeleteVideo(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	return nil
}

// Stats

// DownloadStats aggregates download counts by terminal outcome.
type DownloadStats struct {
	Total     int64
	Completed int64
	Failed    int64
	Cancelled int64
}

// GetDownloadStats returns aggregate download counts.
func (r *Repository) GetDownloadStats(ctx context.Context) (*DownloadStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $1),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE status = $3)
		FROM downloads`

	stats := &DownloadStats{}
	err := r.db.Pool.QueryRow(ctx, query,
		models.DownloadStatusCompleted, models.DownloadStatusFailed, models.DownloadStatusCancelled,
	).Scan(&stats.Total, &stats.Completed, &stats.Failed, &stats.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to get download stats: %w", err)
	}

	return stats, nil
}

// Health checks database connectivity.
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}
