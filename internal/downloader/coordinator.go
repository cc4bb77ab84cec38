package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/manifest"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/tracing"
	"github.com/streamvault/streamvault/internal/webhook"
	"github.com/streamvault/streamvault/pkg/models"
)

// ErrBusy is returned when a download arrives while another is active.
// The queue consumer nacks on it, which requeues the message.
var ErrBusy = errors.New("another download is already active")

// Repository is the database surface the coordinator needs.
type Repository interface {
	UpdateDownload(ctx context.Context, download *models.Download) error
	CreateVideo(ctx context.Context, video *models.Video) error
	GetResumableDownloads(ctx context.Context) ([]*models.Download, error)
}

// Jobs schedules downloads and their retries through the message queue.
type Jobs interface {
	PublishDownload(ctx context.Context, download *models.Download) error
	PublishToRetryQueue(ctx context.Context, download *models.Download, retryCount int, delay time.Duration) error
}

// ProgressCache mirrors progress into Redis for cheap polling.
type ProgressCache interface {
	SetDownloadProgress(ctx context.Context, downloadID string, progress float64, ttl time.Duration) error
	DeleteDownload(ctx context.Context, downloadID string) error
}

// Uploader moves the finished output file into permanent storage.
type Uploader interface {
	UploadFile(ctx context.Context, objectName, filePath string) error
}

// Coordinator runs downloads one at a time. At most one task is active;
// everything else waits in the queue. On success it finalizes the download
// into the video library, on failure it schedules a retry with exponential
// backoff until the retry budget runs out.
type Coordinator struct {
	repo    Repository
	jobs    Jobs
	cache   ProgressCache
	storage Uploader
	fetcher Fetcher
	mux     SegmentMuxer
	cfg     config.DownloaderConfig
	logger  *logging.Logger
	notify  *webhook.Notifier

	mu     sync.Mutex
	active *Task
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(repo Repository, jobs Jobs, cache ProgressCache, storage Uploader, fetcher Fetcher, mux SegmentMuxer, cfg config.DownloaderConfig, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		repo:    repo,
		jobs:    jobs,
		cache:   cache,
		storage: storage,
		fetcher: fetcher,
		mux:     mux,
		cfg:     cfg,
		logger:  logger,
	}
}

// Enqueue persists a fresh download as pending and publishes it.
func (c *Coordinator) Enqueue(ctx context.Context, download *models.Download) error {
	download.Status = models.DownloadStatusPending
	if err := c.repo.UpdateDownload(ctx, download); err != nil {
		return fmt.Errorf("failed to persist pending download: %w", err)
	}
	if err := c.jobs.PublishDownload(ctx, download); err != nil {
		return fmt.Errorf("failed to publish download: %w", err)
	}
	metrics.RecordDownloadStarted(download.Request.Type)
	return nil
}

// SetNotifier attaches an outbound webhook notifier. Optional; a nil
// notifier disables notifications.
func (c *Coordinator) SetNotifier(n *webhook.Notifier) {
	c.notify = n
}

// Process runs one download end to end. It is the queue consumer handler;
// returning nil acks the message, anything else nacks and requeues it.
func (c *Coordinator) Process(ctx context.Context, download *models.Download) error {
	span, ctx := tracing.StartSpan(ctx, "download.process")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "download.id", download.ID)
	tracing.SetTag(span, "stream.type", download.Request.Type)

	// The queued message may be stale: reload the persisted record so a
	// cancellation or retry-count bump issued while the message waited is
	// honored, and drop messages for downloads already in a terminal state.
	if sr, ok := c.repo.(StatusReader); ok {
		if fresh, err := sr.GetDownload(ctx, download.ID); err == nil && fresh != nil {
			download = fresh
		}
	}
	if models.IsTerminal(download.Status) {
		c.cleanup(download.ID, filepath.Join(c.cfg.TempDir, download.ID))
		return nil
	}

	task := NewTask(download, c.fetcher, c.repo, c.mux, c.cfg, c.logger)

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.active = task
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
	}()

	log := c.logger.WithDownloadID(download.ID)
	log.LogDownloadEvent(download.ID, "started", download.Status, map[string]interface{}{
		"source_url": download.Request.SourceURL,
		"type":       download.Request.Type,
		"resumed_at": download.SegmentsDone,
	})
	if c.notify != nil {
		c.notify.NotifyDownloadStarted(ctx, download)
	}
	started := time.Now()

	outputPath, err := task.Run(ctx)
	switch {
	case errors.Is(err, ErrCancelled):
		download.Status = models.DownloadStatusCancelled
		if perr := c.repo.UpdateDownload(ctx, download); perr != nil {
			log.WithError(perr).Error("failed to persist cancelled state")
		}
		c.cleanup(download.ID, task.TempDir())
		metrics.RecordDownloadCompleted("cancelled", download.Request.Type, download.Request.Resolution, time.Since(started).Seconds())
		log.Info("download cancelled")
		return nil
	case err != nil:
		tracing.LogError(span, err)
		return c.handleFailure(ctx, download, err)
	}

	if err := c.finalize(ctx, download, outputPath); err != nil {
		tracing.LogError(span, err)
		return c.handleFailure(ctx, download, err)
	}

	c.cleanup(download.ID, task.TempDir())
	if c.notify != nil {
		c.notify.NotifyDownloadCompleted(ctx, download)
	}
	metrics.RecordDownloadCompleted("completed", download.Request.Type, download.Request.Resolution, time.Since(started).Seconds())
	log.LogDownloadEvent(download.ID, "completed", download.Status, map[string]interface{}{
		"video_id": download.VideoID,
		"duration": time.Since(started).String(),
	})
	return nil
}

// finalize moves the output into permanent storage, creates the library
// record and marks the download completed. The temp directory is left in
// place until the record is durably completed.
func (c *Coordinator) finalize(ctx context.Context, download *models.Download, outputPath string) error {
	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("output file missing: %w", err)
	}

	video := &models.Video{
		Title:      download.Title,
		SourceURL:  download.Request.SourceURL,
		StorageKey: videoStorageKey(download),
		Size:       info.Size(),
		Resolution: download.Request.Resolution,
		Container:  "mp4",
	}

	if err := c.storage.UploadFile(ctx, video.StorageKey, outputPath); err != nil {
		return fmt.Errorf("failed to upload output: %w", err)
	}

	if err := c.repo.CreateVideo(ctx, video); err != nil {
		return fmt.Errorf("failed to create video record: %w", err)
	}

	now := time.Now()
	download.Status = models.DownloadStatusCompleted
	download.Progress = 100
	download.VideoID = video.ID
	download.CompletedAt = &now
	if err := c.repo.UpdateDownload(ctx, download); err != nil {
		return fmt.Errorf("failed to persist completed state: %w", err)
	}

	c.cache.SetDownloadProgress(ctx, download.ID, 100, time.Hour)
	return nil
}

// handleFailure schedules a retry while the budget lasts, otherwise marks
// the download permanently failed. Retried downloads go back to pending
// and re-enter through the retry queue after the backoff delay. A
// structurally broken manifest skips the retry loop entirely: the same
// bytes parse the same way every time.
func (c *Coordinator) handleFailure(ctx context.Context, download *models.Download, cause error) error {
	log := c.logger.WithDownloadID(download.ID)
	download.ErrorMsg = cause.Error()
	download.RetryCount++

	if !manifest.IsRetryable(cause) || download.RetryCount > c.cfg.TaskRetries {
		download.Status = models.DownloadStatusFailed
		if err := c.repo.UpdateDownload(ctx, download); err != nil {
			log.WithError(err).Error("failed to persist failed state")
		}
		c.cleanup(download.ID, filepath.Join(c.cfg.TempDir, download.ID))
		metrics.RecordDownloadCompleted("failed", download.Request.Type, download.Request.Resolution, 0)
		if c.notify != nil {
			c.notify.NotifyDownloadFailed(ctx, download)
		}
		log.WithError(cause).Error("download permanently failed")
		return nil
	}

	download.Status = models.DownloadStatusPending
	if err := c.repo.UpdateDownload(ctx, download); err != nil {
		log.WithError(err).Error("failed to persist retry state")
	}

	delay := BackoffDelay(c.cfg.RetryBackoffBase, c.cfg.RetryBackoffMax, download.RetryCount-1)
	if err := c.jobs.PublishToRetryQueue(ctx, download, download.RetryCount-1, delay); err != nil {
		log.WithError(err).Error("failed to schedule retry")
		return err
	}

	log.WithError(cause).WithField("retry", download.RetryCount).WithField("delay", delay.String()).
		Warn("download failed, retry scheduled")
	return nil
}

// Rehydrate requeues downloads that were mid-flight when the worker died.
// Their SegmentsDone index survives in the database, so they resume where
// they stopped.
func (c *Coordinator) Rehydrate(ctx context.Context) error {
	downloads, err := c.repo.GetResumableDownloads(ctx)
	if err != nil {
		return fmt.Errorf("failed to load resumable downloads: %w", err)
	}

	for _, d := range downloads {
		d.Status = models.DownloadStatusPending
		if err := c.repo.UpdateDownload(ctx, d); err != nil {
			c.logger.WithError(err).WithDownloadID(d.ID).Error("failed to reset download for rehydration")
			continue
		}
		if err := c.jobs.PublishDownload(ctx, d); err != nil {
			c.logger.WithError(err).WithDownloadID(d.ID).Error("failed to requeue download")
			continue
		}
		c.logger.WithDownloadID(d.ID).WithField("segments_done", d.SegmentsDone).Info("download rehydrated")
	}
	return nil
}

// Pause pauses the active task if it matches the given ID.
func (c *Coordinator) Pause(downloadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.download.ID != downloadID {
		return false
	}
	c.active.Pause()
	return true
}

// Resume resumes the active task if it matches the given ID.
func (c *Coordinator) Resume(downloadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.download.ID != downloadID {
		return false
	}
	c.active.Resume()
	return true
}

// Cancel cancels the active task if it matches the given ID.
func (c *Coordinator) Cancel(downloadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.download.ID != downloadID {
		return false
	}
	c.active.Cancel()
	return true
}

// ActiveID returns the ID of the running download, empty when idle.
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.download.ID
}

func (c *Coordinator) cleanup(downloadID, tempDir string) {
	if err := os.RemoveAll(tempDir); err != nil {
		c.logger.WithError(err).WithDownloadID(downloadID).Warn("failed to remove temp directory")
	}
	c.cache.DeleteDownload(context.Background(), downloadID)
}

// BackoffDelay is the retry schedule: base * 2^retryCount, capped at max.
func BackoffDelay(base, max time.Duration, retryCount int) time.Duration {
	if retryCount > 30 {
		return max
	}
	delay := base * (1 << retryCount)
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

// videoStorageKey builds the permanent object key for a finished download.
func videoStorageKey(download *models.Download) string {
	title := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, download.Title)
	if title == "" {
		title = "video"
	}
	return fmt.Sprintf("videos/%s/%s.mp4", download.ID, title)
}
