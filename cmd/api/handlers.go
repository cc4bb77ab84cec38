package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/detector"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/monitoring"
	"github.com/streamvault/streamvault/internal/queue"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/pkg/models"
)

// API bundles the handler dependencies.
type API struct {
	repo     *database.Repository
	storage  *storage.Storage
	queue    *queue.Queue
	cache    *cache.Cache
	detector *detector.Detector
	monitor  *monitoring.Monitor
	logger   *logging.Logger
}

func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.repo.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": api.monitor.GetSystemHealth(),
		"alerts": api.monitor.GetAlerts(),
	})
}

// observeDetection feeds one observed manifest URL into the detector. A
// rejected candidate is a normal outcome, not an error: the response says
// why it was discarded.
func (api *API) observeDetection(c *gin.Context) {
	var req struct {
		URL    string `json:"url" binding:"required"`
		Type   string `json:"type"`
		Source string `json:"source"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, reason, err := api.detector.Observe(c.Request.Context(), req.URL, req.Type, req.Source)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"rejected": true, "reason": reason, "error": err.Error()})
		return
	}
	if stream == nil {
		c.JSON(http.StatusOK, gin.H{"rejected": true, "reason": reason})
		return
	}

	api.cache.IncrementStat(c.Request.Context(), "streams_detected")
	c.JSON(http.StatusCreated, stream)
}

func (api *API) listStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": api.detector.Streams()})
}

func (api *API) getStream(c *gin.Context) {
	stream, ok := api.detector.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}
	c.JSON(http.StatusOK, stream)
}

func (api *API) clearStreams(c *gin.Context) {
	api.detector.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Detected streams cleared"})
}

// commitDownload turns a detected stream into a persisted download job.
// The request may pin a rendition; otherwise the stored quality preference
// applies and the worker picks the nearest match.
func (api *API) commitDownload(c *gin.Context) {
	stream, ok := api.detector.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}

	var req struct {
		Title      string `json:"title"`
		Resolution string `json:"resolution"`
		Bandwidth  int64  `json:"bandwidth"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	resolution := req.Resolution
	if resolution == "" {
		resolution, _ = api.cache.GetPreferredQuality(c.Request.Context())
	}

	title := req.Title
	if title == "" {
		title = stream.SourceTag
	}

	download := &models.Download{
		Title:  title,
		Status: models.DownloadStatusPending,
		Request: models.DownloadRequest{
			SourceURL:  stream.SourceURL,
			Type:       stream.Type,
			Resolution: resolution,
			Bandwidth:  req.Bandwidth,
		},
	}

	if err := api.repo.CreateDownload(c.Request.Context(), download); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := api.queue.PublishDownload(c.Request.Context(), download); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics.RecordDownloadStarted(download.Request.Type)
	api.cache.IncrementStat(c.Request.Context(), "downloads_committed")
	c.JSON(http.StatusCreated, download)
}

func (api *API) listDownloads(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)

	downloads, err := api.repo.ListDownloads(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"downloads": downloads,
		"limit":     limit,
		"offset":    offset,
	})
}

func (api *API) getDownload(c *gin.Context) {
	download, err := api.repo.GetDownload(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Download not found"})
		return
	}
	c.JSON(http.StatusOK, download)
}

// getDownloadProgress serves the Redis-mirrored progress so polling does
// not hit Postgres on every tick.
func (api *API) getDownloadProgress(c *gin.Context) {
	id := c.Param("id")

	progress, err := api.cache.GetDownloadProgress(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"id": id, "progress": progress})
		return
	}

	download, err := api.repo.GetDownload(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Download not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "progress": download.Progress})
}

// cancelDownload flips the persisted status; the running task observes it
// at its next checkpoint, queued messages are dropped on consumption.
func (api *API) cancelDownload(c *gin.Context) {
	download, err := api.repo.GetDownload(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Download not found"})
		return
	}

	if models.IsTerminal(download.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "Download already finished"})
		return
	}

	download.Status = models.DownloadStatusCancelled
	if err := api.repo.UpdateDownload(c.Request.Context(), download); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Download cancelled", "id": download.ID})
}

func (api *API) pauseDownload(c *gin.Context) {
	download, err := api.repo.GetDownload(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Download not found"})
		return
	}

	switch download.Status {
	case models.DownloadStatusPending, models.DownloadStatusManifest, models.DownloadStatusSegments:
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "Download cannot be paused in status " + download.Status})
		return
	}

	download.Status = models.DownloadStatusPaused
	if err := api.repo.UpdateDownload(c.Request.Context(), download); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Download paused", "id": download.ID})
}

func (api *API) resumeDownload(c *gin.Context) {
	download, err := api.repo.GetDownload(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Download not found"})
		return
	}

	if download.Status != models.DownloadStatusPaused {
		c.JSON(http.StatusConflict, gin.H{"error": "Download is not paused"})
		return
	}

	download.Status = models.DownloadStatusSegments
	if err := api.repo.UpdateDownload(c.Request.Context(), download); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Download resumed", "id": download.ID})
}

func (api *API) listVideos(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)

	videos, err := api.repo.ListVideos(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"limit":  limit,
		"offset": offset,
	})
}

func (api *API) getVideo(c *gin.Context) {
	video, err := api.repo.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}

	url, err := api.storage.GetURL(c.Request.Context(), video.StorageKey)
	if err != nil {
		api.logger.WithError(err).Warn("failed to presign video URL")
	}

	c.JSON(http.StatusOK, gin.H{"video": video, "url": url})
}

func (api *API) deleteVideo(c *gin.Context) {
	video, err := api.repo.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}

	if video.StorageKey != "" {
		if err := api.storage.Delete(c.Request.Context(), video.StorageKey); err != nil {
			api.logger.WithError(err).WithField("storage_key", video.StorageKey).
				Warn("failed to delete stored object")
		}
	}

	if err := api.repo.DeleteVideo(c.Request.Context(), video.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	api.cache.DeleteVideo(c.Request.Context(), video.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Video deleted", "id": video.ID})
}

func (api *API) getPreferredQuality(c *gin.Context) {
	resolution, err := api.cache.GetPreferredQuality(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolution": resolution})
}

func (api *API) setPreferredQuality(c *gin.Context) {
	var req struct {
		Resolution string `json:"resolution" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := api.cache.SetPreferredQuality(c.Request.Context(), req.Resolution); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolution": req.Resolution})
}

func (api *API) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, api.monitor.GetSnapshot())
}

func parseIntQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}
