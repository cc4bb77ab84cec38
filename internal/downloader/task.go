// Package downloader implements the per-video download task and the queue
// coordination around it: fetch the chosen rendition's manifest, pull its
// segments strictly in order with bounded retries, then hand the files to
// the muxer.
package downloader

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/dash"
	"github.com/streamvault/streamvault/internal/hls"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/manifest"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/muxer"
	"github.com/streamvault/streamvault/internal/transport"
	"github.com/streamvault/streamvault/pkg/models"
)

// ErrCancelled is the terminal result of a user-cancelled task. It is not a
// failure to retry or to surface as an error to the user.
var ErrCancelled = errors.New("download cancelled")

// Fetcher fetches manifests, keys and segments.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts transport.Options) ([]byte, error)
}

// Store persists download state between segment fetches so a crash or
// restart resumes instead of starting over.
type Store interface {
	UpdateDownload(ctx context.Context, download *models.Download) error
}

// SegmentMuxer combines the downloaded segment files into one output file.
type SegmentMuxer interface {
	Mux(ctx context.Context, opts muxer.Options) error
}

// Task drives one download through its state machine. A task is owned by
// the coordinator; Pause, Resume and Cancel may be called from any
// goroutine and take effect at the next checkpoint.
type Task struct {
	download *models.Download
	fetcher  Fetcher
	store    Store
	mux      SegmentMuxer
	cfg      config.DownloaderConfig
	logger   *logging.Logger
	status   StatusReader

	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	cancelled bool
}

// StatusReader exposes the persisted download record so pause/resume/cancel
// requested through the API (possibly another process) reach a running
// task. Optional; without one only in-process control works.
type StatusReader interface {
	GetDownload(ctx context.Context, id string) (*models.Download, error)
}

// NewTask creates a task for the given download record. SegmentsDone on the
// record is the resume point; zero means a fresh start, which runs through
// exactly the same path.
func NewTask(download *models.Download, fetcher Fetcher, store Store, mux SegmentMuxer, cfg config.DownloaderConfig, logger *logging.Logger) *Task {
	t := &Task{
		download: download,
		fetcher:  fetcher,
		store:    store,
		mux:      mux,
		cfg:      cfg,
		logger:   logger.WithDownloadID(download.ID),
	}
	t.cond = sync.NewCond(&t.mu)
	if sr, ok := store.(StatusReader); ok {
		t.status = sr
	}
	return t
}

// statusPollInterval paces the persisted-status watcher.
const statusPollInterval = 2 * time.Second

// watchExternalState polls the persisted record and mirrors status changes
// made through the API onto the running task.
func (t *Task) watchExternalState(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		t.syncExternalState(ctx)
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Task) syncExternalState(ctx context.Context) {
	if t.status == nil {
		return
	}
	d, err := t.status.GetDownload(ctx, t.download.ID)
	if err != nil || d == nil {
		return
	}
	switch d.Status {
	case models.DownloadStatusCancelled:
		t.Cancel()
	case models.DownloadStatusPaused:
		t.Pause()
	default:
		t.mu.Lock()
		paused := t.paused
		t.mu.Unlock()
		if paused {
			t.Resume()
		}
	}
}

// Pause halts the task before its next segment fetch. An in-flight fetch
// completes and is persisted first.
func (t *Task) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// Resume continues a paused task from its current segment index.
func (t *Task) Resume() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Cancel makes the next checkpoint return ErrCancelled.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.paused = false
	t.mu.Unlock()
	t.cond.Broadcast()
}

// checkpoint blocks while paused and reports cancellation. Called at the
// top of every loop iteration and before each long-running phase.
func (t *Task) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.paused && !t.cancelled {
		t.download.Status = models.DownloadStatusPaused
		if err := t.store.UpdateDownload(ctx, t.download); err != nil {
			t.logger.WithError(err).Warn("failed to persist paused state")
		}
		t.logger.Info("download paused")

		for t.paused && !t.cancelled {
			t.cond.Wait()
		}

		if !t.cancelled {
			t.download.Status = models.DownloadStatusSegments
			if err := t.store.UpdateDownload(ctx, t.download); err != nil {
				t.logger.WithError(err).Warn("failed to persist resumed state")
			}
			t.logger.Info("download resumed")
		}
	}

	if t.cancelled {
		return ErrCancelled
	}
	return ctx.Err()
}

// Run executes the download to completion and returns the path of the
// muxed output file. The terminal status on the download record is the
// coordinator's to set; Run only advances through the working states.
func (t *Task) Run(ctx context.Context) (string, error) {
	if t.status != nil {
		t.syncExternalState(ctx)
		stop := make(chan struct{})
		defer close(stop)
		go t.watchExternalState(ctx, stop)
	}

	if err := t.checkpoint(ctx); err != nil {
		return "", err
	}

	t.download.Status = models.DownloadStatusManifest
	if err := t.store.UpdateDownload(ctx, t.download); err != nil {
		return "", fmt.Errorf("failed to persist manifest state: %w", err)
	}

	rendition, err := t.resolveRendition(ctx)
	if err != nil {
		return "", err
	}

	if len(rendition.Segments) == 0 {
		return "", fmt.Errorf("%w: rendition has no segments", manifest.ErrNoSegments)
	}

	tempDir := t.tempDir()
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	// Key and init segment are both awaited before the segment loop starts.
	var block cipher.Block
	var explicitIV []byte
	if rendition.KeyURL != "" {
		keyBytes, err := t.fetchWithRetries(ctx, rendition.KeyURL, transport.Options{}, t.cfg.SegmentRetries)
		if err != nil {
			return "", fmt.Errorf("failed to fetch encryption key: %w", err)
		}
		block, err = aes.NewCipher(keyBytes)
		if err != nil {
			return "", fmt.Errorf("invalid encryption key: %w", err)
		}
		if rendition.KeyIV != "" {
			explicitIV, err = parseKeyIV(rendition.KeyIV)
			if err != nil {
				return "", fmt.Errorf("invalid encryption IV: %w", err)
			}
		}
	}

	initPath := ""
	if rendition.Fragmented && rendition.InitSegment != nil {
		initPath = t.fetchInitSegment(ctx, rendition.InitSegment, tempDir)
	}

	t.download.Status = models.DownloadStatusSegments
	t.download.SegmentsTotal = len(rendition.Segments)
	if err := t.store.UpdateDownload(ctx, t.download); err != nil {
		return "", fmt.Errorf("failed to persist segment state: %w", err)
	}

	ext := segmentExt(rendition)
	segmentPaths := make([]string, len(rendition.Segments))
	for i := range rendition.Segments {
		segmentPaths[i] = filepath.Join(tempDir, fmt.Sprintf("segment_%d%s", i, ext))
	}

	for i := t.download.SegmentsDone; i < len(rendition.Segments); i++ {
		if err := t.checkpoint(ctx); err != nil {
			return "", err
		}

		seg := rendition.Segments[i]
		body, err := t.fetchSegment(ctx, seg)
		if err != nil {
			return "", fmt.Errorf("segment %d failed: %w", i, err)
		}

		if block != nil {
			body, err = decryptSegment(block, body, segmentIV(explicitIV, rendition.MediaSequence+seg.Index))
			if err != nil {
				return "", fmt.Errorf("segment %d decryption failed: %w", i, err)
			}
		}

		if err := os.WriteFile(segmentPaths[i], body, 0644); err != nil {
			return "", fmt.Errorf("failed to write segment %d: %w", i, err)
		}

		metrics.RecordSegmentDownloaded(len(body))
		t.download.SegmentsDone = i + 1
		t.download.Progress = segmentProgress(i+1, len(rendition.Segments))
		if err := t.store.UpdateDownload(ctx, t.download); err != nil {
			return "", fmt.Errorf("failed to persist progress: %w", err)
		}
	}

	if err := t.checkpoint(ctx); err != nil {
		return "", err
	}

	t.download.Status = models.DownloadStatusMuxing
	t.download.Progress = muxStartProgress
	if err := t.store.UpdateDownload(ctx, t.download); err != nil {
		return "", fmt.Errorf("failed to persist muxing state: %w", err)
	}

	outputPath := filepath.Join(tempDir, "output.mp4")
	err = t.mux.Mux(ctx, muxer.Options{
		SegmentPaths:    segmentPaths,
		InitSegmentPath: initPath,
		OutputPath:      outputPath,
		TSInput:         ext == ".ts",
	})
	if err != nil {
		return "", fmt.Errorf("muxing failed: %w", err)
	}

	return outputPath, nil
}

// muxStartProgress reserves the top slice of reported progress for the mux
// phase: segment progress runs 0-90, muxing fills the rest.
const muxStartProgress = 90.0

func segmentProgress(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * muxStartProgress
}

// resolveRendition turns the committed source URL into a concrete segment
// list. A master manifest costs one extra fetch-and-parse hop into the
// selected rendition; a direct file URL becomes a single-segment rendition
// so the rest of the pipeline does not care about the difference.
func (t *Task) resolveRendition(ctx context.Context) (*models.RenditionInfo, error) {
	req := t.download.Request

	if req.Type == models.StreamTypeDirect {
		return directRendition(req.SourceURL), nil
	}

	info, err := t.fetchManifest(ctx, req.SourceURL, req.Type)
	if err != nil {
		return nil, err
	}

	if len(info.Segments) > 0 {
		return info, nil
	}

	if len(info.Qualities) == 0 {
		return nil, fmt.Errorf("%w: manifest has neither segments nor renditions", manifest.ErrNoSegments)
	}

	chosen := SelectQuality(info.Qualities, req.Resolution, req.Bandwidth)
	t.logger.WithField("resolution", chosen.Resolution).WithField("bandwidth", chosen.Bandwidth).
		Info("rendition selected")

	if req.Type == models.StreamTypeHLS {
		media, err := t.fetchManifest(ctx, chosen.URL, req.Type)
		if err != nil {
			return nil, err
		}
		if media.TotalDuration == 0 {
			media.TotalDuration = info.TotalDuration
		}
		return media, nil
	}

	// DASH rendition URLs resolved at detection time point at a single
	// playable resource, not a nested manifest.
	return directRendition(chosen.URL), nil
}

func (t *Task) fetchManifest(ctx context.Context, url, streamType string) (*models.RenditionInfo, error) {
	body, err := t.fetcher.Fetch(ctx, url, t.requestOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", manifest.ErrNetwork, err)
	}

	switch streamType {
	case models.StreamTypeDASH:
		return dash.Parse(body, url)
	default:
		return hls.Parse(body, url)
	}
}

// fetchSegment fetches one segment with the bounded per-segment retry
// budget and a fixed delay between attempts. An HTML body is a failure: a
// login page behind HTTP 200 must never land in the output file.
func (t *Task) fetchSegment(ctx context.Context, seg models.Segment) ([]byte, error) {
	opts := t.requestOptions()
	opts.ByteRange = seg.ByteRange

	var lastErr error
	for attempt := 0; attempt <= t.cfg.SegmentRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordSegmentRetry()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.cfg.SegmentRetryDelay):
			}
		}

		body, err := t.fetcher.Fetch(ctx, seg.URL, opts)
		if err != nil {
			lastErr = err
			continue
		}
		if transport.LooksLikeHTML(body) {
			lastErr = fmt.Errorf("response for %s is an HTML document, not media", seg.URL)
			continue
		}
		return body, nil
	}

	return nil, lastErr
}

// fetchInitSegment tries to fetch the fMP4 initialization segment within
// its own retry budget and returns its path, or "" when the budget is
// exhausted: the task proceeds without it and lets the mux tool attempt
// recovery rather than failing the whole download here.
func (t *Task) fetchInitSegment(ctx context.Context, init *models.InitSegment, tempDir string) string {
	opts := t.requestOptions()
	opts.ByteRange = init.ByteRange

	body, err := t.fetchWithRetries(ctx, init.URL, opts, t.cfg.InitRetries)
	if err != nil {
		t.logger.WithError(err).Warn("init segment unavailable, proceeding without it")
		return ""
	}

	path := filepath.Join(tempDir, "init.mp4")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.logger.WithError(err).Warn("failed to write init segment, proceeding without it")
		return ""
	}
	return path
}

func (t *Task) fetchWithRetries(ctx context.Context, url string, opts transport.Options, retries int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.cfg.SegmentRetryDelay):
			}
		}

		body, err := t.fetcher.Fetch(ctx, url, opts)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (t *Task) requestOptions() transport.Options {
	req := t.download.Request
	ua := req.UserAgent
	if ua == "" {
		ua = t.cfg.UserAgent
	}
	return transport.Options{
		Headers:   req.Headers,
		Cookies:   req.Cookies,
		UserAgent: ua,
	}
}

func (t *Task) tempDir() string {
	return filepath.Join(t.cfg.TempDir, t.download.ID)
}

// TempDir exposes the task's working directory for coordinator cleanup.
func (t *Task) TempDir() string {
	return t.tempDir()
}

// SelectQuality picks the rendition matching the preferred resolution,
// nearest available with ties broken toward higher bandwidth. With no
// usable preference the highest-bandwidth quality wins. Qualities arrive
// sorted descending by bandwidth from the parsers.
func SelectQuality(qualities models.QualityList, preferredResolution string, preferredBandwidth int64) models.Quality {
	prefHeight := resolutionHeight(preferredResolution)
	if prefHeight == 0 && preferredBandwidth > 0 {
		best := qualities[0]
		bestDelta := int64(-1)
		for _, q := range qualities {
			delta := q.Bandwidth - preferredBandwidth
			if delta < 0 {
				delta = -delta
			}
			if bestDelta < 0 || delta < bestDelta {
				best = q
				bestDelta = delta
			}
		}
		return best
	}
	if prefHeight == 0 {
		return qualities[0]
	}

	best := qualities[0]
	bestDelta := -1
	for _, q := range qualities {
		h := resolutionHeight(q.Resolution)
		delta := h - prefHeight
		if delta < 0 {
			delta = -delta
		}
		switch {
		case bestDelta < 0 || delta < bestDelta:
			best = q
			bestDelta = delta
		case delta == bestDelta && q.Bandwidth > best.Bandwidth:
			best = q
		}
	}
	return best
}

// resolutionHeight parses "<height>p" labels; 0 for "Unknown" or anything
// unparseable.
func resolutionHeight(label string) int {
	label = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(label)), "p")
	h, err := strconv.Atoi(label)
	if err != nil || h <= 0 {
		return 0
	}
	return h
}

// directRendition wraps a plain file URL as a one-segment rendition.
func directRendition(url string) *models.RenditionInfo {
	return &models.RenditionInfo{
		Segments: []models.Segment{{URL: url, Index: 0}},
	}
}

// segmentExt picks the on-disk extension for segment files.
func segmentExt(rendition *models.RenditionInfo) string {
	if rendition.Fragmented {
		return ".m4s"
	}
	if len(rendition.Segments) == 1 {
		if ext := urlExt(rendition.Segments[0].URL); ext != "" {
			return ext
		}
		return ".mp4"
	}
	return ".ts"
}

func urlExt(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	ext := strings.ToLower(filepath.Ext(url))
	switch ext {
	case ".mp4", ".webm", ".mov", ".mkv", ".ts", ".m4s":
		return ext
	}
	return ""
}

// segmentIV returns the CBC IV for one segment: the key tag's explicit IV
// when the playlist declared one, otherwise the segment's media sequence
// number as a 16-byte big-endian value.
func segmentIV(explicit []byte, sequence int) []byte {
	if explicit != nil {
		return explicit
	}
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], uint64(sequence))
	return iv
}

// parseKeyIV decodes an EXT-X-KEY IV attribute, "0x" followed by 32 hex
// digits.
func parseKeyIV(v string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed IV attribute %q", v)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("IV attribute %q is not %d bytes", v, aes.BlockSize)
	}
	return iv, nil
}

// decryptSegment decrypts one AES-128-CBC segment.
func decryptSegment(block cipher.Block, data, iv []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a block multiple", len(data))
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	// Strip PKCS#7 padding.
	pad := int(plain[len(plain)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("invalid padding byte %d", pad)
	}
	return plain[:len(plain)-pad], nil
}
