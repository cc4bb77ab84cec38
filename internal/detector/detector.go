// Package detector turns the firehose of manifest URLs a page emits into a
// minimal set of distinct downloadable videos. A single page routinely
// produces ads, quality variants of the same content and unrelated embeds;
// duration is the identity key that collapses them.
package detector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/dash"
	"github.com/streamvault/streamvault/internal/hls"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/manifest"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/transport"
	"github.com/streamvault/streamvault/pkg/models"
)

// Rejection reasons, surfaced to callers and recorded as metric labels.
const (
	RejectDRM             = "drm_protected"
	RejectLive            = "live"
	RejectUnknownDuration = "unknown_duration"
	RejectTooShort        = "too_short"
	RejectUnparseable     = "unparseable"
)

// bandwidthBucket is the rounding unit for the quality dedup key: two
// variants within the same 100 kbps bucket at the same resolution are the
// same quality.
const bandwidthBucket = 100_000

// Fetcher fetches manifest bodies.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts transport.Options) ([]byte, error)
}

// Detector owns the set of streams detected on the current page. All
// mutation goes through its mutex; parsed results land here one at a time
// no matter how many detection events arrive concurrently.
type Detector struct {
	mu      sync.Mutex
	cfg     config.DetectorConfig
	fetcher Fetcher
	logger  *logging.Logger

	// Arena of accepted streams in insertion order, addressed by index
	// through the id lookup below so merges mutate in place.
	streams []*models.DetectedStream
	byID    map[string]int
}

// New creates a detector.
func New(cfg config.DetectorConfig, fetcher Fetcher, logger *logging.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		byID:    make(map[string]int),
	}
}

// Observe handles one detection event from the browsing side: fetch the
// manifest if there is one, parse it, and decide whether the result is a
// new video, a quality variant of a known one, or noise.
//
// The returned reason is non-empty when the candidate was rejected; the
// stream pointer is nil in that case.
func (d *Detector) Observe(ctx context.Context, url, typeHint, sourceTag string) (*models.DetectedStream, string, error) {
	streamType := normalizeType(url, typeHint)

	candidate := &models.DetectedStream{
		ID:         uuid.New().String(),
		SourceURL:  url,
		Type:       streamType,
		SourceTag:  sourceTag,
		DetectedAt: time.Now(),
	}

	if streamType != models.StreamTypeDirect {
		info, err := d.resolveManifest(ctx, url, &streamType)
		if err != nil {
			metrics.RecordStreamRejected(RejectUnparseable)
			d.logger.WithError(err).WithField("url", url).Debug("manifest did not parse")
			return nil, RejectUnparseable, err
		}
		candidate.Type = streamType
		candidate.Duration = info.TotalDuration
		candidate.IsLive = info.IsLive
		candidate.IsDRMProtected = info.IsDRMProtected
		candidate.HasSubtitles = info.HasSubtitles
		candidate.Qualities = info.Qualities
	}

	if len(candidate.Qualities) == 0 {
		candidate.Qualities = models.QualityList{fallbackQuality(url)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stream, reason := d.evaluate(candidate)
	if reason != "" {
		metrics.RecordStreamRejected(reason)
		d.logger.WithField("url", url).WithField("reason", reason).Debug("stream rejected")
		return nil, reason, nil
	}

	metrics.RecordStreamDetected(stream.Type)
	return stream, "", nil
}

// resolveManifest fetches and parses url, following an HLS master down one
// level so the candidate carries a usable duration: master playlists list
// renditions, not segments, and only a media playlist can answer "how long
// is this video".
func (d *Detector) resolveManifest(ctx context.Context, url string, streamType *string) (*models.RenditionInfo, error) {
	body, err := d.fetcher.Fetch(ctx, url, transport.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", manifest.ErrNetwork, err)
	}

	info, err := parseByType(body, url, streamType)
	if err != nil {
		return nil, err
	}

	if *streamType == models.StreamTypeHLS && len(info.Qualities) > 0 && info.TotalDuration == 0 {
		top := info.Qualities[0]
		mediaBody, err := d.fetcher.Fetch(ctx, top.URL, transport.Options{})
		if err != nil {
			return info, nil // keep the master result; duration stays unknown
		}
		media, err := hls.Parse(mediaBody, top.URL)
		if err != nil {
			return info, nil
		}
		info.TotalDuration = media.TotalDuration
		info.IsLive = media.IsLive
		info.IsDRMProtected = info.IsDRMProtected || media.IsDRMProtected
	}

	return info, nil
}

// parseByType dispatches to the right parser, sniffing the body when the
// hint is unknown and updating the hint with what parsing confirmed.
func parseByType(body []byte, url string, streamType *string) (*models.RenditionInfo, error) {
	switch *streamType {
	case models.StreamTypeHLS:
		return hls.Parse(body, url)
	case models.StreamTypeDASH:
		return dash.Parse(body, url)
	}

	text := string(body)
	switch {
	case strings.Contains(text, "#EXTM3U"):
		*streamType = models.StreamTypeHLS
		return hls.Parse(body, url)
	case strings.Contains(text, "<MPD"):
		*streamType = models.StreamTypeDASH
		return dash.Parse(body, url)
	}
	return nil, fmt.Errorf("%w: unrecognized manifest format", manifest.ErrInvalidManifest)
}

// evaluate applies the rejection rules in order, then either merges the
// candidate into an existing stream or inserts it and prunes. Caller holds
// the mutex.
func (d *Detector) evaluate(candidate *models.DetectedStream) (*models.DetectedStream, string) {
	switch {
	case candidate.IsDRMProtected:
		return nil, RejectDRM
	case candidate.IsLive:
		return nil, RejectLive
	case candidate.Duration == 0:
		if d.cfg.RejectUnknownDuration {
			return nil, RejectUnknownDuration
		}
	case candidate.Duration < d.cfg.MinDuration:
		return nil, RejectTooShort
	}

	if target := d.findMergeTarget(candidate.Duration); target != nil {
		target.Qualities = mergeQualities(target.Qualities, candidate.Qualities)
		if !target.HasSubtitles {
			target.HasSubtitles = candidate.HasSubtitles
		}
		return target, ""
	}

	d.byID[candidate.ID] = len(d.streams)
	d.streams = append(d.streams, candidate)
	d.prune()

	if _, ok := d.byID[candidate.ID]; !ok {
		// The candidate itself fell to pruning.
		return nil, RejectTooShort
	}
	return candidate, ""
}

// findMergeTarget returns the accepted stream whose duration window the
// candidate falls into, preferring the nearest when several overlap.
func (d *Detector) findMergeTarget(duration float64) *models.DetectedStream {
	if duration == 0 {
		return nil
	}

	var best *models.DetectedStream
	bestDelta := math.MaxFloat64
	for _, s := range d.streams {
		window := s.Duration * d.cfg.MergeTolerance
		delta := math.Abs(s.Duration - duration)
		if delta <= window && delta < bestDelta {
			best = s
			bestDelta = delta
		}
	}
	return best
}

// prune drops accepted streams far shorter than the longest one: trailers
// and ads accepted before the real long-form video showed up. Idempotent,
// and never applied to a pool of one.
func (d *Detector) prune() {
	if len(d.streams) <= 1 {
		return
	}

	var maxDuration float64
	for _, s := range d.streams {
		if s.Duration > maxDuration {
			maxDuration = s.Duration
		}
	}

	threshold := maxDuration * d.cfg.PruneRatio
	kept := d.streams[:0]
	for _, s := range d.streams {
		if s.Duration >= threshold || s.Duration == 0 {
			kept = append(kept, s)
		} else {
			delete(d.byID, s.ID)
		}
	}
	d.streams = kept

	for i, s := range d.streams {
		d.byID[s.ID] = i
	}
}

// mergeQualities combines two quality lists, deduplicating on the pair
// (resolution label, bandwidth bucket) with first-seen winning, then
// resorts by descending bandwidth.
func mergeQualities(existing, incoming models.QualityList) models.QualityList {
	type key struct {
		resolution string
		bucket     int64
	}

	seen := make(map[key]bool, len(existing)+len(incoming))
	merged := make(models.QualityList, 0, len(existing)+len(incoming))
	for _, q := range append(append(models.QualityList{}, existing...), incoming...) {
		k := key{resolution: q.Resolution, bucket: q.Bandwidth / bandwidthBucket}
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, q)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Bandwidth > merged[j].Bandwidth
	})
	return merged
}

// fallbackQuality synthesizes a quality entry from nothing but the URL,
// for streams whose parse produced no structured variants.
func fallbackQuality(url string) models.Quality {
	lower := strings.ToLower(url)
	resolution := models.FormatResolution(0)
	for _, guess := range []struct {
		marker string
		height int
	}{
		{"2160", 2160}, {"4k", 2160}, {"1440", 1440}, {"1080", 1080},
		{"720", 720}, {"480", 480}, {"360", 360}, {"240", 240},
	} {
		if strings.Contains(lower, guess.marker) {
			resolution = models.FormatResolution(guess.height)
			break
		}
	}
	return models.Quality{Resolution: resolution, Bandwidth: 0, URL: url}
}

// Streams returns a snapshot of the currently accepted streams.
func (d *Detector) Streams() []models.DetectedStream {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.DetectedStream, len(d.streams))
	for i, s := range d.streams {
		out[i] = *s
	}
	return out
}

// Get returns one accepted stream by id.
func (d *Detector) Get(id string) (models.DetectedStream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.byID[id]
	if !ok {
		return models.DetectedStream{}, false
	}
	return *d.streams[i], true
}

// Clear empties the arena. Called when the browsing context navigates away
// or the user dismisses the detection list.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.streams = nil
	d.byID = make(map[string]int)
}

// normalizeType confirms or guesses the stream type from the URL when the
// browser's hint is absent or unknown.
func normalizeType(url, hint string) string {
	switch hint {
	case models.StreamTypeHLS, models.StreamTypeDASH, models.StreamTypeDirect:
		return hint
	}

	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch {
	case strings.HasSuffix(lower, ".m3u8"):
		return models.StreamTypeHLS
	case strings.HasSuffix(lower, ".mpd"):
		return models.StreamTypeDASH
	case strings.HasSuffix(lower, ".mp4"), strings.HasSuffix(lower, ".webm"),
		strings.HasSuffix(lower, ".mov"), strings.HasSuffix(lower, ".mkv"):
		return models.StreamTypeDirect
	}
	return models.StreamTypeUnknown
}
