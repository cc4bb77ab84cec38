package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StreamType constants identify how a detected URL should be handled.
const (
	StreamTypeHLS     = "hls"
	StreamTypeDASH    = "dash"
	StreamTypeDirect  = "direct"
	StreamTypeUnknown = "unknown"
)

// Quality represents one rendition of a video: a resolution label, the
// bandwidth advertised by the manifest and the URL of the rendition's own
// manifest (or media file for direct streams).
type Quality struct {
	Resolution string `json:"resolution"`
	Bandwidth  int64  `json:"bandwidth"`
	URL        string `json:"url"`
	Codecs     string `json:"codecs,omitempty"`
}

// QualityList is stored as JSONB on download and stream records.
type QualityList []Quality

// Value implements driver.Valuer for database storage
func (q QualityList) Value() (driver.Value, error) {
	return json.Marshal(q)
}

// Scan implements sql.Scanner for database retrieval
func (q *QualityList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, q)
}

// Segment is one byte-identified unit of media within a rendition.
// Index is the 0-based position used for on-disk naming and as the resume
// point. ByteRange, when set, uses the HLS "length@offset" form.
type Segment struct {
	URL       string  `json:"url"`
	Duration  float64 `json:"duration"`
	Index     int     `json:"index"`
	ByteRange string  `json:"byte_range,omitempty"`
}

// InitSegment describes the shared initialization segment of an fMP4/CMAF
// rendition, as declared by an EXT-X-MAP tag.
type InitSegment struct {
	URL       string `json:"url"`
	ByteRange string `json:"byte_range,omitempty"`
}

// AudioTrack represents one audio alternative of a DASH manifest, reduced
// to the highest-bandwidth representation of its adaptation set.
type AudioTrack struct {
	Language  string `json:"language,omitempty"`
	Label     string `json:"label,omitempty"`
	Codecs    string `json:"codecs,omitempty"`
	Bandwidth int64  `json:"bandwidth"`
}

// RenditionInfo is the common output shape of both manifest parsers.
//
// A master/top-level manifest yields Qualities; a media playlist yields
// Segments. TotalDuration of zero means the duration could not be
// determined and callers must treat the stream conservatively.
type RenditionInfo struct {
	Qualities      []Quality    `json:"qualities,omitempty"`
	Segments       []Segment    `json:"segments,omitempty"`
	AudioTracks    []AudioTrack `json:"audio_tracks,omitempty"`
	IsLive         bool         `json:"is_live"`
	IsDRMProtected bool         `json:"is_drm_protected"`
	HasSubtitles   bool         `json:"has_subtitles"`
	TotalDuration  float64      `json:"total_duration"`

	// KeyURL is the resolved AES-128 key URL; empty means unencrypted.
	// Sample-AES and platform DRM set IsDRMProtected instead. KeyIV is the
	// key tag's IV attribute verbatim ("0x" + hex); empty means the IV
	// derives from each segment's media sequence number.
	KeyURL string `json:"key_url,omitempty"`
	KeyIV  string `json:"key_iv,omitempty"`

	// MediaSequence is the sequence number of the first segment, from
	// EXT-X-MEDIA-SEQUENCE. Zero when the tag is absent.
	MediaSequence int `json:"media_sequence,omitempty"`

	// MinBufferTime is the MPD minBufferTime in seconds; zero when absent.
	MinBufferTime float64 `json:"min_buffer_time,omitempty"`

	Fragmented  bool         `json:"fragmented"`
	InitSegment *InitSegment `json:"init_segment,omitempty"`
}

// DetectedStream is one user-visible candidate video on the current page.
// Qualities are merged in as more manifests resolve for the same content.
type DetectedStream struct {
	ID             string      `json:"id"`
	SourceURL      string      `json:"source_url"`
	Type           string      `json:"type"`
	SourceTag      string      `json:"source_tag,omitempty"`
	Qualities      QualityList `json:"qualities"`
	Duration       float64     `json:"duration"`
	IsLive         bool        `json:"is_live"`
	IsDRMProtected bool        `json:"is_drm_protected"`
	HasSubtitles   bool        `json:"has_subtitles"`
	DetectedAt     time.Time   `json:"detected_at"`
}

// FormatResolution renders a pixel height as the conventional "<height>p"
// label, or "Unknown" when the height is not known.
func FormatResolution(height int) string {
	if height <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%dp", height)
}
