package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Download represents one download task record
type Download struct {
	ID            string          `json:"id" db:"id"`
	Title         string          `json:"title" db:"title"`
	Status        string          `json:"status" db:"status"`
	Progress      float64         `json:"progress" db:"progress"`
	ErrorMsg      string          `json:"error_msg,omitempty" db:"error_msg"`
	RetryCount    int             `json:"retry_count" db:"retry_count"`
	SegmentsTotal int             `json:"segments_total" db:"segments_total"`
	SegmentsDone  int             `json:"segments_done" db:"segments_done"`
	VideoID       string          `json:"video_id,omitempty" db:"video_id"`
	StartedAt     *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	Request       DownloadRequest `json:"request" db:"request"`
}

// DownloadRequest captures everything the worker needs to (re)start a
// download: the chosen rendition, the stream type and any request headers
// the origin expects. It is stored as JSONB alongside the download row so
// a restarted worker can resume from the persisted segment index.
type DownloadRequest struct {
	SourceURL        string            `json:"source_url"`
	Type             string            `json:"type"`
	Resolution       string            `json:"resolution,omitempty"`
	Bandwidth        int64             `json:"bandwidth,omitempty"`
	PreferredQuality string            `json:"preferred_quality,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Cookies          string            `json:"cookies,omitempty"`
	UserAgent        string            `json:"user_agent,omitempty"`
}

// Value implements driver.Valuer for database storage
func (dr DownloadRequest) Value() (driver.Value, error) {
	return json.Marshal(dr)
}

// Scan implements sql.Scanner for database retrieval
func (dr *DownloadRequest) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, dr)
}

// DownloadStatus constants. Manifest fetch, segment fetch and muxing are
// occupied by at most one download system-wide at any time.
const (
	DownloadStatusPending   = "pending"
	DownloadStatusManifest  = "downloading_manifest"
	DownloadStatusSegments  = "downloading_segments"
	DownloadStatusMuxing    = "muxing"
	DownloadStatusPaused    = "paused"
	DownloadStatusCompleted = "completed"
	DownloadStatusFailed    = "failed"
	DownloadStatusCancelled = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func IsTerminal(status string) bool {
	switch status {
	case DownloadStatusCompleted, DownloadStatusFailed, DownloadStatusCancelled:
		return true
	}
	return false
}
