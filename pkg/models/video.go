package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Video represents a finished download in the library: one muxed media
// file stored under StorageKey, plus what we learned about the source.
type Video struct {
	ID         string    `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	SourceURL  string    `json:"source_url" db:"source_url"`
	StorageKey string    `json:"storage_key" db:"storage_key"`
	Size       int64     `json:"size" db:"size"`
	Duration   float64   `json:"duration" db:"duration"`
	Resolution string    `json:"resolution" db:"resolution"`
	Container  string    `json:"container" db:"container"`
	Metadata   Metadata  `json:"metadata" db:"metadata"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Metadata holds additional video metadata
type Metadata map[string]interface{}

// Value implements driver.Valuer for database storage
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, m)
}
