package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
	MediaKindImage MediaKind = "image"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// ToJSONB round-trips any JSON-serializable value into a JSONB map.
func ToJSONB(v interface{}) (JSONB, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var j JSONB
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return j, nil
}

// Models

// EditJob is one run of the assembly pipeline. Payload holds the
// GenerateEditImportPayload once the job has succeeded.
type EditJob struct {
	ID           uuid.UUID  `json:"id"`
	SongSlug     string     `json:"song_slug"`
	ProjectID    *string    `json:"project_id,omitempty"`
	Seed         *int64     `json:"seed,omitempty"`
	SongURL      *string    `json:"song_url,omitempty"`
	Localize     bool       `json:"localize"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	Payload      JSONB      `json:"payload,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MediaItem is a stored, playable piece of user media.
type MediaItem struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Name            string    `json:"name"`
	Kind            MediaKind `json:"kind"`
	MimeType        string    `json:"mime_type"`
	ByteSize        int64     `json:"byte_size"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	Thumbnail       *string   `json:"thumbnail,omitempty"` // data URL
	StoragePath     string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// DTOs for API requests/responses

type CreateEditRequest struct {
	SongSlug  string  `json:"songSlug"`
	Seed      *int64  `json:"seed,omitempty"`
	ProjectID *string `json:"projectId,omitempty"`
	SongURL   *string `json:"songUrl,omitempty"`
	Localize  bool    `json:"localize,omitempty"`
}

type CreateEditResponse struct {
	JobID  uuid.UUID `json:"jobId"`
	Status JobStatus `json:"status"`
}
