package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the generation archive.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the archive is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// GenerationRecord archives one terminal generation request.
// Keep it compact and schema-stable.
type GenerationRecord struct {
	ID           string    `json:"id,omitempty"`
	RequestID    string    `json:"request_id"`
	WorkerID     string    `json:"worker_id,omitempty"`
	Status       string    `json:"status"`
	Title        string    `json:"title,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	ArtifactURL  string    `json:"artifact_url,omitempty"`
	ArtifactKey  string    `json:"artifact_key,omitempty"`
	ArtifactSize int64     `json:"artifact_size,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	ElapsedMS    int64     `json:"elapsed_ms,omitempty"`
}

// refTime is the timestamp pruning compares against.
func (r GenerationRecord) refTime() time.Time {
	if !r.CompletedAt.IsZero() {
		return r.CompletedAt
	}
	return r.CreatedAt
}
