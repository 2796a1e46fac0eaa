package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"producerd/internal/browser"
	"producerd/internal/eventbus"
	"producerd/internal/storage"
	logx "producerd/pkg/logx"

	"producerd/internal/artifact"
)

// RequestStatus is the lifecycle state of one generation request.
// Transitions are monotonic: Pending -> Processing -> terminal, and a
// terminal status is never overwritten.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// WorkerStatus is the service state of one pooled session.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerError   WorkerStatus = "error"
	WorkerOffline WorkerStatus = "offline"
)

// Request is one tracked generation. The submission fields (Prompt through
// Priority, plus ID and CreatedAt) are immutable after Submit; the
// scheduling fields are only touched under the request-index lock.
type Request struct {
	ID           string `json:"id"`
	Prompt       string `json:"prompt"`
	Lyrics       string `json:"lyrics,omitempty"`
	Instrumental bool   `json:"instrumental,omitempty"`
	Title        string `json:"title,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`

	// Priority and the retry pair are carried for callers and records;
	// scheduling is strictly FIFO today.
	Priority   int `json:"priority,omitempty"`
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	Status   RequestStatus `json:"status"`
	WorkerID string        `json:"assigned_worker_id,omitempty"`
	Position int           `json:"queue_position,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Error  string         `json:"error,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// SubmitInput is the caller-facing request shape.
type SubmitInput struct {
	Prompt       string `json:"prompt"`
	Lyrics       string `json:"lyrics,omitempty"`
	Instrumental bool   `json:"instrumental,omitempty"`
	Title        string `json:"title,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	MaxRetries   int    `json:"max_retries,omitempty"`
}

// Enqueued is the synchronous answer to Submit: where the request landed
// and a best-effort wait estimate (aggregate mean times queue position;
// zero until the pool has completed work).
type Enqueued struct {
	ID            string        `json:"request_id"`
	Status        string        `json:"status"`
	WorkerID      string        `json:"assigned_worker_id,omitempty"`
	Position      int           `json:"queue_position"`
	EstimatedWait time.Duration `json:"estimated_wait,omitempty"`
}

// Placement values reported in Enqueued.Status.
const (
	PlacedWorker = "queued"
	PlacedGlobal = "queued_global"
)

// WorkerStats is a point-in-time copy of one session's counters.
type WorkerStats struct {
	ID             string         `json:"id"`
	Status         WorkerStatus   `json:"status"`
	QueueLength    int            `json:"queue_length"`
	CurrentRequest string         `json:"current_request,omitempty"`
	Generation     map[string]any `json:"generation,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivity   time.Time      `json:"last_activity"`
	TotalProcessed int64          `json:"total_processed"`
	TotalFailed    int64          `json:"total_failed"`
	AvgProcessing  time.Duration  `json:"average_processing_time"`
}

// AggregateStats are pool-wide counters. AvgProcessing is the
// processed-count weighted mean over live sessions, refreshed each tick.
type AggregateStats struct {
	TotalRequests int64         `json:"total_requests"`
	Completed     int64         `json:"completed_requests"`
	Failed        int64         `json:"failed_requests"`
	AvgProcessing time.Duration `json:"average_processing_time"`
	UptimeStart   time.Time     `json:"uptime_start"`
}

// PoolStatus is the externally visible pool state.
type PoolStatus struct {
	Running     bool           `json:"running"`
	Total       int            `json:"total_workers"`
	Available   int            `json:"available_workers"`
	Busy        int            `json:"busy_workers"`
	MaxWorkers  int            `json:"max_workers"`
	GlobalQueue int            `json:"global_queue"`
	Workers     []WorkerStats  `json:"workers"`
	Stats       AggregateStats `json:"stats"`
}

// BreakerState reports the growth circuit breaker.
type BreakerState struct {
	Failures  int       `json:"failures"`
	Open      bool      `json:"open"`
	OpenUntil time.Time `json:"open_until"`
}

// Snapshot reports scheduler internals for diagnostics endpoints.
type Snapshot struct {
	Running          bool         `json:"running"`
	Ticks            uint64       `json:"ticks"`
	LastTick         time.Time    `json:"last_tick"`
	PendingCreations int          `json:"pending_creations"`
	TrackedRequests  int          `json:"tracked_requests"`
	Pool             PoolStatus   `json:"pool"`
	Breaker          BreakerState `json:"breaker"`
}

// Config controls the session pool and scheduler.
//
// The app layer maps config.studio/pool/queue into this struct; zero
// fields take the documented defaults.
type Config struct {
	// AuthURL is the login entry surface; StudioURL is the task surface
	// jobs run on. Either may default to the other.
	AuthURL   string
	StudioURL string

	Email    string
	Password string // do not log

	MaxWorkers     int           // hard cap, default 12
	InitialWorkers int           // warmed at Start, default 3
	SoftCap        int           // admission gate consulted past this, default MaxWorkers
	IdleTimeout    time.Duration // idle reclamation threshold, default 30m
	AuthAttempts   int           // login budget, default 3
	AuthCacheTTL   time.Duration // positive auth-probe memo, default 60s

	TickInterval time.Duration // scheduler cadence, default 50ms
	CleanupEvery int           // ticks between idle sweeps, default 30

	PageLoadTimeout   time.Duration // default 30s
	ElementTimeout    time.Duration // default 15s
	GenerationTimeout time.Duration // default 120s
	ArtifactTimeout   time.Duration // default 120s
	PollInterval      time.Duration // progress poll cadence, default 500ms

	WorkDir     string           // artifact staging dir
	Controls    browser.Controls // selector set, default browser.DefaultControls
	KeyTemplate string           // object key layout, default DefaultKeyTemplate

	BreakerThreshold int           // consecutive creation failures, default 3
	BreakerCooldown  time.Duration // growth pause, default 60s
}

func (c Config) withDefaults() Config {
	if c.StudioURL == "" {
		c.StudioURL = c.AuthURL
	}
	if c.AuthURL == "" {
		c.AuthURL = c.StudioURL
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 12
	}
	if c.InitialWorkers <= 0 {
		c.InitialWorkers = 3
	}
	if c.InitialWorkers > c.MaxWorkers {
		c.InitialWorkers = c.MaxWorkers
	}
	if c.SoftCap <= 0 || c.SoftCap > c.MaxWorkers {
		c.SoftCap = c.MaxWorkers
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.AuthAttempts <= 0 {
		c.AuthAttempts = 3
	}
	if c.AuthCacheTTL <= 0 {
		c.AuthCacheTTL = time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = 30
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 30 * time.Second
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 15 * time.Second
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 120 * time.Second
	}
	if c.ArtifactTimeout <= 0 {
		c.ArtifactTimeout = 120 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "producerd")
	}
	if c.Controls == (browser.Controls{}) {
		c.Controls = browser.DefaultControls()
	}
	if c.KeyTemplate == "" {
		c.KeyTemplate = DefaultKeyTemplate
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
	return c
}

// DriverFactory allocates interactive sessions. browser.Factory satisfies
// this; tests substitute scripted fakes.
type DriverFactory interface {
	NewDriver(ctx context.Context) (browser.Driver, error)
}

// Uploader ships a finished artifact to object storage.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (artifact.UploadInfo, error)
}

// Recorder archives terminal outcomes. Failures must be non-fatal.
type Recorder interface {
	CreateRecord(ctx context.Context, rec storage.GenerationRecord) (string, error)
}

// Gate approves pool growth past the soft cap. Allow must answer from
// cached state; it runs on the scheduler tick.
type Gate interface {
	Allow(ctx context.Context) bool
}

// Deps wires the engine's collaborators. Factory is required; the rest
// are optional.
type Deps struct {
	Factory  DriverFactory
	Uploader Uploader
	Recorder Recorder
	Gate     Gate
	Log      logx.Logger
	Bus      eventbus.Bus
}

// RequestEvent is the bus payload for request lifecycle events.
type RequestEvent struct {
	ID        string `json:"request_id"`
	Worker    string `json:"worker_id,omitempty"`
	Position  int    `json:"queue_position,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

// WorkerEvent is the bus payload for session lifecycle events.
type WorkerEvent struct {
	Worker string `json:"worker_id,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PoolEvent is the bus payload for pool-level events.
type PoolEvent struct {
	Workers int `json:"workers"`
	Max     int `json:"max"`
	Queued  int `json:"queued,omitempty"`
}
