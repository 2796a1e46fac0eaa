package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Studio describes the external generation surface: entry URL, credentials,
	// interaction pacing and the control selectors the drivers probe for.
	Studio StudioConfig `json:"studio"`

	// Pool bounds the worker-session pool and its recovery policy.
	Pool PoolConfig `json:"pool"`

	// Queue controls the scheduler tick.
	Queue QueueConfig `json:"queue"`

	Uploader    *UploaderConfig    `json:"uploader,omitempty"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Notifier    *NotifierConfig    `json:"notifier,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
	Admission   *AdmissionConfig   `json:"admission,omitempty"`
	Diag        *DiagConfig        `json:"diag,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StudioConfig describes the target surface.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "2m").
//
// Defaults (when fields are omitted/zero):
//   - studio_url: url
//   - pacing: "balanced"
//   - page_load_timeout: "30s"
//   - element_timeout: "15s"
//   - generation_timeout: "120s"
//   - artifact_timeout: "120s"
//   - work_dir: a subdirectory of os.TempDir()
type StudioConfig struct {
	// URL is the entry/auth surface; StudioURL is the task surface.
	URL       string `json:"url"`
	StudioURL string `json:"studio_url,omitempty"`

	Email    string `json:"email"`
	Password string `json:"password"` // do not log

	Headless bool `json:"headless"`

	// Pacing selects a delay profile: "stealth", "balanced", "aggressive".
	// Rate shaping is policy, not an optimization; "zero" exists for tests only.
	Pacing string `json:"pacing,omitempty"`

	PageLoadTimeout   string `json:"page_load_timeout,omitempty"`
	ElementTimeout    string `json:"element_timeout,omitempty"`
	GenerationTimeout string `json:"generation_timeout,omitempty"`
	ArtifactTimeout   string `json:"artifact_timeout,omitempty"`

	// WorkDir holds downloaded artifacts until they are uploaded.
	WorkDir string `json:"work_dir,omitempty"`

	// Controls overrides the default selector set. Empty fields keep defaults.
	Controls ControlsConfig `json:"controls,omitempty"`

	// RatePerSec caps paced interactions pool-wide (token bucket).
	// 0 disables the shared limiter; per-action profile delays still apply.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// ControlsConfig names the selectors the drivers interact with.
// Ready doubles as the authenticated-session probe; entry, identity,
// secret and advance drive the login flow.
type ControlsConfig struct {
	Ready    string `json:"ready,omitempty"`
	Working  string `json:"working,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Submit   string `json:"submit,omitempty"`
	Menu     string `json:"menu,omitempty"`
	Export   string `json:"export,omitempty"`
	Format   string `json:"format,omitempty"`
	Entry    string `json:"entry,omitempty"`
	Identity string `json:"identity,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Advance  string `json:"advance,omitempty"`
}

// PoolConfig bounds the session pool.
//
// Defaults (when fields are omitted/zero):
//   - max_workers: 12 (hard cap)
//   - initial_workers: 3
//   - soft_cap: max_workers
//   - idle_timeout: "30m"
//   - auth_attempts: 3
//   - auth_cache_ttl: "60s"
type PoolConfig struct {
	MaxWorkers     int `json:"max_workers,omitempty"`
	InitialWorkers int `json:"initial_workers,omitempty"`

	// SoftCap is the growth threshold beyond which the admission gate is
	// consulted. The hard cap (max_workers) is authoritative regardless.
	SoftCap int `json:"soft_cap,omitempty"`

	IdleTimeout  string `json:"idle_timeout,omitempty"`
	AuthAttempts int    `json:"auth_attempts,omitempty"`
	AuthCacheTTL string `json:"auth_cache_ttl,omitempty"`

	Breaker BreakerConfig `json:"breaker,omitempty"`
}

// BreakerConfig controls the pool-growth circuit breaker: consecutive
// authentication failures open a cooldown window during which the tick
// does not attempt growth.
type BreakerConfig struct {
	Threshold int    `json:"threshold,omitempty"` // default 3
	Cooldown  string `json:"cooldown,omitempty"`  // default "60s"
}

// QueueConfig controls the scheduler tick.
//
// Defaults: tick_interval "50ms", cleanup_every 30 ticks.
type QueueConfig struct {
	TickInterval string `json:"tick_interval,omitempty"`
	CleanupEvery int    `json:"cleanup_every,omitempty"`
}

// UploaderConfig controls artifact upload to S3-compatible object storage.
//
// KeyTemplate expands {user_id}, {project_id} and {request_id}.
type UploaderConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	AccessKey   string `json:"access_key"`
	SecretKey   string `json:"secret_key"` // do not log
	Bucket      string `json:"bucket"`
	UseSSL      bool   `json:"use_ssl"`
	KeyTemplate string `json:"key_template,omitempty"`
}

// StorageConfig controls the optional generation archive.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./producerd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls operator alerting via Telegram.
//
// Disabled unless both token and chat_id are set.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token"` // do not log
	ChatID      int64  `json:"chat_id"`
	ThreadID    int    `json:"thread_id,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`  // default 3
	RetryMax    int    `json:"retry_max,omitempty"`     // default 3
	DedupWindow string `json:"dedup_window,omitempty"`  // default "1m"
	QueueSize   int    `json:"queue_size,omitempty"`    // default 512
}

// MaintenanceConfig controls scheduled housekeeping.
//
// Schedule strings accept cron exprs (5 or 6 fields), @descriptors,
// "@every <dur>", bare Go durations and HH:MM.
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"

	PruneSpec string `json:"prune_spec,omitempty"` // default "@daily"
	PruneKeep string `json:"prune_keep,omitempty"` // default "720h"

	ReauthSpec string `json:"reauth_spec,omitempty"` // default "@every 15m"
}

// AdmissionConfig controls the optional network-quality growth gate.
// The gate fails open: an unknown or stale measurement allows growth.
type AdmissionConfig struct {
	Enabled         bool    `json:"enabled"`
	MinDownloadMbps float64 `json:"min_download_mbps,omitempty"`
	ProbeInterval   string  `json:"probe_interval,omitempty"` // default "30m"
}

// DiagConfig controls the optional diagnostics HTTP server (pprof + pool state).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
