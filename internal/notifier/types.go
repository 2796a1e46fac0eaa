package notifier

import "time"

// Config controls the async alert pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Alert is one operator-facing message. Priority selects the prefix:
// >=9 critical, >=7 warning, >=5 info. Key overrides the dedup identity;
// when empty the priority and text are hashed instead.
type Alert struct {
	Priority int
	Text     string
	Key      string
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Enabled bool   `json:"enabled"`
	Queued  int    `json:"queued"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Deduped uint64 `json:"deduped"`
	Failed  uint64 `json:"failed"`
}

// AlertEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type AlertEvent struct {
	Key      string    `json:"key"`
	Priority int       `json:"priority"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
