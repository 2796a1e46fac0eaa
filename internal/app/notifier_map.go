package app

import (
	"fmt"
	"strings"
	"time"

	"producerd/internal/notifier"
)

// mapNotifierConfig maps the notifier section into the runtime
// notifier.Config (parsed durations). Alerting stays off unless the
// section is enabled and carries both a token and a chat id.
func mapNotifierConfig(cfg *Config) (notifier.Config, error) {
	out := notifier.Config{
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     1 * time.Minute,
		DedupMaxEntries: 2000,
	}

	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled && strings.TrimSpace(n.Token) != "" && n.ChatID != 0
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}

	var err error
	out.DedupWindow, err = parseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}

	if out.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if out.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	if out.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}

	return out, nil
}
