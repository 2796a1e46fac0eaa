package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: DEBUG
  console: true
studio:
  url: https://studio.example.com/login
  studio_url: https://studio.example.com/workspace
  email: ops@example.com
  password: hunter2
  headless: true
  pacing: stealth
  generation_timeout: 90s
pool:
  max_workers: 8
  initial_workers: 2
  soft_cap: 6
  idle_timeout: 10m
  breaker:
    threshold: 4
    cooldown: 45s
queue:
  tick_interval: 25ms
  cleanup_every: 10
storage:
  driver: file
  path: /var/lib/producerd/store
notifier:
  enabled: true
  token: "123:abc"
  chat_id: -100123
admission:
  enabled: true
  min_download_mbps: 25
diag:
  enabled: true
  addr: 127.0.0.1:6060
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Studio.URL != "https://studio.example.com/login" {
		t.Fatalf("studio.url = %q", cfg.Studio.URL)
	}
	if cfg.Studio.StudioURL != "https://studio.example.com/workspace" {
		t.Fatalf("studio.studio_url = %q", cfg.Studio.StudioURL)
	}
	if !cfg.Studio.Headless || cfg.Studio.Pacing != "stealth" {
		t.Fatalf("studio = %+v", cfg.Studio)
	}
	if cfg.Pool.MaxWorkers != 8 || cfg.Pool.SoftCap != 6 || cfg.Pool.Breaker.Threshold != 4 {
		t.Fatalf("pool = %+v", cfg.Pool)
	}
	if cfg.Queue.TickInterval != "25ms" || cfg.Queue.CleanupEvery != 10 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Notifier == nil || cfg.Notifier.ChatID != -100123 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.Admission == nil || cfg.Admission.MinDownloadMbps != 25 {
		t.Fatalf("admission = %+v", cfg.Admission)
	}
	if cfg.Diag == nil || cfg.Diag.Addr != "127.0.0.1:6060" {
		t.Fatalf("diag = %+v", cfg.Diag)
	}
	if cfg.Uploader != nil || cfg.Maintenance != nil {
		t.Fatalf("omitted sections should stay nil")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeConfig(t, "config.json",
		`{"studio": {"url": "https://s", "email": "e@x", "password": "p"}}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Studio.URL != "https://s" {
		t.Fatalf("studio.url = %q", cfg.Studio.URL)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeConfig(t, "config.yaml", "studio:\n  url: x\n  warp_speed: 9\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeConfig(t, "config.json", `{"studio":{"url":"x"}} {}`))
	_, err := m.Parse()
	if err == nil {
		t.Fatalf("trailing data accepted")
	}
	if !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("error = %v, want trailing data", err)
	}
}

func TestLoadCommitsConfig(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return committed config")
	}
	if m.lastHash == 0 {
		t.Fatalf("commit did not record content hash")
	}
	if h := hashConfig(cfg); h != m.lastHash {
		t.Fatalf("hash mismatch: %x vs %x", h, m.lastHash)
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused")
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	first := &Config{Studio: StudioConfig{URL: "first"}}
	second := &Config{Studio: StudioConfig{URL: "second"}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-sub:
		if got.Studio.URL != "second" {
			t.Fatalf("got %q, want newest", got.Studio.URL)
		}
	default:
		t.Fatalf("no config delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused")
	sub := m.Subscribe(1)
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("channel still open after Unsubscribe")
	}
	// Publishing after Unsubscribe must not panic.
	m.publish(&Config{})
}

func TestWatchPublishesValidatedChanges(t *testing.T) {
	path := writeConfig(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Pool.MaxWorkers < 0 {
			return errors.New("pool.max_workers must be >= 0")
		}
		return nil
	})

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan error, 1)
	go func() { watchDone <- m.Watch(ctx) }()

	// Give the watcher a beat to register before the first write.
	time.Sleep(300 * time.Millisecond)

	good := strings.Replace(sampleYAML, "max_workers: 8", "max_workers: 9", 1)
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Pool.MaxWorkers != 9 {
			t.Fatalf("published max_workers = %d, want 9", cfg.Pool.MaxWorkers)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no publish after valid change")
	}

	// A change the validator rejects must not be committed or published.
	bad := strings.Replace(sampleYAML, "max_workers: 8", "max_workers: -1", 1)
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case cfg := <-sub:
		t.Fatalf("rejected config published: %+v", cfg.Pool)
	case <-time.After(700 * time.Millisecond):
	}
	if got := m.Get().Pool.MaxWorkers; got != 9 {
		t.Fatalf("committed config changed to %d after rejected reload", got)
	}

	cancel()
	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatalf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not exit on cancel")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{" 2m ", 2 * time.Minute, false},
		{"90s", 90 * time.Second, false},
		{"soon", 0, true},
		{"-5s", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x.y", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q) accepted", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	if got, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || got != 3*time.Second {
		t.Fatalf("empty = %v/%v", got, err)
	}
	if got, err := ParseDurationOrDefault("x", "90s", 3*time.Second); err != nil || got != 90*time.Second {
		t.Fatalf("set = %v/%v", got, err)
	}
	if _, err := ParseDurationOrDefault("x", "nope", 3*time.Second); err == nil {
		t.Fatalf("bad duration accepted")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Studio: StudioConfig{URL: "https://a", Pacing: "balanced"}}
	newCfg := &Config{
		Studio:   StudioConfig{URL: "https://b", Pacing: "stealth"},
		Notifier: &NotifierConfig{Enabled: true, Token: "secret-token", ChatID: 5},
	}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"studio": true, "notifier": true}
	for _, s := range sections {
		delete(want, s)
	}
	if len(want) != 0 {
		t.Fatalf("sections = %v, missing %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs for changed sections")
	}

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(sections) != 0 {
		t.Fatalf("identical configs reported sections %v", sections)
	}
}
