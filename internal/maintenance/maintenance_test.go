package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	logx "producerd/pkg/logx"
)

type fakeArchive struct {
	mu      sync.Mutex
	cutoffs []time.Time
	pruned  int64
	err     error
}

func (a *fakeArchive) PruneGenerations(ctx context.Context, olderThan time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return 0, a.err
	}
	a.cutoffs = append(a.cutoffs, olderThan)
	return a.pruned, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	kept    int
	removed int
}

func (e *fakeEngine) RefreshIdleAuth(ctx context.Context) (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.kept, e.removed
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@daily", kind: SpecCron, source: "cron"},
		{name: "every", raw: "@every 15m", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "hhmm minutes only", raw: "00:50", kind: SpecInterval, source: "hhmm", duration: 50 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "-5m", "12:79"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) accepted", raw)
		}
	}
}

func TestPruneJobUsesRetentionCutoff(t *testing.T) {
	t.Parallel()
	arch := &fakeArchive{pruned: 12}
	s := New(Config{Enabled: true}, nil, arch, logx.Nop())

	before := time.Now()
	if err := s.runPrune(context.Background(), 720*time.Hour); err != nil {
		t.Fatalf("runPrune = %v", err)
	}
	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.cutoffs) != 1 {
		t.Fatalf("prune calls = %d, want 1", len(arch.cutoffs))
	}
	want := before.Add(-720 * time.Hour)
	if diff := arch.cutoffs[0].Sub(want); diff < 0 || diff > time.Minute {
		t.Fatalf("cutoff = %v, want about %v", arch.cutoffs[0], want)
	}
}

func TestRunJobRecordsOutcome(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, HistorySize: 2}, nil, nil, logx.Nop())

	s.runJob(context.Background(), "ok", time.Second, 2, func(ctx context.Context) error { return nil })
	s.runJob(context.Background(), "bad", time.Second, 2, func(ctx context.Context) error { return errors.New("broke") })
	s.runJob(context.Background(), "explodes", time.Second, 2, func(ctx context.Context) error { panic("kaboom") })

	hist := s.Snapshot().History
	if len(hist) != 2 {
		t.Fatalf("history = %d entries, want trimmed to 2", len(hist))
	}
	if hist[0].Name != "bad" || hist[0].Error != "broke" {
		t.Fatalf("history[0] = %+v", hist[0])
	}
	if hist[1].Name != "explodes" || !strings.Contains(hist[1].Error, "job panic") {
		t.Fatalf("history[1] = %+v", hist[1])
	}
}

func TestStartRegistersJobs(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{kept: 2}
	arch := &fakeArchive{}
	s := New(Config{Enabled: true}, eng, arch, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	s.Start(context.Background()) // idempotent

	snap := s.Snapshot()
	if !snap.Running {
		t.Fatal("snapshot not running after start")
	}
	for _, name := range []string{"archive.prune", "auth.refresh"} {
		next, ok := snap.NextRuns[name]
		if !ok {
			t.Fatalf("job %s not registered", name)
		}
		if !next.After(time.Now().Add(-time.Second)) {
			t.Fatalf("job %s next run %v is in the past", name, next)
		}
	}

	s.Stop(context.Background())
	s.Stop(context.Background()) // idempotent
	if s.Snapshot().Running {
		t.Fatal("snapshot running after stop")
	}
}

func TestDisabledServiceStaysDown(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeEngine{}, &fakeArchive{}, logx.Nop())
	s.Start(context.Background())
	if s.Snapshot().Running {
		t.Fatal("disabled service started")
	}
}

func TestIntervalScheduleFires(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{kept: 1}
	s := New(Config{Enabled: true, ReauthSchedule: "1s"}, eng, nil, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	waitFor(t, "reauth job to fire", func() bool { return eng.callCount() >= 1 })
	waitFor(t, "job history", func() bool {
		hist := s.Snapshot().History
		return len(hist) > 0 && hist[0].Name == "auth.refresh"
	})
}

func TestApplyReschedules(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	cfg := Config{Enabled: true, ReauthSchedule: "@every 1h"}
	s := New(cfg, eng, nil, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	farNext := s.Snapshot().NextRuns["auth.refresh"]
	if farNext.IsZero() {
		t.Fatal("reauth job not registered")
	}

	cfg.ReauthSchedule = "@every 1m"
	s.Apply(cfg)
	soonNext := s.Snapshot().NextRuns["auth.refresh"]
	if soonNext.IsZero() {
		t.Fatal("reauth job lost after apply")
	}
	if !soonNext.Before(farNext) {
		t.Fatalf("next run %v not moved up from %v", soonNext, farNext)
	}
}
