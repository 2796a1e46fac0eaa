package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "producerd/pkg/logx"
)

func openTestArchive(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "producer.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatalf("file driver returned nil store")
	}
	return st
}

func requestIDs(recs []GenerationRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.RequestID)
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store", driver)
		}
	}

	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestOpenFileRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "file"}, logx.Nop())
	if err == nil {
		t.Fatalf("file driver opened without a path")
	}
	if !strings.Contains(err.Error(), "storage.path") {
		t.Fatalf("error = %v, want storage.path mention", err)
	}
}

func TestFileAppendAndRecent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestArchive(t, dir)
	defer st.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"req-1", "req-2", "req-3"} {
		rec := GenerationRecord{
			RequestID: id,
			Status:    "completed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.AppendGeneration(ctx, rec); err != nil {
			t.Fatalf("AppendGeneration(%s): %v", id, err)
		}
	}

	// The archive lives next to the configured path, keyed by its basename.
	if _, err := os.Stat(filepath.Join(dir, "producer.generations.jsonl")); err != nil {
		t.Fatalf("archive file missing: %v", err)
	}

	recs, err := st.RecentGenerations(ctx, 2)
	if err != nil {
		t.Fatalf("RecentGenerations: %v", err)
	}
	if got := requestIDs(recs); len(got) != 2 || got[0] != "req-3" || got[1] != "req-2" {
		t.Fatalf("recent(2) = %v, want newest first", got)
	}

	all, err := st.RecentGenerations(ctx, 0)
	if err != nil {
		t.Fatalf("RecentGenerations(0): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("recent(0) returned %d records", len(all))
	}

	// A record without a timestamp gets stamped on append.
	if err := st.AppendGeneration(ctx, GenerationRecord{RequestID: "req-4", Status: "failed"}); err != nil {
		t.Fatalf("AppendGeneration: %v", err)
	}
	recs, err = st.RecentGenerations(ctx, 1)
	if err != nil {
		t.Fatalf("RecentGenerations: %v", err)
	}
	if len(recs) != 1 || recs[0].CreatedAt.IsZero() {
		t.Fatalf("appended record missing created_at: %+v", recs)
	}
}

func TestFileReloadsTailOnOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	st := openTestArchive(t, dir)
	for _, id := range []string{"a", "b", "c"} {
		if err := st.AppendGeneration(ctx, GenerationRecord{RequestID: id, Status: "completed"}); err != nil {
			t.Fatalf("AppendGeneration: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = openTestArchive(t, dir)
	defer st.Close()
	recs, err := st.RecentGenerations(ctx, 0)
	if err != nil {
		t.Fatalf("RecentGenerations: %v", err)
	}
	if got := requestIDs(recs); len(got) != 3 || got[0] != "c" || got[2] != "a" {
		t.Fatalf("reloaded recent = %v", got)
	}
}

func TestFilePrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	st := openTestArchive(t, dir)
	defer st.Close()

	now := time.Now()
	stale := []GenerationRecord{
		{RequestID: "old-1", Status: "completed", CreatedAt: now.Add(-72 * time.Hour), CompletedAt: now.Add(-72 * time.Hour)},
		{RequestID: "old-2", Status: "failed", CreatedAt: now.Add(-48 * time.Hour), CompletedAt: now.Add(-48 * time.Hour)},
	}
	fresh := []GenerationRecord{
		{RequestID: "new-1", Status: "completed", CreatedAt: now.Add(-time.Hour), CompletedAt: now.Add(-time.Hour)},
	}
	for _, rec := range append(append([]GenerationRecord{}, stale...), fresh...) {
		if err := st.AppendGeneration(ctx, rec); err != nil {
			t.Fatalf("AppendGeneration(%s): %v", rec.RequestID, err)
		}
	}

	removed, err := st.PruneGenerations(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneGenerations: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	recs, err := st.RecentGenerations(ctx, 0)
	if err != nil {
		t.Fatalf("RecentGenerations: %v", err)
	}
	if got := requestIDs(recs); len(got) != 1 || got[0] != "new-1" {
		t.Fatalf("post-prune recent = %v", got)
	}

	// The append handle survives the rewrite.
	if err := st.AppendGeneration(ctx, GenerationRecord{RequestID: "new-2", Status: "completed"}); err != nil {
		t.Fatalf("AppendGeneration after prune: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The rewrite is durable, not just an in-memory trim.
	st2 := openTestArchive(t, dir)
	defer st2.Close()
	recs, err = st2.RecentGenerations(ctx, 0)
	if err != nil {
		t.Fatalf("RecentGenerations: %v", err)
	}
	if got := requestIDs(recs); len(got) != 2 || got[0] != "new-2" || got[1] != "new-1" {
		t.Fatalf("reloaded post-prune recent = %v", got)
	}
}

func TestFilePruneNoMatches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	st := openTestArchive(t, dir)
	defer st.Close()

	if err := st.AppendGeneration(ctx, GenerationRecord{RequestID: "only", Status: "completed"}); err != nil {
		t.Fatalf("AppendGeneration: %v", err)
	}
	removed, err := st.PruneGenerations(ctx, time.Now().Add(-365*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneGenerations: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
	recs, err := st.RecentGenerations(ctx, 0)
	if err != nil {
		t.Fatalf("RecentGenerations: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("recent = %d records after no-op prune", len(recs))
	}
}

func TestFileSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	st := openTestArchive(t, dir)
	if err := st.AppendGeneration(ctx, GenerationRecord{RequestID: "good", Status: "completed"}); err != nil {
		t.Fatalf("AppendGeneration: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	archive := filepath.Join(dir, "producer.generations.jsonl")
	f, err := os.OpenFile(archive, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if _, err := f.WriteString("{truncated\n"); err != nil {
		t.Fatalf("corrupt archive: %v", err)
	}
	_ = f.Close()

	st = openTestArchive(t, dir)
	defer st.Close()
	recs, err := st.RecentGenerations(ctx, 0)
	if err != nil {
		t.Fatalf("RecentGenerations: %v", err)
	}
	if got := requestIDs(recs); len(got) != 1 || got[0] != "good" {
		t.Fatalf("recovered recent = %v", got)
	}
}
