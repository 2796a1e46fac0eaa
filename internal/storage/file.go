package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "producerd/pkg/logx"
)

// recentRing bounds how much history the file driver keeps in memory.
const recentRing = 256

// fileStore is a dependency-free archive backend.
//
// Layout:
//   - <prefix>.generations.jsonl (append-only JSON Lines)
//
// Reads are served from a bounded in-memory ring of the newest records;
// the file itself is only rewritten by PruneGenerations.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	path   string
	file   *os.File
	recent []GenerationRecord // oldest first
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	archivePath := filepath.Join(dir, base) + ".generations.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	recent, err := loadTail(archivePath, recentRing)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:    log,
		path:   archivePath,
		file:   f,
		recent: recent,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendGeneration(ctx context.Context, rec GenerationRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("archive file closed")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := json.NewEncoder(s.file).Encode(rec); err != nil {
		return err
	}
	s.recent = append(s.recent, rec)
	if len(s.recent) > recentRing {
		s.recent = s.recent[len(s.recent)-recentRing:]
	}
	return nil
}

func (s *fileStore) RecentGenerations(ctx context.Context, limit int) ([]GenerationRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	// Newest first.
	out := make([]GenerationRecord, 0, limit)
	for i := len(s.recent) - 1; i >= len(s.recent)-limit; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

func (s *fileStore) PruneGenerations(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, errors.New("archive file closed")
	}

	all, err := loadTail(s.path, 0)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	kept := all[:0]
	var removed int64
	for _, rec := range all {
		if rec.refTime().Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, rec := range kept {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, err
	}

	// Reopen the append handle against the rewritten file.
	_ = s.file.Close()
	s.file, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return removed, err
	}
	if len(kept) > recentRing {
		kept = kept[len(kept)-recentRing:]
	}
	s.recent = append([]GenerationRecord(nil), kept...)
	s.log.Debug("archive pruned", logx.Int64("removed", removed), logx.Int("kept", len(kept)))
	return removed, nil
}

// loadTail reads the archive, keeping only the last max records when
// max > 0. Malformed lines are skipped.
func loadTail(path string, max int) ([]GenerationRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []GenerationRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec GenerationRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
		if max > 0 && len(out) >= 2*max {
			out = append(out[:0], out[len(out)-max:]...)
		}
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out, sc.Err()
}
