package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "producerd/pkg/logx"
)

// Store is the archive API used by the engine and maintenance jobs.
type Store interface {
	AppendGeneration(ctx context.Context, rec GenerationRecord) error
	RecentGenerations(ctx context.Context, limit int) ([]GenerationRecord, error)
	PruneGenerations(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
