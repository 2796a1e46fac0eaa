//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "producerd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendGeneration(ctx context.Context, rec GenerationRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations(id, request_id, worker_id, status, title, user_id, project_id,
		  artifact_url, artifact_key, artifact_size, err, created_ms, started_ms, completed_ms, elapsed_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.RequestID, nullStr(rec.WorkerID), rec.Status, nullStr(rec.Title),
		nullStr(rec.UserID), nullStr(rec.ProjectID), nullStr(rec.ArtifactURL), nullStr(rec.ArtifactKey),
		rec.ArtifactSize, nullStr(rec.Error), rec.CreatedAt.UnixMilli(), unixMilliOrZero(rec.StartedAt),
		unixMilliOrZero(rec.CompletedAt), rec.ElapsedMS,
	)
	return err
}

func (s *sqliteStore) RecentGenerations(ctx context.Context, limit int) ([]GenerationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, worker_id, status, title, user_id, project_id,
		   artifact_url, artifact_key, artifact_size, err, created_ms, started_ms, completed_ms, elapsed_ms
		 FROM generations
		 ORDER BY created_ms DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationRecord
	for rows.Next() {
		var (
			rec                              GenerationRecord
			workerID, title, userID, projID  sql.NullString
			artURL, artKey, errStr           sql.NullString
			createdMS, startedMS, completeMS int64
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &workerID, &rec.Status, &title, &userID, &projID,
			&artURL, &artKey, &rec.ArtifactSize, &errStr, &createdMS, &startedMS, &completeMS, &rec.ElapsedMS); err != nil {
			return nil, err
		}
		rec.WorkerID = workerID.String
		rec.Title = title.String
		rec.UserID = userID.String
		rec.ProjectID = projID.String
		rec.ArtifactURL = artURL.String
		rec.ArtifactKey = artKey.String
		rec.Error = errStr.String
		rec.CreatedAt = time.UnixMilli(createdMS)
		if startedMS > 0 {
			rec.StartedAt = time.UnixMilli(startedMS)
		}
		if completeMS > 0 {
			rec.CompletedAt = time.UnixMilli(completeMS)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneGenerations(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	cutoff := olderThan.UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generations
		 WHERE CASE WHEN completed_ms > 0 THEN completed_ms ELSE created_ms END < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
