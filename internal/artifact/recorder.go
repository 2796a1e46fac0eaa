package artifact

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"producerd/internal/storage"
	logx "producerd/pkg/logx"
)

// StoreRecorder archives generation records through the storage layer.
type StoreRecorder struct {
	store storage.Store
	log   logx.Logger
}

// NewRecorder wraps a store. The store must be non-nil; callers with the
// archive disabled use NopRecorder instead.
func NewRecorder(store storage.Store, log logx.Logger) *StoreRecorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &StoreRecorder{store: store, log: log.With(logx.String("comp", "recorder"))}
}

// CreateRecord assigns a record id and appends the record to the archive.
func (r *StoreRecorder) CreateRecord(ctx context.Context, rec storage.GenerationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := r.store.AppendGeneration(ctx, rec); err != nil {
		return "", fmt.Errorf("append generation: %w", err)
	}
	r.log.Debug("generation archived",
		logx.String("record", rec.ID),
		logx.String("request", rec.RequestID),
		logx.String("status", rec.Status))
	return rec.ID, nil
}

// NopRecorder drops records. Used when the archive is disabled.
type NopRecorder struct{}

func (NopRecorder) CreateRecord(ctx context.Context, rec storage.GenerationRecord) (string, error) {
	_ = ctx
	_ = rec
	return "", nil
}
