package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"producerd/internal/browser"
)

// DefaultKeyTemplate is the object key layout for uploaded artifacts.
const DefaultKeyTemplate = "users/{user_id}/projects/music-clip/{project_id}/audio/{request_id}.wav"

// Interaction budgets. Primary controls get one more attempt than
// secondary ones; a page reload separates attempts.
const (
	primaryAttempts   = 3
	secondaryAttempts = 2
)

// Submission acknowledgement: poll 1s up to 30 times on the first pass,
// then up to 2 reload cycles with a single longer probe each.
const (
	workingPollLimit  = 30
	workingPollPause  = time.Second
	workingRetryProbe = 5 * time.Second
	workingReloads    = 2
)

// composePrompt folds lyrics into the prompt body unless the request is
// instrumental.
func composePrompt(r *Request) string {
	prompt := r.Prompt
	if r.Lyrics != "" && !r.Instrumental {
		prompt += "\n\nLyrics:\n" + r.Lyrics
	}
	return prompt
}

// expandKey renders the object key template for a request.
func expandKey(template string, r *Request) string {
	userID := r.UserID
	if userID == "" {
		userID = "anonymous"
	}
	projectID := r.ProjectID
	if projectID == "" {
		projectID = "default"
	}
	return strings.NewReplacer(
		"{user_id}", userID,
		"{project_id}", projectID,
		"{request_id}", r.ID,
	).Replace(template)
}

// execute drives one generation on the session's driver from prompt to
// downloaded (and optionally uploaded) artifact. It returns the result
// payload; on upload failure the partial payload comes back with the
// error so the local file stays recoverable.
func (s *Service) execute(ctx context.Context, w *workerSession, r *Request) (map[string]any, error) {
	cfg := s.config()
	d := w.driver

	s.pool.notePhase(w, "navigate")
	if err := d.Navigate(ctx, cfg.StudioURL, cfg.PageLoadTimeout); err != nil {
		return nil, fmt.Errorf("open studio: %w", err)
	}
	if st, ok := s.reqs.statusOf(r.ID); ok && st.Terminal() {
		return nil, context.Canceled
	}
	if !s.isAuthenticated(ctx, w) {
		if err := s.authenticate(ctx, d); err != nil {
			return nil, err
		}
		s.pool.noteAuthOK(w)
	}

	s.pool.notePhase(w, "prompt")
	if err := d.Fill(ctx, cfg.Controls.Prompt, composePrompt(r)); err != nil {
		return nil, fmt.Errorf("fill prompt: %w", err)
	}

	s.pool.notePhase(w, "submit")
	if err := s.activateWithBudget(ctx, d, cfg.Controls.Submit, cfg.ElementTimeout, primaryAttempts); err != nil {
		return nil, err
	}

	s.pool.notePhase(w, "working")
	if err := s.awaitWorking(ctx, d, cfg); err != nil {
		return nil, err
	}

	s.pool.notePhase(w, "generating")
	if err := s.awaitCompletion(ctx, d, r, cfg); err != nil {
		return nil, err
	}

	s.pool.notePhase(w, "export")
	if err := s.activateWithBudget(ctx, d, cfg.Controls.Menu, cfg.ElementTimeout, primaryAttempts); err != nil {
		return nil, err
	}
	if err := s.activateWithBudget(ctx, d, cfg.Controls.Export, cfg.ElementTimeout, secondaryAttempts); err != nil {
		return nil, err
	}
	if err := s.activateWithBudget(ctx, d, cfg.Controls.Format, cfg.ElementTimeout, secondaryAttempts); err != nil {
		return nil, err
	}

	s.pool.notePhase(w, "artifact")
	art, err := d.AwaitArtifact(ctx, cfg.ArtifactTimeout)
	if err != nil {
		return nil, fmt.Errorf("await artifact: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}
	localPath := filepath.Join(cfg.WorkDir, r.ID+".wav")
	if err := art.SaveTo(localPath); err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}
	var size int64
	if fi, err := os.Stat(localPath); err == nil {
		size = fi.Size()
	}

	result := map[string]any{
		"file":       art.Name(),
		"size":       size,
		"local_path": localPath,
	}
	if r.Title != "" {
		result["title"] = r.Title
	}

	if s.uploader != nil {
		s.pool.notePhase(w, "upload")
		key := expandKey(cfg.KeyTemplate, r)
		info, err := s.uploader.Upload(ctx, localPath, key)
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrUploadError, err)
		}
		_ = os.Remove(localPath)
		delete(result, "local_path")
		result["url"] = info.URL
		result["key"] = info.Key
		if info.Size > 0 {
			result["size"] = info.Size
		}
	}
	return result, nil
}

// activateWithBudget clicks a control, reloading the page between repeat
// attempts. Budget exhaustion fails the job, not the session.
func (s *Service) activateWithBudget(ctx context.Context, d browser.Driver, ctrl browser.Control, timeout time.Duration, attempts int) error {
	op := func(c context.Context) error { return d.Activate(c, ctrl, timeout) }
	repair := func(c context.Context) error { return d.Reload(c) }
	if err := retryWithRecovery(ctx, attempts, op, repair); err != nil {
		return fmt.Errorf("%w: %s (%v)", ErrElementNotFound, ctrl.Name, err)
	}
	return nil
}

// awaitWorking waits for the surface to acknowledge the submission. The
// first pass polls patiently; each retry after a reload gets one longer
// probe. Exhaustion means the session swallowed the submit.
func (s *Service) awaitWorking(ctx context.Context, d browser.Driver, cfg Config) error {
	first := true
	op := func(c context.Context) error {
		if first {
			first = false
			for i := 0; i < workingPollLimit; i++ {
				ok, err := d.Probe(c, cfg.Controls.Working, workingPollPause)
				if err != nil {
					return err
				}
				if ok {
					return nil
				}
			}
			return errors.New("submission not acknowledged")
		}
		ok, err := d.Probe(c, cfg.Controls.Working, workingRetryProbe)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("submission not acknowledged")
		}
		return nil
	}
	repair := func(c context.Context) error { return d.Reload(c) }
	if err := retryWithRecovery(ctx, 1+workingReloads, op, repair); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStuck, err)
	}
	return nil
}

// awaitCompletion waits for the working indicator to clear, bounded by
// the generation timeout. A request cancelled mid-generation abandons the
// wait.
func (s *Service) awaitCompletion(ctx context.Context, d browser.Driver, r *Request, cfg Config) error {
	deadline := time.Now().Add(cfg.GenerationTimeout)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		if st, ok := s.reqs.statusOf(r.ID); ok && st.Terminal() {
			return context.Canceled
		}
		present, err := d.Probe(ctx, cfg.Controls.Working, cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("probe progress: %w", err)
		}
		if !present {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: generation still running after %s", ErrSessionStuck, cfg.GenerationTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
