package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"producerd/internal/browser"
	logx "producerd/pkg/logx"
)

// authProbeTimeout bounds the cheap logged-in check that short-circuits a
// full login.
const authProbeTimeout = 3 * time.Second

// retryWithRecovery runs op up to attempts times, invoking repair between
// tries. Repair failures are ignored; the next op attempt surfaces the
// real state. The last op error is returned.
func retryWithRecovery(ctx context.Context, attempts int, op, repair func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = err
			}
			return last
		}
		if i > 0 && repair != nil {
			_ = repair(ctx)
		}
		if last = op(ctx); last == nil {
			return nil
		}
	}
	return last
}

// authenticate brings a driver to a verified logged-in state on the task
// surface. The post-login redirect is never trusted: the session only
// counts as authenticated once the ready control is visible.
func (s *Service) authenticate(ctx context.Context, d browser.Driver) error {
	cfg := s.config()
	if ok, err := d.Probe(ctx, cfg.Controls.Ready, authProbeTimeout); err == nil && ok {
		return nil
	}
	login := func(c context.Context) error {
		if err := d.Navigate(c, cfg.AuthURL, cfg.PageLoadTimeout); err != nil {
			return fmt.Errorf("open login: %w", err)
		}
		if err := d.Activate(c, cfg.Controls.Entry, cfg.ElementTimeout); err != nil {
			return fmt.Errorf("entry: %w", err)
		}
		if err := d.Fill(c, cfg.Controls.Identity, cfg.Email); err != nil {
			return fmt.Errorf("identity: %w", err)
		}
		if err := d.Activate(c, cfg.Controls.Advance, cfg.ElementTimeout); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if err := d.Fill(c, cfg.Controls.Secret, cfg.Password); err != nil {
			return fmt.Errorf("secret: %w", err)
		}
		if err := d.Activate(c, cfg.Controls.Advance, cfg.ElementTimeout); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if err := d.Navigate(c, cfg.StudioURL, cfg.PageLoadTimeout); err != nil {
			return fmt.Errorf("open studio: %w", err)
		}
		ok, err := d.Probe(c, cfg.Controls.Ready, cfg.ElementTimeout)
		if err != nil {
			return fmt.Errorf("verify login: %w", err)
		}
		if !ok {
			return errors.New("ready control absent after login")
		}
		return nil
	}
	repair := func(c context.Context) error {
		return d.Navigate(c, cfg.AuthURL, cfg.PageLoadTimeout)
	}
	if err := retryWithRecovery(ctx, cfg.AuthAttempts, login, repair); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return nil
}

// isAuthenticated reports whether the session is logged in, trusting a
// recent positive probe for the configured TTL.
func (s *Service) isAuthenticated(ctx context.Context, w *workerSession) bool {
	cfg := s.config()
	if s.pool.authFresh(w, cfg.AuthCacheTTL, time.Now()) {
		return true
	}
	ok, err := w.driver.Probe(ctx, cfg.Controls.Ready, authProbeTimeout)
	if err != nil || !ok {
		return false
	}
	s.pool.noteAuthOK(w)
	return true
}

// RefreshIdleAuth force-probes the login of every idle session, tearing
// down the ones that fail. Busy sessions are left alone; they re-verify on
// their next job. Returns how many sessions were kept and removed.
func (s *Service) RefreshIdleAuth(ctx context.Context) (kept, removed int) {
	if !s.isRunning() {
		return 0, 0
	}
	cfg := s.config()
	for _, w := range s.pool.parkIdle(0, time.Now()) {
		if ctx.Err() != nil {
			s.pool.unpark(w, false)
			continue
		}
		ok, err := w.driver.Probe(ctx, cfg.Controls.Ready, authProbeTimeout)
		if err == nil && ok {
			s.pool.unpark(w, true)
			kept++
			continue
		}
		s.log.Warn("idle session lost its login", logx.String("worker", w.id), logx.Err(err))
		s.pool.markBroken(w)
		s.teardownWorker(ctx, w.id, "auth expired")
		removed++
	}
	return kept, removed
}

// cleanupIdle probes sessions idle past threshold and removes the ones
// whose surface no longer answers. Still-healthy sessions stay warm.
func (s *Service) cleanupIdle(ctx context.Context, threshold time.Duration) (removed int) {
	cfg := s.config()
	for _, w := range s.pool.parkIdle(threshold, time.Now()) {
		if ctx.Err() != nil {
			s.pool.unpark(w, false)
			continue
		}
		ok, err := w.driver.Probe(ctx, cfg.Controls.Ready, authProbeTimeout)
		if err == nil && ok {
			s.pool.unpark(w, true)
			continue
		}
		s.log.Info("reclaiming idle session",
			logx.String("worker", w.id),
			logx.Duration("threshold", threshold))
		s.pool.markBroken(w)
		s.teardownWorker(ctx, w.id, "idle timeout")
		removed++
	}
	return removed
}
