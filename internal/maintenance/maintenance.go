// Package maintenance runs the periodic housekeeping jobs: pruning old
// archive records and refreshing the login state of idle sessions.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "producerd/pkg/logx"
)

// Engine is the scheduler surface maintenance drives.
type Engine interface {
	RefreshIdleAuth(ctx context.Context) (kept, removed int)
}

// Archive is the record store pruned by the retention job.
type Archive interface {
	PruneGenerations(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config controls the built-in jobs. Schedules accept cron expressions,
// @every, bare Go durations, or HH:MM intervals.
type Config struct {
	Enabled        bool
	Timezone       string // IANA TZ, e.g. "Asia/Jakarta"
	PruneSchedule  string
	PruneKeep      time.Duration
	ReauthSchedule string
	HistorySize    int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.PruneSchedule) == "" {
		c.PruneSchedule = "@daily"
	}
	if c.PruneKeep <= 0 {
		c.PruneKeep = 720 * time.Hour
	}
	if strings.TrimSpace(c.ReauthSchedule) == "" {
		c.ReauthSchedule = "@every 15m"
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

type HistoryItem struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot reports the registered jobs and their next fire times.
type Snapshot struct {
	Running  bool                 `json:"running"`
	Timezone string               `json:"timezone"`
	NextRuns map[string]time.Time `json:"next_runs,omitempty"`
	History  []HistoryItem        `json:"history,omitempty"`
}

const (
	pruneTimeout  = 2 * time.Minute
	reauthTimeout = 5 * time.Minute
)

// Service owns the cron runner. Both jobs are registered at Start from
// the current config; Apply re-registers when schedules or the timezone
// change.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	engine  Engine
	archive Archive

	parser cron.Parser
	loc    *time.Location
	c      *cron.Cron

	runCtx    context.Context
	cancelRun context.CancelFunc

	entries map[string]cron.EntryID

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, eng Engine, archive Archive, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		engine:  eng,
		archive: archive,
		log:     log.With(logx.String("comp", "maintenance")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]cron.EntryID{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps config. A changed timezone or schedule restarts the cron
// runner with the jobs re-registered; history survives.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) ||
		prev.PruneSchedule != cfg.PruneSchedule ||
		prev.ReauthSchedule != cfg.ReauthSchedule {
		s.restartLocked()
	}
}

// Start registers the jobs and starts cron. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		return
	}

	s.runCtx, s.cancelRun = context.WithCancel(ctx)
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.registerJobsLocked()
	s.c.Start()
	s.log.Info("maintenance started",
		logx.String("tz", loc.String()),
		logx.Int("jobs", len(s.entries)))
}

// Stop halts cron triggering and cancels any in-flight job. Idempotent.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.c
	cancel := s.cancelRun
	s.c = nil
	s.runCtx = nil
	s.cancelRun = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("maintenance stopped")
}

// Snapshot reports next fire times and recent job history.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.c != nil}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	if s.c != nil && len(s.entries) > 0 {
		snap.NextRuns = make(map[string]time.Time, len(s.entries))
		for name, id := range s.entries {
			if e := s.c.Entry(id); e.ID != 0 {
				snap.NextRuns[name] = e.Next
			}
		}
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) registerJobsLocked() {
	cfg := s.cfg
	if s.archive != nil {
		keep := cfg.PruneKeep
		s.addJobLocked("archive.prune", cfg.PruneSchedule, pruneTimeout, func(ctx context.Context) error {
			return s.runPrune(ctx, keep)
		})
	}
	if s.engine != nil {
		s.addJobLocked("auth.refresh", cfg.ReauthSchedule, reauthTimeout, func(ctx context.Context) error {
			return s.runReauth(ctx)
		})
	}
}

func (s *Service) addJobLocked(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		s.log.Error("invalid schedule, job disabled",
			logx.String("job", name),
			logx.String("schedule", schedule),
			logx.Err(err))
		return
	}
	expr := spec.Cron
	if spec.Kind == SpecInterval {
		expr = fmt.Sprintf("@every %s", spec.Every.String())
	}
	runCtx := s.runCtx
	limit := s.cfg.HistorySize
	id, err := s.c.AddFunc(expr, func() {
		s.runJob(runCtx, name, timeout, limit, job)
	})
	if err != nil {
		s.log.Error("schedule rejected, job disabled",
			logx.String("job", name),
			logx.String("schedule", expr),
			logx.Err(err))
		return
	}
	s.entries[name] = id
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.entries = map[string]cron.EntryID{}
	s.registerJobsLocked()
	s.c.Start()
	s.log.Info("maintenance restarted", logx.String("tz", loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local",
			logx.String("tz", tz),
			logx.Err(err))
		return time.Local
	}
	return loc
}

// runJob executes one job with a timeout and records the outcome.
// Panics are contained; a housekeeping failure must never take down the
// process.
func (s *Service) runJob(ctx context.Context, name string, timeout time.Duration, limit int, job func(ctx context.Context) error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("job panic: %v", p)
			}
		}()
		err = job(runCtx)
	}()

	item := HistoryItem{Name: name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("maintenance job failed",
			logx.String("job", name),
			logx.Err(err))
	} else {
		s.log.Debug("maintenance job ok",
			logx.String("job", name),
			logx.Duration("took", item.Duration))
	}

	if limit <= 0 {
		limit = 50
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) runPrune(ctx context.Context, keep time.Duration) error {
	n, err := s.archive.PruneGenerations(ctx, time.Now().Add(-keep))
	if err != nil {
		return fmt.Errorf("prune archive: %w", err)
	}
	if n > 0 {
		s.log.Info("archive pruned", logx.Int64("records", n))
	}
	return nil
}

func (s *Service) runReauth(ctx context.Context) error {
	kept, removed := s.engine.RefreshIdleAuth(ctx)
	if removed > 0 {
		s.log.Info("idle auth sweep removed sessions",
			logx.Int("kept", kept),
			logx.Int("removed", removed))
	}
	return nil
}
