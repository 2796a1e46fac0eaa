package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"producerd/internal/admission"
	"producerd/internal/artifact"
	"producerd/internal/browser"
	"producerd/internal/eventbus"
	"producerd/internal/maintenance"
	"producerd/internal/notifier"
	"producerd/internal/observability/diag"
	"producerd/internal/observability/sdnotify"
	"producerd/internal/producer/engine"
	"producerd/internal/storage"
	logx "producerd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	factory *browser.Factory
	gate    *admission.NetProbe

	engine *engine.Service
	notif  *notifier.Service
	maint  *maintenance.Service
	diag   *diag.Service

	// notifSender records whether a Telegram sender was built at New time.
	// Credentials cannot be swapped live; a reload that adds them warns.
	notifSender bool
}

func New(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg))
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	// Artifact pipeline (both legs optional)
	var up engine.Uploader
	if uc, enabled, err := mapUploaderConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		u, err := artifact.NewUploader(uc, root)
		if err != nil {
			return nil, err
		}
		up = u
		log.Info("uploader enabled",
			logx.String("endpoint", uc.Endpoint),
			logx.String("bucket", uc.Bucket))
	}
	var rec engine.Recorder
	if store != nil {
		rec = artifact.NewRecorder(store, root)
	}

	// The studio surface is not optional: without it there is nothing to drive.
	if strings.TrimSpace(cfg.Studio.URL) == "" && strings.TrimSpace(cfg.Studio.StudioURL) == "" {
		return nil, fmt.Errorf("studio.url is required")
	}
	if strings.TrimSpace(cfg.Studio.Email) == "" || strings.TrimSpace(cfg.Studio.Password) == "" {
		return nil, fmt.Errorf("studio.email and studio.password are required")
	}
	fc, err := mapFactoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	factory := browser.NewFactory(fc, root.With(logx.String("comp", "browser")))

	// The gate is always constructed so enabling it via reload works; a
	// disabled probe allows everything.
	gc, err := mapAdmissionConfig(cfg)
	if err != nil {
		return nil, err
	}
	gate := admission.NewNetProbe(gc, root)

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engSvc := engine.New(engCfg, engine.Deps{
		Factory:  factory,
		Uploader: up,
		Recorder: rec,
		Gate:     gate,
		Log:      root,
		Bus:      bus,
	})

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sender notifier.Sender
	hasSender := false
	if cfg.Notifier != nil && strings.TrimSpace(cfg.Notifier.Token) != "" && cfg.Notifier.ChatID != 0 {
		s, err := notifier.NewTelegramSender(cfg.Notifier.Token, cfg.Notifier.ChatID, cfg.Notifier.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		sender = s
		hasSender = true
	}
	notifSvc := notifier.New(ncfg, sender, root, bus)

	mc, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return nil, err
	}
	maintSvc := maintenance.New(mc, engSvc, store, root)

	dc, err := mapDiagConfig(cfg)
	if err != nil {
		return nil, err
	}
	diagSvc := diag.New(dc, engSvc, root)

	return &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		root:        root,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		factory:     factory,
		gate:        gate,
		engine:      engSvc,
		notif:       notifSvc,
		maint:       maintSvc,
		diag:        diagSvc,
		notifSender: hasSender,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Engine exposes the scheduler facade for embedding callers.
func (a *App) Engine() *engine.Service { return a.engine }

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
			return validateConfig(cfg)
		})
	}

	// Browser runtime first: every session depends on it.
	if err := a.factory.Start(a.sup.Context()); err != nil {
		return err
	}

	a.engine.Start(a.sup.Context())
	a.gate.Start(a.sup.Context())
	if a.notif != nil && a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.maint != nil && a.maint.Enabled() {
		a.maint.Start(a.sup.Context())
	}
	if a.diag != nil && a.diag.Enabled() {
		a.diag.Start(a.sup.Context())
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level; the tick makes some events frequent.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				prev := lastApplied
				sections, attrs := SummarizeConfigChange(prev, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					switch s {
					case "storage":
						a.log.Warn("storage config changed; restart required for changes to take effect")
					case "uploader":
						a.log.Warn("uploader config changed; restart required for changes to take effect")
					}
				}
				// The factory is built once; pacing, headless and the shared
				// rate cap bake into it.
				if prev != nil && (prev.Studio.Headless != newCfg.Studio.Headless ||
					strings.TrimSpace(prev.Studio.Pacing) != strings.TrimSpace(newCfg.Studio.Pacing) ||
					prev.Studio.RatePerSec != newCfg.Studio.RatePerSec) {
					a.log.Warn("browser pacing/headless changed; restart required for changes to take effect")
				}

				// apply logging updates
				a.logs.Apply(mapLogging(newCfg))

				// apply engine updates (live)
				newEngCfg, err := mapEngineConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
				} else {
					a.engine.Apply(c, newEngCfg)
				}

				// apply admission updates (live)
				if a.gate != nil {
					prevGateEnabled := a.gate.Enabled()
					gc, err := mapAdmissionConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid admission config; keeping previous", logx.Err(err))
					} else {
						a.gate.Apply(gc)
						if prevGateEnabled && !gc.Enabled {
							a.log.Info("admission probe disabled via config")
							stopCtx, cancel := context.WithTimeout(c, 2*time.Second)
							a.gate.Stop(stopCtx)
							cancel()
						} else if !prevGateEnabled && gc.Enabled {
							a.log.Info("admission probe enabled via config")
							a.gate.Start(c)
						}
					}
				}

				// apply notifier updates (live)
				if a.notif != nil {
					prevNotifEnabled := a.notif.Enabled()
					ncfg, err := mapNotifierConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
					} else {
						if ncfg.Enabled && !a.notifSender {
							a.log.Warn("notifier credentials set after boot; restart required for alerts")
							ncfg.Enabled = false
						}
						a.notif.Apply(ncfg)
						if prevNotifEnabled && !ncfg.Enabled {
							a.log.Info("notifier disabled via config")
							stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
							a.notif.Stop(stopCtx)
							cancel()
						} else if !prevNotifEnabled && ncfg.Enabled {
							a.log.Info("notifier enabled via config")
							a.notif.Start(c)
						}
					}
				}

				// apply maintenance updates (live)
				if a.maint != nil {
					prevMaintEnabled := a.maint.Enabled()
					mc, err := mapMaintenanceConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
					} else {
						a.maint.Apply(mc)
						if prevMaintEnabled && !mc.Enabled {
							a.log.Info("maintenance disabled via config")
							stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
							a.maint.Stop(stopCtx)
							cancel()
						} else if !prevMaintEnabled && mc.Enabled {
							a.log.Info("maintenance enabled via config")
							a.maint.Start(c)
						}
					}
				}

				// apply diag updates (live)
				if a.diag != nil {
					dc, err := mapDiagConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid diag config; keeping previous", logx.Err(err))
					} else {
						a.diag.Reconfigure(c, dc)
					}
				}

				// Keep the final log line concise and human-friendly (details are in debug logs).
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Under systemd: announce readiness, then keep the watchdog fed while
	// the scheduler loop is alive.
	sdnotify.Ready()
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		sdnotify.WatchdogLoop(c, func() bool {
			return a.engine.Snapshot().Running
		}, a.log)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdnotify.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop the trigger layer first, then the engine (which tears down its
	// sessions), then everything the engine no longer needs.
	step("maintenance", 3*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("engine", 8*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("diag", 1*time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("admission", 1*time.Second, func(c context.Context) error { a.gate.Stop(c); return nil })
	step("browser", 3*time.Second, func(c context.Context) error { return a.factory.Close(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, watchdog, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
