package app

import (
	"fmt"
	"strings"

	"producerd/internal/browser"
	"producerd/internal/config"
	"producerd/internal/producer/engine"
	logx "producerd/pkg/logx"
)

func mapLogging(cfg *Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "INFO", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapEngineConfig maps config.studio/pool/queue (JSON, string durations)
// into the runtime engine.Config. Zero fields keep the engine defaults.
func mapEngineConfig(cfg *Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}
	st := cfg.Studio
	pool := cfg.Pool
	q := cfg.Queue

	if pool.MaxWorkers < 0 {
		return engine.Config{}, fmt.Errorf("pool.max_workers must be >= 0")
	}
	if pool.InitialWorkers < 0 {
		return engine.Config{}, fmt.Errorf("pool.initial_workers must be >= 0")
	}
	if pool.SoftCap < 0 {
		return engine.Config{}, fmt.Errorf("pool.soft_cap must be >= 0")
	}
	if pool.MaxWorkers > 0 && pool.SoftCap > pool.MaxWorkers {
		return engine.Config{}, fmt.Errorf("pool.soft_cap must be <= pool.max_workers")
	}
	if pool.AuthAttempts < 0 {
		return engine.Config{}, fmt.Errorf("pool.auth_attempts must be >= 0")
	}
	if pool.Breaker.Threshold < 0 {
		return engine.Config{}, fmt.Errorf("pool.breaker.threshold must be >= 0")
	}
	if q.CleanupEvery < 0 {
		return engine.Config{}, fmt.Errorf("queue.cleanup_every must be >= 0")
	}

	out := engine.Config{
		AuthURL:   strings.TrimSpace(st.URL),
		StudioURL: strings.TrimSpace(st.StudioURL),
		Email:     strings.TrimSpace(st.Email),
		Password:  st.Password,

		MaxWorkers:     pool.MaxWorkers,
		InitialWorkers: pool.InitialWorkers,
		SoftCap:        pool.SoftCap,
		AuthAttempts:   pool.AuthAttempts,

		CleanupEvery: q.CleanupEvery,

		WorkDir: strings.TrimSpace(st.WorkDir),

		BreakerThreshold: pool.Breaker.Threshold,

		Controls: mapControls(st.Controls),
	}

	var err error
	if out.IdleTimeout, err = parseDurationField("pool.idle_timeout", pool.IdleTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.AuthCacheTTL, err = parseDurationField("pool.auth_cache_ttl", pool.AuthCacheTTL); err != nil {
		return engine.Config{}, err
	}
	if out.TickInterval, err = parseDurationField("queue.tick_interval", q.TickInterval); err != nil {
		return engine.Config{}, err
	}
	if out.PageLoadTimeout, err = parseDurationField("studio.page_load_timeout", st.PageLoadTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.ElementTimeout, err = parseDurationField("studio.element_timeout", st.ElementTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.GenerationTimeout, err = parseDurationField("studio.generation_timeout", st.GenerationTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.ArtifactTimeout, err = parseDurationField("studio.artifact_timeout", st.ArtifactTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.BreakerCooldown, err = parseDurationField("pool.breaker.cooldown", pool.Breaker.Cooldown); err != nil {
		return engine.Config{}, err
	}

	// The progress poll rides the pacing profile, so a stealthier profile
	// also polls less often.
	prof, err := browser.ProfileByName(st.Pacing)
	if err != nil {
		return engine.Config{}, fmt.Errorf("studio.pacing: %w", err)
	}
	out.PollInterval = prof.PollInterval

	if cfg.Uploader != nil {
		out.KeyTemplate = strings.TrimSpace(cfg.Uploader.KeyTemplate)
	}
	return out, nil
}

// mapControls overlays configured selectors on the stock set. Only the
// selector moves; control names stay canonical.
func mapControls(cc config.ControlsConfig) browser.Controls {
	out := browser.DefaultControls()
	set := func(dst *browser.Control, sel string) {
		if s := strings.TrimSpace(sel); s != "" {
			dst.Selector = s
		}
	}
	set(&out.Ready, cc.Ready)
	set(&out.Working, cc.Working)
	set(&out.Prompt, cc.Prompt)
	set(&out.Submit, cc.Submit)
	set(&out.Menu, cc.Menu)
	set(&out.Export, cc.Export)
	set(&out.Format, cc.Format)
	set(&out.Entry, cc.Entry)
	set(&out.Identity, cc.Identity)
	set(&out.Secret, cc.Secret)
	set(&out.Advance, cc.Advance)
	return out
}

func mapFactoryConfig(cfg *Config) (browser.FactoryConfig, error) {
	var out browser.FactoryConfig
	if cfg == nil {
		return out, nil
	}
	st := cfg.Studio
	if st.RatePerSec < 0 {
		return out, fmt.Errorf("studio.rate_per_sec must be >= 0")
	}
	prof, err := browser.ProfileByName(st.Pacing)
	if err != nil {
		return out, fmt.Errorf("studio.pacing: %w", err)
	}
	eto, err := parseDurationField("studio.element_timeout", st.ElementTimeout)
	if err != nil {
		return out, err
	}
	out = browser.FactoryConfig{
		Headless:       st.Headless,
		ElementTimeout: eto,
		Pacing:         prof,
		RatePerSec:     st.RatePerSec,
	}
	return out, nil
}
