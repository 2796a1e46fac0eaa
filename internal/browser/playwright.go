package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/time/rate"

	logx "producerd/pkg/logx"
)

// FactoryConfig controls the playwright runtime and the drivers it hands out.
type FactoryConfig struct {
	Headless bool

	// Viewport for new contexts.
	ViewportWidth  int // default 1280
	ViewportHeight int // default 800

	// ElementTimeout is the page-level default for element waits.
	ElementTimeout time.Duration // default 15s

	Pacing Profile

	// RatePerSec caps paced interactions across every driver from this
	// factory. 0 disables the shared limiter.
	RatePerSec int

	// ArtifactBuffer bounds the per-driver download queue.
	ArtifactBuffer int // default 4
}

func (c FactoryConfig) withDefaults() FactoryConfig {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 15 * time.Second
	}
	if c.Pacing.Name == "" {
		c.Pacing = Balanced
	}
	if c.ArtifactBuffer <= 0 {
		c.ArtifactBuffer = 4
	}
	return c
}

// Factory owns one playwright runtime and one launched Chromium; every
// driver is a fresh BrowserContext + page on top of it.
type Factory struct {
	cfg FactoryConfig
	log logx.Logger

	limiter *rate.Limiter

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	started bool
}

func NewFactory(cfg FactoryConfig, log logx.Logger) *Factory {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Factory{
		cfg:     cfg,
		log:     log,
		limiter: NewLimiter(cfg.RatePerSec),
	}
}

// Start installs (if needed) and boots the playwright runtime plus one
// Chromium instance. Idempotent.
func (f *Factory) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Keep driver install/runtime output away from our console sink.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.cfg.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launch chromium: %w", err)
	}

	f.pw = pw
	f.browser = b
	f.started = true
	f.log.Info("browser runtime started", logx.Bool("headless", f.cfg.Headless), logx.String("pacing", f.cfg.Pacing.Name))
	return nil
}

// NewDriver hands out a fresh context + page. The caller owns the driver and
// must Close it.
func (f *Factory) NewDriver(ctx context.Context) (Driver, error) {
	f.mu.Lock()
	b := f.browser
	started := f.started
	f.mu.Unlock()

	if !started || b == nil {
		return nil, errors.New("browser factory not started")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bc, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  f.cfg.ViewportWidth,
			Height: f.cfg.ViewportHeight,
		},
		AcceptDownloads: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bc.NewPage()
	if err != nil {
		_ = bc.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(f.cfg.ElementTimeout.Milliseconds()))

	d := &playwrightDriver{
		page:           page,
		browserContext: bc,
		pace:           NewPacer(f.cfg.Pacing, f.limiter),
		elementTimeout: f.cfg.ElementTimeout,
		downloads:      make(chan playwright.Download, f.cfg.ArtifactBuffer),
		log:            f.log,
	}

	// Downloads arrive asynchronously; buffer them until AwaitArtifact drains.
	page.OnDownload(func(dl playwright.Download) {
		select {
		case d.downloads <- dl:
		default:
			d.log.Warn("download dropped (buffer full)", logx.String("name", dl.SuggestedFilename()))
		}
	})

	return d, nil
}

// Close tears down the Chromium instance and the playwright runtime.
// Idempotent; drivers handed out earlier become unusable.
func (f *Factory) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	f.started = false

	var firstErr error
	if f.browser != nil {
		if err := f.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.browser = nil
	}
	if f.pw != nil {
		if err := f.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.pw = nil
	}
	f.log.Info("browser runtime stopped")
	return firstErr
}

type playwrightDriver struct {
	page           playwright.Page
	browserContext playwright.BrowserContext
	pace           *Pacer
	elementTimeout time.Duration
	downloads      chan playwright.Download
	log            logx.Logger
}

func (d *playwrightDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = d.elementTimeout
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return d.pace.Settle(ctx)
}

func (d *playwrightDriver) Fill(ctx context.Context, ctrl Control, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	handle, err := d.waitVisible(ctrl, d.elementTimeout)
	if err != nil {
		return err
	}
	if err := handle.Click(); err != nil {
		return fmt.Errorf("focus %s: %w", ctrl.Name, err)
	}

	// Clear whatever the control holds, then type like a human would.
	kb := d.page.Keyboard()
	if err := kb.Press("ControlOrMeta+a"); err != nil {
		return fmt.Errorf("select-all in %s: %w", ctrl.Name, err)
	}
	if err := d.pace.Keystroke(ctx); err != nil {
		return err
	}
	if err := kb.Press("Delete"); err != nil {
		return fmt.Errorf("clear %s: %w", ctrl.Name, err)
	}
	for _, r := range text {
		if err := d.pace.Keystroke(ctx); err != nil {
			return err
		}
		if err := kb.Type(string(r)); err != nil {
			return fmt.Errorf("type into %s: %w", ctrl.Name, err)
		}
	}
	return nil
}

func (d *playwrightDriver) Activate(ctx context.Context, ctrl Control, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = d.elementTimeout
	}
	if err := d.pace.Click(ctx); err != nil {
		return err
	}
	handle, err := d.waitVisible(ctrl, timeout)
	if err != nil {
		return err
	}
	if err := handle.Click(); err != nil {
		return fmt.Errorf("activate %s: %w", ctrl.Name, err)
	}
	return d.pace.Click(ctx)
}

func (d *playwrightDriver) Probe(ctx context.Context, ctrl Control, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if timeout <= 0 {
		timeout = d.elementTimeout
	}
	handle, err := d.page.WaitForSelector(ctrl.Selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		// Absence is a result, not a failure.
		if errors.Is(err, playwright.ErrTimeout) {
			return false, nil
		}
		return false, fmt.Errorf("probe %s: %w", ctrl.Name, err)
	}
	return handle != nil, nil
}

func (d *playwrightDriver) AwaitArtifact(ctx context.Context, timeout time.Duration) (Artifact, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, ErrArtifactTimeout
	case dl := <-d.downloads:
		return pwArtifact{dl: dl}, nil
	}
}

func (d *playwrightDriver) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return d.pace.Settle(ctx)
}

func (d *playwrightDriver) Close(ctx context.Context) error {
	_ = ctx
	var firstErr error
	if err := d.page.Close(); err != nil {
		firstErr = err
	}
	if err := d.browserContext.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *playwrightDriver) waitVisible(ctrl Control, timeout time.Duration) (playwright.ElementHandle, error) {
	handle, err := d.page.WaitForSelector(ctrl.Selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", ctrl.Name, err)
	}
	if handle == nil {
		return nil, fmt.Errorf("wait for %s: element not found", ctrl.Name)
	}
	return handle, nil
}

type pwArtifact struct {
	dl playwright.Download
}

func (a pwArtifact) Name() string { return a.dl.SuggestedFilename() }

func (a pwArtifact) SaveTo(path string) error { return a.dl.SaveAs(path) }
