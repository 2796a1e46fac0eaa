// Package sdnotify reports daemon state to the systemd service manager:
// readiness, status text and the watchdog heartbeat. Every call is a
// no-op outside a systemd unit (NOTIFY_SOCKET unset), so callers never
// need to guard for it.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "producerd/pkg/logx"
)

// Ready tells systemd startup finished (Type=notify units leave
// "activating" on this).
func Ready() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping tells systemd a clean shutdown has begun.
func Stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) {
	if msg == "" {
		return
	}
	_, _ = daemon.SdNotify(false, "STATUS="+msg)
}

// WatchdogLoop feeds the systemd watchdog until ctx is done, pinging at
// half the configured interval. When healthy is non-nil and reports
// false the ping is withheld, letting systemd restart the unit. Returns
// immediately when no watchdog is armed.
func WatchdogLoop(ctx context.Context, healthy func() bool, log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog probe failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	tick := interval / 2
	if tick <= 0 {
		tick = interval
	}
	log.Info("systemd watchdog armed",
		logx.Duration("interval", interval),
		logx.Duration("ping_every", tick))

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("watchdog ping withheld, app unhealthy")
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
