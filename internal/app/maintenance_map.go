package app

import (
	"fmt"
	"strings"
	"time"

	"producerd/internal/maintenance"
)

// mapMaintenanceConfig maps the maintenance section into the runtime
// maintenance.Config. Housekeeping defaults to enabled: the re-auth
// sweep is what keeps long-lived sessions signed in.
func mapMaintenanceConfig(cfg *Config) (maintenance.Config, error) {
	out := maintenance.Config{Enabled: true}
	if cfg == nil || cfg.Maintenance == nil {
		return out, nil
	}
	mc := cfg.Maintenance
	out.Enabled = mc.Enabled
	out.Timezone = strings.TrimSpace(mc.Timezone)
	out.PruneSchedule = strings.TrimSpace(mc.PruneSpec)
	out.ReauthSchedule = strings.TrimSpace(mc.ReauthSpec)

	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil {
			return maintenance.Config{}, fmt.Errorf("maintenance.timezone: invalid %q: %w", out.Timezone, err)
		}
	}
	if out.PruneSchedule != "" {
		if _, err := maintenance.ParseSchedule(out.PruneSchedule); err != nil {
			return maintenance.Config{}, fmt.Errorf("maintenance.prune_spec: %w", err)
		}
	}
	if out.ReauthSchedule != "" {
		if _, err := maintenance.ParseSchedule(out.ReauthSchedule); err != nil {
			return maintenance.Config{}, fmt.Errorf("maintenance.reauth_spec: %w", err)
		}
	}

	var err error
	out.PruneKeep, err = parseDurationField("maintenance.prune_keep", mc.PruneKeep)
	if err != nil {
		return maintenance.Config{}, err
	}
	return out, nil
}
