package app

import (
	"time"

	"producerd/internal/config"
	"producerd/internal/runtime/supervisor"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

// SummarizeConfigChange produces a safe, structured summary of config diffs.
// Kept here as a compatibility alias so internal/app doesn't need to import internal/config directly.
var SummarizeConfigChange = config.SummarizeConfigChange

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

type SupervisorOption = supervisor.SupervisorOption

var NewSupervisor = supervisor.NewSupervisor

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError
