package app

import (
	"fmt"
	"strings"
)

// validateConfig is the transactional reload hook: a config that fails
// here is never committed or published, so a bad edit cannot take down
// a running pool.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Studio.URL) == "" && strings.TrimSpace(cfg.Studio.StudioURL) == "" {
		return fmt.Errorf("studio.url is required")
	}
	if strings.TrimSpace(cfg.Studio.Email) == "" || strings.TrimSpace(cfg.Studio.Password) == "" {
		return fmt.Errorf("studio.email and studio.password are required")
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFactoryConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapUploaderConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMaintenanceConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAdmissionConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDiagConfig(cfg); err != nil {
		return err
	}
	return nil
}
