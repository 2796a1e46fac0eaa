package app

import (
	"fmt"
	"strings"

	"producerd/internal/artifact"
)

// mapUploaderConfig maps the uploader section into artifact.UploaderConfig.
// The second return reports whether uploads are enabled at all.
func mapUploaderConfig(cfg *Config) (artifact.UploaderConfig, bool, error) {
	if cfg == nil || cfg.Uploader == nil || !cfg.Uploader.Enabled {
		return artifact.UploaderConfig{}, false, nil
	}
	uc := cfg.Uploader
	out := artifact.UploaderConfig{
		Endpoint:  strings.TrimSpace(uc.Endpoint),
		AccessKey: strings.TrimSpace(uc.AccessKey),
		SecretKey: uc.SecretKey,
		Bucket:    strings.TrimSpace(uc.Bucket),
		UseSSL:    uc.UseSSL,
	}
	if out.Endpoint == "" {
		return artifact.UploaderConfig{}, false, fmt.Errorf("uploader.endpoint is required when uploader.enabled=true")
	}
	if out.Bucket == "" {
		return artifact.UploaderConfig{}, false, fmt.Errorf("uploader.bucket is required when uploader.enabled=true")
	}
	return out, true, nil
}
