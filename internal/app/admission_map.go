package app

import (
	"fmt"

	"producerd/internal/admission"
)

// mapAdmissionConfig maps the admission section into the probe config.
// Probe internals (timeout, staleness, server fan-out) stay on package
// defaults; only the operational knobs are exposed.
func mapAdmissionConfig(cfg *Config) (admission.Config, error) {
	var out admission.Config
	if cfg == nil || cfg.Admission == nil {
		return out, nil
	}
	ac := cfg.Admission
	out.Enabled = ac.Enabled
	if ac.MinDownloadMbps < 0 {
		return admission.Config{}, fmt.Errorf("admission.min_download_mbps must be >= 0")
	}
	out.MinDownloadMbps = ac.MinDownloadMbps

	var err error
	out.ProbeInterval, err = parseDurationField("admission.probe_interval", ac.ProbeInterval)
	if err != nil {
		return admission.Config{}, err
	}
	return out, nil
}
