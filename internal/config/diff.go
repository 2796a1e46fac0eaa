package config

import (
	"reflect"
	"sort"
	"strings"

	logx "producerd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like
// passwords, tokens or access keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Studio (never log password)
	oSt := oldCfg.Studio
	nSt := newCfg.Studio
	stChanged := strings.TrimSpace(oSt.URL) != strings.TrimSpace(nSt.URL) ||
		strings.TrimSpace(oSt.StudioURL) != strings.TrimSpace(nSt.StudioURL) ||
		strings.TrimSpace(oSt.Email) != strings.TrimSpace(nSt.Email) ||
		oSt.Headless != nSt.Headless ||
		strings.TrimSpace(oSt.Pacing) != strings.TrimSpace(nSt.Pacing) ||
		strings.TrimSpace(oSt.PageLoadTimeout) != strings.TrimSpace(nSt.PageLoadTimeout) ||
		strings.TrimSpace(oSt.ElementTimeout) != strings.TrimSpace(nSt.ElementTimeout) ||
		strings.TrimSpace(oSt.GenerationTimeout) != strings.TrimSpace(nSt.GenerationTimeout) ||
		strings.TrimSpace(oSt.ArtifactTimeout) != strings.TrimSpace(nSt.ArtifactTimeout) ||
		strings.TrimSpace(oSt.WorkDir) != strings.TrimSpace(nSt.WorkDir) ||
		!reflect.DeepEqual(oSt.Controls, nSt.Controls) ||
		oSt.RatePerSec != nSt.RatePerSec ||
		(strings.TrimSpace(oSt.Password) != "") != (strings.TrimSpace(nSt.Password) != "")
	if stChanged {
		changed = append(changed, "studio")
		attrs = append(attrs,
			logx.String("studio.url", strings.TrimSpace(nSt.URL)),
			logx.String("studio.pacing", strings.TrimSpace(nSt.Pacing)),
			logx.Bool("studio.headless", nSt.Headless),
			logx.Bool("studio.password_set", strings.TrimSpace(nSt.Password) != ""),
			logx.Int("studio.rate_per_sec", nSt.RatePerSec),
		)
	}

	// Pool
	if !reflect.DeepEqual(oldCfg.Pool, newCfg.Pool) {
		changed = append(changed, "pool")
		attrs = append(attrs,
			logx.Int("pool.max_workers", newCfg.Pool.MaxWorkers),
			logx.Int("pool.initial_workers", newCfg.Pool.InitialWorkers),
			logx.Int("pool.soft_cap", newCfg.Pool.SoftCap),
			logx.String("pool.idle_timeout", strings.TrimSpace(newCfg.Pool.IdleTimeout)),
		)
	}

	// Queue
	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.String("queue.tick_interval", strings.TrimSpace(newCfg.Queue.TickInterval)),
			logx.Int("queue.cleanup_every", newCfg.Queue.CleanupEvery),
		)
	}

	// Uploader (never log secret key)
	oU := oldCfg.Uploader
	nU := newCfg.Uploader
	var oEnabled, nEnabled bool
	var oEndpoint, nEndpoint, oBucket, nBucket, oTpl, nTpl string
	var oSecretSet, nSecretSet bool
	if oU != nil {
		oEnabled = oU.Enabled
		oEndpoint = strings.TrimSpace(oU.Endpoint)
		oBucket = strings.TrimSpace(oU.Bucket)
		oTpl = strings.TrimSpace(oU.KeyTemplate)
		oSecretSet = strings.TrimSpace(oU.SecretKey) != ""
	}
	if nU != nil {
		nEnabled = nU.Enabled
		nEndpoint = strings.TrimSpace(nU.Endpoint)
		nBucket = strings.TrimSpace(nU.Bucket)
		nTpl = strings.TrimSpace(nU.KeyTemplate)
		nSecretSet = strings.TrimSpace(nU.SecretKey) != ""
	}
	if oEnabled != nEnabled || oEndpoint != nEndpoint || oBucket != nBucket || oTpl != nTpl || oSecretSet != nSecretSet {
		changed = append(changed, "uploader")
		attrs = append(attrs,
			logx.Bool("uploader.enabled", nEnabled),
			logx.String("uploader.endpoint", nEndpoint),
			logx.String("uploader.bucket", nBucket),
			logx.Bool("uploader.secret_set", nSecretSet),
		)
	}

	// Storage (persistence)
	oldS := oldCfg.Storage
	newS := newCfg.Storage
	// Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oBusy = strings.TrimSpace(oldS.BusyTimeout)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nBusy = strings.TrimSpace(newS.BusyTimeout)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Notifier (never log token)
	oN := derefNotifier(oldCfg.Notifier)
	nN := derefNotifier(newCfg.Notifier)
	nChanged := oN.Enabled != nN.Enabled ||
		oN.ChatID != nN.ChatID ||
		oN.ThreadID != nN.ThreadID ||
		oN.RatePerSec != nN.RatePerSec ||
		oN.RetryMax != nN.RetryMax ||
		strings.TrimSpace(oN.DedupWindow) != strings.TrimSpace(nN.DedupWindow) ||
		oN.QueueSize != nN.QueueSize ||
		(strings.TrimSpace(oN.Token) != "") != (strings.TrimSpace(nN.Token) != "")
	if nChanged {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Bool("notifier.token_set", strings.TrimSpace(nN.Token) != ""),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Int("notifier.retry_max", nN.RetryMax),
		)
	}

	// Maintenance
	oM := derefMaintenance(oldCfg.Maintenance)
	nM := derefMaintenance(newCfg.Maintenance)
	if !reflect.DeepEqual(oM, nM) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", nM.Enabled),
			logx.String("maintenance.timezone", strings.TrimSpace(nM.Timezone)),
			logx.String("maintenance.prune_spec", strings.TrimSpace(nM.PruneSpec)),
			logx.String("maintenance.reauth_spec", strings.TrimSpace(nM.ReauthSpec)),
		)
	}

	// Admission
	oA := derefAdmission(oldCfg.Admission)
	nA := derefAdmission(newCfg.Admission)
	if !reflect.DeepEqual(oA, nA) {
		changed = append(changed, "admission")
		attrs = append(attrs,
			logx.Bool("admission.enabled", nA.Enabled),
			logx.Float64("admission.min_download_mbps", nA.MinDownloadMbps),
			logx.String("admission.probe_interval", strings.TrimSpace(nA.ProbeInterval)),
		)
	}

	// Diag (never log token)
	oD := derefDiag(oldCfg.Diag)
	nD := derefDiag(newCfg.Diag)
	dChanged := oD.Enabled != nD.Enabled ||
		strings.TrimSpace(oD.Addr) != strings.TrimSpace(nD.Addr) ||
		strings.TrimSpace(oD.Prefix) != strings.TrimSpace(nD.Prefix) ||
		oD.AllowInsecure != nD.AllowInsecure ||
		strings.TrimSpace(oD.ReadTimeout) != strings.TrimSpace(nD.ReadTimeout) ||
		strings.TrimSpace(oD.WriteTimeout) != strings.TrimSpace(nD.WriteTimeout) ||
		strings.TrimSpace(oD.IdleTimeout) != strings.TrimSpace(nD.IdleTimeout) ||
		(strings.TrimSpace(oD.Token) != "") != (strings.TrimSpace(nD.Token) != "")
	if dChanged {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", nD.Enabled),
			logx.String("diag.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("diag.token_set", strings.TrimSpace(nD.Token) != ""),
			logx.Bool("diag.allow_insecure", nD.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func derefMaintenance(m *MaintenanceConfig) MaintenanceConfig {
	if m == nil {
		return MaintenanceConfig{}
	}
	return *m
}

func derefAdmission(a *AdmissionConfig) AdmissionConfig {
	if a == nil {
		return AdmissionConfig{}
	}
	return *a
}

func derefDiag(d *DiagConfig) DiagConfig {
	if d == nil {
		return DiagConfig{}
	}
	return *d
}
