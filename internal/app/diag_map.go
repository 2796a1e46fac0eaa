package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"producerd/internal/observability/diag"
)

// mapDiagConfig validates and converts the diag section into the service
// config. It never starts the server.
func mapDiagConfig(cfg *Config) (diag.Config, error) {
	var out diag.Config
	if cfg == nil || cfg.Diag == nil {
		return out, nil
	}
	dc := cfg.Diag

	out.Enabled = dc.Enabled
	out.AllowInsecure = dc.AllowInsecure
	out.Token = strings.TrimSpace(dc.Token)
	out.Addr = strings.TrimSpace(dc.Addr)
	out.Prefix = strings.TrimSpace(dc.Prefix)

	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}
	if out.Prefix == "" {
		out.Prefix = "/debug/pprof/"
	}

	readTO, err := parseDurationOrDefault("diag.read_timeout", dc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	writeTO, err := parseDurationField("diag.write_timeout", dc.WriteTimeout)
	if err != nil {
		return out, err
	}
	idleTO, err := parseDurationOrDefault("diag.idle_timeout", dc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.WriteTimeout = writeTO // default 0 (disabled) so /profile works
	out.IdleTimeout = idleTO

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("diag.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		// Refuse a public bind without explicit opt-in.
		if !out.AllowInsecure && out.Token == "" && !isLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("diag: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}

	return out, nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
