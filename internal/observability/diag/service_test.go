package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"producerd/internal/producer/engine"
	logx "producerd/pkg/logx"
)

type fakeEngine struct{}

func (fakeEngine) PoolStatus() engine.PoolStatus {
	return engine.PoolStatus{Running: true, Total: 2, Available: 1, Busy: 1, MaxWorkers: 4, GlobalQueue: 3}
}

func (fakeEngine) Snapshot() engine.Snapshot {
	return engine.Snapshot{Running: true, Ticks: 42, TrackedRequests: 7}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startDiag(t *testing.T, cfg Config) (*Service, string) {
	t.Helper()
	s := New(cfg, fakeEngine{}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	var addr string
	waitFor(t, "listener", func() bool {
		addr = s.Addr()
		return addr != ""
	})
	return s, "http://" + addr
}

func get(t *testing.T, url string, header map[string]string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func TestServesHealthAndDomainEndpoints(t *testing.T) {
	t.Parallel()

	_, base := startDiag(t, Config{Enabled: true, Addr: "127.0.0.1:0"})

	if code, body := get(t, base+"/healthz", nil); code != http.StatusOK || body != "ok" {
		t.Fatalf("GET /healthz = %d %q, want 200 ok", code, body)
	}

	code, body := get(t, base+"/debug/pool", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /debug/pool = %d, want 200", code)
	}
	var ps engine.PoolStatus
	if err := json.Unmarshal([]byte(body), &ps); err != nil {
		t.Fatalf("decode pool status: %v", err)
	}
	if ps.Total != 2 || ps.GlobalQueue != 3 || !ps.Running {
		t.Fatalf("pool status = %+v, want total 2, queue 3, running", ps)
	}

	code, body = get(t, base+"/debug/engine", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /debug/engine = %d, want 200", code)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Ticks != 42 || snap.TrackedRequests != 7 {
		t.Fatalf("snapshot = %+v, want ticks 42, tracked 7", snap)
	}

	code, body = get(t, base+"/debug/pprof/", nil)
	if code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("GET /debug/pprof/ = %d, want 200 with profile index", code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	_, base := startDiag(t, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"})

	tests := []struct {
		name   string
		url    string
		header map[string]string
		want   int
	}{
		{"no credentials", base + "/debug/pool", nil, http.StatusUnauthorized},
		{"query token", base + "/debug/pool?token=s3cret", nil, http.StatusOK},
		{"wrong query token", base + "/debug/pool?token=nope", nil, http.StatusUnauthorized},
		{"bearer", base + "/debug/pool", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"wrong bearer", base + "/debug/pool", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := get(t, tt.url, tt.header); code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRefusesNonLoopbackWithoutToken(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, fakeEngine{}, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil {
		t.Fatal("serveOnce on 0.0.0.0 without token = nil error, want refusal")
	}
	if s.Addr() != "" {
		t.Fatalf("Addr = %q after refused start, want empty", s.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"192.168.1.5:6060", false},
		{"no-port", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", "/debug/pprof/"},
		{"/debug/pprof/", "/debug/pprof/"},
		{"debug", "/debug/"},
		{"/x", "/x/"},
		{"  /y/  ", "/y/"},
	}
	for _, tt := range tests {
		if got := normalizePrefix(tt.in); got != tt.want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReconfigureLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, base := startDiag(t, Config{Enabled: true, Addr: "127.0.0.1:0"})

	if code, _ := get(t, base+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("initial /healthz = %d, want 200", code)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if got := s.Addr(); got != "" {
		t.Fatalf("Addr = %q after disable, want empty", got)
	}

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t0k"})
	var addr string
	waitFor(t, "relisten", func() bool {
		addr = s.Addr()
		return addr != ""
	})
	if code, _ := get(t, "http://"+addr+"/debug/pool", nil); code != http.StatusUnauthorized {
		t.Fatal("reconfigured server must require the new token")
	}
	if code, _ := get(t, "http://"+addr+"/debug/pool?token=t0k", nil); code != http.StatusOK {
		t.Fatal("reconfigured server must accept the new token")
	}
}
