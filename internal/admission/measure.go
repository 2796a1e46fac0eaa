package admission

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// measureNet runs one download probe against the lowest-latency nearby
// server. It is deliberately lighter than a full speedtest: no upload
// leg, no packet loss, saving mode on. The probe repeats for the life
// of the process, so library state and connections are cleaned up after
// every run.
func measureNet(ctx context.Context, cfg Config) (Measurement, error) {
	if err := ctx.Err(); err != nil {
		return Measurement{}, err
	}

	serverCount := cfg.ServerCount
	if serverCount <= 0 {
		serverCount = 5
	}
	pingConc := cfg.PingConcurrency
	if pingConc <= 0 {
		pingConc = 4
	}
	maxConn := cfg.MaxConnections
	if maxConn <= 0 {
		maxConn = 4
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	ctx = runCtx

	hc, tr := newProbeClient(cfg.ProbeTimeout, maxConn)

	// Package-level speedtest helpers keep global state; use a dedicated
	// instance per run.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     true,
		MaxConnections: maxConn,
	}))
	applyHTTPClient(stc, hc)
	stc.SetNThread(maxConn)

	defer func() {
		cancelRun()
		stc.Snapshots().Clean()
		stc.Reset()
		if tr != nil {
			tr.CloseIdleConnections()
		}
	}()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return Measurement{}, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return Measurement{}, fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	if serverCount > len(servers) {
		serverCount = len(servers)
	}
	pinged := pingCandidates(ctx, servers[:serverCount], pingConc)
	if len(pinged) == 0 {
		return Measurement{}, fmt.Errorf("all latency tests failed")
	}

	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })
	best := pinged[0]

	if err := best.DownloadTestContext(ctx); err != nil {
		return Measurement{}, fmt.Errorf("download test: %w", err)
	}

	return Measurement{
		At:           time.Now(),
		DownloadMbps: best.DLSpeed.Mbps(),
		LatencyMs:    float64(best.Latency.Milliseconds()),
		Server:       best.Sponsor,
	}, nil
}

func pingCandidates(ctx context.Context, servers []*st.Server, maxConcurrent int) []*st.Server {
	sem := make(chan struct{}, maxConcurrent)
	out := make(chan *st.Server, len(servers))
	var wg sync.WaitGroup

	for _, s := range servers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil {
				return
			}
			if s.Latency <= 0 {
				return
			}
			out <- s
		}()
	}

	wg.Wait()
	close(out)

	pinged := make([]*st.Server, 0, len(servers))
	for s := range out {
		pinged = append(pinged, s)
	}
	return pinged
}

// newProbeClient builds a throwaway HTTP client for one probe run. HTTP/2
// is off: the probe's bulk transfers gain nothing from it and its
// persistent goroutines linger between runs.
func newProbeClient(timeout time.Duration, maxConn int) (*http.Client, *http.Transport) {
	dialTimeout := 10 * time.Second
	if timeout > 0 {
		if half := timeout / 2; half < dialTimeout {
			dialTimeout = half
		}
		if dialTimeout < 2*time.Second {
			dialTimeout = 2 * time.Second
		}
	}

	perHost := maxConn
	if perHost < 2 {
		perHost = 2
	}

	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     false,
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	return &http.Client{Transport: tr}, tr
}

// applyHTTPClient points the speedtest instance at our client. The
// setter name has moved between library versions, so probe for it.
func applyHTTPClient(stc any, hc *http.Client) {
	if stc == nil || hc == nil {
		return
	}
	if s, ok := stc.(interface{ SetHTTPClient(*http.Client) }); ok {
		s.SetHTTPClient(hc)
		return
	}
	if s, ok := stc.(interface{ SetHttpClient(*http.Client) }); ok {
		s.SetHttpClient(hc)
		return
	}
	if s, ok := stc.(interface{ SetClient(*http.Client) }); ok {
		s.SetClient(hc)
	}
}
