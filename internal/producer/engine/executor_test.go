package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestComposePrompt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "plain",
			req:  Request{Prompt: "lofi beat"},
			want: "lofi beat",
		},
		{
			name: "with lyrics",
			req:  Request{Prompt: "ballad", Lyrics: "verse one"},
			want: "ballad\n\nLyrics:\nverse one",
		},
		{
			name: "instrumental suppresses lyrics",
			req:  Request{Prompt: "ballad", Lyrics: "verse one", Instrumental: true},
			want: "ballad",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := composePrompt(&tt.req); got != tt.want {
				t.Fatalf("composePrompt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandKey(t *testing.T) {
	t.Parallel()
	r := &Request{ID: "req-1", UserID: "u-9", ProjectID: "proj-4"}
	got := expandKey(DefaultKeyTemplate, r)
	want := "users/u-9/projects/music-clip/proj-4/audio/req-1.wav"
	if got != want {
		t.Fatalf("expandKey = %q, want %q", got, want)
	}

	anon := expandKey(DefaultKeyTemplate, &Request{ID: "req-2"})
	if !strings.Contains(anon, "users/anonymous/") || !strings.Contains(anon, "/default/") {
		t.Fatalf("expandKey without ids = %q, want anonymous/default fallbacks", anon)
	}
}

func TestActivateWithBudgetReloadsBetweenAttempts(t *testing.T) {
	t.Parallel()
	s := New(Config{AuthURL: "https://studio.test"}, Deps{Factory: &fakeFactory{}})
	d := newFakeDriver()
	d.activateErr = map[string]error{"menu": errors.New("not rendered")}

	err := s.activateWithBudget(context.Background(), d, s.config().Controls.Menu, time.Millisecond, primaryAttempts)
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("err = %v, want ErrElementNotFound", err)
	}
	if !strings.Contains(err.Error(), "menu") {
		t.Fatalf("err = %v, want the control name in the message", err)
	}
	if got := d.reloadCount(); got != primaryAttempts-1 {
		t.Fatalf("reloads = %d, want %d", got, primaryAttempts-1)
	}

	delete(d.activateErr, "menu")
	if err := s.activateWithBudget(context.Background(), d, s.config().Controls.Menu, time.Millisecond, primaryAttempts); err != nil {
		t.Fatalf("activateWithBudget on healthy control = %v", err)
	}
}

func TestAwaitWorkingAcknowledged(t *testing.T) {
	t.Parallel()
	s := New(Config{AuthURL: "https://studio.test"}, Deps{Factory: &fakeFactory{}})
	d := newFakeDriver()
	d.workingLeft = 1

	if err := s.awaitWorking(context.Background(), d, s.config()); err != nil {
		t.Fatalf("awaitWorking = %v, want nil", err)
	}
	if got := d.reloadCount(); got != 0 {
		t.Fatalf("reloads = %d, want 0", got)
	}
}

func TestAwaitWorkingExhaustsReloads(t *testing.T) {
	t.Parallel()
	s := New(Config{AuthURL: "https://studio.test"}, Deps{Factory: &fakeFactory{}})
	d := newFakeDriver() // never acknowledges

	err := s.awaitWorking(context.Background(), d, s.config())
	if !errors.Is(err, ErrSessionStuck) {
		t.Fatalf("err = %v, want ErrSessionStuck", err)
	}
	if got := d.reloadCount(); got != workingReloads {
		t.Fatalf("reloads = %d, want %d", got, workingReloads)
	}
	// First pass polls the full budget, each retry probes once.
	if got := d.workingProbeCount(); got != workingPollLimit+workingReloads {
		t.Fatalf("working probes = %d, want %d", got, workingPollLimit+workingReloads)
	}
}

func TestAwaitCompletionPaths(t *testing.T) {
	t.Parallel()
	cfg := Config{
		AuthURL:           "https://studio.test",
		GenerationTimeout: 50 * time.Millisecond,
		PollInterval:      time.Millisecond,
	}
	s := New(cfg, Deps{Factory: &fakeFactory{}})

	// Indicator already cleared: generation is done.
	d := newFakeDriver()
	if err := s.awaitCompletion(context.Background(), d, &Request{ID: "r1"}, s.config()); err != nil {
		t.Fatalf("awaitCompletion = %v, want nil", err)
	}

	// Indicator never clears: the budget expires into the stuck class.
	d = newFakeDriver()
	d.stickWorking = true
	err := s.awaitCompletion(context.Background(), d, &Request{ID: "r2"}, s.config())
	if !errors.Is(err, ErrSessionStuck) {
		t.Fatalf("err = %v, want ErrSessionStuck", err)
	}
	if !strings.Contains(err.Error(), "still running") {
		t.Fatalf("err = %v, want the timeout detail", err)
	}

	// A cancelled request abandons the wait immediately.
	s.reqs.put(&Request{ID: "r3", Status: StatusPending})
	s.reqs.cancel("r3")
	d = newFakeDriver()
	d.stickWorking = true
	if err := s.awaitCompletion(context.Background(), d, &Request{ID: "r3"}, s.config()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
