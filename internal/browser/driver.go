// Package browser abstracts the interactive target surface behind a small
// Driver capability: navigate, fill, activate, probe, await an artifact,
// reload, close. The playwright implementation talks to a real Chromium;
// tests substitute scripted fakes.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrArtifactTimeout is returned by AwaitArtifact when no download arrives
// within the deadline.
var ErrArtifactTimeout = errors.New("artifact timeout")

// Control identifies one interactive element on the target surface.
type Control struct {
	Name     string
	Selector string
}

// Controls is the element set the drivers interact with.
// Ready doubles as the authenticated-session probe: its presence means the
// surface is logged in and accepting work. Entry through Advance drive the
// login flow and are only touched during authentication.
type Controls struct {
	Ready    Control
	Working  Control
	Prompt   Control
	Submit   Control
	Menu     Control
	Export   Control
	Format   Control
	Entry    Control
	Identity Control
	Secret   Control
	Advance  Control
}

// DefaultControls returns the stock selector set for the studio surface.
func DefaultControls() Controls {
	return Controls{
		Ready:    Control{Name: "ready", Selector: `textarea[placeholder="Ask Producer..."]`},
		Working:  Control{Name: "working", Selector: `.chat-history-part.producer-part`},
		Prompt:   Control{Name: "prompt", Selector: `textarea[placeholder="Ask Producer..."]`},
		Submit:   Control{Name: "submit", Selector: `button[type="submit"]`},
		Menu:     Control{Name: "menu", Selector: `button[aria-label="More options"]`},
		Export:   Control{Name: "export", Selector: `button div:has-text("Download")`},
		Format:   Control{Name: "format", Selector: `button div:has-text("WAV")`},
		Entry:    Control{Name: "entry", Selector: `button:has-text("Continue with Google")`},
		Identity: Control{Name: "identity", Selector: `input[type="email"]`},
		Secret:   Control{Name: "secret", Selector: `input[type="password"]`},
		Advance:  Control{Name: "advance", Selector: `button:has-text("Next")`},
	}
}

// Artifact is one asynchronously delivered download.
type Artifact interface {
	// Name is the surface-suggested filename (may be empty).
	Name() string
	// SaveTo materializes the artifact at path.
	SaveTo(path string) error
}

// Driver is one interactive session handle.
//
// Contract:
//   - Fill clears the target control first, then types per character with
//     keystroke pacing.
//   - Activate finds the control and clicks it with click pacing.
//   - Probe reports presence: absence within the timeout is (false, nil);
//     only transport-level failures return an error.
//   - AwaitArtifact blocks for the next asynchronous download and returns
//     ErrArtifactTimeout on expiry.
//
// Implementations are not safe for concurrent use; each worker session owns
// exactly one Driver and serializes access through its current-job invariant.
type Driver interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Fill(ctx context.Context, ctrl Control, text string) error
	Activate(ctx context.Context, ctrl Control, timeout time.Duration) error
	Probe(ctx context.Context, ctrl Control, timeout time.Duration) (bool, error)
	AwaitArtifact(ctx context.Context, timeout time.Duration) (Artifact, error)
	Reload(ctx context.Context) error
	Close(ctx context.Context) error
}
