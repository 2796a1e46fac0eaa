package engine

import (
	"errors"

	"producerd/internal/browser"
)

// Sentinel errors returned by the engine. Callers match with errors.Is;
// wrapped messages carry the step-level detail.
var (
	// ErrQueueNotRunning is returned by submission ops while the engine
	// is stopped.
	ErrQueueNotRunning = errors.New("queue not running")

	// ErrPoolExhausted means the hard worker cap (including creations in
	// flight) left no room for another session.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrAuthentication means login could not be verified after all
	// attempts.
	ErrAuthentication = errors.New("authentication failed")

	// ErrSessionStuck means the surface stopped acknowledging progress:
	// the submission was never picked up or generation overran its budget.
	ErrSessionStuck = errors.New("session stuck")

	// ErrElementNotFound means an interaction target stayed absent through
	// its full attempt budget. It fails the job, not the session.
	ErrElementNotFound = errors.New("element not found")

	// ErrUploadError wraps object-storage failures after a successful
	// generation.
	ErrUploadError = errors.New("upload failed")
)

// ErrArtifactTimeout aliases the driver sentinel so engine callers can
// match every job failure class against this package alone.
var ErrArtifactTimeout = browser.ErrArtifactTimeout
