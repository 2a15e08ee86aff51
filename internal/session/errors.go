package session

import "errors"

// Sentinel errors for the session manager's public contract. Callers
// translate these into protocol error frames or connection refusals.
var (
	// ErrCapacityExceeded is returned by CreateSession once the
	// admission cap is reached. Callers must retry later or refuse
	// the connection; there is no queue.
	ErrCapacityExceeded = errors.New("maximum sessions reached")

	// ErrSessionNotFound is returned when a message is addressed to an
	// unknown or already-closed session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrModelLoadFailed is returned when a configuration names a model
	// that cannot be obtained. The session keeps its prior configuration.
	ErrModelLoadFailed = errors.New("model load failed")
)
