package session

import (
	"context"
	"sync"
	"time"

	"github.com/verbatim-audio/verbatim/internal/audio"
	"github.com/verbatim-audio/verbatim/internal/transcription"
)

// State is a session's position in its lifecycle.
type State int

const (
	// StateConnected is the initial state: handshake done, no model
	// bound yet. Audio is buffered and configuration accepted.
	StateConnected State = iota
	// StateConfigured is entered after the first configuration message.
	StateConfigured
	// StateStreaming is entered when the first audio-triggered
	// transcription invocation starts.
	StateStreaming
	// StateClosing is entered on disconnect or idle timeout; no new
	// audio is accepted while in-flight work drains.
	StateClosing
	// StateClosed is terminal: registry entry removed, resources freed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config is the per-session transcription configuration.
type Config struct {
	Model      string
	Language   string
	VADEnabled bool
	BeamSize   int
}

// Session is the server-side state for one streaming connection: its
// audio buffer, configuration, and in-flight transcription. All mutation
// happens on the owning connection's goroutine or under the session lock.
type Session struct {
	ID        string
	CreatedAt time.Time

	buffer *audio.Buffer
	events chan transcription.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // in-flight window processing

	mu           sync.Mutex
	state        State
	config       Config
	lastActivity time.Time
	closeOnce    sync.Once
}

// Events is the ordered stream of result events for this session. The
// channel is closed once the session reaches Closed.
func (s *Session) Events() <-chan transcription.Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns a copy of the current configuration.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// LastActivity returns the time of the last inbound frame or control
// message.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// touch updates the activity timestamp.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// accepting reports whether the session still accepts inbound traffic.
func (s *Session) accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state < StateClosing
}

// markConfigured transitions Connected → Configured; later states keep
// their place (reconfiguration while streaming does not reset state).
func (s *Session) markConfigured() {
	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateConfigured
	}
	s.mu.Unlock()
}

// applyConfig replaces the configuration wholesale.
func (s *Session) applyConfig(cfg Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
}

// emit delivers an event to the consumer, preserving order. It blocks
// while the consumer is slow and gives up once the session is cancelled,
// so results for a closed connection are discarded instead of delivered.
func (s *Session) emit(ev transcription.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
