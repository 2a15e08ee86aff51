package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/audio"
	"github.com/verbatim-audio/verbatim/internal/config"
	"github.com/verbatim-audio/verbatim/internal/metrics"
	"github.com/verbatim-audio/verbatim/internal/protocol"
	"github.com/verbatim-audio/verbatim/internal/transcription"
	"github.com/verbatim-audio/verbatim/internal/vad"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// Manager is the process-wide registry of active sessions. It enforces
// the admission cap, routes inbound frames to the owning session, evicts
// idle sessions, and bounds concurrent inference through a shared worker
// pool.
type Manager struct {
	cfg      config.SessionsConfig
	audioCfg config.AudioConfig
	defaults Config

	gate     *vad.Gate
	pipeline *transcription.Pipeline
	registry *asr.Registry
	metrics  *metrics.Metrics
	logger   *logger.Logger

	// pool bounds concurrent inference across all sessions. Saturation
	// queues new invocations rather than spawning unbounded work.
	pool *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session

	// closeWg tracks per-session teardown goroutines so Stop can wait
	// for every grace period to resolve before returning.
	closeWg sync.WaitGroup

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	now func() time.Time // injectable clock for tests
}

// NewManager creates a session manager.
func NewManager(
	cfg config.SessionsConfig,
	audioCfg config.AudioConfig,
	defaults Config,
	gate *vad.Gate,
	pipeline *transcription.Pipeline,
	registry *asr.Registry,
	m *metrics.Metrics,
	log *logger.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		audioCfg: audioCfg,
		defaults: defaults,
		gate:     gate,
		pipeline: pipeline,
		registry: registry,
		metrics:  m,
		logger:   log.Named("session-manager"),
		pool:     semaphore.NewWeighted(int64(cfg.MaxInferenceJobs)),
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Start launches the background idle sweep.
func (m *Manager) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	m.sweepCancel = cancel
	m.sweepDone = make(chan struct{})
	go m.sweepLoop(sweepCtx)
}

// Stop halts the sweep, closes every remaining session, and waits for
// their teardown to finish.
func (m *Manager) Stop() {
	if m.sweepCancel != nil {
		m.sweepCancel()
		<-m.sweepDone
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.CloseSession(id)
	}
	m.closeWg.Wait()
}

// ActiveSessions returns the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MaxSessions returns the admission cap.
func (m *Manager) MaxSessions() int {
	return m.cfg.MaxSessions
}

// CreateSession admits a new session, or fails with ErrCapacityExceeded
// once the cap is reached. Admission is checked and the entry inserted
// under one lock so the cap holds under concurrent bursts.
func (m *Manager) CreateSession() (*Session, error) {
	now := m.now()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		buffer:       audio.NewBuffer(m.audioCfg.SampleRate, m.audioCfg.WindowSeconds, m.audioCfg.MaxSeconds, m.logger),
		events:       make(chan transcription.Event, m.cfg.EventBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateConnected,
		config:       m.defaults,
		lastActivity: now,
	}

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		cancel()
		m.metrics.SessionsRefused.Inc()
		return nil, ErrCapacityExceeded
	}
	m.sessions[s.ID] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionsCreated.Inc()
	m.metrics.ActiveSessions.Set(float64(active))
	m.logger.Info("Created session",
		logger.String("session_id", s.ID),
		logger.Int("active_sessions", active))

	s.emit(transcription.StatusEvent{Status: "connected", SessionID: s.ID})
	return s, nil
}

// CloseSession removes and shuts down a session. It is idempotent:
// closing an unknown or already-closed id is a no-op so cleanup paths
// may race with timeout eviction safely.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.metrics.SessionsClosed.Inc()
	m.metrics.ActiveSessions.Set(float64(active))

	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.mu.Unlock()

		// In-flight transcription may finish within the grace period;
		// past it, cancellation discards the result.
		m.closeWg.Add(1)
		go func() {
			defer m.closeWg.Done()
			grace := time.Duration(m.cfg.CloseGraceSecs) * time.Second
			done := make(chan struct{})
			go func() {
				s.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(grace):
				m.logger.Warn("Cancelling in-flight transcription past close grace",
					logger.String("session_id", s.ID))
			}
			s.cancel()
			<-done

			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			close(s.events)

			m.logger.Info("Closed session", logger.String("session_id", s.ID))
		}()
	})
}

// lookup fetches a session and refreshes its activity timestamp under
// the registry lock, so eviction and routing observe a consistent time.
func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.touch(m.now())
	}
	m.mu.Unlock()
	if !ok || !s.accepting() {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ProcessAudio appends inbound audio bytes to the session's buffer and,
// once a full window is buffered, runs the gate and pipeline. Processing
// happens on the caller's goroutine; the worker pool bounds the global
// inference concurrency, so a saturated pool queues this session without
// stalling others.
func (m *Manager) ProcessAudio(id string, data []byte) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}

	s.buffer.Append(data)
	m.metrics.AudioBytesReceived.Add(float64(len(data)))

	if s.buffer.ReadyToFlush() {
		m.processWindow(s)
	}
	return nil
}

// processWindow flushes the buffer and transcribes each speech span in
// order. A failed span emits an error event and never terminates the
// session.
func (m *Manager) processWindow(s *Session) {
	w := s.buffer.Flush()
	if w.Empty() {
		return
	}
	m.metrics.WindowsFlushed.Inc()

	cfg := s.Config()
	spans := m.gate.Evaluate(w, cfg.VADEnabled)
	if len(spans) == 0 {
		m.metrics.WindowsSilent.Inc()
		return
	}

	// Transition to Streaming and register the in-flight work under one
	// lock: once the close path marks Closing, no new work may start.
	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		return
	}
	if s.state < StateStreaming {
		s.state = StateStreaming
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	// A reconfiguration may still be loading its model; Ensure blocks
	// this session until the bound model is usable.
	if err := m.registry.Ensure(s.ctx, cfg.Model); err != nil {
		s.emit(transcription.ErrorEvent{
			Kind:   protocol.ErrTranscriptionFailed,
			Detail: fmt.Sprintf("model %q unavailable: %v", cfg.Model, err),
		})
		return
	}

	for _, span := range spans {
		pcm := audio.SliceSeconds(w.PCM, w.SampleRate, span.Start, span.End)
		if len(pcm) == 0 {
			continue
		}

		if err := m.pool.Acquire(s.ctx, 1); err != nil {
			return // session closed while queued
		}
		m.pipeline.Run(s.ctx, transcription.SpanRequest{
			SessionID:  s.ID,
			PCM:        pcm,
			SampleRate: w.SampleRate,
			AbsStart:   w.StartSeconds() + span.Start,
			Model:      cfg.Model,
			Language:   cfg.Language,
			BeamSize:   cfg.BeamSize,
		}, s.emit)
		m.pool.Release(1)
	}
}

// Configure applies a configuration message. Non-model settings take
// effect with the model as a unit: when the message selects a new model,
// the load runs off this goroutine and the whole configuration is applied
// only once the load succeeds, leaving the previous configuration intact
// on failure. Audio keeps buffering while the load proceeds.
func (m *Manager) Configure(id string, msg *protocol.ConfigMessage) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}

	current := s.Config()
	next := current
	if msg.Model != "" {
		next.Model = msg.Model
	}
	if msg.Language != nil {
		next.Language = *msg.Language
	}
	if msg.VADEnabled != nil {
		next.VADEnabled = *msg.VADEnabled
	}
	if msg.BeamSize > 0 {
		next.BeamSize = msg.BeamSize
	}

	if !asr.ValidModel(next.Model) {
		return fmt.Errorf("%w: unknown model %q", ErrModelLoadFailed, next.Model)
	}

	apply := func() {
		s.applyConfig(next)
		s.markConfigured()
		s.emit(transcription.StatusEvent{Status: "configured", SessionID: s.ID})
		m.logger.Info("Session configured",
			logger.String("session_id", s.ID),
			logger.String("model", next.Model),
			logger.String("language", next.Language),
			logger.Bool("vad_enabled", next.VADEnabled))
	}

	if m.registry.Loaded(next.Model) {
		apply()
		return nil
	}

	// Register the load with the session's in-flight work before it
	// starts: the close path waits on this group before tearing down
	// the event channel, so the goroutine's emits stay safe.
	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := m.registry.Ensure(s.ctx, next.Model); err != nil {
			m.metrics.ModelLoadFailures.Inc()
			s.emit(transcription.ErrorEvent{
				Kind:   protocol.ErrModelLoadFailed,
				Detail: err.Error(),
			})
			return
		}
		m.metrics.ModelLoads.Inc()
		apply()
	}()
	return nil
}

// Ping refreshes the session's activity timestamp and answers through
// its ordered event stream.
func (m *Manager) Ping(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.emit(transcription.PongEvent{})
	return nil
}

// sweepLoop periodically evicts sessions idle past the timeout,
// independent of explicit disconnects.
func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.sweepDone)

	interval := time.Duration(m.cfg.SweepIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle collects expired ids under the registry lock, then closes
// them through the normal idempotent path.
func (m *Manager) sweepIdle() {
	timeout := time.Duration(m.cfg.IdleTimeoutSecs) * time.Second
	cutoff := m.now().Add(-timeout)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.logger.Info("Evicting idle session", logger.String("session_id", id))
		m.metrics.SessionsEvicted.Inc()
		m.CloseSession(id)
	}
}
