package vad

import (
	"github.com/verbatim-audio/verbatim/internal/audio"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// Gate decides which parts of a buffered window are worth transcribing.
// It wraps a Detector and applies the session's vad_enabled flag.
//
// When the detector is unavailable or fails, the gate fails open and
// passes the whole window as one span: transcription correctness is
// preferred over silence filtering.
type Gate struct {
	detector Detector
	logger   *logger.Logger
}

// NewGate creates a gate around the given detector. A nil detector is
// permitted and always fails open.
func NewGate(detector Detector, log *logger.Logger) *Gate {
	return &Gate{
		detector: detector,
		logger:   log.Named("vad-gate"),
	}
}

// Evaluate returns the speech spans within the window. With enabled=false
// the detector is bypassed entirely and the full window is passed through.
// An empty result means the window should be discarded without invoking
// transcription.
func (g *Gate) Evaluate(w audio.Window, enabled bool) []Span {
	if w.Empty() {
		return nil
	}

	full := []Span{{Start: 0, End: w.DurationSeconds()}}
	if !enabled {
		return full
	}
	if g.detector == nil {
		return full
	}

	samples := audio.DecodePCM16(w.PCM)
	spans, err := g.detector.SpeechSpans(samples, w.SampleRate)
	if err != nil {
		g.logger.Warn("VAD unavailable, passing full window", logger.Error(err))
		return full
	}
	return spans
}
