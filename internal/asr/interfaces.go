package asr

import (
	"context"
)

// Known model selectors, matching the faster-whisper family. Engines may
// accept others; these are what the protocol advertises.
const (
	ModelTiny    = "tiny"
	ModelBase    = "base"
	ModelSmall   = "small"
	ModelMedium  = "medium"
	ModelLargeV3 = "large-v3"
)

// Request carries the audio for one speech span plus per-session options.
type Request struct {
	PCM        []byte // raw 16-bit mono PCM
	SampleRate int
	Model      string
	Language   string // optional hint, empty for auto-detect
	BeamSize   int
}

// Word is a single word with timing and confidence, in seconds relative
// to the start of the submitted audio.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Segment is one textual segment produced by the engine, in seconds
// relative to the start of the submitted audio. Words may be empty when
// the engine does not produce word-level timestamps.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words,omitempty"`
}

// Result is the ordered output of one engine invocation.
type Result struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// Engine converts an audio span into timestamped text. Implementations
// wrap external capabilities (an inference server, a hosted API) and must
// be safe for concurrent use.
type Engine interface {
	// Load binds the model selector to a usable capability. Loading may
	// take seconds; callers run it off their I/O path.
	Load(ctx context.Context, model string) error

	// Loaded reports whether the model is ready without loading it.
	Loaded(model string) bool

	// Transcribe runs inference on one span and returns ordered segments.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// ValidModel reports whether the selector names a known model.
func ValidModel(model string) bool {
	switch model {
	case ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLargeV3:
		return true
	}
	return false
}
