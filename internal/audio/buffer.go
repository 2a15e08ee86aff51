package audio

import (
	"sync"

	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// BytesPerSample is the size of one sample on the wire (16-bit signed PCM).
const BytesPerSample = 2

// Window is a contiguous block of buffered audio handed to the pipeline
// for one transcription invocation. Offsets are byte positions relative
// to the start of the session's audio stream.
type Window struct {
	PCM         []byte
	StartOffset int64
	EndOffset   int64
	SampleRate  int
}

// Empty reports whether the window carries no audio.
func (w Window) Empty() bool {
	return len(w.PCM) == 0
}

// StartSeconds returns the window start relative to session stream start.
func (w Window) StartSeconds() float64 {
	return float64(w.StartOffset) / float64(w.SampleRate*BytesPerSample)
}

// EndSeconds returns the window end relative to session stream start.
func (w Window) EndSeconds() float64 {
	return float64(w.EndOffset) / float64(w.SampleRate*BytesPerSample)
}

// DurationSeconds returns the window length in seconds.
func (w Window) DurationSeconds() float64 {
	return float64(len(w.PCM)) / float64(w.SampleRate*BytesPerSample)
}

// Buffer accumulates inbound PCM bytes for one session until a window's
// worth of audio is available. It tracks the absolute stream offset so
// that window timestamps stay monotonic across flushes.
type Buffer struct {
	sampleRate  int
	flushBytes  int // bytes needed before ReadyToFlush reports true
	maxBytes    int // hard cap; Append drops the oldest bytes past this
	data        []byte
	startOffset int64 // stream offset of data[0]
	dropped     int64 // total bytes discarded at the cap
	logger      *logger.Logger
	mu          sync.Mutex
}

// NewBuffer creates an audio buffer for the given sample rate. windowSeconds
// controls the flush threshold, maxSeconds bounds total buffered audio.
func NewBuffer(sampleRate int, windowSeconds, maxSeconds float64, log *logger.Logger) *Buffer {
	bytesPerSecond := sampleRate * BytesPerSample
	flushBytes := int(float64(bytesPerSecond) * windowSeconds)
	maxBytes := int(float64(bytesPerSecond) * maxSeconds)
	return &Buffer{
		sampleRate: sampleRate,
		flushBytes: flushBytes,
		maxBytes:   maxBytes,
		data:       make([]byte, 0, flushBytes),
		logger:     log.Named("audio-buffer"),
	}
}

// Append adds raw PCM bytes to the tail of the buffer. Frame boundaries
// carry no meaning; bytes are simply concatenated. If the buffer would
// exceed its cap the oldest bytes are dropped so that the reader is
// never blocked and memory stays bounded.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
		b.startOffset += int64(excess)
		b.dropped += int64(excess)
		b.logger.Warn("Audio buffer exceeded cap, dropping oldest audio",
			logger.Int("dropped_bytes", excess),
			logger.Int64("total_dropped", b.dropped))
	}
}

// ReadyToFlush reports whether at least one full window is buffered.
func (b *Buffer) ReadyToFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) >= b.flushBytes
}

// Flush returns the entire buffered window and clears the buffer.
// Flushing an empty buffer returns an empty window; callers skip those.
func (b *Buffer) Flush() Window {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := Window{
		PCM:         b.data,
		StartOffset: b.startOffset,
		EndOffset:   b.startOffset + int64(len(b.data)),
		SampleRate:  b.sampleRate,
	}
	b.startOffset = w.EndOffset
	b.data = make([]byte, 0, b.flushBytes)
	return w
}

// Len returns the number of unconsumed bytes currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// FlushThreshold returns the byte count that triggers a flush.
func (b *Buffer) FlushThreshold() int {
	return b.flushBytes
}
