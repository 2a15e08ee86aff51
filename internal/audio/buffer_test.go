package audio

import (
	"bytes"
	"testing"

	"github.com/verbatim-audio/verbatim/pkg/logger"
)

func TestBufferFlushThreshold(t *testing.T) {
	// One second of 16kHz 16-bit mono audio.
	b := NewBuffer(16000, 1.0, 10.0, logger.NewNop())

	if got, want := b.FlushThreshold(), 32000; got != want {
		t.Fatalf("FlushThreshold() = %d, want %d", got, want)
	}

	b.Append(make([]byte, 31999))
	if b.ReadyToFlush() {
		t.Error("buffer ready to flush below threshold")
	}

	b.Append(make([]byte, 1))
	if !b.ReadyToFlush() {
		t.Error("buffer not ready to flush at threshold")
	}
}

func TestBufferAppendAccumulates(t *testing.T) {
	b := NewBuffer(16000, 1.0, 10.0, logger.NewNop())

	b.Append([]byte{1, 2, 3})
	b.Append(nil)
	b.Append([]byte{4, 5})

	if got := b.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}

	w := b.Flush()
	if !bytes.Equal(w.PCM, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Flush() PCM = %v, want concatenated frames", w.PCM)
	}
}

func TestBufferFlushResetsAndTracksOffsets(t *testing.T) {
	b := NewBuffer(16000, 1.0, 10.0, logger.NewNop())

	b.Append(make([]byte, 32000))
	first := b.Flush()
	if first.StartOffset != 0 || first.EndOffset != 32000 {
		t.Errorf("first window offsets = [%d, %d), want [0, 32000)", first.StartOffset, first.EndOffset)
	}
	if b.Len() != 0 {
		t.Errorf("Len() after flush = %d, want 0", b.Len())
	}

	b.Append(make([]byte, 32000))
	second := b.Flush()
	if second.StartOffset != 32000 || second.EndOffset != 64000 {
		t.Errorf("second window offsets = [%d, %d), want [32000, 64000)", second.StartOffset, second.EndOffset)
	}
	if got, want := second.StartSeconds(), 1.0; got != want {
		t.Errorf("StartSeconds() = %f, want %f", got, want)
	}
	if got, want := second.EndSeconds(), 2.0; got != want {
		t.Errorf("EndSeconds() = %f, want %f", got, want)
	}
}

func TestBufferDropsOldestPastCap(t *testing.T) {
	// Cap at two seconds so the third second forces a drop.
	b := NewBuffer(16000, 1.0, 2.0, logger.NewNop())

	b.Append(bytes.Repeat([]byte{1}, 32000))
	b.Append(bytes.Repeat([]byte{2}, 32000))
	b.Append(bytes.Repeat([]byte{3}, 32000))

	if got, want := b.Len(), 64000; got != want {
		t.Fatalf("Len() = %d, want capped %d", got, want)
	}

	w := b.Flush()
	// The oldest second was discarded; offsets account for it.
	if w.StartOffset != 32000 {
		t.Errorf("StartOffset = %d, want 32000 after drop", w.StartOffset)
	}
	if w.PCM[0] != 2 {
		t.Errorf("window starts with byte %d, want 2 (oldest second dropped)", w.PCM[0])
	}
	if w.PCM[len(w.PCM)-1] != 3 {
		t.Errorf("window ends with byte %d, want 3", w.PCM[len(w.PCM)-1])
	}
}

func TestEmptyFlush(t *testing.T) {
	b := NewBuffer(16000, 1.0, 10.0, logger.NewNop())

	w := b.Flush()
	if !w.Empty() {
		t.Error("flush of empty buffer should yield an empty window")
	}
}
