package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	pcm := make([]byte, 32000)
	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error: %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Errorf("encoded size = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) {
		t.Errorf("missing RIFF magic, got %q", wav[0:4])
	}
	if !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Errorf("missing WAVE format, got %q", wav[8:12])
	}

	sampleRate := binary.LittleEndian.Uint32(wav[24:28])
	if sampleRate != 16000 {
		t.Errorf("header sample rate = %d, want 16000", sampleRate)
	}
	dataSize := binary.LittleEndian.Uint32(wav[40:44])
	if dataSize != uint32(len(pcm)) {
		t.Errorf("header data size = %d, want %d", dataSize, len(pcm))
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("expected error for empty audio")
	}
	if _, err := EncodeWAV([]byte{0, 0}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
