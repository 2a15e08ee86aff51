package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/transcription"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

func newTestStorage(t *testing.T) *TranscriptStorage {
	t.Helper()
	storage, err := NewTranscriptStorage(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewTranscriptStorage() error: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestStoreAndRetrieveTranscript(t *testing.T) {
	storage := newTestStorage(t)

	id, err := storage.StoreTranscript(&transcription.Transcript{
		SessionID: "sess-1",
		CreatedAt: time.Now().UTC(),
		Text:      "hello world",
		Start:     1.5,
		End:       3.0,
		Language:  "en",
		Words: []asr.Word{
			{Word: "hello", Start: 1.5, End: 2.1, Probability: 0.95},
			{Word: "world", Start: 2.2, End: 3.0, Probability: 0.90},
		},
	})
	if err != nil {
		t.Fatalf("StoreTranscript() error: %v", err)
	}
	if id == 0 {
		t.Error("StoreTranscript() returned zero id")
	}

	rows, err := storage.GetTranscripts(10, 0)
	if err != nil {
		t.Fatalf("GetTranscripts() error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d transcripts, want 1", len(rows))
	}

	got := rows[0]
	if got.Text != "hello world" || got.SessionID != "sess-1" || got.Language != "en" {
		t.Errorf("unexpected transcript: %+v", got)
	}
	if got.Start != 1.5 || got.End != 3.0 {
		t.Errorf("span = [%f, %f), want [1.5, 3.0)", got.Start, got.End)
	}
	if len(got.Words) != 2 || got.Words[0].Word != "hello" {
		t.Errorf("words not round-tripped: %+v", got.Words)
	}
}

func TestStoreTranscriptWithoutWords(t *testing.T) {
	storage := newTestStorage(t)

	if _, err := storage.StoreTranscript(&transcription.Transcript{
		SessionID: "sess-1",
		CreatedAt: time.Now().UTC(),
		Text:      "no word timing",
	}); err != nil {
		t.Fatalf("StoreTranscript() error: %v", err)
	}

	rows, err := storage.GetTranscripts(10, 0)
	if err != nil {
		t.Fatalf("GetTranscripts() error: %v", err)
	}
	if len(rows[0].Words) != 0 {
		t.Errorf("words = %+v, want none", rows[0].Words)
	}
}

func TestGetTranscriptsBySession(t *testing.T) {
	storage := newTestStorage(t)

	now := time.Now().UTC()
	for i, sess := range []string{"a", "b", "a"} {
		if _, err := storage.StoreTranscript(&transcription.Transcript{
			SessionID: sess,
			CreatedAt: now,
			Text:      "chunk",
			Start:     float64(i),
			End:       float64(i) + 1,
		}); err != nil {
			t.Fatalf("StoreTranscript() error: %v", err)
		}
	}

	rows, err := storage.GetTranscriptsBySession("a", 10, 0)
	if err != nil {
		t.Fatalf("GetTranscriptsBySession() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d transcripts for session a, want 2", len(rows))
	}
	// Ordered by span start within a session.
	if rows[0].Start > rows[1].Start {
		t.Errorf("transcripts not in span order: %f before %f", rows[0].Start, rows[1].Start)
	}
}

func TestGetTranscriptsPagination(t *testing.T) {
	storage := newTestStorage(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if _, err := storage.StoreTranscript(&transcription.Transcript{
			SessionID: "sess-1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Text:      "chunk",
		}); err != nil {
			t.Fatalf("StoreTranscript() error: %v", err)
		}
	}

	page, err := storage.GetTranscripts(2, 0)
	if err != nil {
		t.Fatalf("GetTranscripts() error: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}

	rest, err := storage.GetTranscripts(10, 2)
	if err != nil {
		t.Fatalf("GetTranscripts() error: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("remaining = %d, want 3", len(rest))
	}
}
