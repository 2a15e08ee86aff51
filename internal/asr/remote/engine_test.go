package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

func testRequest() asr.Request {
	return asr.Request{
		PCM:        make([]byte, 32000),
		SampleRate: 16000,
		Model:      "small",
		Language:   "en",
		BeamSize:   5,
	}
}

func TestTranscribeSendsMultipartWAV(t *testing.T) {
	var gotModel, gotLanguage, gotBeam string
	var gotFileLen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %q, want /v1/audio/transcriptions", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		gotBeam = r.FormValue("beam_size")
		if file, _, err := r.FormFile("file"); err == nil {
			buf := make([]byte, 64)
			n, _ := file.Read(buf)
			gotFileLen = n
			file.Close()
			if string(buf[0:4]) != "RIFF" {
				t.Errorf("uploaded file does not start with RIFF header")
			}
		} else {
			t.Errorf("missing file part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"","language":"en","segments":[{"text":"hello","start":0,"end":1}]}`))
	}))
	defer server.Close()

	engine, err := NewEngine(Config{Endpoint: server.URL, MaxRetries: 0}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	result, err := engine.Transcribe(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}

	if gotModel != "small" || gotLanguage != "en" || gotBeam != "5" {
		t.Errorf("form fields = (%q, %q, %q), want (small, en, 5)", gotModel, gotLanguage, gotBeam)
	}
	if gotFileLen == 0 {
		t.Error("uploaded file was empty")
	}
	if len(result.Segments) != 1 || result.Segments[0].Text != "hello" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestTranscribeFallsBackToFlatText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"flat only","language":"en"}`))
	}))
	defer server.Close()

	engine, err := NewEngine(Config{Endpoint: server.URL}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	result, err := engine.Transcribe(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if len(result.Segments) != 1 {
		t.Fatalf("got %d segments, want 1 synthesized from flat text", len(result.Segments))
	}
	if result.Segments[0].Text != "flat only" {
		t.Errorf("segment text = %q, want flat text", result.Segments[0].Text)
	}
	// One second of 16kHz audio.
	if result.Segments[0].End != 1.0 {
		t.Errorf("segment end = %f, want 1.0", result.Segments[0].End)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"segments":[{"text":"retried","start":0,"end":1}]}`))
	}))
	defer server.Close()

	engine, err := NewEngine(Config{Endpoint: server.URL, MaxRetries: 2}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := engine.Transcribe(ctx, testRequest())
	if err != nil {
		t.Fatalf("Transcribe() error after retry: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("server called %d times, want 2", calls)
	}
	if result.Segments[0].Text != "retried" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer server.Close()

	engine, err := NewEngine(Config{Endpoint: server.URL, MaxRetries: 3}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	if _, err := engine.Transcribe(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server called %d times, want 1 (no retry on 4xx)", calls)
	}
}

func TestLoadMarksModelLoaded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/medium/load" {
			t.Errorf("path = %q, want /v1/models/medium/load", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine, err := NewEngine(Config{Endpoint: server.URL}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	if engine.Loaded("medium") {
		t.Error("model reported loaded before Load")
	}
	if err := engine.Load(context.Background(), "medium"); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !engine.Loaded("medium") {
		t.Error("model not reported loaded after Load")
	}
}

func TestNewEngineRequiresEndpoint(t *testing.T) {
	if _, err := NewEngine(Config{}, logger.NewNop()); err == nil {
		t.Error("NewEngine() accepted empty endpoint")
	}
}
