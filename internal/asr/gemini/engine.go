package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/audio"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

const transcribePrompt = "Transcribe this audio verbatim. Reply with only the spoken words, no commentary. Reply with an empty message if there is no speech."

// Engine transcribes spans through the Gemini API using inline audio.
// Gemini does not expose word-level timestamps, so results carry a single
// segment spanning the submitted audio.
type Engine struct {
	apiKey string
	model  string
	logger *logger.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewEngine creates a Gemini-backed engine. The configured Gemini model
// name serves every model selector; selectors only gate warm-up.
func NewEngine(apiKey, model string, log *logger.Logger) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Engine{
		apiKey: apiKey,
		model:  model,
		logger: log.Named("asr-gemini"),
	}, nil
}

// Load establishes the API client. The hosted model needs no per-selector
// loading, so any valid selector succeeds once the client is up.
func (e *Engine) Load(ctx context.Context, model string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  e.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}
	e.client = client
	return nil
}

// Loaded reports whether the API client is established.
func (e *Engine) Loaded(model string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client != nil
}

// Transcribe sends the span as inline WAV audio and wraps the reply in a
// single full-span segment.
func (e *Engine) Transcribe(ctx context.Context, req asr.Request) (*asr.Result, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("gemini client not initialized")
	}

	wav, err := audio.EncodeWAV(req.PCM, req.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio: %w", err)
	}

	prompt := transcribePrompt
	if req.Language != "" {
		prompt = fmt.Sprintf("%s The audio is in language %q.", transcribePrompt, req.Language)
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: wav}},
		},
	}}

	resp, err := client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return &asr.Result{Language: req.Language}, nil
	}
	return &asr.Result{
		Segments: []asr.Segment{{
			Text:  text,
			Start: 0,
			End:   float64(len(req.PCM)) / float64(req.SampleRate*audio.BytesPerSample),
		}},
		Language: req.Language,
	}, nil
}
