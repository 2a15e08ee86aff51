package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/audio"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// Config contains remote engine configuration
type Config struct {
	Endpoint      string        // inference server base URL
	APIKey        string        // bearer token, optional
	Timeout       time.Duration // per-request timeout
	MaxRetries    int           // retry attempts for transient failures
	MaxConcurrent int           // concurrent requests against the server
}

// Engine invokes a whisper-server style HTTP inference endpoint. Audio is
// shipped as a multipart WAV upload; the response carries timestamped
// segments with optional word timing.
type Engine struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
	semaphore  chan struct{}

	mu     sync.RWMutex
	loaded map[string]bool
}

// transcribeResponse mirrors the inference server's JSON reply.
type transcribeResponse struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Segments []asr.Segment `json:"segments"`
}

// NewEngine creates a remote inference engine.
func NewEngine(cfg Config, log *logger.Logger) (*Engine, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}

	return &Engine{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:    log.Named("asr-remote"),
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		loaded:    make(map[string]bool),
	}, nil
}

// Load issues a warm-up request so the server pulls the model into memory
// before the first real span arrives.
func (e *Engine) Load(ctx context.Context, model string) error {
	url := fmt.Sprintf("%s/v1/models/%s/load", strings.TrimRight(e.config.Endpoint, "/"), model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create load request: %w", err)
	}
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model load request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("model load returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	e.mu.Lock()
	e.loaded[model] = true
	e.mu.Unlock()
	return nil
}

// Loaded reports whether a warm-up for the model has succeeded.
func (e *Engine) Loaded(model string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded[model]
}

// Transcribe posts one span to the inference server, retrying transient
// failures with capped exponential backoff.
func (e *Engine) Transcribe(ctx context.Context, req asr.Request) (*asr.Result, error) {
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := e.doRequest(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		e.logger.Warn("Transcription attempt failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Error(err))
	}
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

func (e *Engine) doRequest(ctx context.Context, req asr.Request) (*asr.Result, error) {
	wav, err := audio.EncodeWAV(req.PCM, req.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "span.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	writer.WriteField("model", req.Model)
	if req.Language != "" {
		writer.WriteField("language", req.Language)
	}
	if req.BeamSize > 0 {
		writer.WriteField("beam_size", strconv.Itoa(req.BeamSize))
	}
	writer.WriteField("word_timestamps", "true")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := strings.TrimRight(e.config.Endpoint, "/") + "/v1/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	e.setHeaders(httpReq)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{status: resp.StatusCode, body: string(respBody)}
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	result := &asr.Result{
		Segments: parsed.Segments,
		Language: parsed.Language,
	}
	// Servers without segment support still return flat text.
	if len(result.Segments) == 0 && strings.TrimSpace(parsed.Text) != "" {
		result.Segments = []asr.Segment{{
			Text:  parsed.Text,
			Start: 0,
			End:   float64(len(req.PCM)) / float64(req.SampleRate*audio.BytesPerSample),
		}}
	}
	return result, nil
}

func (e *Engine) setHeaders(req *http.Request) {
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "verbatim/1.0")
}

type httpError struct {
	status int
	body   string
}

func (h *httpError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", h.status, h.body)
}

// isRetryable treats network failures and server-side errors as transient;
// client errors are not retried.
func isRetryable(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.status >= 500 || he.status == http.StatusTooManyRequests
	}
	return true
}
