package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Audio    AudioConfig    `toml:"audio"`    // Audio buffering settings
	VAD      VADConfig      `toml:"vad"`      // Voice activity detection settings
	ASR      ASRConfig      `toml:"asr"`      // Speech recognition engine settings
	Sessions SessionsConfig `toml:"sessions"` // Session lifecycle and concurrency settings
	Storage  StorageConfig  `toml:"storage"`  // Transcript archive settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for streaming)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// AudioConfig contains audio buffering configuration.
// The wire format is fixed: 16-bit signed PCM, mono. Only the sample
// rate and window sizing are tunable.
type AudioConfig struct {
	SampleRate    int     `toml:"sample_rate"`    // Audio sample rate in Hz (16000 on the wire)
	WindowSeconds float64 `toml:"window_seconds"` // Seconds of audio to accumulate before a flush (default 1.0)
	MaxSeconds    float64 `toml:"max_seconds"`    // Hard cap on buffered audio in seconds; oldest bytes are dropped past this (default 10.0)
}

// VADConfig contains voice activity detection settings
type VADConfig struct {
	Threshold     float64 `toml:"threshold"`          // Energy threshold for speech detection (0.0-1.0)
	WindowSamples int     `toml:"window_samples"`     // Samples per detection window (default 512)
	MinSpeechSecs float64 `toml:"min_speech_seconds"` // Spans shorter than this are discarded
	HangoverSecs  float64 `toml:"hangover_seconds"`   // Silence gap below which adjacent spans are merged
}

// ASRConfig contains speech recognition engine settings
type ASRConfig struct {
	Provider       string `toml:"provider"`        // Engine backend: "remote" or "gemini"
	DefaultModel   string `toml:"default_model"`   // Model selector used before a session configures one (e.g., "small")
	PreloadModel   bool   `toml:"preload_model"`   // Load the default model at startup
	BeamSize       int    `toml:"beam_size"`       // Default beam size forwarded to the engine
	TimeoutSeconds int    `toml:"timeout_seconds"` // Per-invocation timeout in seconds

	// Remote engine settings (provider = "remote")
	Endpoint      string `toml:"endpoint"`       // Inference server base URL
	APIKey        string `toml:"api_key"`        // Bearer token for the inference server
	MaxRetries    int    `toml:"max_retries"`    // Retry attempts for transient inference failures
	MaxConcurrent int    `toml:"max_concurrent"` // Concurrent requests allowed against the inference server

	// Gemini engine settings (provider = "gemini")
	GeminiAPIKey string `toml:"gemini_api_key"` // API key for the Gemini API
	GeminiModel  string `toml:"gemini_model"`   // Gemini model name (e.g., "gemini-2.0-flash")
}

// SessionsConfig contains session lifecycle and concurrency settings
type SessionsConfig struct {
	MaxSessions       int `toml:"max_sessions"`           // Admission-control cap on concurrent sessions
	IdleTimeoutSecs   int `toml:"idle_timeout_seconds"`   // Sessions with no activity for this long are evicted (default 300)
	SweepIntervalSecs int `toml:"sweep_interval_seconds"` // How often the idle sweep runs (default 30)
	MaxInferenceJobs  int `toml:"max_inference_jobs"`     // Worker pool bound on concurrent inference calls across sessions
	CloseGraceSecs    int `toml:"close_grace_seconds"`    // How long an in-flight transcription may finish after close before cancellation
	EventBufferSize   int `toml:"event_buffer_size"`      // Per-session outbound result event buffer
}

// StorageConfig contains transcript archive settings
type StorageConfig struct {
	Enabled        bool   `toml:"enabled"`          // Archive final transcripts to SQLite
	SQLiteBasePath string `toml:"sqlite_base_path"` // Base path for SQLite database files
}

// Default returns a configuration populated with defaults for every section
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8002,
			Host:               "0.0.0.0",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSecs:    0,
			WriteTimeoutSecs:   0,
			IdleTimeoutSecs:    60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			WindowSeconds: 1.0,
			MaxSeconds:    10.0,
		},
		VAD: VADConfig{
			Threshold:     0.5,
			WindowSamples: 512,
			MinSpeechSecs: 0.1,
			HangoverSecs:  0.3,
		},
		ASR: ASRConfig{
			Provider:       "remote",
			DefaultModel:   "small",
			BeamSize:       5,
			TimeoutSeconds: 30,
			MaxRetries:     3,
			MaxConcurrent:  10,
			GeminiModel:    "gemini-2.0-flash",
		},
		Sessions: SessionsConfig{
			MaxSessions:       10,
			IdleTimeoutSecs:   300,
			SweepIntervalSecs: 30,
			MaxInferenceJobs:  4,
			CloseGraceSecs:    5,
			EventBufferSize:   64,
		},
		Storage: StorageConfig{
			Enabled:        false,
			SQLiteBasePath: "data",
		},
	}
}

// Load reads and parses the configuration file at the given path,
// applying defaults for any unset values
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithFallback loads configuration from the given path, or searches
// the conventional locations (configs/ directory, then working directory)
// when no path is provided. A missing file yields the defaults.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	candidates := []string{
		filepath.Join("configs", "config.toml"),
		"config.toml",
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}

	return Default(), nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.WindowSeconds <= 0 {
		return fmt.Errorf("audio window_seconds must be positive, got %f", c.Audio.WindowSeconds)
	}
	if c.Audio.MaxSeconds < c.Audio.WindowSeconds {
		return fmt.Errorf("audio max_seconds (%f) must be at least window_seconds (%f)",
			c.Audio.MaxSeconds, c.Audio.WindowSeconds)
	}
	if c.VAD.Threshold < 0 || c.VAD.Threshold > 1 {
		return fmt.Errorf("vad threshold must be between 0 and 1, got %f", c.VAD.Threshold)
	}
	if c.VAD.WindowSamples <= 0 {
		return fmt.Errorf("vad window_samples must be positive, got %d", c.VAD.WindowSamples)
	}
	if c.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("sessions max_sessions must be positive, got %d", c.Sessions.MaxSessions)
	}
	if c.Sessions.MaxInferenceJobs <= 0 {
		return fmt.Errorf("sessions max_inference_jobs must be positive, got %d", c.Sessions.MaxInferenceJobs)
	}
	if c.Sessions.IdleTimeoutSecs <= 0 {
		return fmt.Errorf("sessions idle_timeout_seconds must be positive, got %d", c.Sessions.IdleTimeoutSecs)
	}
	switch c.ASR.Provider {
	case "remote", "gemini":
	default:
		return fmt.Errorf("unknown asr provider: %q", c.ASR.Provider)
	}
	if c.ASR.Provider == "remote" && c.ASR.Endpoint == "" {
		return fmt.Errorf("asr endpoint is required for the remote provider")
	}
	if c.Storage.Enabled && c.Storage.SQLiteBasePath == "" {
		return fmt.Errorf("storage sqlite_base_path is required when storage is enabled")
	}
	return nil
}
