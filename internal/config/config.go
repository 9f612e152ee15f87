package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file
const (
	EnvEngineAPIKey   = "VOICEMEMO_ENGINE_API_KEY"
	EnvRecordingsDir  = "VOICEMEMO_RECORDINGS_DIR"
	EnvLogLevel       = "VOICEMEMO_LOG_LEVEL"
	defaultCacheBytes = 5 << 20

	defaultImportBytes = 100 << 20
)

// Config represents the complete service configuration
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
	Capture CaptureConfig `yaml:"capture"`
	Engine  EngineConfig  `yaml:"engine"`
	HTTP    HTTPConfig    `yaml:"http"`
	MCP     MCPConfig     `yaml:"mcp"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig controls where artifacts live and how long they are kept
type StorageConfig struct {
	RecordingsDir   string        `yaml:"recordings_dir"`
	CatalogPath     string        `yaml:"catalog_path"` // empty disables the catalog
	MaxCacheBytes   int64         `yaml:"max_cache_bytes"`
	MaxImportBytes  int64         `yaml:"max_import_bytes"`
	RetentionWindow time.Duration `yaml:"retention_window"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// SessionConfig contains transcription session settings
type SessionConfig struct {
	SupportedLanguages []string `yaml:"supported_languages"`
	DefaultLanguage    string   `yaml:"default_language"`
	AutoTranscribe     bool     `yaml:"auto_transcribe"`
}

// CaptureConfig describes the microphone input handed to ffmpeg
type CaptureConfig struct {
	Enabled     bool   `yaml:"enabled"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	InputFormat string `yaml:"input_format"`
	Device      string `yaml:"device"`
	SampleRate  int    `yaml:"sample_rate"`
	StopTimeout int    `yaml:"stop_timeout"` // seconds
}

// EngineConfig selects and configures the speech recognition backend
type EngineConfig struct {
	Type          string `yaml:"type"` // openai or http
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// MCPConfig enables the stdio MCP server
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that works without a config file
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			RecordingsDir:   "recordings",
			MaxCacheBytes:   defaultCacheBytes,
			MaxImportBytes:  defaultImportBytes,
			RetentionWindow: 30 * 24 * time.Hour,
			SweepInterval:   time.Hour,
		},
		Session: SessionConfig{
			SupportedLanguages: []string{"en", "ru", "zh", "fr", "de"},
			DefaultLanguage:    "en",
		},
		Capture: CaptureConfig{
			Enabled:     true,
			FFmpegPath:  "ffmpeg",
			InputFormat: "pulse",
			Device:      "default",
			SampleRate:  16000,
			StopTimeout: 5,
		},
		Engine: EngineConfig{
			Type:          "openai",
			Model:         "whisper-1",
			Timeout:       60,
			MaxConcurrent: 2,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvEngineAPIKey); v != "" {
		c.Engine.APIKey = v
	}
	if v := os.Getenv(EnvRecordingsDir); v != "" {
		c.Storage.RecordingsDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir cannot be empty")
	}

	if s.MaxCacheBytes < 0 {
		return fmt.Errorf("max_cache_bytes cannot be negative, got %d", s.MaxCacheBytes)
	}

	if s.MaxImportBytes <= 0 {
		return fmt.Errorf("max_import_bytes must be positive, got %d", s.MaxImportBytes)
	}

	if s.RetentionWindow <= 0 {
		return fmt.Errorf("retention_window must be positive, got %s", s.RetentionWindow)
	}

	if s.SweepInterval < time.Second {
		return fmt.Errorf("sweep_interval must be at least 1s, got %s", s.SweepInterval)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if len(s.SupportedLanguages) == 0 {
		return fmt.Errorf("supported_languages cannot be empty")
	}

	if s.DefaultLanguage == "" {
		return nil
	}
	for _, l := range s.SupportedLanguages {
		if strings.EqualFold(l, s.DefaultLanguage) {
			return nil
		}
	}
	return fmt.Errorf("default_language '%s' is not in supported_languages", s.DefaultLanguage)
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.InputFormat == "" {
		return fmt.Errorf("input_format cannot be empty when capture is enabled")
	}

	if c.Device == "" {
		return fmt.Errorf("device cannot be empty when capture is enabled")
	}

	if c.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", c.SampleRate)
	}

	if c.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 second, got %d", c.StopTimeout)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	switch e.Type {
	case "openai":
	case "http":
		if e.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http engine")
		}
	default:
		return fmt.Errorf("type must be 'openai' or 'http', got '%s'", e.Type)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.MaxConcurrent)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the engine timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetStopTimeoutDuration returns the capture stop timeout as a time.Duration
func (c *CaptureConfig) GetStopTimeoutDuration() time.Duration {
	return time.Duration(c.StopTimeout) * time.Second
}
