package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(5<<20), cfg.Storage.MaxCacheBytes)
	assert.Equal(t, int64(100<<20), cfg.Storage.MaxImportBytes)
	assert.Equal(t, 720*time.Hour, cfg.Storage.RetentionWindow)
	assert.Equal(t, []string{"en", "ru", "zh", "fr", "de"}, cfg.Session.SupportedLanguages)
}

func TestConfigLoad(t *testing.T) {
	tests := []struct {
		name       string
		configYAML string
		errorMsg   string
	}{
		{
			name: "valid config file",
			configYAML: `
storage:
  recordings_dir: "/var/lib/voicememo"
  catalog_path: "/var/lib/voicememo/catalog.db"
  max_cache_bytes: 1048576
  retention_window: 168h
  sweep_interval: 10m
session:
  supported_languages: [en, de]
  default_language: de
  auto_transcribe: true
engine:
  type: http
  endpoint: "http://localhost:9000/transcribe"
  timeout: 30
  max_concurrent: 4
logging:
  level: debug
  format: json
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
storage:
  max_cache_bytes: lots
`,
			errorMsg: "failed to parse",
		},
		{
			name: "bad duration",
			configYAML: `
storage:
  retention_window: "a month"
`,
			errorMsg: "failed to parse",
		},
		{
			name: "http engine without endpoint",
			configYAML: `
engine:
  type: http
`,
			errorMsg: "endpoint cannot be empty",
		},
		{
			name: "default language not supported",
			configYAML: `
session:
  supported_languages: [en]
  default_language: fr
`,
			errorMsg: "default_language 'fr'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.configYAML))
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
		})
	}
}

func TestLoadKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
storage:
  recordings_dir: "./memos"
  retention_window: 48h
`))
	require.NoError(t, err)

	assert.Equal(t, "./memos", cfg.Storage.RecordingsDir)
	assert.Equal(t, 48*time.Hour, cfg.Storage.RetentionWindow)
	assert.Equal(t, time.Hour, cfg.Storage.SweepInterval)
	assert.Equal(t, "openai", cfg.Engine.Type)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "recordings", cfg.Storage.RecordingsDir)
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvEngineAPIKey, "sk-from-env")
	t.Setenv(EnvRecordingsDir, "/tmp/memos")
	t.Setenv(EnvLogLevel, "WARN")

	cfg, err := Load(writeConfig(t, `
engine:
  api_key: "sk-from-file"
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Engine.APIKey)
	assert.Equal(t, "/tmp/memos", cfg.Storage.RecordingsDir)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("VOICEMEMO_ENGINE_API_KEY=sk-dotenv\n"), 0o600))

	// Registers cleanup so the variable set by godotenv is removed afterwards.
	t.Setenv(EnvEngineAPIKey, "")
	os.Unsetenv(EnvEngineAPIKey)

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "sk-dotenv", os.Getenv(EnvEngineAPIKey))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestSectionValidation(t *testing.T) {
	tests := []struct {
		name  string
		check func() error
		valid bool
	}{
		{"storage ok", func() error { s := Default().Storage; return s.Validate() }, true},
		{"storage empty dir", func() error { s := Default().Storage; s.RecordingsDir = ""; return s.Validate() }, false},
		{"storage zero import limit", func() error { s := Default().Storage; s.MaxImportBytes = 0; return s.Validate() }, false},
		{"storage zero retention", func() error { s := Default().Storage; s.RetentionWindow = 0; return s.Validate() }, false},
		{"storage fast sweep", func() error { s := Default().Storage; s.SweepInterval = time.Millisecond; return s.Validate() }, false},
		{"session no languages", func() error { return (&SessionConfig{}).Validate() }, false},
		{"capture disabled skips checks", func() error { return (&CaptureConfig{}).Validate() }, true},
		{"capture wrong rate", func() error { c := Default().Capture; c.SampleRate = 8000; return c.Validate() }, false},
		{"engine unknown type", func() error { e := Default().Engine; e.Type = "local"; return e.Validate() }, false},
		{"engine zero concurrency", func() error { e := Default().Engine; e.MaxConcurrent = 0; return e.Validate() }, false},
		{"http bad port", func() error { h := Default().HTTP; h.Port = 70000; return h.Validate() }, false},
		{"http disabled", func() error { return (&HTTPConfig{}).Validate() }, true},
		{"logging trace", func() error { l := Default().Logging; l.Level = "trace"; return l.Validate() }, false},
		{"logging xml", func() error { l := Default().Logging; l.Format = "xml"; return l.Validate() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	e := EngineConfig{Timeout: 30}
	assert.Equal(t, 30*time.Second, e.GetTimeoutDuration())

	c := CaptureConfig{StopTimeout: 5}
	assert.Equal(t, 5*time.Second, c.GetStopTimeoutDuration())
}
