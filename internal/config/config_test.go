// Package config_test tests the configuration loading for the job services.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/media-jobs/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlData = `
[server]
port = 9100
enable_cors = true
rate_limit_per_minute = 30

[paths]
base_logs_dir = "/var/log/media-jobs"
templates_dir = "/srv/templates"
generated_dir = "/srv/generated"

[transcriber]
backend = "whisper-server"
model = "medium"
model_dir = "/models"
server_url = "http://127.0.0.1:8178"
language = "pt"

[fetch]
timeout_seconds = 45
max_bytes = 1048576
allowed_hosts = ["api.telegram.org"]

[docgen]
converter_binary = "/usr/bin/soffice"
conversion_timeout_seconds = 90
retention_minutes = 1440

[nats]
url = "nats://127.0.0.1:4222"
transcription_subject = "transcription.requested"
artifact_bucket = "ARTIFACTS"
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Server.EnableCORS)
	assert.Equal(t, 30, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "/srv/templates", cfg.Paths.TemplatesDir)
	assert.Equal(t, "/srv/generated", cfg.Paths.GeneratedDir)
	assert.Equal(t, "medium", cfg.Transcriber.Model)
	assert.Equal(t, "http://127.0.0.1:8178", cfg.Transcriber.ServerURL)
	assert.Equal(t, []string{"api.telegram.org"}, cfg.Fetch.AllowedHosts)
	assert.Equal(t, int64(1048576), cfg.Fetch.MaxBytes)
	assert.Equal(t, 90, cfg.Docgen.ConversionTimeoutSeconds)
	assert.Equal(t, 1440, cfg.Docgen.RetentionMinutes)
	assert.Equal(t, "ARTIFACTS", cfg.NATS.ArtifactBucket)
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "service.toml")
	require.NoError(t, os.WriteFile(path, []byte("[transcriber]\nmodel = \"small\"\n"), 0o600))

	cfg := config.Defaults(config.DefaultTranscriberPort)
	require.NoError(t, config.LoadFile(path, &cfg))

	assert.Equal(t, "small", cfg.Transcriber.Model)
	assert.Equal(t, config.DefaultTranscriberPort, cfg.Server.Port)
	assert.Equal(t, "soffice", cfg.Docgen.ConverterBinary)
	assert.Equal(t, 120, cfg.Docgen.ConversionTimeoutSeconds)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults(config.DefaultDocgenPort)
	err := config.LoadFile(filepath.Join(t.TempDir(), "nope.toml"), &cfg)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"PORT":          "7001",
		"WHISPER_MODEL": "medium",
		"TEMPLATES_DIR": "/tpl",
		"NATS_URL":      "nats://nats:4222",
	}

	cfg := config.Defaults(config.DefaultTranscriberPort)
	err := cfg.ApplyEnv(func(key string) string { return env[key] })
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "medium", cfg.Transcriber.Model)
	assert.Equal(t, "/tpl", cfg.Paths.TemplatesDir)
	assert.Equal(t, "generated", cfg.Paths.GeneratedDir)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "0.0.0.0:7001", cfg.Addr())
}

func TestApplyEnv_BadPort(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults(config.DefaultDocgenPort)
	err := cfg.ApplyEnv(func(key string) string {
		if key == "PORT" {
			return "eighty"
		}

		return ""
	})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults(config.DefaultDocgenPort)
	require.NoError(t, cfg.Validate())

	cfg.Transcriber.Backend = "vosk"
	require.ErrorIs(t, cfg.Validate(), config.ErrUnknownBackend)

	cfg = config.Defaults(0)
	require.ErrorIs(t, cfg.Validate(), config.ErrInvalidPort)

	cfg = config.Defaults(config.DefaultDocgenPort)
	cfg.Docgen.ConversionTimeoutSeconds = 0
	require.ErrorIs(t, cfg.Validate(), config.ErrTimeoutNonPositive)
}

func TestWriteTimeout_CoversTranscriptionBudget(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults(config.DefaultTranscriberPort)
	budget := cfg.TranscriptionBudget()

	assert.Equal(t, 720*time.Second, budget)
	assert.Greater(t, cfg.WriteTimeout(budget), budget)

	cfg.Server.WriteTimeoutSecs = 300
	assert.Greater(t, cfg.WriteTimeout(budget), budget, "a short configured deadline is raised")

	cfg.Server.WriteTimeoutSecs = 3600
	assert.Equal(t, time.Hour, cfg.WriteTimeout(budget))
}

func TestValidate_Timeouts(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults(config.DefaultTranscriberPort)
	cfg.Transcriber.InferenceTimeoutSecs = 0
	require.ErrorIs(t, cfg.Validate(), config.ErrTimeoutNonPositive)

	cfg = config.Defaults(config.DefaultTranscriberPort)
	cfg.Server.WriteTimeoutSecs = -1
	require.ErrorIs(t, cfg.Validate(), config.ErrTimeoutNonPositive)
}
