// Package config provides the configuration structure for the job services.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Default ports of the two services.
const (
	DefaultTranscriberPort = 5000
	DefaultDocgenPort      = 8090
)

// Environment variables that override file configuration.
const (
	envConfigFile   = "CONFIG_FILE"
	envPort         = "PORT"
	envWhisperModel = "WHISPER_MODEL"
	envOpenAIAPIKey = "OPENAI_API_KEY"
	envTemplatesDir = "TEMPLATES_DIR"
	envGeneratedDir = "GENERATED_DIR"
	envNATSURL      = "NATS_URL"
)

// responseMargin is added to a handler's work budget to give the HTTP write deadline
// room for encoding and sending the response.
const responseMargin = 30 * time.Second

// Speech backends.
const (
	BackendWhisperServer = "whisper-server"
	BackendOpenAI        = "openai"
)

var (
	// ErrInvalidPort indicates a port outside 1..65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	// ErrUnknownBackend indicates an unsupported speech backend.
	ErrUnknownBackend = errors.New("unknown transcriber backend")
	// ErrModelEmpty indicates that no model size is configured.
	ErrModelEmpty = errors.New("transcriber model cannot be empty")
	// ErrDirEmpty indicates that a required directory is not configured.
	ErrDirEmpty = errors.New("directory cannot be empty")
	// ErrTimeoutNonPositive indicates a zero or negative timeout.
	ErrTimeoutNonPositive = errors.New("timeout must be positive")
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	ReadTimeoutSecs    int    `toml:"read_timeout_seconds"`
	WriteTimeoutSecs   int    `toml:"write_timeout_seconds"`
	EnableCORS         bool   `toml:"enable_cors"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir  string `toml:"base_logs_dir"`
	TemplatesDir string `toml:"templates_dir"`
	GeneratedDir string `toml:"generated_dir"`
	WorkDir      string `toml:"work_dir"`
}

// TranscriberConfig holds the speech model settings.
type TranscriberConfig struct {
	Backend              string  `toml:"backend"`
	Model                string  `toml:"model"`
	ModelDir             string  `toml:"model_dir"`
	ServerBinary         string  `toml:"server_binary"`
	ServerURL            string  `toml:"server_url"`
	ServerPort           int     `toml:"server_port"`
	FFmpegPath           string  `toml:"ffmpeg_path"`
	Language             string  `toml:"language"`
	Threads              int     `toml:"threads"`
	Temperature          float64 `toml:"temperature"`
	StartupTimeoutSecs   int     `toml:"startup_timeout_seconds"`
	InferenceTimeoutSecs int     `toml:"inference_timeout_seconds"`
	OpenAIAPIKey         string  `toml:"openai_api_key"`
	OpenAIBaseURL        string  `toml:"openai_base_url"`
}

// FetchConfig holds the remote audio download settings.
type FetchConfig struct {
	TimeoutSeconds int      `toml:"timeout_seconds"`
	MaxBytes       int64    `toml:"max_bytes"`
	AllowedHosts   []string `toml:"allowed_hosts"`
}

// DocgenConfig holds the document generation settings.
type DocgenConfig struct {
	ConverterBinary          string `toml:"converter_binary"`
	ConversionTimeoutSeconds int    `toml:"conversion_timeout_seconds"`
	RetentionMinutes         int    `toml:"retention_minutes"`
	SweepIntervalSeconds     int    `toml:"sweep_interval_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                  string `toml:"url"`
	TranscriptionSubject string `toml:"transcription_subject"`
	ArtifactBucket       string `toml:"artifact_bucket"`
}

// S3Config holds the optional S3/MinIO artifact mirror.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Secure    bool   `toml:"secure"`
}

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Paths       PathsConfig       `toml:"paths"`
	Transcriber TranscriberConfig `toml:"transcriber"`
	Fetch       FetchConfig       `toml:"fetch"`
	Docgen      DocgenConfig      `toml:"docgen"`
	NATS        NATSConfig        `toml:"nats"`
	S3          S3Config          `toml:"s3"`
}

// Defaults returns the configuration used when nothing else is provided.
func Defaults(port int) Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            port,
			ReadTimeoutSecs: 30,
		},
		Paths: PathsConfig{
			BaseLogsDir:  "logs",
			TemplatesDir: "templates",
			GeneratedDir: "generated",
			WorkDir:      os.TempDir(),
		},
		Transcriber: TranscriberConfig{
			Backend:              BackendWhisperServer,
			Model:                "base",
			ModelDir:             "models",
			ServerBinary:         "whisper-server",
			ServerPort:           8178,
			FFmpegPath:           "ffmpeg",
			StartupTimeoutSecs:   120,
			InferenceTimeoutSecs: 600,
		},
		Fetch: FetchConfig{
			TimeoutSeconds: 120,
			MaxBytes:       100 << 20,
		},
		Docgen: DocgenConfig{
			ConverterBinary:          "soffice",
			ConversionTimeoutSeconds: 120,
			SweepIntervalSeconds:     60,
		},
		NATS: NATSConfig{
			TranscriptionSubject: "transcription.requested",
			ArtifactBucket:       "GENERATED_ARTIFACTS",
		},
	}
}

// Load loads the configuration for a service listening on defaultPort by default.
// A CONFIG_FILE path takes precedence over the central configurator; when neither
// is available the defaults are used. Environment overrides are applied last.
func Load(log *logger.Logger, defaultPort int) (*Config, error) {
	cfg := Defaults(defaultPort)

	path := os.Getenv(envConfigFile)
	if path != "" {
		err := LoadFile(path, &cfg)
		if err != nil {
			return nil, err
		}
	} else {
		err := configurator.Load(&cfg, log)
		if err != nil {
			log.Warn("Central configuration unavailable, using defaults: %v", err)
		}
	}

	overrideErr := cfg.ApplyEnv(os.Getenv)
	if overrideErr != nil {
		return nil, overrideErr
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// LoadFile decodes a TOML file over cfg, leaving unset keys untouched.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	err = toml.Unmarshal(data, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	return nil
}

// ApplyEnv applies environment overrides using the given lookup function.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	port := getenv(envPort)
	if port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("failed to parse %s=%q: %w", envPort, port, err)
		}

		c.Server.Port = parsed
	}

	setIfPresent(&c.Transcriber.Model, getenv(envWhisperModel))
	setIfPresent(&c.Transcriber.OpenAIAPIKey, getenv(envOpenAIAPIKey))
	setIfPresent(&c.Paths.TemplatesDir, getenv(envTemplatesDir))
	setIfPresent(&c.Paths.GeneratedDir, getenv(envGeneratedDir))
	setIfPresent(&c.NATS.URL, getenv(envNATSURL))

	return nil
}

// Validate ensures that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	switch c.Transcriber.Backend {
	case BackendWhisperServer, BackendOpenAI:
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownBackend, c.Transcriber.Backend)
	}

	if strings.TrimSpace(c.Transcriber.Model) == "" {
		return ErrModelEmpty
	}

	if c.Paths.TemplatesDir == "" || c.Paths.GeneratedDir == "" {
		return fmt.Errorf("%w: templates_dir and generated_dir are required", ErrDirEmpty)
	}

	if c.Docgen.ConversionTimeoutSeconds <= 0 || c.Fetch.TimeoutSeconds <= 0 ||
		c.Transcriber.InferenceTimeoutSecs <= 0 {
		return fmt.Errorf("%w: conversion, fetch and inference timeouts", ErrTimeoutNonPositive)
	}

	if c.Server.WriteTimeoutSecs < 0 {
		return fmt.Errorf("%w: write_timeout_seconds", ErrTimeoutNonPositive)
	}

	return nil
}

// ConversionTimeout returns the converter subprocess bound.
func (c *Config) ConversionTimeout() time.Duration {
	return time.Duration(c.Docgen.ConversionTimeoutSeconds) * time.Second
}

// FetchTimeout returns the remote download bound.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// InferenceTimeout bounds audio normalization plus one inference call.
func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.Transcriber.InferenceTimeoutSecs) * time.Second
}

// TranscriptionBudget is the longest a single transcription may take: the
// download followed by inference.
func (c *Config) TranscriptionBudget() time.Duration {
	return c.FetchTimeout() + c.InferenceTimeout()
}

// WriteTimeout returns the HTTP write deadline for handlers that may work for up
// to budget. A configured write_timeout_seconds is honored only when it leaves
// room for the whole budget; otherwise the deadline is derived from the budget.
func (c *Config) WriteTimeout(budget time.Duration) time.Duration {
	derived := budget + responseMargin
	configured := time.Duration(c.Server.WriteTimeoutSecs) * time.Second

	if configured >= derived {
		return configured
	}

	return derived
}

// Retention returns how long generated files are kept. Zero keeps them forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Docgen.RetentionMinutes) * time.Minute
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func setIfPresent(target *string, value string) {
	if value != "" {
		*target = value
	}
}
