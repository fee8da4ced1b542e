// Package speech loads the speech recognition model once and serves transcriptions
// from it.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/media-jobs/internal/apperr"
	"github.com/book-expert/media-jobs/internal/config"
	"github.com/book-expert/media-jobs/internal/core"
)

const opTranscribe = "transcribe"

// Model is the process-wide speech model. It is built once before the listener
// opens and never reloaded. Inference calls are serialized.
type Model struct {
	mu     sync.Mutex
	name   string
	engine core.SpeechEngine
	log    *logger.Logger
}

// NewModel wraps an already initialized engine.
func NewModel(name string, engine core.SpeechEngine, log *logger.Logger) *Model {
	return &Model{name: name, engine: engine, log: log}
}

// Load initializes the configured backend. It blocks until the model is ready.
func Load(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Model, error) {
	tc := cfg.Transcriber
	name := strings.ToLower(strings.TrimSpace(tc.Model))

	_, err := ModelFile(name)
	if err != nil {
		return nil, err
	}

	var engine core.SpeechEngine

	switch tc.Backend {
	case config.BackendOpenAI:
		engine, err = NewOpenAIEngine(tc.OpenAIAPIKey, tc.OpenAIBaseURL, tc.Language, tc.Temperature)
	case config.BackendWhisperServer:
		engine, err = loadWhisperServer(ctx, cfg, name, log)
	default:
		err = fmt.Errorf("%w: '%s'", config.ErrUnknownBackend, tc.Backend)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load speech model '%s': %w", name, err)
	}

	log.System("Speech model '%s' loaded (backend: %s)", name, tc.Backend)

	return NewModel(name, engine, log), nil
}

func loadWhisperServer(
	ctx context.Context,
	cfg *config.Config,
	name string,
	log *logger.Logger,
) (core.SpeechEngine, error) {
	tc := cfg.Transcriber
	normalizer := NewNormalizer(tc.FFmpegPath, cfg.Paths.WorkDir, ExecRunner{})
	opts := ServerOptions{
		Binary:           tc.ServerBinary,
		Port:             tc.ServerPort,
		Threads:          tc.Threads,
		URL:              tc.ServerURL,
		Language:         tc.Language,
		Temperature:      tc.Temperature,
		StartupTimeout:   time.Duration(tc.StartupTimeoutSecs) * time.Second,
		InferenceTimeout: time.Duration(tc.InferenceTimeoutSecs) * time.Second,
	}

	if opts.URL != "" {
		return AttachServer(ctx, opts, normalizer, log)
	}

	modelPath, err := ResolveModelPath(tc.ModelDir, name)
	if err != nil {
		return nil, err
	}

	opts.ModelPath = modelPath

	return StartServer(ctx, opts, normalizer, log)
}

// Name returns the configured model size.
func (m *Model) Name() string {
	return m.name
}

// Transcribe runs inference on a local audio file.
func (m *Model) Transcribe(ctx context.Context, audioPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	text, err := m.engine.Transcribe(ctx, audioPath)
	if err != nil {
		return "", apperr.New(apperr.KindTranscription, opTranscribe, "failed to transcribe audio", err)
	}

	m.log.Info("Transcribed %s with model %s in %s (%d chars)",
		audioPath, m.name, time.Since(start).Round(time.Millisecond), len(text))

	return text, nil
}

// Close releases the backend.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.engine.Close()
}
