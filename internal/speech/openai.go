package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrMissingAPIKey indicates that the OpenAI backend has no credentials.
var ErrMissingAPIKey = errors.New("openai api key is not set")

// OpenAIEngine transcribes audio with the hosted whisper-1 model.
type OpenAIEngine struct {
	client      *openai.Client
	language    string
	temperature float32
}

// NewOpenAIEngine creates an engine. baseURL may be empty for the public API.
func NewOpenAIEngine(apiKey, baseURL, language string, temperature float64) (*OpenAIEngine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAIEngine{
		client:      openai.NewClientWithConfig(clientConfig),
		language:    language,
		temperature: float32(temperature),
	}, nil
}

// Transcribe uploads the audio file as-is. The hosted API decodes ogg/opus itself.
func (e *OpenAIEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       openai.Whisper1,
		FilePath:    audioPath,
		Language:    e.language,
		Temperature: e.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription failed: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}

// Close is a no-op; the hosted model has no local resources.
func (e *OpenAIEngine) Close() error {
	return nil
}
