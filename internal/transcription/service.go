// Package transcription runs the fetch-then-transcribe pipeline.
package transcription

import (
	"context"
	"errors"
	"os"

	"github.com/book-expert/logger"

	"github.com/book-expert/media-jobs/internal/core"
)

// FailureMessage is reported to clients when any pipeline step fails.
const FailureMessage = "Failed to process audio"

// Service downloads audio and transcribes it with the loaded model.
type Service struct {
	fetcher core.Fetcher
	model   core.Transcriber
	log     *logger.Logger
}

// NewService creates a transcription pipeline.
func NewService(fetcher core.Fetcher, model core.Transcriber, log *logger.Logger) *Service {
	return &Service{fetcher: fetcher, model: model, log: log}
}

// ModelName returns the name of the loaded model.
func (s *Service) ModelName() string {
	return s.model.Name()
}

// Transcribe fetches fileURL and returns its text. The downloaded file is removed
// whether or not inference succeeds.
func (s *Service) Transcribe(ctx context.Context, fileURL string) (string, error) {
	audioPath, err := s.fetcher.Fetch(ctx, fileURL)
	if err != nil {
		return "", err
	}

	defer func() {
		removeErr := os.Remove(audioPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn("Failed to remove downloaded audio '%s': %v", audioPath, removeErr)
		}
	}()

	return s.model.Transcribe(ctx, audioPath)
}
