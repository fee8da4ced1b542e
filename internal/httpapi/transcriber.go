package httpapi

import (
	"context"
	"net/http"

	"github.com/book-expert/logger"

	"github.com/book-expert/media-jobs/internal/transcription"
	"github.com/book-expert/media-jobs/internal/validate"
)

// TranscriptionService is the pipeline behind POST /transcribe.
type TranscriptionService interface {
	Transcribe(ctx context.Context, fileURL string) (string, error)
	ModelName() string
}

type transcriberHandler struct {
	service TranscriptionService
	log     *logger.Logger
}

// NewTranscriberHandler routes the transcription service endpoints.
func NewTranscriberHandler(service TranscriptionService, opts Options, log *logger.Logger) http.Handler {
	h := &transcriberHandler{service: service, log: log}

	r := newRouter(opts, log)
	r.Post("/transcribe", h.transcribe)
	r.Get("/health", h.health)

	return r
}

func (h *transcriberHandler) transcribe(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err == nil {
		_, err = validate.Require(body, "file_url")
	}

	var fileURL string
	if err == nil {
		fileURL, err = validate.String(body, "file_url")
	}

	if err != nil {
		writeError(w, h.log, "transcribe", "", "", err)

		return
	}

	text, err := h.service.Transcribe(r.Context(), fileURL)
	if err != nil {
		writeError(w, h.log, "transcribe", fileURL, transcription.FailureMessage, err)

		return
	}

	writeJSON(w, h.log, http.StatusOK, map[string]string{"transcription": text})
}

func (h *transcriberHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.log, http.StatusOK, map[string]string{
		"status":       "ok",
		"message":      "Whisper service is running.",
		"model_loaded": h.service.ModelName(),
	})
}
