package httpapi

import (
	"context"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"

	"github.com/book-expert/media-jobs/internal/artifacts"
	"github.com/book-expert/media-jobs/internal/docgen"
	"github.com/book-expert/media-jobs/internal/validate"
)

var contentTypes = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pdf":  "application/pdf",
}

// DocumentGenerator is the pipeline behind POST /generate.
type DocumentGenerator interface {
	Generate(ctx context.Context, req docgen.Request) (artifacts.GeneratedArtifact, error)
}

// FileStore opens published files by name.
type FileStore interface {
	Open(fileName string) (*os.File, os.FileInfo, error)
}

// GenerateResponse is returned for a published document.
type GenerateResponse struct {
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type"`
}

type docgenHandler struct {
	generator DocumentGenerator
	files     FileStore
	log       *logger.Logger
}

// NewDocgenHandler routes the document service endpoints.
func NewDocgenHandler(generator DocumentGenerator, files FileStore, opts Options, log *logger.Logger) http.Handler {
	h := &docgenHandler{generator: generator, files: files, log: log}

	r := newRouter(opts, log)
	r.Post("/generate", h.generate)
	r.Get("/files/{filename}", h.serveFile)
	r.Get("/health", h.health)

	return r
}

func (h *docgenHandler) generate(w http.ResponseWriter, r *http.Request) {
	req, err := parseGenerateRequest(w, r)
	if err != nil {
		writeError(w, h.log, "generate", req.TemplateName, "", err)

		return
	}

	artifact, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		writeError(w, h.log, "generate", req.TemplateName, "", err)

		return
	}

	writeJSON(w, h.log, http.StatusOK, GenerateResponse{
		FileURL:  BuildFileURL(r, artifact.FileName),
		FileType: artifact.Format,
	})
}

// parseGenerateRequest validates the body before any template is touched.
func parseGenerateRequest(w http.ResponseWriter, r *http.Request) (docgen.Request, error) {
	var req docgen.Request

	body, err := decodeBody(w, r)
	if err != nil {
		return req, err
	}

	_, err = validate.Require(body, "template_name", "data")
	if err != nil {
		return req, err
	}

	req.TemplateName, err = validate.String(body, "template_name")
	if err != nil {
		return req, err
	}

	req.Data, err = validate.ScalarData(body["data"])
	if err != nil {
		return req, err
	}

	req.Format, err = validate.Format(body["format"])
	if err != nil {
		return req, err
	}

	return req, nil
}

func (h *docgenHandler) serveFile(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "filename")

	file, info, err := h.files.Open(fileName)
	if err != nil {
		writeError(w, h.log, "serve_file", fileName, "", err)

		return
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			h.log.Warn("Failed to close served file '%s': %v", fileName, closeErr)
		}
	}()

	contentType, ok := contentTypes[filepath.Ext(fileName)]
	if !ok {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	http.ServeContent(w, r, fileName, info.ModTime(), file)
}

func (h *docgenHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}
