package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/media-jobs/internal/client"
)

func TestHTTPClient_Transcribe(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if r.URL.Path != "/transcribe" || json.NewDecoder(r.Body).Decode(&body) != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		if body["file_url"] == "https://example.com/gone.oga" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Failed to process audio", "details": "404"})

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"transcription": "olá"})
	}))
	defer server.Close()

	jobs := client.NewHTTPClient(server.URL+"/", 5*time.Second)

	text, err := jobs.Transcribe(context.Background(), "https://example.com/voice.oga")
	require.NoError(t, err)
	assert.Equal(t, "olá", text)

	_, err = jobs.Transcribe(context.Background(), "https://example.com/gone.oga")
	require.ErrorIs(t, err, client.ErrService)
	assert.Contains(t, err.Error(), "Failed to process audio")

	_, err = jobs.Transcribe(context.Background(), " ")
	require.ErrorIs(t, err, client.ErrEmptyFileURL)
}

func TestHTTPClient_GenerateAndDownload(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req client.GenerateRequest
		if json.NewDecoder(r.Body).Decode(&req) != nil || req.Data["texto"] != "resumo" {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		_ = json.NewEncoder(w).Encode(client.GenerateResponse{
			FileURL:  server.URL + "/files/abc.pdf",
			FileType: "pdf",
		})
	})
	mux.HandleFunc("/files/abc.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="abc.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.7"))
	})

	jobs := client.NewHTTPClient(server.URL, 5*time.Second)

	result, err := jobs.Generate(context.Background(), client.GenerateRequest{
		TemplateName: "summary_template.docx",
		Data:         map[string]any{"texto": "resumo"},
		Format:       "pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "pdf", result.FileType)

	dir := t.TempDir()
	localPath, err := jobs.Download(context.Background(), result.FileURL, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc.pdf"), localPath)

	content, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(content))

	_, err = jobs.Generate(context.Background(), client.GenerateRequest{})
	require.ErrorIs(t, err, client.ErrEmptyTemplate)
}

func TestHTTPClient_DownloadRemovesPartialFile(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="cut.pdf"`)
		w.Header().Set("Content-Length", "1024")
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	jobs := client.NewHTTPClient(server.URL, 5*time.Second)
	dir := t.TempDir()

	_, err := jobs.Download(context.Background(), server.URL+"/files/cut.pdf", dir)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "cut.pdf"))
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "model_loaded": "base"})
	}))

	jobs := client.NewHTTPClient(server.URL, 5*time.Second)

	health, err := jobs.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "base", health["model_loaded"])

	server.Close()

	_, err = jobs.HealthCheck(context.Background())
	require.Error(t, err)
}
