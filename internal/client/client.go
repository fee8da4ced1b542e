// Package client talks to the transcriber and docgen services over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// API endpoints.
const (
	apiTranscribe = "/transcribe"
	apiGenerate   = "/generate"
	apiHealth     = "/health"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

var (
	// ErrEmptyFileURL indicates a transcription request without a URL.
	ErrEmptyFileURL = errors.New("file url cannot be empty")
	// ErrEmptyTemplate indicates a generate request without a template name.
	ErrEmptyTemplate = errors.New("template name cannot be empty")
	// ErrService indicates a non-OK response from a service.
	ErrService = errors.New("service error")
)

// HTTPClient calls one of the job services.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// GenerateRequest is the payload of POST /generate.
type GenerateRequest struct {
	TemplateName string         `json:"template_name"`
	Data         map[string]any `json:"data"`
	Format       string         `json:"format,omitempty"`
}

// GenerateResponse is the result of POST /generate.
type GenerateResponse struct {
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type"`
}

// ErrorResponse is the error envelope returned by both services.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewHTTPClient creates a client for the service at baseURL (e.g. "http://localhost:5000").
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Transcribe asks the transcriber to fetch and transcribe fileURL.
func (c *HTTPClient) Transcribe(ctx context.Context, fileURL string) (string, error) {
	if strings.TrimSpace(fileURL) == "" {
		return "", ErrEmptyFileURL
	}

	var result struct {
		Transcription string `json:"transcription"`
	}

	err := c.postJSON(ctx, apiTranscribe, map[string]string{"file_url": fileURL}, &result)
	if err != nil {
		return "", err
	}

	return result.Transcription, nil
}

// Generate renders a document and returns where it can be downloaded.
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	var result GenerateResponse

	if strings.TrimSpace(req.TemplateName) == "" {
		return result, ErrEmptyTemplate
	}

	err := c.postJSON(ctx, apiGenerate, req, &result)
	if err != nil {
		return GenerateResponse{}, err
	}

	return result, nil
}

// HealthCheck returns the decoded health document of the service.
func (c *HTTPClient) HealthCheck(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	var health map[string]any

	err = json.NewDecoder(resp.Body).Decode(&health)
	if err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return health, nil
}

// Download saves a published file into dir and returns the local path. The file
// name comes from Content-Disposition, falling back to the URL path.
func (c *HTTPClient) Download(ctx context.Context, fileURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.parseErrorResponse(resp)
	}

	localPath := filepath.Join(dir, downloadName(resp, fileURL))

	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()

	if copyErr != nil {
		_ = os.Remove(localPath)

		return "", fmt.Errorf("failed to write %s: %w", localPath, copyErr)
	}

	if closeErr != nil {
		_ = os.Remove(localPath)

		return "", fmt.Errorf("failed to close %s: %w", localPath, closeErr)
	}

	return localPath, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, payload, result any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(result)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// parseErrorResponse decodes the error envelope, falling back to the raw body.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Error != "" {
		if errorResp.Details != "" {
			return fmt.Errorf("%w (%s): %s: %s", ErrService, resp.Status, errorResp.Error, errorResp.Details)
		}

		return fmt.Errorf("%w (%s): %s", ErrService, resp.Status, errorResp.Error)
	}

	return fmt.Errorf("%w (%s): %s", ErrService, resp.Status, strings.TrimSpace(string(body)))
}

func downloadName(resp *http.Response, fileURL string) string {
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	if err == nil && params["filename"] != "" {
		return filepath.Base(params["filename"])
	}

	parsed, err := url.Parse(fileURL)
	if err == nil && path.Base(parsed.Path) != "/" && path.Base(parsed.Path) != "." {
		return path.Base(parsed.Path)
	}

	return "download.bin"
}
