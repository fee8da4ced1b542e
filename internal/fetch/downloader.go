// Package fetch downloads remote audio files into local storage.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"

	"github.com/book-expert/media-jobs/internal/apperr"
)

const (
	opFetch            = "fetch"
	defaultTimeout     = 2 * time.Minute
	defaultMaxBytes    = 100 << 20
	fallbackExtension  = ".bin"
	maxExtensionLength = 5
)

// Downloader fetches a URL into a temporary file.
type Downloader struct {
	client       *http.Client
	workDir      string
	maxBytes     int64
	allowedHosts map[string]struct{}
	log          *logger.Logger
}

// Options configures a Downloader.
type Options struct {
	Timeout time.Duration
	// MaxBytes bounds the body size. Zero means the default.
	MaxBytes int64
	// AllowedHosts restricts fetch targets. Empty allows any host.
	AllowedHosts []string
	WorkDir      string
}

// NewDownloader creates a downloader with a bounded HTTP client.
func NewDownloader(opts Options, log *logger.Logger) *Downloader {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	allowed := make(map[string]struct{}, len(opts.AllowedHosts))
	for _, host := range opts.AllowedHosts {
		allowed[strings.ToLower(strings.TrimSpace(host))] = struct{}{}
	}

	return &Downloader{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:          20,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
				ForceAttemptHTTP2:     true,
			},
		},
		workDir:      opts.WorkDir,
		maxBytes:     maxBytes,
		allowedHosts: allowed,
		log:          log,
	}
}

// Fetch downloads fileURL and returns the local path. The caller removes the file.
func (d *Downloader) Fetch(ctx context.Context, fileURL string) (string, error) {
	target, err := d.checkURL(fileURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return "", apperr.New(apperr.KindFetch, opFetch, "failed to create request", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", apperr.New(apperr.KindFetch, opFetch, "failed to download file", err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			d.log.Warn("Failed to close response body for %s: %v", target.Host, closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", apperr.New(apperr.KindFetch, opFetch,
			fmt.Sprintf("download failed with status %d", resp.StatusCode), nil)
	}

	if resp.ContentLength > d.maxBytes {
		return "", apperr.New(apperr.KindFetch, opFetch,
			fmt.Sprintf("file too large: %d bytes (max: %d)", resp.ContentLength, d.maxBytes), nil)
	}

	return d.writeBody(resp.Body, extensionOf(target))
}

func (d *Downloader) checkURL(fileURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(fileURL)
	if trimmed == "" {
		return nil, apperr.New(apperr.KindFetch, opFetch, "empty URL", nil)
	}

	target, err := url.Parse(trimmed)
	if err != nil {
		return nil, apperr.New(apperr.KindFetch, opFetch, "invalid URL", err)
	}

	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, apperr.New(apperr.KindFetch, opFetch, "invalid URL scheme: must be http or https", nil)
	}

	if len(d.allowedHosts) > 0 {
		if _, ok := d.allowedHosts[strings.ToLower(target.Hostname())]; !ok {
			return nil, apperr.New(apperr.KindFetch, opFetch,
				fmt.Sprintf("host %q is not in the allow-list", target.Hostname()), nil)
		}
	}

	return target, nil
}

func (d *Downloader) writeBody(body io.Reader, ext string) (string, error) {
	tempFile, err := os.CreateTemp(d.workDir, "fetch-*"+ext)
	if err != nil {
		return "", apperr.New(apperr.KindFetch, opFetch, "failed to create temp file", err)
	}

	written, copyErr := io.Copy(tempFile, io.LimitReader(body, d.maxBytes+1))
	closeErr := tempFile.Close()

	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}

	if copyErr == nil && written > d.maxBytes {
		copyErr = fmt.Errorf("file too large: more than %d bytes", d.maxBytes)
	}

	if copyErr == nil && written == 0 {
		copyErr = fmt.Errorf("downloaded file is empty")
	}

	if copyErr != nil {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			d.log.Warn("Failed to remove partial download '%s': %v", tempFile.Name(), removeErr)
		}

		return "", apperr.New(apperr.KindFetch, opFetch, "failed to read response body", copyErr)
	}

	d.log.Info("Downloaded %s to %s", humanize.Bytes(uint64(written)), tempFile.Name())

	return tempFile.Name(), nil
}

// extensionOf keeps the URL's extension so decoders can sniff the container.
func extensionOf(target *url.URL) string {
	ext := strings.ToLower(path.Ext(target.Path))
	if ext == "" || len(ext) > maxExtensionLength || strings.ContainsAny(ext, `/\*`) {
		return fallbackExtension
	}

	return ext
}
