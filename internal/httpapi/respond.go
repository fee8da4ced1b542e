// Package httpapi exposes the job services over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/media-jobs/internal/apperr"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// statusFor is the only place where an error kind becomes an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		log.Warn("Failed to write response body: %v", err)
	}
}

// writeError logs err with the operation and offending input, then writes the envelope.
// An empty message uses the error's own message.
func writeError(w http.ResponseWriter, log *logger.Logger, op, input, message string, err error) {
	status := statusFor(err)

	response := ErrorResponse{Error: message}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if response.Error == "" {
			response.Error = appErr.Message
		}

		if status == http.StatusInternalServerError {
			response.Details = appErr.Cause()
			if response.Details == "" {
				response.Details = err.Error()
			}
		}
	} else {
		if response.Error == "" {
			response.Error = "Internal error"
		}

		response.Details = err.Error()
	}

	if status >= http.StatusInternalServerError {
		log.Error("%s failed for %q: %v", op, input, err)
	} else {
		log.Warn("%s rejected for %q: %v", op, input, err)
	}

	writeJSON(w, log, status, response)
}

// decodeBody parses a JSON object. Anything else is a validation error.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	var body map[string]any

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.UseNumber()

	err := decoder.Decode(&body)
	if err != nil || body == nil {
		return nil, apperr.Validation("Invalid JSON body")
	}

	return body, nil
}

// BuildFileURL returns the absolute download URL of a published file, using the
// scheme and host the client used to reach this service.
func BuildFileURL(r *http.Request, fileName string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	forwardedProto := r.Header.Get("X-Forwarded-Proto")
	if forwardedProto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(forwardedProto, ",")[0]))
	}

	host := r.Host

	forwardedHost := r.Header.Get("X-Forwarded-Host")
	if forwardedHost != "" {
		host = strings.TrimSpace(strings.Split(forwardedHost, ",")[0])
	}

	return fmt.Sprintf("%s://%s/files/%s", scheme, host, url.PathEscape(fileName))
}
