// Package validate checks inbound request bodies before any expensive work starts.
package validate

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/book-expert/media-jobs/internal/apperr"
)

// Supported output formats for generated documents.
const (
	FormatDocx = "docx"
	FormatPDF  = "pdf"
)

// Require returns body unchanged when every field is present and non-empty.
// Otherwise it fails with a validation error naming the first missing field.
func Require(body map[string]any, fields ...string) (map[string]any, error) {
	if body == nil {
		return nil, apperr.Validation("Invalid JSON body")
	}

	for _, field := range fields {
		value, ok := body[field]
		if !ok || isEmpty(value) {
			return nil, apperr.Validation("Missing " + field)
		}
	}

	return body, nil
}

// Format normalizes the requested output format. Empty means docx.
func Format(raw any) (string, error) {
	if raw == nil {
		return FormatDocx, nil
	}

	str, ok := raw.(string)
	if !ok {
		return "", apperr.Validation("format must be a string")
	}

	format := strings.ToLower(strings.TrimSpace(str))

	switch format {
	case "":
		return FormatDocx, nil
	case FormatDocx, FormatPDF:
		return format, nil
	default:
		return "", apperr.Validation(fmt.Sprintf("unsupported format %q: expected docx or pdf", str))
	}
}

// ScalarData checks that data is a mapping of string keys to scalar values.
func ScalarData(raw any) (map[string]any, error) {
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, apperr.Validation("data must be an object")
	}

	for key, value := range data {
		switch value.(type) {
		case nil, string, bool, json.Number, float64, int, int64:
		default:
			return nil, apperr.Validation(fmt.Sprintf("data.%s must be a scalar value", key))
		}
	}

	return data, nil
}

// String extracts a required string field that Require has already checked.
func String(body map[string]any, field string) (string, error) {
	str, ok := body[field].(string)
	if !ok {
		return "", apperr.Validation(field + " must be a string")
	}

	return strings.TrimSpace(str), nil
}

// FlatName reports whether name is a plain file name that stays inside a single
// flat directory: no separators, no parent references, no hidden files.
func FlatName(name string) bool {
	if name == "" || name != filepath.Base(name) {
		return false
	}

	if strings.HasPrefix(name, ".") || strings.Contains(name, "..") {
		return false
	}

	return !strings.ContainsAny(name, `/\`+"\x00")
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case map[string]any:
		return len(typed) == 0
	case []any:
		return len(typed) == 0
	default:
		return false
	}
}
