// Package apperr defines the error taxonomy shared by both job services.
//
// Components classify their failures at their own boundary by returning an *Error
// with a Kind. The HTTP layer is the only place that translates a Kind into a status
// code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the request boundary.
type Kind int

const (
	// KindInternal is anything unanticipated.
	KindInternal Kind = iota
	// KindValidation is a malformed or incomplete request.
	KindValidation
	// KindNotFound is an unknown template or generated file.
	KindNotFound
	// KindFetch is a failure to download a remote resource.
	KindFetch
	// KindRender is a failure to render a document template.
	KindRender
	// KindTranscription is a failure of the speech model.
	KindTranscription
	// KindConversion is a failure of the external document converter.
	KindConversion
)

var kindNames = map[Kind]string{
	KindInternal:      "InternalError",
	KindValidation:    "ValidationError",
	KindNotFound:      "NotFoundError",
	KindFetch:         "FetchError",
	KindRender:        "RenderError",
	KindTranscription: "TranscriptionError",
	KindConversion:    "ConversionError",
}

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return name
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "fetch" or "convert".
	Op string
	// Message is the human-readable summary returned to clients.
	Message string
	// Details carries diagnostic output such as converter stderr.
	Details string
	Err     error
}

// Error formats the failure for logs.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}

	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Cause returns the best available diagnostic string: explicit details first,
// then the wrapped error.
func (e *Error) Cause() string {
	if e == nil {
		return ""
	}

	if e.Details != "" {
		return e.Details
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return ""
}

// New builds a classified error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Validation reports a malformed request.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Op: "validate", Message: message}
}

// NotFound reports an unknown resource.
func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

// WithDetails attaches diagnostic output and returns the same error.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details

	return e
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}

	return appErr.Kind == kind
}
