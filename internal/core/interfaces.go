// Package core defines the capability interfaces shared by both job services.
package core

import "context"

// ArtifactMirror receives a copy of every published artifact.
type ArtifactMirror interface {
	Upload(ctx context.Context, key string, data []byte) error
	Name() string
}

// Fetcher downloads a remote resource into local storage and returns its path.
type Fetcher interface {
	Fetch(ctx context.Context, fileURL string) (string, error)
}

// SpeechEngine is the backend behind the loaded speech model.
type SpeechEngine interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Close() error
}

// Transcriber turns a local audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Name() string
}

// TemplateRenderer renders key/value data into a document template.
type TemplateRenderer interface {
	Render(ctx context.Context, templatePath string, data map[string]any, outPath string) error
}

// DocumentConverter converts a rendered document into another format and returns
// the path of the converted file.
type DocumentConverter interface {
	Convert(ctx context.Context, inPath, format string) (string, error)
}
