// Package worker answers transcription requests that arrive over NATS.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/media-jobs/internal/transcription"
)

const (
	defaultHandleTimeout = 10 * time.Minute
	missingFileURL       = "Missing file_url"
	invalidBody          = "Invalid JSON body"
)

// Transcriber runs the full fetch-and-transcribe pipeline for a URL.
type Transcriber interface {
	Transcribe(ctx context.Context, fileURL string) (string, error)
}

// TranscriptionRequest is the payload published on the transcription subject.
type TranscriptionRequest struct {
	Header  events.EventHeader `json:"header"`
	FileURL string             `json:"file_url"`
}

// TranscriptionReply is sent back to the requester.
type TranscriptionReply struct {
	Header        events.EventHeader `json:"header"`
	Transcription string             `json:"transcription,omitempty"`
	Error         string             `json:"error,omitempty"`
	Details       string             `json:"details,omitempty"`
}

// NatsWorker serves transcription requests on a NATS subject using request/reply.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	transcriber    Transcriber
	timeout        time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a worker. A non-positive timeout uses the default.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	transcriber Transcriber,
	timeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	if timeout <= 0 {
		timeout = defaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		transcriber:    transcriber,
		timeout:        timeout,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for transcription requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	reply := w.process(ctx, msg.Data)

	err := w.respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) process(ctx context.Context, data []byte) *TranscriptionReply {
	var request TranscriptionRequest

	err := json.Unmarshal(data, &request)
	if err != nil {
		w.log.Error("Failed to unmarshal transcription request: %v", err)

		return &TranscriptionReply{Header: newHeader(events.EventHeader{}), Error: invalidBody}
	}

	reply := &TranscriptionReply{Header: newHeader(request.Header)}

	if strings.TrimSpace(request.FileURL) == "" {
		reply.Error = missingFileURL

		return reply
	}

	text, err := w.transcriber.Transcribe(ctx, request.FileURL)
	if err != nil {
		w.log.Error("Transcription failed for workflow %s (%s): %v", reply.Header.WorkflowID, request.FileURL, err)

		reply.Error = transcription.FailureMessage
		reply.Details = err.Error()

		return reply
	}

	reply.Transcription = text

	return reply
}

func (w *NatsWorker) respond(msg *nats.Msg, reply *TranscriptionReply) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}

	return nil
}

// newHeader keeps the caller's workflow and stamps a fresh event.
func newHeader(request events.EventHeader) events.EventHeader {
	header := request
	if header.WorkflowID == "" {
		header.WorkflowID = uuid.NewString()
	}

	header.EventID = uuid.NewString()
	header.Timestamp = time.Now().UTC()

	return header
}
