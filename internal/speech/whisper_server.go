package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
)

// whisper.cpp server endpoints and form fields.
const (
	inferencePath           = "/inference"
	formFieldFile           = "file"
	formFieldResponseFormat = "response_format"
	formFieldTemperature    = "temperature"
	formFieldLanguage       = "language"
	responseFormatJSON      = "json"
	headerContentType       = "Content-Type"
	readinessPollInterval   = 250 * time.Millisecond
	shutdownGracePeriod     = 5 * time.Second
	maxProcessOutput        = 16 << 10
)

var (
	// ErrServerNotReady indicates that the inference server never became reachable.
	ErrServerNotReady = errors.New("whisper server did not become ready")
	// ErrServerExited indicates that the managed server process died during startup.
	ErrServerExited = errors.New("whisper server exited during startup")
	// ErrInference indicates a failed inference request.
	ErrInference = errors.New("whisper inference failed")
)

// ServerOptions configures a whisper.cpp server engine.
type ServerOptions struct {
	// Binary and ModelPath are used when the engine manages its own process.
	Binary    string
	ModelPath string
	Port      int
	Threads   int
	// URL attaches to an already running server instead of spawning one.
	URL              string
	Language         string
	Temperature      float64
	StartupTimeout   time.Duration
	InferenceTimeout time.Duration
}

// ServerEngine transcribes audio through a whisper.cpp HTTP server that keeps the
// model resident between requests.
type ServerEngine struct {
	baseURL          string
	language         string
	temperature      float64
	inferenceTimeout time.Duration
	httpClient       *http.Client
	normalizer       *Normalizer
	process          *exec.Cmd
	exited           chan struct{}
	output           *tailBuffer
	log              *logger.Logger
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// StartServer launches whisper-server with the model and waits until it answers.
func StartServer(
	ctx context.Context,
	opts ServerOptions,
	normalizer *Normalizer,
	log *logger.Logger,
) (*ServerEngine, error) {
	args := []string{
		"-m", opts.ModelPath,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(opts.Port),
	}

	if opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(opts.Threads))
	}

	// #nosec G204 -- binary path comes from service configuration
	cmd := exec.Command(opts.Binary, args...)
	output := &tailBuffer{limit: maxProcessOutput}
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Binary, err)
	}

	engine := newServerEngine(fmt.Sprintf("http://127.0.0.1:%d", opts.Port), opts, normalizer, log)
	engine.process = cmd
	engine.output = output
	engine.exited = make(chan struct{})

	go func() {
		_ = cmd.Wait()

		close(engine.exited)
	}()

	log.Info("Started %s (pid %d), waiting for model %s", opts.Binary, cmd.Process.Pid, opts.ModelPath)

	err = engine.waitReady(ctx, opts.StartupTimeout)
	if err != nil {
		_ = engine.Close()

		return nil, err
	}

	return engine, nil
}

// AttachServer uses a whisper-server that is managed elsewhere.
func AttachServer(
	ctx context.Context,
	opts ServerOptions,
	normalizer *Normalizer,
	log *logger.Logger,
) (*ServerEngine, error) {
	engine := newServerEngine(strings.TrimRight(opts.URL, "/"), opts, normalizer, log)

	err := engine.waitReady(ctx, opts.StartupTimeout)
	if err != nil {
		return nil, err
	}

	log.Info("Attached to whisper server at %s", engine.baseURL)

	return engine, nil
}

func newServerEngine(
	baseURL string,
	opts ServerOptions,
	normalizer *Normalizer,
	log *logger.Logger,
) *ServerEngine {
	return &ServerEngine{
		baseURL:          baseURL,
		language:         opts.Language,
		temperature:      opts.Temperature,
		inferenceTimeout: opts.InferenceTimeout,
		httpClient:       &http.Client{Timeout: opts.InferenceTimeout},
		normalizer:       normalizer,
		log:              log,
	}
}

// Transcribe normalizes the audio and submits it for inference. Both steps share
// one InferenceTimeout deadline.
func (e *ServerEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if e.inferenceTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.inferenceTimeout)
		defer cancel()
	}

	text, err := e.transcribe(ctx, audioPath)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("transcription exceeded %s: %w", e.inferenceTimeout, ctx.Err())
	}

	return text, err
}

func (e *ServerEngine) transcribe(ctx context.Context, audioPath string) (string, error) {
	wavPath, cleanup, err := e.normalizer.Normalize(ctx, audioPath)
	if err != nil {
		return "", err
	}
	defer cleanup()

	body, contentType, err := e.buildForm(wavPath)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+inferencePath, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentType)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			e.log.Warn("Failed to close inference response body: %v", closeErr)
		}
	}()

	var result inferenceResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrInference, resp.StatusCode, result.Error)
	}

	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	if result.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrInference, result.Error)
	}

	return strings.TrimSpace(result.Text), nil
}

func (e *ServerEngine) buildForm(wavPath string) (*bytes.Buffer, string, error) {
	file, err := os.Open(wavPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filepath.Base(wavPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to copy file data: %w", err)
	}

	fields := map[string]string{
		formFieldResponseFormat: responseFormatJSON,
		formFieldTemperature:    strconv.FormatFloat(e.temperature, 'f', -1, 64),
	}
	if e.language != "" {
		fields[formFieldLanguage] = e.language
	}

	for name, value := range fields {
		err = writer.WriteField(name, value)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", name, err)
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// waitReady polls the server root until it answers or the timeout elapses.
func (e *ServerEngine) waitReady(ctx context.Context, timeout time.Duration) error {
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	probe := &http.Client{Timeout: readinessPollInterval * 4}

	for {
		if e.ping(readyCtx, probe) {
			return nil
		}

		select {
		case <-readyCtx.Done():
			return fmt.Errorf("%w at %s within %s", ErrServerNotReady, e.baseURL, timeout)
		case <-e.exitedChan():
			return fmt.Errorf("%w: %s", ErrServerExited, e.output.String())
		case <-ticker.C:
		}
	}
}

func (e *ServerEngine) ping(ctx context.Context, probe *http.Client) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/", http.NoBody)
	if err != nil {
		return false
	}

	resp, err := probe.Do(req)
	if err != nil {
		return false
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

// exitedChan returns nil for attached servers, which blocks forever in select.
func (e *ServerEngine) exitedChan() <-chan struct{} {
	return e.exited
}

// Close stops the managed server process. Attached servers are left running.
func (e *ServerEngine) Close() error {
	if e.process == nil || e.process.Process == nil {
		return nil
	}

	_ = e.process.Process.Signal(os.Interrupt)

	select {
	case <-e.exited:
		return nil
	case <-time.After(shutdownGracePeriod):
	}

	err := e.process.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop whisper server: %w", err)
	}

	<-e.exited

	return nil
}

// tailBuffer keeps the last limit bytes written by a child process.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return strings.TrimSpace(string(t.buf))
}
