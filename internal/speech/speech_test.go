package speech_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/media-jobs/internal/apperr"
	"github.com/book-expert/media-jobs/internal/config"
	"github.com/book-expert/media-jobs/internal/speech"
)

// fakeRunner pretends to be ffmpeg: it writes the output file named by the last argument.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (speech.CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.err != nil {
		return speech.CommandResult{Stderr: "Invalid data found when processing input", ExitCode: 1}, f.err
	}

	writeErr := os.WriteFile(args[len(args)-1], []byte("RIFF....WAVE"), 0o600)

	return speech.CommandResult{}, writeErr
}

// stalledRunner never finishes on its own, like an ffmpeg reading a dead stream.
type stalledRunner struct{}

func (stalledRunner) Run(ctx context.Context, _ string, _ ...string) (speech.CommandResult, error) {
	<-ctx.Done()

	return speech.CommandResult{ExitCode: -1}, ctx.Err()
}

type fakeEngine struct {
	active    atomic.Int32
	maxActive atomic.Int32
	text      string
	err       error
	closed    bool
}

func (f *fakeEngine) Transcribe(_ context.Context, _ string) (string, error) {
	current := f.active.Add(1)
	defer f.active.Add(-1)

	for {
		seen := f.maxActive.Load()
		if current <= seen || f.maxActive.CompareAndSwap(seen, current) {
			break
		}
	}

	time.Sleep(5 * time.Millisecond)

	return f.text, f.err
}

func (f *fakeEngine) Close() error {
	f.closed = true

	return nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speech-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func writeAudio(t *testing.T) string {
	t.Helper()

	audioPath := filepath.Join(t.TempDir(), "voice.oga")
	require.NoError(t, os.WriteFile(audioPath, []byte("OggS-opus"), 0o600))

	return audioPath
}

func TestModelFile(t *testing.T) {
	t.Parallel()

	file, err := speech.ModelFile("medium")
	require.NoError(t, err)
	assert.Equal(t, "ggml-medium.bin", file)

	file, err = speech.ModelFile(" LARGE ")
	require.NoError(t, err)
	assert.Equal(t, "ggml-large-v3.bin", file)

	_, err = speech.ModelFile("huge")
	require.ErrorIs(t, err, speech.ErrUnknownModel)
	assert.Contains(t, speech.ModelNames(), "tiny")
}

func TestResolveModelPath(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()

	_, err := speech.ResolveModelPath(modelDir, "tiny")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "ggml-tiny.bin"), []byte("model"), 0o600))

	modelPath, err := speech.ResolveModelPath(modelDir, "tiny")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(modelDir, "ggml-tiny.bin"), modelPath)
}

func TestNormalizer(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	normalizer := speech.NewNormalizer("ffmpeg", t.TempDir(), runner)

	wavPath, cleanup, err := normalizer.Normalize(context.Background(), "/audio/in.oga")
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "ffmpeg", runner.calls[0][0])
	assert.Contains(t, runner.calls[0], "/audio/in.oga")
	assert.Contains(t, runner.calls[0], "16000")
	assert.Contains(t, runner.calls[0], "pcm_s16le")
	assert.FileExists(t, wavPath)

	cleanup()
	assert.NoDirExists(t, filepath.Dir(wavPath))
}

func TestNormalizer_Failure(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	runner := &fakeRunner{err: errors.New("exit status 1")}
	normalizer := speech.NewNormalizer("ffmpeg", workDir, runner)

	_, _, err := normalizer.Normalize(context.Background(), "/audio/in.oga")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")

	entries, readErr := os.ReadDir(workDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func newInferenceServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/inference", handler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestServerEngine_Transcribe(t *testing.T) {
	t.Parallel()

	server := newInferenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		content, _ := io.ReadAll(file)
		if string(content) != "RIFF....WAVE" || r.FormValue("response_format") != "json" ||
			r.FormValue("language") != "pt" {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"text": " bom dia a todos \n"})
	})

	log := newTestLogger(t)
	normalizer := speech.NewNormalizer("ffmpeg", t.TempDir(), &fakeRunner{})

	engine, err := speech.AttachServer(context.Background(), speech.ServerOptions{
		URL:              server.URL + "/",
		Language:         "pt",
		StartupTimeout:   2 * time.Second,
		InferenceTimeout: 5 * time.Second,
	}, normalizer, log)
	require.NoError(t, err)

	text, err := engine.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.Equal(t, "bom dia a todos", text)
	require.NoError(t, engine.Close())
}

func TestServerEngine_InferenceError(t *testing.T) {
	t.Parallel()

	server := newInferenceServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "failed to read audio"})
	})

	log := newTestLogger(t)
	normalizer := speech.NewNormalizer("ffmpeg", t.TempDir(), &fakeRunner{})

	engine, err := speech.AttachServer(context.Background(), speech.ServerOptions{
		URL:              server.URL,
		StartupTimeout:   2 * time.Second,
		InferenceTimeout: 5 * time.Second,
	}, normalizer, log)
	require.NoError(t, err)

	_, err = engine.Transcribe(context.Background(), writeAudio(t))
	require.ErrorIs(t, err, speech.ErrInference)
	assert.Contains(t, err.Error(), "failed to read audio")
}

func TestServerEngine_StalledNormalizationHitsDeadline(t *testing.T) {
	t.Parallel()

	server := newInferenceServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "never reached"})
	})

	log := newTestLogger(t)
	normalizer := speech.NewNormalizer("ffmpeg", t.TempDir(), stalledRunner{})

	engine, err := speech.AttachServer(context.Background(), speech.ServerOptions{
		URL:              server.URL,
		StartupTimeout:   2 * time.Second,
		InferenceTimeout: 100 * time.Millisecond,
	}, normalizer, log)
	require.NoError(t, err)

	model := speech.NewModel("base", engine, log)
	start := time.Now()

	_, err = model.Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTranscription))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The lock is released, so a later call is not blocked by the stalled one.
	secondAudio := writeAudio(t)
	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _ = model.Transcribe(context.Background(), secondAudio)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second transcription blocked behind the stalled one")
	}
}

func TestAttachServer_NotReady(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := speech.AttachServer(context.Background(), speech.ServerOptions{
		URL:            server.URL,
		StartupTimeout: 300 * time.Millisecond,
	}, speech.NewNormalizer("ffmpeg", t.TempDir(), &fakeRunner{}), newTestLogger(t))
	require.ErrorIs(t, err, speech.ErrServerNotReady)
}

func TestStartServer_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := speech.StartServer(context.Background(), speech.ServerOptions{
		Binary:         filepath.Join(t.TempDir(), "no-such-whisper-server"),
		ModelPath:      "ggml-base.bin",
		Port:           18178,
		StartupTimeout: time.Second,
	}, speech.NewNormalizer("ffmpeg", t.TempDir(), &fakeRunner{}), newTestLogger(t))
	require.Error(t, err)
}

func TestModel_SerializesInference(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{text: "ok"}
	model := speech.NewModel("medium", engine, newTestLogger(t))

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			text, err := model.Transcribe(context.Background(), "/tmp/audio.wav")
			assert.NoError(t, err)
			assert.Equal(t, "ok", text)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), engine.maxActive.Load())
	assert.Equal(t, "medium", model.Name())
	require.NoError(t, model.Close())
	assert.True(t, engine.closed)
}

func TestModel_WrapsFailures(t *testing.T) {
	t.Parallel()

	model := speech.NewModel("base", &fakeEngine{err: errors.New("decoder crashed")}, newTestLogger(t))

	_, err := model.Transcribe(context.Background(), "/tmp/audio.wav")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTranscription))
	assert.Contains(t, err.Error(), "decoder crashed")
}

func TestOpenAIEngine(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "olá mundo"})
	}))
	defer server.Close()

	engine, err := speech.NewOpenAIEngine("sk-test", server.URL+"/v1", "pt", 0)
	require.NoError(t, err)

	text, err := engine.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.Equal(t, "olá mundo", text)
	require.NoError(t, engine.Close())

	_, err = speech.NewOpenAIEngine("", "", "", 0)
	require.ErrorIs(t, err, speech.ErrMissingAPIKey)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer server.Close()

	log := newTestLogger(t)

	cfg := config.Defaults(config.DefaultTranscriberPort)
	cfg.Transcriber.Model = "huge"

	_, err := speech.Load(context.Background(), &cfg, log)
	require.ErrorIs(t, err, speech.ErrUnknownModel)

	cfg.Transcriber.Model = "Medium"
	cfg.Transcriber.Backend = config.BackendOpenAI
	cfg.Transcriber.OpenAIAPIKey = "sk-test"
	cfg.Transcriber.OpenAIBaseURL = server.URL + "/v1"

	model, err := speech.Load(context.Background(), &cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "medium", model.Name())

	cfg.Transcriber.Backend = config.BackendWhisperServer
	cfg.Transcriber.ModelDir = t.TempDir()

	_, err = speech.Load(context.Background(), &cfg, log)
	require.Error(t, err, "missing model file must fail startup")
}
