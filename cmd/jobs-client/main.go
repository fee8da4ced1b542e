package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/media-jobs/internal/client"
)

// Flag descriptions.
const (
	flagServiceDesc    = "Base URL of the transcriber or docgen service"
	flagHealthDesc     = "Check service health and exit"
	flagTranscribeDesc = "URL of an audio file to transcribe"
	flagTemplateDesc   = "Template file name to render"
	flagDataDesc       = "JSON object with template placeholder values"
	flagFormatDesc     = "Output format: docx or pdf"
	flagDownloadDesc   = "Directory to download the generated document into"
	flagTimeoutDesc    = "Request timeout"
	flagLogDirDesc     = "Directory for the client log"
)

// Flag names.
const (
	flagService    = "service"
	flagHealth     = "health"
	flagTranscribe = "transcribe"
	flagTemplate   = "template"
	flagData       = "data"
	flagFormat     = "format"
	flagDownload   = "download"
	flagTimeout    = "timeout"
	flagLogDir     = "log-dir"
)

// Error messages.
const (
	errOneAction         = "Exactly one of --health, --transcribe or --template must be provided"
	errDataNotObject     = "--data must be a JSON object"
	errDownloadNeedsTmpl = "--download requires --template"
	errFailedToInitLog   = "Failed to initialize logger: %v"
)

// Log messages.
const (
	logFileName     = "jobs-client.log"
	logTranscribing = "Transcribing %s via %s"
	logGenerating   = "Generating %s from template %s via %s"
	logGenerated    = "Generated %s (%s)"
	logDownloaded   = "Downloaded %s"
)

// Defaults.
const (
	defaultServiceURL    = "http://localhost:5000"
	defaultFormat        = "docx"
	defaultClientTimeout = 10 * time.Minute
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	service    string
	transcribe string
	template   string
	data       string
	format     string
	download   string
	logDir     string
	timeout    time.Duration
	health     bool
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	templateData, err := validateArguments(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	clientLog, err := logger.New(flags.logDir, logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLog, err)
	}
	defer clientLog.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	jobs := client.NewHTTPClient(flags.service, flags.timeout)

	switch {
	case flags.health:
		return handleHealthCheck(ctx, jobs, clientLog)
	case flags.transcribe != "":
		return handleTranscribe(ctx, jobs, clientLog, flags)
	default:
		return handleGenerate(ctx, jobs, clientLog, flags, templateData)
	}
}

// parseFlags defines and parses the command-line flags on fs.
func parseFlags(fs *flag.FlagSet, args []string) appFlags {
	var flags appFlags
	fs.StringVar(&flags.service, flagService, defaultServiceURL, flagServiceDesc)
	fs.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	fs.StringVar(&flags.transcribe, flagTranscribe, "", flagTranscribeDesc)
	fs.StringVar(&flags.template, flagTemplate, "", flagTemplateDesc)
	fs.StringVar(&flags.data, flagData, "{}", flagDataDesc)
	fs.StringVar(&flags.format, flagFormat, defaultFormat, flagFormatDesc)
	fs.StringVar(&flags.download, flagDownload, "", flagDownloadDesc)
	fs.DurationVar(&flags.timeout, flagTimeout, defaultClientTimeout, flagTimeoutDesc)
	fs.StringVar(&flags.logDir, flagLogDir, os.TempDir(), flagLogDirDesc)
	_ = fs.Parse(args)

	return flags
}

// validateArguments checks that one action was chosen and decodes --data.
func validateArguments(flags appFlags) (map[string]any, error) {
	actions := 0

	for _, set := range []bool{flags.health, flags.transcribe != "", flags.template != ""} {
		if set {
			actions++
		}
	}

	if actions != 1 {
		return nil, errors.New(errOneAction)
	}

	if flags.download != "" && flags.template == "" {
		return nil, errors.New(errDownloadNeedsTmpl)
	}

	if flags.template == "" {
		return nil, nil
	}

	var data map[string]any

	err := json.Unmarshal([]byte(flags.data), &data)
	if err != nil || data == nil {
		return nil, errors.New(errDataNotObject)
	}

	return data, nil
}

func handleHealthCheck(ctx context.Context, jobs *client.HTTPClient, clientLog *logger.Logger) error {
	health, err := jobs.HealthCheck(ctx)
	if err != nil {
		clientLog.Error("Health check failed: %v", err)
		fmt.Printf("Service is not healthy: %v\n", err)

		return err
	}

	encoded, _ := json.Marshal(health)
	fmt.Println(string(encoded))

	return nil
}

func handleTranscribe(ctx context.Context, jobs *client.HTTPClient, clientLog *logger.Logger, flags appFlags) error {
	clientLog.Info(logTranscribing, flags.transcribe, flags.service)

	text, err := jobs.Transcribe(ctx, flags.transcribe)
	if err != nil {
		clientLog.Error("Transcription failed: %v", err)

		return fmt.Errorf("failed to transcribe: %w", err)
	}

	fmt.Println(text)

	return nil
}

func handleGenerate(
	ctx context.Context,
	jobs *client.HTTPClient,
	clientLog *logger.Logger,
	flags appFlags,
	data map[string]any,
) error {
	clientLog.Info(logGenerating, flags.format, flags.template, flags.service)

	result, err := jobs.Generate(ctx, client.GenerateRequest{
		TemplateName: flags.template,
		Data:         data,
		Format:       flags.format,
	})
	if err != nil {
		clientLog.Error("Generation failed: %v", err)

		return fmt.Errorf("failed to generate document: %w", err)
	}

	clientLog.Info(logGenerated, result.FileURL, result.FileType)
	fmt.Println(result.FileURL)

	if flags.download == "" {
		return nil
	}

	localPath, err := jobs.Download(ctx, result.FileURL, flags.download)
	if err != nil {
		clientLog.Error("Download failed: %v", err)

		return fmt.Errorf("failed to download document: %w", err)
	}

	clientLog.Info(logDownloaded, localPath)
	fmt.Println(localPath)

	return nil
}
