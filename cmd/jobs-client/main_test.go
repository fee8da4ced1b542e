package main

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags := parseFlags(newFlagSet("parse"), []string{
		"--service", "http://docgen:8090",
		"--template", "summary_template.docx",
		"--data", `{"texto":"resumo"}`,
		"--format", "pdf",
		"--download", "/tmp/out",
		"--timeout", "30s",
	})

	assert.Equal(t, "http://docgen:8090", flags.service)
	assert.Equal(t, "summary_template.docx", flags.template)
	assert.Equal(t, "pdf", flags.format)
	assert.Equal(t, "/tmp/out", flags.download)
	assert.Equal(t, 30*time.Second, flags.timeout)
	assert.False(t, flags.health)
}

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()

	flags := parseFlags(newFlagSet("defaults"), []string{"--health"})

	assert.True(t, flags.health)
	assert.Equal(t, defaultServiceURL, flags.service)
	assert.Equal(t, defaultFormat, flags.format)
	assert.Equal(t, "{}", flags.data)
	assert.Equal(t, defaultClientTimeout, flags.timeout)
}

func TestValidateArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "health only", args: []string{"--health"}},
		{name: "transcribe only", args: []string{"--transcribe", "https://example.com/a.oga"}},
		{name: "template with data", args: []string{"--template", "t.docx", "--data", `{"a":1}`}},
		{name: "no action", args: nil, wantErr: errOneAction},
		{
			name:    "two actions",
			args:    []string{"--health", "--transcribe", "https://example.com/a.oga"},
			wantErr: errOneAction,
		},
		{name: "data is an array", args: []string{"--template", "t.docx", "--data", `[1]`}, wantErr: errDataNotObject},
		{name: "data is null", args: []string{"--template", "t.docx", "--data", "null"}, wantErr: errDataNotObject},
		{
			name:    "download without template",
			args:    []string{"--health", "--download", "/tmp"},
			wantErr: errDownloadNeedsTmpl,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			flags := parseFlags(newFlagSet(testCase.name), testCase.args)

			_, err := validateArguments(flags)
			if testCase.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.EqualError(t, err, testCase.wantErr)
		})
	}
}

func TestValidateArguments_DecodesData(t *testing.T) {
	t.Parallel()

	flags := parseFlags(newFlagSet("data"), []string{"--template", "t.docx", "--data", `{"nome":"Ana","idade":30}`})

	data, err := validateArguments(flags)
	require.NoError(t, err)
	assert.Equal(t, "Ana", data["nome"])
	assert.InDelta(t, 30.0, data["idade"], 0)
}
