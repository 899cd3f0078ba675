package pdf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	result commandResult
	err    error
	calls  [][]string
}

func (s *stubRunner) Run(ctx context.Context, dir string, name string, args ...string) (commandResult, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.result, s.err
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "babeldoc")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestBabeldocArgsSinglePage(t *testing.T) {
	b := NewBabeldoc(BabeldocOptions{APIKey: "sk-test", BaseURL: "https://api.example.com/v1", Model: "m1"}, nil)
	args := b.args(TranslateRequest{InputPath: "/w/input.pdf", OutputDir: "/w/output", TargetLang: "zh", PageNumber: 3})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--files /w/input.pdf")
	assert.Contains(t, joined, "--pages 3")
	assert.Contains(t, joined, "--lang-out zh")
	assert.Contains(t, joined, "--only-include-translated-page")
	assert.Contains(t, joined, "--no-dual")
	assert.Contains(t, joined, "--working-dir /w/output")
	assert.Contains(t, joined, "--openai-model m1")
}

func TestBabeldocArgsWholeDocument(t *testing.T) {
	b := NewBabeldoc(BabeldocOptions{APIKey: "sk-test"}, nil)
	args := b.args(TranslateRequest{InputPath: "in.pdf", OutputDir: "out", TargetLang: "ja"})

	assert.NotContains(t, args, "--pages")
	assert.NotContains(t, args, "--only-include-translated-page")
	assert.Contains(t, args, "--auto-enable-ocr-workaround")
}

func TestMaskArgsHidesAPIKey(t *testing.T) {
	masked := maskArgs([]string{"--openai-api-key", "sk-secret", "--lang-out", "zh"}, "sk-secret")
	assert.Equal(t, []string{"--openai-api-key", maskedAPIKey, "--lang-out", "zh"}, masked)
}

func TestTranslateRequiresAPIKey(t *testing.T) {
	runner := &stubRunner{}
	b := NewBabeldoc(BabeldocOptions{}, nil)
	b.runner = runner

	err := b.Translate(context.Background(), TranslateRequest{InputPath: "in.pdf"})

	var pdfErr *Error
	require.ErrorAs(t, err, &pdfErr)
	assert.Equal(t, CodeTranslationFailed, pdfErr.Code)
	assert.Empty(t, runner.calls)
}

func TestTranslateTruncatesDiagnostic(t *testing.T) {
	long := strings.Repeat("x", 2000)
	runner := &stubRunner{
		result: commandResult{Stderr: long, ExitCode: 1},
		err:    errors.New("exit status 1"),
	}
	b := NewBabeldoc(BabeldocOptions{APIKey: "sk"}, nil)
	b.runner = runner

	err := b.Translate(context.Background(), TranslateRequest{InputPath: "in.pdf", TargetLang: "zh"})

	var pdfErr *Error
	require.ErrorAs(t, err, &pdfErr)
	assert.Equal(t, CodeTranslationFailed, pdfErr.Code)
	assert.Equal(t, "babeldoc failed: "+strings.Repeat("x", MaxDiagnosticLength), pdfErr.Message)
}

func TestTranslateRunsScript(t *testing.T) {
	script := writeScript(t, `
while [ $# -gt 0 ]; do
  if [ "$1" = "--working-dir" ]; then out="$2"; fi
  shift
done
printf '%%PDF-1.4' > "$out/input.no_watermark.zh.mono.pdf"
`)
	ws, err := NewWorkspace(t.TempDir(), "job-1")
	require.NoError(t, err)

	b := NewBabeldoc(BabeldocOptions{Path: script, APIKey: "sk"}, nil)
	err = b.Translate(context.Background(), TranslateRequest{
		JobID:      "job-1",
		InputPath:  ws.InputPath,
		WorkDir:    ws.Dir,
		OutputDir:  ws.OutputDir,
		TargetLang: "zh",
	})
	require.NoError(t, err)

	out, err := LocateOutput(ws)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.OutputDir, "input.no_watermark.zh.mono.pdf"), out)
}

func TestTranslateScriptFailureCarriesStderr(t *testing.T) {
	script := writeScript(t, "echo 'quota exceeded for model' >&2\nexit 3\n")
	b := NewBabeldoc(BabeldocOptions{Path: script, APIKey: "sk"}, nil)

	err := b.Translate(context.Background(), TranslateRequest{WorkDir: t.TempDir(), TargetLang: "zh"})

	var pdfErr *Error
	require.ErrorAs(t, err, &pdfErr)
	assert.Contains(t, pdfErr.Message, "babeldoc failed: quota exceeded for model")
}

func TestTranslateTimeout(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")
	b := NewBabeldoc(BabeldocOptions{Path: script, APIKey: "sk"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := b.Translate(ctx, TranslateRequest{WorkDir: t.TempDir(), TargetLang: "zh"})

	var pdfErr *Error
	require.ErrorAs(t, err, &pdfErr)
	assert.Equal(t, CodeTranslationTimeout, pdfErr.Code)
}

func TestProbe(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		b := NewBabeldoc(BabeldocOptions{Path: "babeldoc-does-not-exist-for-tests"}, nil)
		err := b.Probe(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("usage on non-zero exit", func(t *testing.T) {
		script := writeScript(t, "echo 'usage: babeldoc [-h]' >&2\nexit 2\n")
		b := NewBabeldoc(BabeldocOptions{Path: script}, nil)
		assert.NoError(t, b.Probe(context.Background()))
	})

	t.Run("broken install", func(t *testing.T) {
		script := writeScript(t, "echo 'ModuleNotFoundError' >&2\nexit 1\n")
		b := NewBabeldoc(BabeldocOptions{Path: script}, nil)
		err := b.Probe(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CLI returned code 1")
	})
}

func TestTruncateDiagnostic(t *testing.T) {
	assert.Equal(t, "abc", TruncateDiagnostic("abc", 10))
	assert.Equal(t, "ab", TruncateDiagnostic("abc", 2))
	assert.Equal(t, "翻訳", TruncateDiagnostic("翻訳エラー", 2))
}
