package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxDiagnosticLength は errorMessage に含める babeldoc 出力の上限（文字数）です。
const MaxDiagnosticLength = 500

const maskedAPIKey = "***API_KEY***"

// BabeldocOptions は babeldoc CLI と翻訳プロバイダの設定です。
type BabeldocOptions struct {
	Path    string
	APIKey  string
	BaseURL string
	Model   string
}

// TranslateRequest は1回の翻訳実行の入力です。PageNumber が 0 の場合は文書全体を翻訳します。
type TranslateRequest struct {
	JobID      string
	InputPath  string
	WorkDir    string
	OutputDir  string
	TargetLang string
	PageNumber int
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner はテストのためにプロセス実行を抽象化します。
type commandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	// babeldoc が起動した子プロセスがパイプを握ったままでも Wait が戻るようにする
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Babeldoc は babeldoc CLI を実行します。
type Babeldoc struct {
	opts   BabeldocOptions
	runner commandRunner
	logger *zap.Logger
}

// NewBabeldoc は Babeldoc を作成します。
func NewBabeldoc(opts BabeldocOptions, logger *zap.Logger) *Babeldoc {
	if opts.Path == "" {
		opts.Path = "babeldoc"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Babeldoc{
		opts:   opts,
		runner: execRunner{},
		logger: logger,
	}
}

// Translate は babeldoc を実行します。実行時間の上限は ctx の期限で指定してください。
func (b *Babeldoc) Translate(ctx context.Context, req TranslateRequest) error {
	if strings.TrimSpace(b.opts.APIKey) == "" {
		return newError(CodeTranslationFailed, "OPENAI_API_KEY not configured", nil)
	}

	args := b.args(req)
	b.logger.Info("running babeldoc",
		zap.String("job_id", req.JobID),
		zap.String("command", b.opts.Path+" "+strings.Join(maskArgs(args, b.opts.APIKey), " ")))

	started := time.Now()
	result, err := b.runner.Run(ctx, req.WorkDir, b.opts.Path, args...)
	if err == nil {
		b.logger.Info("babeldoc finished",
			zap.String("job_id", req.JobID),
			zap.Duration("elapsed", time.Since(started)))
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(CodeTranslationTimeout,
			fmt.Sprintf("babeldoc timed out after %s", time.Since(started).Round(time.Second)), ctx.Err())
	}

	b.logger.Warn("babeldoc failed",
		zap.String("job_id", req.JobID),
		zap.Int("exit_code", result.ExitCode),
		zap.String("stderr", result.Stderr))

	diagnostic := result.Stderr
	if strings.TrimSpace(diagnostic) == "" {
		diagnostic = result.Stdout
	}
	if strings.TrimSpace(diagnostic) == "" {
		diagnostic = err.Error()
	}
	return newError(CodeTranslationFailed, "babeldoc failed: "+TruncateDiagnostic(diagnostic, MaxDiagnosticLength), nil)
}

// Probe は babeldoc CLI が利用可能か確認します。
func (b *Babeldoc) Probe(ctx context.Context) error {
	result, err := b.runner.Run(ctx, "", b.opts.Path, "--help")
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("babeldoc command not found")
	}
	// --help が非0で終了しても usage を出力していれば利用可能とみなす
	if strings.Contains(strings.ToLower(result.Stdout), "usage") ||
		strings.Contains(strings.ToLower(result.Stderr), "usage") {
		return nil
	}
	if result.ExitCode > 0 {
		return fmt.Errorf("CLI returned code %d: %s", result.ExitCode, TruncateDiagnostic(result.Stderr, MaxDiagnosticLength))
	}
	return err
}

func (b *Babeldoc) args(req TranslateRequest) []string {
	args := []string{"--files", req.InputPath}
	if req.PageNumber > 0 {
		args = append(args, "--pages", strconv.Itoa(req.PageNumber))
	}
	args = append(args,
		"--lang-out", req.TargetLang,
		"--openai",
		"--openai-api-key", b.opts.APIKey,
		"--openai-base-url", b.opts.BaseURL,
		"--openai-model", b.opts.Model,
		"--watermark-output-mode", "no_watermark",
	)
	if req.PageNumber > 0 {
		args = append(args, "--only-include-translated-page")
	}
	return append(args,
		"--auto-enable-ocr-workaround",
		"--no-dual",
		"--working-dir", req.OutputDir,
	)
}

func maskArgs(args []string, secret string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if secret != "" && a == secret {
			out[i] = maskedAPIKey
			continue
		}
		out[i] = a
	}
	return out
}

// TruncateDiagnostic は s を先頭から最大 limit 文字に切り詰めます。
func TruncateDiagnostic(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
