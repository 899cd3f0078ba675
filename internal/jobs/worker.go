// Package jobs は翻訳ジョブの受付・実行・状態管理を提供します。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lyun9726/pdf-translate-service/internal/notify"
	"github.com/lyun9726/pdf-translate-service/internal/pdf"
	"github.com/lyun9726/pdf-translate-service/internal/storage"
)

// 既定のタイムアウト。
const (
	DefaultPageTimeout     = 10 * time.Minute
	DefaultDocumentTimeout = 60 * time.Minute
	DefaultUploadTimeout   = 5 * time.Minute

	abortNotifyTimeout = 30 * time.Second
)

// 進捗の段階。
const (
	progressStarted    = 10
	progressFetched    = 20
	progressTranslated = 30
	progressUploaded   = 90
)

// Materializer は入力PDFをワークスペースに用意します。
type Materializer interface {
	Materialize(ctx context.Context, sourceURL string, ws *pdf.Workspace, pageNumber int) (*pdf.SourceFileMeta, error)
}

// Translator は変換ツールを実行します。
type Translator interface {
	Translate(ctx context.Context, req pdf.TranslateRequest) error
}

// Notifier はコールバックを送信します。失敗は内部で処理されます。
type Notifier interface {
	Notify(ctx context.Context, endpoint string, update notify.Update)
}

// WorkerConfig はワーカーの設定です。
type WorkerConfig struct {
	WorkDir         string
	PageTimeout     time.Duration
	DocumentTimeout time.Duration
	UploadTimeout   time.Duration
}

// Worker は1つの翻訳ジョブを最後まで実行します。
type Worker struct {
	registry   *Registry
	store      storage.Store
	fetcher    Materializer
	translator Translator
	notifier   Notifier
	cfg        WorkerConfig
	logger     *zap.Logger

	newWorkspace func(root, jobID string) (*pdf.Workspace, error)
	locateOutput func(ws *pdf.Workspace) (string, error)
}

var _ Runner = (*Worker)(nil)

// NewWorker は Worker を作成します。
func NewWorker(registry *Registry, store storage.Store, fetcher Materializer, translator Translator, notifier Notifier, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = DefaultDocumentTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		registry:     registry,
		store:        store,
		fetcher:      fetcher,
		translator:   translator,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger,
		newWorkspace: pdf.NewWorkspace,
		locateOutput: pdf.LocateOutput,
	}
}

// Run はジョブを実行します。結果はレジストリとコールバックに反映され、エラーは返しません。
func (w *Worker) Run(ctx context.Context, task Task) {
	logger := w.logger.With(
		zap.String("job_id", task.JobID),
		zap.String("book_id", task.SubjectID),
		zap.Int("page", task.PageNumber))

	if _, err := w.registry.MarkProcessing(task.JobID, progressStarted); err != nil {
		logger.Error("failed to start job", zap.Error(err))
		return
	}
	w.progress(ctx, task, progressStarted, logger)

	if url, ok, err := w.store.Exists(ctx, task.CacheKey); err != nil {
		logger.Warn("cache recheck failed", zap.Error(err))
	} else if ok {
		logger.Info("translation already cached", zap.String("url", url))
		w.complete(ctx, task, url, logger)
		return
	}

	ws, err := w.newWorkspace(w.cfg.WorkDir, task.JobID)
	if err != nil {
		w.fail(ctx, task, fmt.Errorf("create workspace: %w", err), logger)
		return
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			logger.Warn("failed to remove workspace", zap.String("dir", ws.Dir), zap.Error(err))
		}
	}()

	meta, err := w.fetcher.Materialize(ctx, task.SourceURL, ws, task.PageNumber)
	if err != nil {
		w.fail(ctx, task, err, logger)
		return
	}
	logger.Info("input ready", zap.Int64("size", meta.Size), zap.Int("pages", meta.Pages))
	w.progress(ctx, task, progressFetched, logger)
	w.progress(ctx, task, progressTranslated, logger)

	budget := w.cfg.DocumentTimeout
	if task.PageNumber > 0 {
		budget = w.cfg.PageTimeout
	}
	translateCtx, cancel := context.WithTimeout(ctx, budget)
	err = w.translator.Translate(translateCtx, pdf.TranslateRequest{
		JobID:      task.JobID,
		InputPath:  ws.InputPath,
		WorkDir:    ws.Dir,
		OutputDir:  ws.OutputDir,
		TargetLang: task.TargetLang,
		PageNumber: task.PageNumber,
	})
	cancel()
	if err != nil {
		w.fail(ctx, task, err, logger)
		return
	}

	output, err := w.locateOutput(ws)
	if err != nil {
		w.fail(ctx, task, err, logger)
		return
	}

	uploadCtx, cancel := context.WithTimeout(ctx, w.cfg.UploadTimeout)
	url, err := w.store.Put(uploadCtx, task.CacheKey, output)
	cancel()
	if err != nil {
		w.fail(ctx, task, &pdf.Error{Code: CodeStorageFailed, Message: "failed to upload translated PDF", Err: err}, logger)
		return
	}
	w.progress(ctx, task, progressUploaded, logger)

	w.complete(ctx, task, url, logger)
}

// Abort は実行前に打ち切られたタスクを失敗として記録します。
func (w *Worker) Abort(task Task, cause error) {
	logger := w.logger.With(zap.String("job_id", task.JobID))
	ctx, cancel := context.WithTimeout(context.Background(), abortNotifyTimeout)
	defer cancel()
	w.fail(ctx, task, cause, logger)
}

func (w *Worker) progress(ctx context.Context, task Task, percent int, logger *zap.Logger) {
	if _, err := w.registry.UpdateProgress(task.JobID, percent); err != nil {
		logger.Warn("failed to update progress", zap.Int("progress", percent), zap.Error(err))
		return
	}
	w.notify(ctx, task, notify.Update{Status: string(StatusProcessing)}.WithProgress(percent))
}

func (w *Worker) complete(ctx context.Context, task Task, url string, logger *zap.Logger) {
	if _, err := w.registry.MarkCompleted(task.JobID, url); err != nil {
		logger.Error("failed to mark job completed", zap.Error(err))
		return
	}
	logger.Info("job completed", zap.String("url", url))
	w.notify(ctx, task, notify.Update{Status: string(StatusCompleted)}.WithProgress(100).WithResult(url))
}

func (w *Worker) fail(ctx context.Context, task Task, err error, logger *zap.Logger) {
	info := errorInfo(ctx, err)
	if _, markErr := w.registry.MarkFailed(task.JobID, info); markErr != nil {
		logger.Error("failed to mark job failed", zap.Error(markErr))
		return
	}
	logger.Warn("job failed", zap.String("code", info.Code), zap.String("error", info.Message))
	w.notify(ctx, task, notify.Update{Status: string(StatusFailed), Error: info.Message})
}

// notify は呼び出し元のキャンセルに関係なく送信します。送信時間は Notifier 側で制限されます。
func (w *Worker) notify(ctx context.Context, task Task, update notify.Update) {
	if w.notifier == nil || task.CallbackURL == "" {
		return
	}
	update.BookID = task.SubjectID
	update = update.WithPage(task.PageNumber)
	w.notifier.Notify(context.WithoutCancel(ctx), task.CallbackURL, update)
}

func errorInfo(ctx context.Context, err error) ErrorInfo {
	var coded *pdf.Error
	if errors.As(err, &coded) {
		return ErrorInfo{Code: coded.Code, Message: coded.Error()}
	}
	if ctx.Err() != nil {
		return ErrorInfo{Code: CodeInternal, Message: fmt.Sprintf("job cancelled: %v", err)}
	}
	return ErrorInfo{Code: CodeInternal, Message: err.Error()}
}
