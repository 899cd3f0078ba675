package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Launcher errors.
var (
	ErrQueueFull      = errors.New("job queue is full")
	ErrLauncherClosed = errors.New("launcher is shut down")
)

// Launcher はジョブを非同期に実行します。
type Launcher interface {
	// Launch はタスクを受け付けます。受け付けられない場合はエラーを返します。
	Launch(ctx context.Context, task Task) error
	// Shutdown は実行中のジョブを ctx の期限まで待ち、その後キャンセルします。
	Shutdown(ctx context.Context) error
}

// Runner はタスクを実行します。Worker が実装します。
type Runner interface {
	Run(ctx context.Context, task Task)
	// Abort は受け付け後に実行できなかったタスクを失敗として記録します。
	Abort(task Task, cause error)
}

// LocalLauncher はプロセス内のゴルーチンでジョブを実行します。
// 同時実行数と待機数はセマフォで制限されます。
type LocalLauncher struct {
	runner   Runner
	running  *semaphore.Weighted
	inflight *semaphore.Weighted
	logger   *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Launcher = (*LocalLauncher)(nil)

// NewLocalLauncher は LocalLauncher を作成します。
func NewLocalLauncher(runner Runner, maxConcurrent, maxPending int, logger *zap.Logger) *LocalLauncher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxPending < 0 {
		maxPending = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalLauncher{
		runner:   runner,
		running:  semaphore.NewWeighted(int64(maxConcurrent)),
		inflight: semaphore.NewWeighted(int64(maxConcurrent + maxPending)),
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Launch は空きがあればタスクを受け付けます。ctx はジョブの実行には使われません。
func (l *LocalLauncher) Launch(ctx context.Context, task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLauncherClosed
	}
	if !l.inflight.TryAcquire(1) {
		return ErrQueueFull
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.inflight.Release(1)

		if err := l.running.Acquire(l.baseCtx, 1); err != nil {
			l.runner.Abort(task, fmt.Errorf("job cancelled before start: %w", err))
			return
		}
		defer l.running.Release(1)
		l.run(task)
	}()
	return nil
}

func (l *LocalLauncher) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job panicked", zap.String("job_id", task.JobID), zap.Any("panic", r))
			l.runner.Abort(task, fmt.Errorf("job panicked: %v", r))
		}
	}()
	l.runner.Run(l.baseCtx, task)
}

// Shutdown は新規受付を止め、実行中のジョブを待ちます。
func (l *LocalLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.logger.Warn("shutdown grace period exceeded, cancelling running jobs")
		l.cancel()
		<-done
		return ctx.Err()
	}
}
