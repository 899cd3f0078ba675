package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// TaskTypeTranslate は翻訳タスクの asynq タスク種別です。
	TaskTypeTranslate = "translate:pdf"
	// QueueName は翻訳タスクのキュー名です。
	QueueName = "translate"
)

// AsynqConfig は asynq ランチャーの設定です。
type AsynqConfig struct {
	RedisURL        string
	Concurrency     int
	MaxPending      int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AsynqLauncher は Redis 上の asynq キューを経由してジョブを実行します。
// サーバーは同じプロセス内で動作し、ジョブ状態はこのプロセスのレジストリに記録されます。
type AsynqLauncher struct {
	client     *asynq.Client
	server     *asynq.Server
	inspector  *asynq.Inspector
	mux        *asynq.ServeMux
	runner     Runner
	registry   *Registry
	maxPending int
	timeout    time.Duration
	logger     *zap.Logger
}

var _ Launcher = (*AsynqLauncher)(nil)

// NewAsynqLauncher は AsynqLauncher を初期化します。
func NewAsynqLauncher(cfg AsynqConfig, runner Runner, registry *Registry, logger *zap.Logger) (*AsynqLauncher, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueName: 1,
			},
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          logger.Named("asynq").Sugar(),
		},
	)

	l := &AsynqLauncher{
		client:     asynq.NewClient(opt),
		server:     server,
		inspector:  asynq.NewInspector(opt),
		mux:        asynq.NewServeMux(),
		runner:     runner,
		registry:   registry,
		maxPending: cfg.MaxPending,
		timeout:    cfg.TaskTimeout,
		logger:     logger,
	}
	l.mux.HandleFunc(TaskTypeTranslate, l.handleTranslateTask)
	return l, nil
}

// Start は asynq サーバーを起動します。
func (l *AsynqLauncher) Start() error {
	if err := l.server.Start(l.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	return nil
}

// Launch はキューの待機数を確認してからタスクを投入します。
func (l *AsynqLauncher) Launch(ctx context.Context, task Task) error {
	if l.maxPending > 0 {
		info, err := l.inspector.GetQueueInfo(QueueName)
		switch {
		case err == nil:
			if info.Pending >= l.maxPending {
				return ErrQueueFull
			}
		case errors.Is(err, asynq.ErrQueueNotFound):
		default:
			return fmt.Errorf("inspect queue: %w", err)
		}
	}

	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.TaskID(task.JobID),
	}
	if l.timeout > 0 {
		opts = append(opts, asynq.Timeout(l.timeout))
	}
	info, err := l.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeTranslate, body), opts...)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	l.logger.Debug("task enqueued", zap.String("job_id", task.JobID), zap.String("task_id", info.ID))
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。
// 実行中のタスクは ShutdownTimeout まで待たれ、その後キャンセルされます。
func (l *AsynqLauncher) Shutdown(ctx context.Context) error {
	l.server.Shutdown()
	return errors.Join(l.client.Close(), l.inspector.Close())
}

func (l *AsynqLauncher) handleTranslateTask(ctx context.Context, t *asynq.Task) error {
	var task Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("decode task payload: %w: %w", err, asynq.SkipRetry)
	}
	if task.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	if _, err := l.registry.Get(task.JobID); errors.Is(err, ErrNotFound) {
		l.logger.Warn("skipping task for unknown job", zap.String("job_id", task.JobID))
		return nil
	}

	l.run(ctx, task)
	return nil
}

// run は Runner.Run のパニックを回収し、ジョブを失敗として終了させます。
func (l *AsynqLauncher) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job panicked", zap.String("job_id", task.JobID), zap.Any("panic", r))
			l.runner.Abort(task, fmt.Errorf("job panicked: %v", r))
		}
	}()
	l.runner.Run(ctx, task)
}
