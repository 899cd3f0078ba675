package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyun9726/pdf-translate-service/internal/api"
	"github.com/lyun9726/pdf-translate-service/internal/config"
	"github.com/lyun9726/pdf-translate-service/internal/jobs"
	"github.com/lyun9726/pdf-translate-service/internal/notify"
	"github.com/lyun9726/pdf-translate-service/internal/pdf"
	"github.com/lyun9726/pdf-translate-service/internal/storage"
)

// storageProbeKey はストレージ疎通確認に使うキーです。存在しなくても問題ありません。
const storageProbeKey = "healthcheck/probe.pdf"

// storageHealthTTL はヘルスチェックでのストレージ確認結果を再利用する期間です。
const storageHealthTTL = 30 * time.Second

// application はジョブ処理に必要な部品一式です。
type application struct {
	registry     *jobs.Registry
	manager      *jobs.Manager
	launcher     jobs.Launcher
	availability *pdf.Availability
	store        storage.Store
	health       *api.HealthManager
	filesDir     string
	closers      []func() error
}

// Close は外部接続を閉じます。
func (a *application) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func setupJobs(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	store, filesDir, err := setupStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	babeldoc := pdf.NewBabeldoc(pdf.BabeldocOptions{
		Path:    cfg.BabeldocPath,
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, logger.Named("babeldoc"))
	availability := pdf.NewAvailability(babeldoc.Probe, cfg.BabeldocProbeTimeout, cfg.BabeldocRecheckInterval, logger.Named("babeldoc"))

	registry := jobs.NewRegistry()
	notifier := notify.New(cfg.CallbackTimeout, logger.Named("callback"), notify.WithBypassSecret(cfg.VercelProtectionBypass))
	worker := jobs.NewWorker(
		registry,
		store,
		pdf.NewFetcher(cfg.FetchTimeout, cfg.MaxInputBytes, logger.Named("fetch")),
		babeldoc,
		notifier,
		jobs.WorkerConfig{
			WorkDir:         cfg.WorkDir,
			PageTimeout:     cfg.PageTimeout,
			DocumentTimeout: cfg.DocumentTimeout,
			UploadTimeout:   cfg.UploadTimeout,
		},
		logger.Named("worker"),
	)

	app := &application{
		registry:     registry,
		availability: availability,
		store:        store,
		health:       api.NewHealthManager(0),
		filesDir:     filesDir,
	}
	app.health.RegisterChecker("babeldoc", availability)
	app.health.RegisterChecker("storage", newStoreChecker(store, storageHealthTTL))

	launcher, err := setupLauncher(cfg, worker, registry, app, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.launcher = launcher

	manager, err := jobs.NewManager(registry, store, launcher, availability, cfg.CacheKeyPrefix, logger.Named("jobs"))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.manager = manager
	return app, nil
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, string, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal:
		store, err := storage.NewLocalStore(cfg.LocalStorageDir, cfg.PublicBaseURL)
		if err != nil {
			return nil, "", err
		}
		return store, store.Root(), nil
	default:
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			PublicBaseURL:   cfg.PublicBaseURL,
		}, logger.Named("s3"))
		if err != nil {
			return nil, "", fmt.Errorf("failed to set up s3 storage: %w", err)
		}
		return store, "", nil
	}
}

func setupLauncher(cfg *config.Config, worker *jobs.Worker, registry *jobs.Registry, app *application, logger *zap.Logger) (jobs.Launcher, error) {
	if !cfg.UsesQueue() {
		return jobs.NewLocalLauncher(worker, cfg.MaxConcurrentJobs, cfg.MaxPendingJobs, logger.Named("launcher")), nil
	}

	redisChecker, err := api.NewRedisChecker(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, redisChecker.Close)
	app.health.RegisterChecker("redis", redisChecker)

	budget := cfg.DocumentTimeout
	if cfg.PageTimeout > budget {
		budget = cfg.PageTimeout
	}
	launcher, err := jobs.NewAsynqLauncher(jobs.AsynqConfig{
		RedisURL:        cfg.QueueRedisURL,
		Concurrency:     cfg.MaxConcurrentJobs,
		MaxPending:      cfg.MaxPendingJobs,
		TaskTimeout:     cfg.FetchTimeout + budget + cfg.UploadTimeout + 6*cfg.CallbackTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, worker, registry, logger.Named("asynq"))
	if err != nil {
		return nil, err
	}
	if err := launcher.Start(); err != nil {
		_ = launcher.Shutdown(context.Background())
		return nil, err
	}
	return launcher, nil
}

// storeChecker はストレージへの疎通を確認します。キーが存在しないことはエラーではありません。
// 結果は ttl の間キャッシュします。ttl が 0 の場合は毎回確認します。
type storeChecker struct {
	store storage.Store
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	checked   bool
	lastErr   error
	checkedAt time.Time
}

func newStoreChecker(store storage.Store, ttl time.Duration) *storeChecker {
	return &storeChecker{store: store, ttl: ttl, now: time.Now}
}

func (c *storeChecker) CheckHealth(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checked && c.now().Sub(c.checkedAt) < c.ttl {
		return c.lastErr
	}

	_, _, err := c.store.Exists(ctx, storageProbeKey)
	if ctx.Err() != nil {
		return err
	}
	c.checked = true
	c.checkedAt = c.now()
	c.lastErr = err
	return err
}
