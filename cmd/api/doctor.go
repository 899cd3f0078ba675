package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyun9726/pdf-translate-service/internal/api"
	"github.com/lyun9726/pdf-translate-service/internal/config"
	"github.com/lyun9726/pdf-translate-service/internal/logging"
	"github.com/lyun9726/pdf-translate-service/internal/pdf"
)

const doctorCheckTimeout = 30 * time.Second

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks against the configured environment.

Checks the babeldoc CLI, the artifact storage, the work directory and,
when QUEUE_REDIS_URL is set, the Redis queue.`,
		RunE: runDoctor,
	}
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	checks := []doctorCheck{
		{name: "Go runtime", run: func(ctx context.Context) (string, error) {
			return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
		}},
		{name: "babeldoc CLI", run: func(ctx context.Context) (string, error) {
			b := pdf.NewBabeldoc(pdf.BabeldocOptions{Path: cfg.BabeldocPath}, zap.NewNop())
			if err := b.Probe(ctx); err != nil {
				return "", err
			}
			return cfg.BabeldocPath, nil
		}},
		{name: "OpenAI API key", run: func(ctx context.Context) (string, error) {
			if cfg.OpenAIAPIKey == "" {
				return "", fmt.Errorf("OPENAI_API_KEY is not set; translations will fail")
			}
			return cfg.OpenAIModel + " @ " + cfg.OpenAIBaseURL, nil
		}},
		{name: "work directory", run: func(ctx context.Context) (string, error) {
			ws, err := pdf.NewWorkspace(cfg.WorkDir, "doctor")
			if err != nil {
				return "", err
			}
			defer ws.Remove()
			return ws.Dir, nil
		}},
		{name: "artifact storage", run: func(ctx context.Context) (string, error) {
			store, _, err := setupStorage(ctx, cfg, zap.NewNop())
			if err != nil {
				return "", err
			}
			if err := newStoreChecker(store, 0).CheckHealth(ctx); err != nil {
				return "", err
			}
			return cfg.StorageBackend, nil
		}},
	}
	if cfg.UsesQueue() {
		checks = append(checks, doctorCheck{name: "Redis queue", run: func(ctx context.Context) (string, error) {
			checker, err := api.NewRedisChecker(cfg.QueueRedisURL)
			if err != nil {
				return "", err
			}
			defer checker.Close()
			if err := checker.CheckHealth(ctx); err != nil {
				return "", err
			}
			return "PONG", nil
		}})
	}

	logger.Info("=== pdf-translate-service doctor ===")
	failed := 0
	for i, check := range checks {
		ctx, cancel := context.WithTimeout(cmd.Context(), doctorCheckTimeout)
		detail, err := check.run(ctx)
		cancel()
		prefix := fmt.Sprintf("[%d/%d] %s", i+1, len(checks), check.name)
		if err != nil {
			failed++
			logger.Error(prefix+"... FAILED", zap.Error(err))
			continue
		}
		logger.Info(prefix+"... ok", zap.String("detail", detail))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	logger.Info("all checks passed")
	return nil
}
