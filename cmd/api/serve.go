package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyun9726/pdf-translate-service/internal/api"
	"github.com/lyun9726/pdf-translate-service/internal/config"
	"github.com/lyun9726/pdf-translate-service/internal/jobs"
	"github.com/lyun9726/pdf-translate-service/internal/logging"
)

func newServeCmd(port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *port)
		},
	}
}

// loadConfig は設定を読み込み、フラグで上書きします。
func loadConfig(cmd *cobra.Command, port string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flag := cmd.Flags().Lookup("port"); flag != nil && flag.Changed {
		cfg.Port = port
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, port string) error {
	cfg, err := loadConfig(cmd, port)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setupJobs(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// 起動時に一度 babeldoc を確認しておく
	go func() {
		_ = app.availability.Check(ctx)
	}()

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go jobs.RunJanitor(janitorCtx, app.registry, cfg.JobRetention, cfg.JobSweepInterval, logger.Named("janitor"))

	router := api.NewRouter(api.Options{
		Jobs:         app.manager,
		Availability: app.availability,
		Health:       app.health,
		Logger:       logger.Named("http"),
		CORSOrigins:  cfg.AllowedOrigins(),
		FilesDir:     app.filesDir,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting API server",
			zap.String("addr", srv.Addr),
			zap.String("mode", cfg.GinMode),
			zap.String("storage", cfg.StorageBackend),
			zap.Bool("queue", cfg.UsesQueue()),
			zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("grace", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.launcher.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("job shutdown: %w", err))
	}
	if shutdownErr != nil {
		logger.Warn("shutdown incomplete", zap.Error(shutdownErr))
	}
	logger.Info("server stopped")
	return nil
}
