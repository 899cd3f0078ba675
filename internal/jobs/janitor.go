package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor は interval ごとに retention より古い終端ジョブを削除します。ctx が終わるまでブロックします。
func RunJanitor(ctx context.Context, registry *Registry, retention, interval time.Duration, logger *zap.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := registry.Sweep(now.Add(-retention)); removed > 0 {
				logger.Info("swept expired jobs", zap.Int("removed", removed))
			}
		}
	}
}
