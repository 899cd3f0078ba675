package pdf

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Availability は外部ツールの利用可否をキャッシュします。
// 利用可能と判定された後は再確認しません。利用不可の間は recheck 間隔ごとに再確認します。
// 確認は呼び出し元のコンテキストから切り離して実行し、同時に1件だけ走ります。
type Availability struct {
	probe   func(ctx context.Context) error
	timeout time.Duration
	recheck time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu        sync.Mutex
	checked   bool
	lastErr   error
	checkedAt time.Time
	inflight  chan struct{}
}

// NewAvailability は Availability を作成します。
func NewAvailability(probe func(ctx context.Context) error, timeout, recheck time.Duration, logger *zap.Logger) *Availability {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Availability{
		probe:   probe,
		timeout: timeout,
		recheck: recheck,
		now:     time.Now,
		logger:  logger,
	}
}

// Check は利用可能なら nil を返します。
// ctx が先に終了した場合は ctx.Err() を返し、確認結果はキャッシュに残ります。
func (a *Availability) Check(ctx context.Context) error {
	a.mu.Lock()
	if a.checked && (a.lastErr == nil || a.now().Sub(a.checkedAt) < a.recheck) {
		err := a.lastErr
		a.mu.Unlock()
		return err
	}
	done := a.inflight
	if done == nil {
		done = make(chan struct{})
		a.inflight = done
		go a.run(context.WithoutCancel(ctx), done)
	}
	a.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Availability) run(ctx context.Context, done chan struct{}) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	err := a.probe(ctx)

	a.mu.Lock()
	a.checked = true
	a.checkedAt = a.now()
	a.lastErr = err
	a.inflight = nil
	a.mu.Unlock()
	close(done)

	if err != nil {
		a.logger.Warn("babeldoc unavailable", zap.Error(err))
	} else {
		a.logger.Info("babeldoc available")
	}
}

// Status は最後に確認した結果を返します。未確認の場合は確認を行いません。
func (a *Availability) Status() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.checked {
		return false, "not checked yet"
	}
	if a.lastErr != nil {
		return false, a.lastErr.Error()
	}
	return true, ""
}

// CheckHealth はヘルスチェック用に Check を公開します。
func (a *Availability) CheckHealth(ctx context.Context) error {
	return a.Check(ctx)
}
