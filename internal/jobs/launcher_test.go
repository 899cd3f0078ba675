package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	release chan struct{}
	started chan string

	running atomic.Int32
	peak    atomic.Int32

	mu      sync.Mutex
	aborted []string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		release: make(chan struct{}),
		started: make(chan string, 100),
	}
}

func (r *blockingRunner) Run(ctx context.Context, task Task) {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	r.started <- task.JobID
	select {
	case <-r.release:
	case <-ctx.Done():
	}
}

func (r *blockingRunner) Abort(task Task, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, task.JobID)
}

func TestLocalLauncher_BoundsConcurrencyAndBacklog(t *testing.T) {
	runner := newBlockingRunner()
	l := NewLocalLauncher(runner, 2, 1, nil)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Launch(context.Background(), Task{JobID: id}))
	}
	assert.ErrorIs(t, l.Launch(context.Background(), Task{JobID: "d"}), ErrQueueFull)

	<-runner.started
	<-runner.started
	select {
	case id := <-runner.started:
		t.Fatalf("job %s started beyond the concurrency limit", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))

	assert.ErrorIs(t, l.Launch(context.Background(), Task{JobID: "e"}), ErrLauncherClosed)
}

func TestLocalLauncher_ReleasesSlots(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	l := NewLocalLauncher(runner, 1, 0, nil)

	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool {
			return l.Launch(context.Background(), Task{JobID: "job"}) == nil
		}, time.Second, 5*time.Millisecond)
		<-runner.started
	}
	require.NoError(t, l.Shutdown(context.Background()))
}

func TestLocalLauncher_ShutdownCancelsAfterGrace(t *testing.T) {
	runner := newBlockingRunner()
	l := NewLocalLauncher(runner, 1, 1, nil)

	require.NoError(t, l.Launch(context.Background(), Task{JobID: "running"}))
	require.NoError(t, l.Launch(context.Background(), Task{JobID: "waiting"}))
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	// the waiting job either started after the running one was cancelled or was aborted
	if len(runner.aborted) == 1 {
		assert.Equal(t, "waiting", runner.aborted[0])
	}
}

type panicRunner struct {
	aborted chan error
}

func (r *panicRunner) Run(ctx context.Context, task Task) { panic("boom") }
func (r *panicRunner) Abort(task Task, cause error)        { r.aborted <- cause }

func TestLocalLauncher_RecoversPanics(t *testing.T) {
	runner := &panicRunner{aborted: make(chan error, 1)}
	l := NewLocalLauncher(runner, 1, 0, nil)

	require.NoError(t, l.Launch(context.Background(), Task{JobID: "p"}))
	select {
	case cause := <-runner.aborted:
		assert.Contains(t, cause.Error(), "boom")
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
	require.NoError(t, l.Shutdown(context.Background()))
}
