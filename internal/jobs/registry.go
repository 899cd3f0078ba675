package jobs

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Registry errors.
var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateJob      = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job update")
)

type entry struct {
	mu  sync.RWMutex
	job Job
}

// Registry はジョブ状態をプロセス内メモリに保持します。
// 各エントリは個別のロックを持ち、読み手は常に値のコピーを受け取ります。
type Registry struct {
	entries sync.Map
	now     func() time.Time
}

// Stats は状態ごとのジョブ数です。
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Active は未完了のジョブ数を返します。
func (s Stats) Active() int {
	return s.Pending + s.Processing
}

// Total は保持しているジョブ数を返します。
func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// NewRegistry は Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{now: func() time.Time { return time.Now().UTC() }}
}

// Create は pending のジョブを登録します。同じIDは再利用できません。
func (r *Registry) Create(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id is required", ErrInvalidTransition)
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.Status != StatusPending {
		return fmt.Errorf("%w: new job must be pending, got %s", ErrInvalidTransition, job.Status)
	}
	if job.ResultURL != "" || job.Error != nil {
		return fmt.Errorf("%w: new job must not carry a result", ErrInvalidTransition)
	}
	now := r.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if _, loaded := r.entries.LoadOrStore(job.ID, &entry{job: job.clone()}); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	return nil
}

// Get はジョブのスナップショットを返します。
func (r *Registry) Get(id string) (Job, error) {
	e, ok := r.load(id)
	if !ok {
		return Job{}, ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.clone(), nil
}

// Update は mutate をコピーに適用し、状態遷移の不変条件を満たす場合のみ反映します。
// 拒否された場合、保存済みのジョブは変更されません。
func (r *Registry) Update(id string, mutate func(*Job)) (Job, error) {
	e, ok := r.load(id)
	if !ok {
		return Job{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.job.clone()
	mutate(&next)
	if err := validateUpdate(e.job, next); err != nil {
		return e.job.clone(), err
	}
	next.UpdatedAt = r.now()
	e.job = next
	return next.clone(), nil
}

// MarkProcessing は処理中へ遷移させ、進捗を設定します。
func (r *Registry) MarkProcessing(id string, progress int) (Job, error) {
	return r.Update(id, func(job *Job) {
		job.Status = StatusProcessing
		job.Progress = progress
	})
}

// UpdateProgress は進捗を更新します。
func (r *Registry) UpdateProgress(id string, progress int) (Job, error) {
	return r.Update(id, func(job *Job) {
		job.Progress = progress
	})
}

// MarkCompleted はジョブ完了時の情報を保存します。
func (r *Registry) MarkCompleted(id, resultURL string) (Job, error) {
	return r.Update(id, func(job *Job) {
		job.Status = StatusCompleted
		job.Progress = 100
		job.ResultURL = resultURL
		job.Error = nil
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (r *Registry) MarkFailed(id string, info ErrorInfo) (Job, error) {
	return r.Update(id, func(job *Job) {
		job.Status = StatusFailed
		job.ResultURL = ""
		job.Error = &info
	})
}

// Stats は状態ごとの件数を集計します。
func (r *Registry) Stats() Stats {
	var stats Stats
	r.entries.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.RLock()
		status := e.job.Status
		e.mu.RUnlock()
		switch status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		return true
	})
	return stats
}

// Sweep は before より前に更新された終端ジョブを削除し、削除件数を返します。
func (r *Registry) Sweep(before time.Time) int {
	removed := 0
	r.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.RLock()
		expired := e.job.Status.Terminal() && e.job.UpdatedAt.Before(before)
		e.mu.RUnlock()
		if expired {
			r.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (r *Registry) load(id string) (*entry, bool) {
	value, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*entry), true
}

var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusPending, StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
}

func validateUpdate(prev, next Job) error {
	if prev.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, prev.ID, prev.Status)
	}
	if !slices.Contains(allowedTransitions[prev.Status], next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	if next.ID != prev.ID || next.SubjectID != prev.SubjectID || next.PageNumber != prev.PageNumber ||
		next.TargetLang != prev.TargetLang || !next.CreatedAt.Equal(prev.CreatedAt) {
		return fmt.Errorf("%w: immutable field changed", ErrInvalidTransition)
	}
	if next.Progress < 0 || next.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, next.Progress)
	}
	if next.Status == StatusProcessing && next.Progress < prev.Progress {
		return fmt.Errorf("%w: progress decreased %d -> %d", ErrInvalidTransition, prev.Progress, next.Progress)
	}

	switch next.Status {
	case StatusCompleted:
		if next.Progress != 100 {
			return fmt.Errorf("%w: completed job must have progress 100", ErrInvalidTransition)
		}
		if next.ResultURL == "" || next.Error != nil {
			return fmt.Errorf("%w: completed job must have a result url and no error", ErrInvalidTransition)
		}
	case StatusFailed:
		if next.Error == nil || next.ResultURL != "" {
			return fmt.Errorf("%w: failed job must have an error and no result url", ErrInvalidTransition)
		}
	default:
		if next.ResultURL != "" || next.Error != nil {
			return fmt.Errorf("%w: %s job must not carry a result", ErrInvalidTransition, next.Status)
		}
	}
	return nil
}
