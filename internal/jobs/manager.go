package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lyun9726/pdf-translate-service/internal/storage"
)

// DefaultTargetLang は targetLang 未指定時の翻訳先言語です。
const DefaultTargetLang = "zh"

// Admission errors.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnavailable    = errors.New("service unavailable")
)

var langPattern = regexp.MustCompile(`^[A-Za-z]{2,3}([-_][A-Za-z0-9]{2,8})?$`)

// ValidationError は入力検証エラーです。errors.Is(err, ErrInvalidRequest) が真になります。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// UnavailableError は前提条件を満たさないためジョブを受け付けられないことを表します。
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Preflight はジョブ受付前の前提条件（変換ツールの可用性）を確認します。
type Preflight interface {
	Check(ctx context.Context) error
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	registry  *Registry
	store     storage.Store
	launcher  Launcher
	preflight Preflight
	keyPrefix string
	logger    *zap.Logger
	newID     func() string
}

// NewManager は Manager を初期化します。
func NewManager(registry *Registry, store storage.Store, launcher Launcher, preflight Preflight, keyPrefix string, logger *zap.Logger) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if launcher == nil {
		return nil, errors.New("launcher is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry:  registry,
		store:     store,
		launcher:  launcher,
		preflight: preflight,
		keyPrefix: keyPrefix,
		logger:    logger,
		newID:     uuid.NewString,
	}, nil
}

// Submit は翻訳要求を受け付けます。
//
// キャッシュ済みの場合はジョブを作成せず completed のハンドルを返します。
// それ以外は pending のジョブを作成し、ワーカーを1つ起動します。
func (m *Manager) Submit(ctx context.Context, req Request) (*Handle, error) {
	if m.preflight != nil {
		if err := m.preflight.Check(ctx); err != nil {
			return nil, &UnavailableError{Reason: "babeldoc is not available", Err: err}
		}
	}

	req = normalizeRequest(req)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	key := storage.CacheKey(m.keyPrefix, req.SubjectID, req.PageNumber, req.TargetLang)
	logger := m.logger.With(
		zap.String("book_id", req.SubjectID),
		zap.Int("page", req.PageNumber),
		zap.String("key", key))

	cachedURL, ok, err := m.store.Exists(ctx, key)
	if err != nil {
		logger.Warn("cache probe failed", zap.Error(err))
	} else if ok {
		logger.Info("translation already cached", zap.String("url", cachedURL))
		return &Handle{
			Status:     StatusCompleted,
			PageNumber: req.PageNumber,
			ResultURL:  cachedURL,
			Cached:     true,
		}, nil
	}

	job := Job{
		ID:         m.newID(),
		Status:     StatusPending,
		SubjectID:  req.SubjectID,
		PageNumber: req.PageNumber,
		TargetLang: req.TargetLang,
	}
	if err := m.registry.Create(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	task := Task{
		JobID:       job.ID,
		SubjectID:   req.SubjectID,
		SourceURL:   req.SourceURL,
		TargetLang:  req.TargetLang,
		PageNumber:  req.PageNumber,
		CallbackURL: req.CallbackURL,
		CacheKey:    key,
	}
	if err := m.launcher.Launch(ctx, task); err != nil {
		code := CodeInternal
		if errors.Is(err, ErrQueueFull) {
			code = CodeQueueFull
		}
		if _, markErr := m.registry.MarkFailed(job.ID, ErrorInfo{Code: code, Message: err.Error()}); markErr != nil {
			logger.Error("failed to mark rejected job", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		logger.Warn("job launch rejected", zap.String("job_id", job.ID), zap.Error(err))
		if errors.Is(err, ErrQueueFull) {
			return nil, err
		}
		return nil, &UnavailableError{Reason: "failed to start job", Err: err}
	}

	logger.Info("job accepted", zap.String("job_id", job.ID))
	return &Handle{
		JobID:      job.ID,
		Status:     StatusPending,
		PageNumber: req.PageNumber,
	}, nil
}

// Get はジョブ情報を取得します。
func (m *Manager) Get(id string) (Job, error) {
	return m.registry.Get(id)
}

// Stats はジョブ件数を返します。
func (m *Manager) Stats() Stats {
	return m.registry.Stats()
}

func normalizeRequest(req Request) Request {
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	req.TargetLang = strings.TrimSpace(req.TargetLang)
	req.CallbackURL = strings.TrimSpace(req.CallbackURL)
	if req.TargetLang == "" {
		req.TargetLang = DefaultTargetLang
	}
	if req.Mode == "" {
		req.Mode = ModeDocument
		if req.PageNumber != 0 {
			req.Mode = ModePage
		}
	}
	return req
}

func validateRequest(req Request) error {
	if req.SourceURL == "" {
		return &ValidationError{Field: "pdfUrl", Message: "pdfUrl is required"}
	}
	if !isHTTPURL(req.SourceURL) {
		return &ValidationError{Field: "pdfUrl", Message: "pdfUrl must be an absolute http(s) URL"}
	}
	if req.SubjectID == "" {
		return &ValidationError{Field: "bookId", Message: "bookId is required"}
	}
	if strings.ContainsAny(req.SubjectID, `/\`) || strings.Contains(req.SubjectID, "..") {
		return &ValidationError{Field: "bookId", Message: "bookId must not contain path separators"}
	}

	switch req.Mode {
	case ModePage:
		if req.PageNumber < 1 {
			return &ValidationError{Field: "pageNumber", Message: "pageNumber must be >= 1"}
		}
	case ModeDocument:
		if req.PageNumber != 0 {
			return &ValidationError{Field: "pageNumber", Message: "pageNumber is not allowed for whole-document translation"}
		}
	default:
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", req.Mode)}
	}

	if !langPattern.MatchString(req.TargetLang) {
		return &ValidationError{Field: "targetLang", Message: fmt.Sprintf("unsupported targetLang %q", req.TargetLang)}
	}
	if req.CallbackURL != "" && !isHTTPURL(req.CallbackURL) {
		return &ValidationError{Field: "callbackUrl", Message: "callbackUrl must be an absolute http(s) URL"}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
