// Package api は翻訳サービスの HTTP API を提供します。
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lyun9726/pdf-translate-service/internal/jobs"
)

const (
	serviceName    = "pdf-translate-babeldoc"
	serviceVersion = "2.0.0"
)

// JobService はジョブの投入と参照を提供します。jobs.Manager が実装します。
type JobService interface {
	Submit(ctx context.Context, req jobs.Request) (*jobs.Handle, error)
	Get(id string) (jobs.Job, error)
	Stats() jobs.Stats
}

// AvailabilityReporter は変換ツールの可用性を報告します。
type AvailabilityReporter interface {
	Status() (available bool, reason string)
}

// Options はルーターの構成です。
type Options struct {
	Jobs         JobService
	Availability AvailabilityReporter
	Health       *HealthManager
	Logger       *zap.Logger
	CORSOrigins  []string
	// FilesDir が設定されている場合、/files 以下で静的配信します（ローカルストレージ用）。
	FilesDir string
}

// Handler は HTTP ハンドラー群です。
type Handler struct {
	jobs         JobService
	availability AvailabilityReporter
	health       *HealthManager
	logger       *zap.Logger
}

// NewRouter は gin のルーターを構築します。
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Health == nil {
		opts.Health = NewHealthManager(0)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(opts.Logger), CORS(opts.CORSOrigins))

	h := &Handler{
		jobs:         opts.Jobs,
		availability: opts.Availability,
		health:       opts.Health,
		logger:       opts.Logger,
	}
	h.Register(router)

	if opts.FilesDir != "" {
		router.Static("/files", opts.FilesDir)
	}
	return router
}

// Register はルーティングを登録します。
func (h *Handler) Register(router gin.IRoutes) {
	router.GET("/", h.handleRoot)
	router.GET("/health", h.handleHealth)
	router.POST("/translate", h.handleTranslateDocument)
	router.POST("/translate/page", h.handleTranslatePage)
	router.GET("/status/:id", h.handleStatus)
	router.GET("/download/:id", h.handleDownload)
}

type translateRequest struct {
	BookID      string `json:"bookId"`
	PDFURL      string `json:"pdfUrl"`
	PageNumber  *int   `json:"pageNumber"`
	TargetLang  string `json:"targetLang"`
	CallbackURL string `json:"callbackUrl"`
}

func (r translateRequest) toJobRequest(mode jobs.Mode) jobs.Request {
	req := jobs.Request{
		SubjectID:   r.BookID,
		SourceURL:   r.PDFURL,
		TargetLang:  r.TargetLang,
		Mode:        mode,
		CallbackURL: r.CallbackURL,
	}
	if r.PageNumber != nil {
		req.PageNumber = *r.PageNumber
	}
	if strings.TrimSpace(req.TargetLang) == "" {
		req.TargetLang = jobs.DefaultTargetLang
	}
	return req
}

// handleTranslatePage は POST /translate/page のハンドラーです。
func (h *Handler) handleTranslatePage(c *gin.Context) {
	var body translateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondInvalid(c, "request body must be a JSON object")
		return
	}

	handle, err := h.jobs.Submit(c.Request.Context(), body.toJobRequest(jobs.ModePage))
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	if handle.Cached {
		c.JSON(http.StatusOK, gin.H{
			"status":        string(jobs.StatusCompleted),
			"pageNumber":    handle.PageNumber,
			"translatedUrl": handle.ResultURL,
			"cached":        true,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"jobId":      handle.JobID,
		"status":     string(handle.Status),
		"pageNumber": handle.PageNumber,
		"message":    fmt.Sprintf("Page %d translation started", handle.PageNumber),
	})
}

// handleTranslateDocument は POST /translate のハンドラーです。
func (h *Handler) handleTranslateDocument(c *gin.Context) {
	var body translateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondInvalid(c, "request body must be a JSON object")
		return
	}

	handle, err := h.jobs.Submit(c.Request.Context(), body.toJobRequest(jobs.ModeDocument))
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	if handle.Cached {
		c.JSON(http.StatusOK, gin.H{
			"status":        string(jobs.StatusCompleted),
			"translatedUrl": handle.ResultURL,
			"cached":        true,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"jobId":   handle.JobID,
		"status":  string(handle.Status),
		"message": "Translation job started",
	})
}

// handleStatus は GET /status/:id のハンドラーです。
func (h *Handler) handleStatus(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	payload := gin.H{
		"jobId":     job.ID,
		"status":    string(job.Status),
		"progress":  job.Progress,
		"createdAt": job.CreatedAt,
		"updatedAt": job.UpdatedAt,
	}
	if job.PageNumber > 0 {
		payload["pageNumber"] = job.PageNumber
	}
	if job.ResultURL != "" {
		payload["translatedUrl"] = job.ResultURL
	}
	if job.Error != nil {
		payload["error"] = job.Error.Message
		payload["errorCode"] = job.Error.Code
	}
	c.JSON(http.StatusOK, payload)
}

// handleDownload は GET /download/:id のハンドラーです。成果物URLへリダイレクトします。
func (h *Handler) handleDownload(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}
	if job.Status != jobs.StatusCompleted || job.ResultURL == "" {
		c.JSON(http.StatusNotFound, gin.H{
			"code":   "RESULT_NOT_READY",
			"error":  "File not found",
			"status": string(job.Status),
		})
		return
	}
	c.Redirect(http.StatusFound, job.ResultURL)
}

// handleHealth は GET /health のハンドラーです。
func (h *Handler) handleHealth(c *gin.Context) {
	available, reason := h.babeldocStatus()
	checks, overall := h.health.Check(c.Request.Context())
	stats := h.jobs.Stats()

	status := "ok"
	if overall != checkHealthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             status,
		"service":            serviceName,
		"babeldoc_available": available,
		"babeldoc_error":     nullable(reason),
		"active_jobs":        stats.Active(),
		"jobs":               stats,
		"checks":             checks,
	})
}

// handleRoot は GET / のハンドラーです。
func (h *Handler) handleRoot(c *gin.Context) {
	available, reason := h.babeldocStatus()
	c.JSON(http.StatusOK, gin.H{
		"message":            "PDF Translation Service (BabelDOC)",
		"version":            serviceVersion,
		"babeldoc_available": available,
		"babeldoc_error":     nullable(reason),
		"endpoints": gin.H{
			"/translate":      "Full PDF translation (POST)",
			"/translate/page": "Single page translation (POST)",
			"/status/:id":     "Check job status (GET)",
			"/download/:id":   "Redirect to translated PDF (GET)",
			"/health":         "Service health (GET)",
		},
	})
}

func (h *Handler) lookupJob(c *gin.Context) (jobs.Job, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		respondInvalid(c, "jobId is required")
		return jobs.Job{}, false
	}
	job, err := h.jobs.Get(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "JOB_NOT_FOUND",
				"error": "Job not found",
			})
			return jobs.Job{}, false
		}
		h.respondWithError(c, err)
		return jobs.Job{}, false
	}
	return job, true
}

func (h *Handler) babeldocStatus() (bool, string) {
	if h.availability == nil {
		return false, "not checked yet"
	}
	available, reason := h.availability.Status()
	if available {
		return true, ""
	}
	return false, reason
}

func (h *Handler) respondWithError(c *gin.Context, err error) {
	var (
		validationErr  *jobs.ValidationError
		unavailableErr *jobs.UnavailableError
	)
	switch {
	case errors.As(err, &validationErr):
		respondInvalid(c, validationErr.Message)
	case errors.Is(err, jobs.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "QUEUE_FULL",
			"error":   "too many translation jobs in progress",
			"details": err.Error(),
			"status":  string(jobs.StatusFailed),
		})
	case errors.As(err, &unavailableErr):
		details := ""
		if unavailableErr.Err != nil {
			details = unavailableErr.Err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SERVICE_UNAVAILABLE",
			"error":   unavailableErr.Reason,
			"details": details,
			"status":  string(jobs.StatusFailed),
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":  "REQUEST_CANCELED",
			"error": "request was canceled",
		})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "internal server error",
		})
	}
}

func respondInvalid(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":  "INVALID_INPUT",
		"error": message,
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
