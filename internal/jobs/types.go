package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ジョブ層で付与されるエラーコード。変換処理のコードは pdf パッケージにあります。
const (
	CodeStorageFailed = "STORAGE_FAILED"
	CodeQueueFull     = "QUEUE_FULL"
	CodeInternal      = "INTERNAL_ERROR"
)

// Mode は翻訳単位（ページ or 文書全体）です。
type Mode string

const (
	ModePage     Mode = "page"
	ModeDocument Mode = "document"
)

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job はジョブの現在状態を表します。
type Job struct {
	ID         string     `json:"jobId"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	SubjectID  string     `json:"bookId"`
	PageNumber int        `json:"pageNumber,omitempty"`
	TargetLang string     `json:"targetLang"`
	ResultURL  string     `json:"translatedUrl,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (j Job) clone() Job {
	if j.Error != nil {
		info := *j.Error
		j.Error = &info
	}
	return j
}

// Request は翻訳ジョブの投入要求です。
type Request struct {
	SubjectID   string
	SourceURL   string
	TargetLang  string
	PageNumber  int
	Mode        Mode
	CallbackURL string
}

// Handle は投入結果です。Cached の場合ジョブは作成されていません。
type Handle struct {
	JobID      string
	Status     Status
	PageNumber int
	ResultURL  string
	Cached     bool
}

// Task はワーカーに渡す実行単位です。asynq のペイロードとしても使われます。
type Task struct {
	JobID       string `json:"jobId"`
	SubjectID   string `json:"bookId"`
	SourceURL   string `json:"pdfUrl"`
	TargetLang  string `json:"targetLang"`
	PageNumber  int    `json:"pageNumber,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
	CacheKey    string `json:"cacheKey"`
}
