// Package notify はジョブの状態変化を呼び出し元のコールバックURLへ通知します。
//
// 通知はベストエフォートです。失敗はログに残すだけで、ジョブの状態には影響しません。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout はコールバック1回あたりの既定タイムアウトです。
	DefaultTimeout = 30 * time.Second

	// BypassHeader はデプロイ保護を回避するためのヘッダー名です。
	BypassHeader = "x-vercel-protection-bypass"

	maxLoggedBody = 200
)

// Update はコールバックで送信するペイロードです。
type Update struct {
	BookID            string `json:"bookId"`
	Status            string `json:"status"`
	Progress          *int   `json:"progress,omitempty"`
	TranslatedFileURL string `json:"translatedFileUrl,omitempty"`
	TranslatedURL     string `json:"translatedUrl,omitempty"`
	Error             string `json:"error,omitempty"`
	PageNumber        *int   `json:"pageNumber,omitempty"`
}

// WithResult sets both result URL fields.
func (u Update) WithResult(url string) Update {
	u.TranslatedFileURL = url
	u.TranslatedURL = url
	return u
}

// WithProgress sets the progress field.
func (u Update) WithProgress(p int) Update {
	u.Progress = &p
	return u
}

// WithPage sets the page field. Zero means the whole document and is omitted.
func (u Update) WithPage(page int) Update {
	if page > 0 {
		u.PageNumber = &page
	}
	return u
}

// Notifier は JSON の POST でコールバックを送信します。
type Notifier struct {
	client *http.Client
	bypass string
	logger *zap.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithBypassSecret は保護回避ヘッダーの値を設定します。
func WithBypassSecret(secret string) Option {
	return func(n *Notifier) {
		n.bypass = strings.TrimSpace(secret)
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// New は Notifier を作成します。timeout が 0 以下の場合は DefaultTimeout を使用します。
func New(timeout time.Duration, logger *zap.Logger, opts ...Option) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify は Send を呼び出し、エラーはログに記録して破棄します。
func (n *Notifier) Notify(ctx context.Context, endpoint string, update Update) {
	if strings.TrimSpace(endpoint) == "" {
		return
	}
	if err := n.Send(ctx, endpoint, update); err != nil {
		n.logger.Warn("callback failed",
			zap.String("book_id", update.BookID),
			zap.String("status", update.Status),
			zap.Error(err))
	}
}

// Send はコールバックを1回送信します。2xx 以外の応答はエラーになります。
func (n *Notifier) Send(ctx context.Context, endpoint string, update Update) error {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.bypass != "" {
		req.Header.Set(BypassHeader, n.bypass)
	}

	n.logger.Debug("sending callback",
		zap.String("endpoint", endpoint),
		zap.ByteString("payload", body))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	n.logger.Debug("callback response",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", snippet))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
