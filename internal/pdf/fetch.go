package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxInputBytes は入力PDFの既定サイズ上限です。
const DefaultMaxInputBytes int64 = 200 << 20

// Fetcher は入力PDFをダウンロードしてワークスペースに配置します。
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	inspect  func(path string) (*SourceFileMeta, error)
	logger   *zap.Logger
}

// NewFetcher は Fetcher を作成します。timeout はダウンロード全体に適用されます。
func NewFetcher(timeout time.Duration, maxBytes int64, logger *zap.Logger) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxInputBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		inspect:  InspectFile,
		logger:   logger,
	}
}

// Materialize は sourceURL の内容を ws.InputPath に保存し、PDFとして検証します。
// pageNumber が 1 以上でページ数が読めた場合は、そのページが存在することも確認します。
func (f *Fetcher) Materialize(ctx context.Context, sourceURL string, ws *Workspace, pageNumber int) (*SourceFileMeta, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace is nil")
	}
	if err := f.download(ctx, sourceURL, ws.InputPath); err != nil {
		return nil, err
	}

	meta, err := f.inspect(ws.InputPath)
	if err != nil {
		return nil, err
	}
	if meta.PageCountErr != nil {
		f.logger.Warn("page count unavailable, skipping page range check",
			zap.Int("page", pageNumber), zap.Error(meta.PageCountErr))
	}
	if pageNumber > 0 && meta.Pages > 0 && pageNumber > meta.Pages {
		return nil, newError(CodeInvalidInput,
			fmt.Sprintf("page %d is out of range (document has %d pages)", pageNumber, meta.Pages), nil)
	}
	return meta, nil
}

func (f *Fetcher) download(ctx context.Context, sourceURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return newError(CodeFetchFailed, "invalid source url", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return newError(CodeFetchFailed, "failed to download PDF", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(CodeFetchFailed, fmt.Sprintf("failed to download PDF: unexpected status %d", resp.StatusCode), nil)
	}

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	defer file.Close()

	n, err := io.Copy(file, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return newError(CodeFetchFailed, "failed to download PDF: timed out", err)
		}
		return newError(CodeFetchFailed, "failed to download PDF", err)
	}
	if n > f.maxBytes {
		return newError(CodeFetchFailed, fmt.Sprintf("failed to download PDF: exceeds %d bytes", f.maxBytes), nil)
	}
	if n == 0 {
		return newError(CodeFetchFailed, "failed to download PDF: empty body", nil)
	}
	return file.Close()
}
