// Package storage は翻訳済みPDFの保存先（アーティファクトキャッシュ）を提供します。
//
// 同じキーへの同時書き込みは最後の書き込みが勝ちます。同じキーの成果物は
// 内容が同等であることを前提としており、比較交換は行いません。
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultKeyPrefix はキャッシュキーの既定プレフィックスです。
const DefaultKeyPrefix = "books"

// Sentinel errors for store operations.
var (
	ErrNotFound       = errors.New("object not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrUnavailable    = errors.New("storage unavailable")
)

// Store は成果物の存在確認と保存を行います。
type Store interface {
	// Exists はキーが存在する場合にその公開URLを返します。
	Exists(ctx context.Context, key string) (url string, ok bool, err error)
	// Put は localPath のファイルをキーに保存し、公開URLを返します。
	Put(ctx context.Context, key, localPath string) (url string, err error)
}

// CacheKey は (subjectID, pageNumber, targetLang) から決定的なキーを生成します。
// pageNumber が 0 の場合は文書全体のキーになります。
func CacheKey(prefix, subjectID string, pageNumber int, targetLang string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if pageNumber > 0 {
		return fmt.Sprintf("%s/%s/translated_pages/page_%d_%s.pdf", prefix, subjectID, pageNumber, targetLang)
	}
	return fmt.Sprintf("%s/%s/translated_%s.pdf", prefix, subjectID, targetLang)
}

// Error wraps store-specific errors with context.
type Error struct {
	Op      string
	Backend string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
