package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore はローカルファイルシステムに成果物を保存します（開発環境用）。
// 保存したファイルは API サーバーが /files 以下で配信します。
type LocalStore struct {
	root    string
	baseURL string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore は LocalStore を作成します。
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local storage dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage dir: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Root は保存先ディレクトリを返します。
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Exists(ctx context.Context, key string) (string, bool, error) {
	info, err := os.Stat(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, &Error{Op: "Stat", Backend: "local", Key: key, Err: err}
	}
	if info.IsDir() {
		return "", false, nil
	}
	return s.URL(key), true, nil
}

// Put は一時ファイルに書き込んでから rename するため、読み手が書きかけのファイルを見ることはありません。
func (s *LocalStore) Put(ctx context.Context, key, localPath string) (string, error) {
	dst := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", &Error{Op: "Put", Backend: "local", Key: key, Err: err}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp.*")
	if err != nil {
		return "", &Error{Op: "Put", Backend: "local", Key: key, Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return "", &Error{Op: "Put", Backend: "local", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &Error{Op: "Put", Backend: "local", Key: key, Err: err}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", &Error{Op: "Put", Backend: "local", Key: key, Err: err}
	}
	return s.URL(key), nil
}

// URL は key の公開URLを返します。
func (s *LocalStore) URL(key string) string {
	return s.baseURL + "/" + cleanKey(key)
}

func (s *LocalStore) pathFor(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(cleanKey(key)))
}

// cleanKey はキーを root 外を指さない相対パスに正規化します。
func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}
