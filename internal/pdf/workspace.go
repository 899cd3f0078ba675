package pdf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	inputFilename = "input.pdf"
	outputDirname = "output"
)

// Workspace はジョブ1件分の一時作業ディレクトリです。
//
//	<root>/babeldoc_<jobID>_XXXX/input.pdf
//	<root>/babeldoc_<jobID>_XXXX/output/
type Workspace struct {
	JobID     string
	Dir       string
	InputPath string
	OutputDir string
}

// NewWorkspace は root 配下に作業ディレクトリを作成します。root が空の場合は OS の一時ディレクトリを使います。
func NewWorkspace(root, jobID string) (*Workspace, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create work root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "babeldoc_"+jobID+"_")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	outDir := filepath.Join(dir, outputDirname)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		_ = removeDir(dir)
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Workspace{
		JobID:     jobID,
		Dir:       dir,
		InputPath: filepath.Join(dir, inputFilename),
		OutputDir: outDir,
	}, nil
}

// Remove は作業ディレクトリを削除します。複数回呼び出しても安全です。
func (w *Workspace) Remove() error {
	if w == nil {
		return nil
	}
	return removeDir(w.Dir)
}

func removeDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
