package pdf

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// translatedOnlyPattern は babeldoc が出力する訳文のみのPDF（mono）です。
	translatedOnlyPattern = "**/*.mono.pdf"
	anyPDFPattern         = "**/*.pdf"
)

// LocateOutput は翻訳後のPDFを探します。訳文のみの mono 版を優先し、
// なければ入力以外で最も新しいPDFを返します。
func LocateOutput(ws *Workspace) (string, error) {
	fsys := os.DirFS(ws.Dir)
	for _, pattern := range []string{translatedOnlyPattern, anyPDFPattern} {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return "", newError(CodeOutputMissing, "failed to search output PDF", err)
		}
		if path := newestExcept(ws.Dir, matches, ws.InputPath); path != "" {
			return path, nil
		}
	}
	return "", newError(CodeOutputMissing, "no output PDF found after translation", nil)
}

func newestExcept(root string, matches []string, exclude string) string {
	type candidate struct {
		path    string
		modUnix int64
	}
	candidates := make([]candidate, 0, len(matches))
	for _, m := range matches {
		full := filepath.Join(root, filepath.FromSlash(m))
		if full == exclude {
			continue
		}
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, candidate{path: full, modUnix: info.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].modUnix != candidates[j].modUnix {
			return candidates[i].modUnix > candidates[j].modUnix
		}
		return candidates[i].path < candidates[j].path
	})
	return candidates[0].path
}
