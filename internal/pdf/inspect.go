package pdf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// SourceFileMeta は入力PDFの基本メタデータを表します。
// ページ数を読めなかった場合 Pages は 0 で、理由は PageCountErr に入ります。
type SourceFileMeta struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Pages        int    `json:"pages"`
	PageCountErr error  `json:"-"`
}

// InspectFile はファイルがPDFであることを確認し、ページ数などを返します。
// pdfcpu で解析できないPDFはエラーにせず、PageCountErr に記録します。
func InspectFile(path string) (*SourceFileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect input type: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("source is not a PDF (detected %s)", mtype.String()), nil)
	}

	meta := &SourceFileMeta{
		Name: filepath.Base(path),
		Size: info.Size(),
	}
	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		meta.PageCountErr = fmt.Errorf("count pages: %w", err)
		return meta, nil
	}
	meta.Pages = pages
	return meta, nil
}
