// Package pdf extracts page-level text from PDF files.
package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"academic-assistant/internal/domain"
)

// Reader extracts pages tagged with the file's base name and 1-based numbers.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// Pages skips pages without extractable text. The underlying parser panics
// on malformed files; that is reported as an error.
func (r *Reader) Pages(ctx context.Context, path string) (pages []domain.Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = nil, fmt.Errorf("pdf: parse %s: %v", filepath.Base(path), rec)
		}
	}()

	f, doc, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdf: open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	source := filepath.Base(path)
	total := doc.NumPage()
	pages = make([]domain.Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := doc.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, textErr := p.GetPlainText(nil)
		if textErr != nil {
			return nil, fmt.Errorf("pdf: %s page %d: %w", source, i, textErr)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, domain.Page{Source: source, Number: i, Text: text})
	}
	return pages, nil
}
