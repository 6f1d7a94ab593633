// Package document extracts plain text from uploaded PDFs.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/tmc/langchaingo/documentloaders"
)

var ErrUnreadableDocument = errors.New("unreadable document")

// Reader loads uploads from storage and returns their text.
type Reader struct {
	files storage.Store
}

func NewReader(files storage.Store) *Reader {
	return &Reader{files: files}
}

// Read returns the normalised text of every page, in page order.
func (r *Reader) Read(ctx context.Context, fileRef string) (text string, err error) {
	f, size, err := r.files.Open(ctx, fileRef)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", fileRef, err)
	}
	defer f.Close()

	// The PDF parser panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrUnreadableDocument, rec)
		}
	}()

	pages, err := documentloaders.NewPDF(f, size).Load(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	var b strings.Builder
	for _, p := range pages {
		b.WriteString(Normalize(p.PageContent))
	}
	return b.String(), nil
}

// Normalize collapses every run of blank lines into a single newline and terminates the page with one.
func Normalize(page string) string {
	for strings.Contains(page, "\n\n") {
		page = strings.ReplaceAll(page, "\n\n", "\n")
	}
	return page + "\n"
}
