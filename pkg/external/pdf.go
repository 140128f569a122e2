package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxDocumentBytes caps how much of an upload is read into memory.
const DefaultMaxDocumentBytes int64 = 10 << 20

var (
	ErrNotPDF           = errors.New("document is not a PDF")
	ErrDocumentTooLarge = errors.New("document exceeds size limit")
)

// PDFExtractor extracts plain text from PDF documents. Scanned PDFs without a
// text layer yield empty text.
type PDFExtractor struct {
	maxBytes int64
}

// NewPDFExtractor creates an extractor that rejects documents over maxBytes.
func NewPDFExtractor(maxBytes int64) *PDFExtractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	return &PDFExtractor{maxBytes: maxBytes}
}

// ExtractText implements domain.DocumentExtractor. Page texts are joined with
// a newline.
func (e *PDFExtractor) ExtractText(ctx context.Context, r io.Reader) (text string, err error) {
	data, err := io.ReadAll(io.LimitReader(r, e.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	if int64(len(data)) > e.maxBytes {
		return "", ErrDocumentTooLarge
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", ErrNotPDF
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("malformed PDF: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", i, err)
		}
		pages = append(pages, content)
	}

	return strings.Join(pages, "\n"), nil
}
