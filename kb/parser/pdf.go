package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser handles PDF files using the pure-Go text extractor from
// github.com/ledongthuc/pdf. A PDF with no text layer (a scanned document)
// produces empty content, which ingestion rejects downstream.
type PDFParser struct{}

// NewPDFParser creates a new PDF parser.
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Parse extracts per-page text from the reader and concatenates the pages
// with newline separators.
func (p *PDFParser) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := reader.NumPage()
	var content strings.Builder
	for i := 1; i <= numPages; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the whole document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		content.WriteString(text)
		content.WriteString("\n")
	}

	extracted := content.String()
	return &Document{
		Content: extracted,
		Title:   ExtractTitle(extracted, ""),
		Metadata: map[string]any{
			"page_count": numPages,
			"file_size":  len(data),
		},
	}, nil
}

// FileType returns the file type this parser handles.
func (p *PDFParser) FileType() FileType {
	return FileTypePDF
}
