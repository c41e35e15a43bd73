package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DocxParser handles Word documents (.docx). A DOCX file is a ZIP archive;
// the paragraph text lives in word/document.xml and the document title, when
// present, in docProps/core.xml.
type DocxParser struct{}

// NewDocxParser creates a new DOCX parser.
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

// documentXML mirrors the structure of word/document.xml.
type documentXML struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

// coreXML mirrors the structure of docProps/core.xml.
type coreXML struct {
	Title string `xml:"title"`
}

// Parse extracts paragraph text from the reader, joining paragraphs with
// newline separators.
func (p *DocxParser) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read docx: %w", err)
	}

	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx archive: %w", err)
	}

	content, paragraphs, err := extractDocumentText(archive)
	if err != nil {
		return nil, err
	}

	title := extractCoreTitle(archive)
	if title == "" {
		title = ExtractTitle(content, "")
	}

	return &Document{
		Content: content,
		Title:   title,
		Metadata: map[string]any{
			"paragraph_count": paragraphs,
			"file_size":       len(data),
		},
	}, nil
}

// FileType returns the file type this parser handles.
func (p *DocxParser) FileType() FileType {
	return FileTypeDocx
}

// extractDocumentText pulls paragraph text out of word/document.xml.
func extractDocumentText(archive *zip.Reader) (string, int, error) {
	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", 0, fmt.Errorf("failed to open document.xml: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", 0, fmt.Errorf("failed to read document.xml: %w", err)
		}

		var doc documentXML
		if err := xml.Unmarshal(raw, &doc); err != nil {
			return "", 0, fmt.Errorf("failed to parse document.xml: %w", err)
		}

		var sb strings.Builder
		for i, para := range doc.Body.Paragraphs {
			if i > 0 {
				sb.WriteString("\n")
			}
			for _, run := range para.Runs {
				for _, t := range run.Text {
					sb.WriteString(t.Content)
				}
			}
		}
		return strings.TrimSpace(sb.String()), len(doc.Body.Paragraphs), nil
	}
	return "", 0, fmt.Errorf("docx archive has no word/document.xml")
}

// extractCoreTitle reads the document title from docProps/core.xml, if any.
func extractCoreTitle(archive *zip.Reader) string {
	for _, file := range archive.File {
		if file.Name != "docProps/core.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return ""
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return ""
		}

		var core coreXML
		if err := xml.Unmarshal(raw, &core); err == nil {
			return strings.TrimSpace(core.Title)
		}
		return ""
	}
	return ""
}
