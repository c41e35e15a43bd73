// Package parser extracts plain text from source documents. Each parser
// consumes a readable byte stream and returns the raw text plus whatever
// metadata the format carries; normalization and chunking happen downstream.
package parser

import (
	"context"
	"io"
	"strings"

	"kbqa/kb"
)

// FileType identifies a supported document format.
type FileType string

const (
	FileTypePDF     FileType = "pdf"
	FileTypeDocx    FileType = "docx"
	FileTypeTXT     FileType = "txt"
	FileTypeUnknown FileType = "unknown"
)

// String returns the string representation of the FileType.
func (ft FileType) String() string {
	return string(ft)
}

// FileTypeFromString converts a caller-supplied format name to a FileType.
func FileTypeFromString(s string) FileType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf":
		return FileTypePDF
	case "docx", "doc":
		return FileTypeDocx
	case "txt", "text", "plain":
		return FileTypeTXT
	default:
		return FileTypeUnknown
	}
}

// Document is the raw extraction result before normalization.
type Document struct {
	Content  string
	Title    string
	Metadata map[string]any
}

// Parser defines the interface for document parsers.
type Parser interface {
	// Parse reads and extracts text from the reader.
	Parse(ctx context.Context, r io.Reader) (*Document, error)

	// FileType returns the file type this parser handles.
	FileType() FileType
}

// Registry holds all registered parsers.
type Registry struct {
	parsers map[FileType]Parser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[FileType]Parser)}
}

// Register adds a parser to the registry.
func (r *Registry) Register(p Parser) {
	r.parsers[p.FileType()] = p
}

// Get returns a parser for the given file type. An unsupported format is an
// input error, reported before any bytes are read.
func (r *Registry) Get(ft FileType) (Parser, error) {
	p, ok := r.parsers[ft]
	if !ok {
		return nil, kb.InputErrorf("parser", "unsupported document format %q", ft)
	}
	return p, nil
}

// Parse extracts text from the reader using the parser for the given format.
func (r *Registry) Parse(ctx context.Context, reader io.Reader, ft FileType) (*Document, error) {
	p, err := r.Get(ft)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, reader)
}

// DefaultRegistry returns a registry with all supported parsers registered.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(NewTxtParser())
	reg.Register(NewPDFParser())
	reg.Register(NewDocxParser())
	return reg
}

// ExtractTitle picks a title from content: the first short non-empty line,
// or the fallback when the content offers nothing usable.
func ExtractTitle(content, fallback string) string {
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) < 100 {
			return line
		}
		break
	}
	return fallback
}
