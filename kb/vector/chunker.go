// Package vector implements the ingestion-side pipeline stages that touch
// embeddings: text normalization and chunking, batched embedding generation,
// and the vector index adapters.
package vector

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"kbqa/kb"
)

// ChunkConfig configures how documents are split into chunks.
type ChunkConfig struct {
	ChunkSize    int // target chunk size in characters
	ChunkOverlap int // characters carried over between consecutive chunks
	MinChunkSize int // chunks shorter than this are dropped
}

// DefaultChunkConfig returns the default chunk configuration.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 50,
	}
}

var (
	newlineRuns = regexp.MustCompile(`\n+`)
	spaceRuns   = regexp.MustCompile(`[ \t]+`)

	// Letters and digits in any script survive normalization; \w would keep
	// ASCII only and erase accented or CJK text. CJK sentence punctuation is
	// kept alongside the basic ASCII set.
	disallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?'"\-。！？，、；：]`)

	quoteNormalizer = strings.NewReplacer(
		"“", `"`, // left double quote
		"”", `"`, // right double quote
		"‘", "'", // left single quote
		"’", "'", // right single quote
	)
)

// Normalize cleans extracted text before chunking: curly quotes become
// straight quotes, runs of newlines and spaces collapse to one, and anything
// outside letters, digits, whitespace and basic punctuation is stripped.
func Normalize(text string) string {
	text = quoteNormalizer.Replace(text)
	text = disallowed.ReplaceAllString(text, "")
	text = newlineRuns.ReplaceAllString(text, "\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// separators, coarsest first. CJK sentences end in 。 with no trailing
// space; the empty string means a hard character split.
var separators = []string{"\n\n", "\n", ". ", "。", " ", ""}

// SplitText splits normalized text into overlapping chunks. Splitting tries
// the coarsest separator first and falls back to finer ones only for
// segments that still exceed the target size; the tail of each chunk is
// carried into the next one so context survives the boundary.
func SplitText(text string, cfg ChunkConfig) []string {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= cfg.ChunkSize {
		return []string{text}
	}

	segments := splitRecursive(text, 0, cfg.ChunkSize)
	return assembleChunks(segments, cfg)
}

// splitRecursive breaks text into segments no longer than size characters,
// preferring the separator at sepIdx and recursing into finer separators for
// any piece that is still too long.
func splitRecursive(text string, sepIdx, size int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	sep := separators[sepIdx]
	if sep == "" {
		return hardSplit(text, size)
	}

	parts := strings.Split(text, sep)
	var out []string
	for i, part := range parts {
		if i < len(parts)-1 {
			// Keep the separator attached so sentence punctuation and
			// paragraph breaks survive reassembly.
			part += sep
		}
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= size {
			out = append(out, part)
			continue
		}
		out = append(out, splitRecursive(part, sepIdx+1, size)...)
	}
	return out
}

// hardSplit cuts text into fixed-size rune windows, the last-resort split for
// content with no usable separators.
func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// assembleChunks greedily packs segments into chunks of at most ChunkSize
// characters, seeding each new chunk with the tail of the previous one.
// Sizes count runes, not bytes, so multi-byte scripts get the same chunk
// budget as ASCII.
func assembleChunks(segments []string, cfg ChunkConfig) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() string {
		chunk := strings.TrimSpace(current.String())
		current.Reset()
		currentLen = 0
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		return chunk
	}

	for _, seg := range segments {
		segLen := utf8.RuneCountInString(seg)
		if currentLen > 0 && currentLen+segLen > cfg.ChunkSize {
			previous := flush()
			if cfg.ChunkOverlap > 0 && previous != "" {
				overlap := tailOverlap(previous, cfg.ChunkOverlap)
				current.WriteString(overlap)
				current.WriteString(" ")
				currentLen = utf8.RuneCountInString(overlap) + 1
			}
		}
		current.WriteString(seg)
		currentLen += segLen
	}
	flush()

	// Drop trailing fragments below the minimum, but never the only chunk.
	if len(chunks) > 1 && cfg.MinChunkSize > 0 {
		kept := chunks[:0]
		for _, c := range chunks {
			if utf8.RuneCountInString(c) >= cfg.MinChunkSize {
				kept = append(kept, c)
			}
		}
		if len(kept) > 0 {
			chunks = kept
		}
	}

	return chunks
}

// tailOverlap returns the last size runes of text, trimmed forward to a word
// boundary when one exists so the overlap never starts mid-word. Slicing on
// runes keeps the seed valid UTF-8 for multi-byte scripts.
func tailOverlap(text string, size int) string {
	if size <= 0 || text == "" {
		return ""
	}
	runes := []rune(text)
	if size >= len(runes) {
		return text
	}

	tail := string(runes[len(runes)-size:])
	if firstSpace := strings.Index(tail, " "); firstSpace > 0 {
		return tail[firstSpace+1:]
	}
	return tail
}

// BuildChunks normalizes content, splits it, and attaches per-chunk metadata.
// Empty content yields an empty slice, which the caller must treat as an
// ingestion failure rather than a silent success.
func BuildChunks(content string, meta kb.DocumentMeta, cfg ChunkConfig) []kb.Chunk {
	pieces := SplitText(Normalize(content), cfg)
	if len(pieces) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	chunks := make([]kb.Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = kb.Chunk{
			Text:        text,
			DocumentID:  meta.DocumentID,
			ChunkIndex:  i,
			TotalChunks: len(pieces),
			WordCount:   len(strings.Fields(text)),
			CreatedAt:   now,
			Meta:        meta,
		}
	}
	return chunks
}
