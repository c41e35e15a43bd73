// Package kb defines the data model shared by the knowledge base pipeline:
// chunks produced during ingestion, entries persisted in the vector index,
// and the results returned by retrieval and answer synthesis.
package kb

import (
	"fmt"
	"strings"
)

// DocumentMeta carries the metadata attached to every chunk of a document.
// The named fields are required (or well-known) across all deployments;
// anything deployment-specific goes into Extra.
type DocumentMeta struct {
	DocumentID     string         `json:"document_id"`
	Title          string         `json:"title"`
	Category       string         `json:"category"`
	OrganizationID string         `json:"organization_id"`
	Type           string         `json:"type,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Author         string         `json:"author,omitempty"`
	Description    string         `json:"description,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Validate checks that the fields required for ingestion are present.
// DocumentID is not checked here because the service derives one when absent.
func (m DocumentMeta) Validate() error {
	var missing []string
	if strings.TrimSpace(m.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(m.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(m.OrganizationID) == "" {
		missing = append(missing, "organization_id")
	}
	if len(missing) > 0 {
		return InputErrorf("metadata", "missing required metadata fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Chunk is a contiguous slice of a source document's text, the atomic unit
// of embedding and retrieval. Chunks are immutable once created; re-ingesting
// a document produces a fresh set.
type Chunk struct {
	Text        string       `json:"text"`
	DocumentID  string       `json:"document_id"`
	ChunkIndex  int          `json:"chunk_index"`
	TotalChunks int          `json:"total_chunks"`
	WordCount   int          `json:"word_count"`
	CreatedAt   string       `json:"created_at"`
	Meta        DocumentMeta `json:"meta"`
}

// ID returns the deterministic chunk identifier. Re-ingesting an unchanged
// document yields the same ids, which makes index upserts idempotent.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s_chunk_%d", c.DocumentID, c.ChunkIndex)
}

// MetadataMap flattens the chunk metadata into the attribute map persisted
// alongside the vector. Text is not included; the index stores it separately.
func (c Chunk) MetadataMap() map[string]any {
	meta := map[string]any{
		"document_id":     c.DocumentID,
		"chunk_index":     c.ChunkIndex,
		"total_chunks":    c.TotalChunks,
		"word_count":      c.WordCount,
		"created_at":      c.CreatedAt,
		"title":           c.Meta.Title,
		"category":        c.Meta.Category,
		"organization_id": c.Meta.OrganizationID,
	}
	if c.Meta.Type != "" {
		meta["type"] = c.Meta.Type
	}
	if len(c.Meta.Tags) > 0 {
		meta["tags"] = c.Meta.Tags
	}
	if c.Meta.Author != "" {
		meta["author"] = c.Meta.Author
	}
	for k, v := range c.Meta.Extra {
		if _, taken := meta[k]; !taken {
			meta[k] = v
		}
	}
	return meta
}

// EmbeddedChunk is a chunk plus its embedding vector. It exists only between
// the embedding stage and persistence; the index owns the data afterwards.
type EmbeddedChunk struct {
	Chunk
	Vector []float32
}

// Entry converts an embedded chunk into the unit persisted by the vector index.
func (c EmbeddedChunk) Entry() IndexEntry {
	return IndexEntry{
		ID:       c.ID(),
		Vector:   c.Vector,
		Text:     c.Text,
		Metadata: c.MetadataMap(),
	}
}

// IndexEntry is the persisted unit of the vector index.
type IndexEntry struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// SearchResult is the read-only projection returned by retrieval. Score is
// a similarity, higher means more relevant; the exact range depends on the
// index metric but ordering is always monotonic.
type SearchResult struct {
	ChunkID  string         `json:"chunk_id"`
	Score    float32        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// MetaString returns a string attribute from the result metadata.
func (r SearchResult) MetaString(key string) string {
	if v, ok := r.Metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// Citation links a generated answer back to a source chunk it drew on.
type Citation struct {
	DocumentTitle  string  `json:"document_title"`
	DocumentType   string  `json:"document_type"`
	RelevanceScore float32 `json:"relevance_score"`
	ChunkID        string  `json:"chunk_id"`
}

// AnswerResult is the outcome of a grounded Q&A call.
type AnswerResult struct {
	Answer          string     `json:"answer"`
	Citations       []Citation `json:"citations"`
	SourcesUsed     int        `json:"sources_used"`
	ConfidenceScore float64    `json:"confidence_score"`
	Query           string     `json:"query"`
}

// Ingestion statuses reported to callers.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// IngestResult is the structured outcome of an ingestion call. A reduced
// EmbeddingsStored with StatusSuccess signals partial embedding failure.
type IngestResult struct {
	Status           string       `json:"status"`
	Message          string       `json:"message,omitempty"`
	ChunksProcessed  int          `json:"chunks_processed"`
	EmbeddingsStored int          `json:"embeddings_stored"`
	Meta             DocumentMeta `json:"metadata"`
}
