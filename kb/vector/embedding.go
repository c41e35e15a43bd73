package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/embedding"

	"kbqa/kb"
)

const defaultEmbedBatchSize = 100

// EmbeddingService wraps an embedding model for vector generation. It owns
// no state between calls; chunks pass through it on the way to the index.
type EmbeddingService struct {
	embedder  embedding.Embedder
	dim       int
	batchSize int
	log       *slog.Logger
}

// NewEmbeddingService creates a new embedding service. dim is the fixed
// dimensionality of the deployment's embedding model; every produced vector
// is checked against it.
func NewEmbeddingService(embedder embedding.Embedder, dim, batchSize int, log *slog.Logger) *EmbeddingService {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &EmbeddingService{
		embedder:  embedder,
		dim:       dim,
		batchSize: batchSize,
		log:       log,
	}
}

// Dimension returns the embedding dimension.
func (s *EmbeddingService) Dimension() int {
	return s.dim
}

// EmbedChunks converts chunks into embedded chunks, batching calls to the
// embedding model. A failed batch is logged and dropped rather than retried,
// so ingestion can succeed partially; output order matches input order for
// every chunk that survives. Only when every batch fails does the call
// return an error.
func (s *EmbeddingService) EmbedChunks(ctx context.Context, chunks []kb.Chunk) ([]kb.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	embedded := make([]kb.EmbeddedChunk, 0, len(chunks))
	var lastErr error
	failed := 0

	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.EmbedStrings(ctx, texts)
		if err != nil {
			s.log.Warn("embedding batch failed, dropping its chunks",
				"document_id", batch[0].DocumentID,
				"batch_start", start,
				"batch_size", len(batch),
				"error", err)
			lastErr = err
			failed++
			continue
		}
		if len(vectors) != len(batch) {
			s.log.Warn("embedding batch returned wrong vector count, dropping its chunks",
				"expected", len(batch), "got", len(vectors))
			lastErr = fmt.Errorf("expected %d vectors, got %d", len(batch), len(vectors))
			failed++
			continue
		}

		for i, vec := range vectors {
			converted, err := s.convert(vec)
			if err != nil {
				return nil, kb.CapabilityError("embed", err)
			}
			embedded = append(embedded, kb.EmbeddedChunk{Chunk: batch[i], Vector: converted})
		}
	}

	if len(embedded) == 0 && lastErr != nil {
		return nil, kb.CapabilityError("embed", fmt.Errorf("all %d embedding batches failed: %w", failed, lastErr))
	}
	return embedded, nil
}

// EmbedQuery embeds a single query text. Unlike document embedding, a
// failure here is fatal to the query.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, kb.InputErrorf("embed_query", "query text cannot be empty")
	}

	vectors, err := s.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, kb.CapabilityError("embed_query", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, kb.CapabilityError("embed_query", fmt.Errorf("empty embedding returned"))
	}

	converted, err := s.convert(vectors[0])
	if err != nil {
		return nil, kb.CapabilityError("embed_query", err)
	}
	return converted, nil
}

// convert narrows a model vector to float32 and enforces the configured
// dimensionality. Mixing dimensionalities in one index is invalid, so a
// mismatch is rejected here, at ingestion, not at query time.
func (s *EmbeddingService) convert(vec []float64) ([]float32, error) {
	if s.dim > 0 && len(vec) != s.dim {
		return nil, fmt.Errorf("embedding dimension %d does not match configured dimension %d", len(vec), s.dim)
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out, nil
}
