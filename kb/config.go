package kb

import (
	"fmt"
	"os"
)

// Config holds the pipeline settings. Construct it once at process start and
// pass it down explicitly; nothing in this module reads global state after
// construction.
type Config struct {
	// IndexName is the logical vector index, one per deployment.
	IndexName string

	// EmbeddingDim is the fixed dimensionality of the embedding model.
	// Vectors of any other length are rejected at ingestion.
	EmbeddingDim int

	ChunkSize    int // target chunk size in characters
	ChunkOverlap int // characters shared between consecutive chunks
	MinChunkSize int // chunks shorter than this are dropped

	EmbedBatchSize  int // texts per embedding call
	UpsertBatchSize int // entries per store write

	DefaultTopK int // matches returned when the caller does not ask for more
	MaxTopK     int // hard cap on requested matches
	ContextTopK int // matches rendered into the prompt context

	Temperature     float32 // chat sampling temperature, near zero for factual answers
	MaxAnswerTokens int     // bound on generated answer length
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		IndexName:       "kb-knowledge",
		EmbeddingDim:    1536,
		ChunkSize:       1000,
		ChunkOverlap:    200,
		MinChunkSize:    50,
		EmbedBatchSize:  100,
		UpsertBatchSize: 100,
		DefaultTopK:     5,
		MaxTopK:         50,
		ContextTopK:     5,
		Temperature:     0.1,
		MaxAnswerTokens: 800,
	}
}

// ConfigFromEnv builds a Config from environment variables, falling back to
// defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.IndexName = getEnvString("KB_INDEX_NAME", cfg.IndexName)
	cfg.EmbeddingDim = getEnvInt("KB_EMBEDDING_DIM", cfg.EmbeddingDim)
	cfg.ChunkSize = getEnvInt("KB_CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getEnvInt("KB_CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.MinChunkSize = getEnvInt("KB_MIN_CHUNK_SIZE", cfg.MinChunkSize)
	cfg.EmbedBatchSize = getEnvInt("KB_EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.UpsertBatchSize = getEnvInt("KB_UPSERT_BATCH_SIZE", cfg.UpsertBatchSize)
	cfg.DefaultTopK = getEnvInt("KB_DEFAULT_TOP_K", cfg.DefaultTopK)
	cfg.MaxTopK = getEnvInt("KB_MAX_TOP_K", cfg.MaxTopK)
	cfg.MaxAnswerTokens = getEnvInt("KB_MAX_ANSWER_TOKENS", cfg.MaxAnswerTokens)
	return cfg
}

// getEnvString reads a string from an environment variable.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer from an environment variable.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return defaultVal
}
