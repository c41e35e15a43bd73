package vector

import (
	"context"

	"kbqa/kb"
)

// Store is the vector index capability: it owns the persisted chunk vectors
// and performs nearest-neighbor search with attribute filters. All mutation
// goes through Upsert; concurrent upserts to disjoint ids rely on the
// underlying store's per-key atomicity.
type Store interface {
	// EnsureIndex creates the logical index if it does not exist and does
	// nothing if it does. Dimension mismatches are not reconciled; one
	// deployment uses one fixed dimension for its lifetime.
	EnsureIndex(ctx context.Context) error

	// Upsert persists entries in batches. Entry ids are deterministic, so
	// repeated ingestion of an unchanged document overwrites in place.
	Upsert(ctx context.Context, entries []kb.IndexEntry) error

	// Query performs nearest-neighbor search, honoring the optional
	// attribute filter so results never cross tenant or category boundaries.
	// Results come back in descending score order, limited to topK.
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]kb.SearchResult, error)

	// DeleteByDocument removes every chunk persisted for a document id.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Count returns the number of entries in the index.
	Count(ctx context.Context) (int64, error)

	// Close releases any connections or resources.
	Close() error
}

// StoreConfig holds configuration shared by store implementations.
type StoreConfig struct {
	// EmbeddingDim must match the embedding model.
	EmbeddingDim int

	// IndexName is the logical vector index name.
	IndexName string

	// KeyPrefix namespaces stored entries.
	KeyPrefix string

	// BatchSize bounds how many entries one underlying write carries.
	BatchSize int
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EmbeddingDim: 1536,
		IndexName:    "kb-knowledge",
		KeyPrefix:    "kb:",
		BatchSize:    100,
	}
}

// filterableFields are the metadata attributes a query filter may reference.
// organization_id keeps tenants apart; the rest narrow within a tenant.
var filterableFields = map[string]bool{
	"organization_id": true,
	"category":        true,
	"document_id":     true,
	"type":            true,
}
