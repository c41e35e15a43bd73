package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"kbqa/kb"
)

// MemoryStore is a brute-force cosine-similarity Store used by tests and
// local runs without a Redis deployment. It honors the same filter and
// ordering semantics as the Redis adapter.
type MemoryStore struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]kb.IndexEntry
}

// NewMemoryStore creates an in-memory store for vectors of the given
// dimension.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:     dim,
		entries: make(map[string]kb.IndexEntry),
	}
}

// EnsureIndex validates the configured dimension; the map itself needs no
// setup.
func (s *MemoryStore) EnsureIndex(ctx context.Context) error {
	if s.dim <= 0 {
		return kb.IndexStateError("ensure_index", fmt.Errorf("invalid dimension %d", s.dim))
	}
	return nil
}

// Upsert stores entries keyed by id; a repeated id overwrites in place.
func (s *MemoryStore) Upsert(ctx context.Context, entries []kb.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) != s.dim {
			return kb.InputErrorf("upsert", "entry %s has dimension %d, index expects %d",
				e.ID, len(e.Vector), s.dim)
		}
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

// Query scans all entries, applies the filter, and returns the topK matches
// by cosine similarity in descending order.
func (s *MemoryStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]kb.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	if len(vector) != s.dim {
		return nil, kb.InputErrorf("query", "query vector dimension %d, index expects %d",
			len(vector), s.dim)
	}
	for key := range filter {
		if !filterableFields[key] {
			return nil, kb.IndexStateError("query", fmt.Errorf("field %q is not filterable", key))
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []kb.SearchResult
	for _, e := range s.entries {
		if !matchesFilter(e.Metadata, filter) {
			continue
		}
		meta := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		results = append(results, kb.SearchResult{
			ChunkID:  e.ID,
			Score:    cosineSimilarity(vector, e.Vector),
			Text:     e.Text,
			Metadata: meta,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	if results == nil {
		results = []kb.SearchResult{}
	}
	return results, nil
}

// DeleteByDocument removes every entry whose metadata carries the document id.
func (s *MemoryStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if metaString(e.Metadata, "document_id") == documentID {
			delete(s.entries, id)
		}
	}
	return nil
}

// Count returns the number of stored entries.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// matchesFilter reports whether every filter attribute equals the entry's
// metadata value.
func matchesFilter(meta map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		if metaString(meta, key) != want {
			return false
		}
	}
	return true
}

// cosineSimilarity computes the cosine of the angle between two vectors in a
// single pass, 0 when either vector has no magnitude.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
