package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"kbqa/kb"
)

const (
	// HNSW build parameters for the RediSearch index.
	defaultEFConstruction = 200
	defaultM              = 16

	// Field names in the Redis hash.
	fieldText           = "text"
	fieldVector         = "vector"
	fieldDocumentID     = "document_id"
	fieldOrganizationID = "organization_id"
	fieldCategory       = "category"
	fieldType           = "type"
	fieldTitle          = "title"
	fieldChunkIndex     = "chunk_index"
	fieldCreatedAt      = "created_at"
	fieldMetadata       = "metadata"
	fieldScore          = "score"
)

// RedisStore implements Store on Redis with a RediSearch HNSW vector index.
type RedisStore struct {
	client       *redis.Client
	config       StoreConfig
	log          *slog.Logger
	mu           sync.Mutex
	indexCreated bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	PoolSize       int
	IndexName      string
	KeyPrefix      string
	VectorDim      int
	BatchSize      int
	EFConstruction int
	M              int
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	sc := DefaultStoreConfig()
	return RedisConfig{
		Addr:           "localhost:6379",
		PoolSize:       10,
		IndexName:      sc.IndexName,
		KeyPrefix:      sc.KeyPrefix,
		VectorDim:      sc.EmbeddingDim,
		BatchSize:      sc.BatchSize,
		EFConstruction: defaultEFConstruction,
		M:              defaultM,
	}
}

// NewRedisStore connects to Redis and ensures the vector index exists.
func NewRedisStore(ctx context.Context, cfg RedisConfig, log *slog.Logger) (*RedisStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultStoreConfig().BatchSize
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultStoreConfig().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStore{
		client: client,
		config: StoreConfig{
			EmbeddingDim: cfg.VectorDim,
			IndexName:    cfg.IndexName,
			KeyPrefix:    cfg.KeyPrefix,
			BatchSize:    cfg.BatchSize,
		},
		log: log,
	}

	if err := store.ensureIndex(ctx, cfg.EFConstruction, cfg.M); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

// EnsureIndex creates the HNSW index if it does not exist.
func (s *RedisStore) EnsureIndex(ctx context.Context) error {
	return s.ensureIndex(ctx, defaultEFConstruction, defaultM)
}

func (s *RedisStore) ensureIndex(ctx context.Context, ef, m int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexCreated {
		return nil
	}

	indexName := s.config.IndexName
	if _, err := s.client.Do(ctx, "FT.INFO", indexName).Result(); err == nil {
		s.indexCreated = true
		return nil
	}

	if ef <= 0 {
		ef = defaultEFConstruction
	}
	if m <= 0 {
		m = defaultM
	}

	_, err := s.client.Do(ctx, "FT.CREATE", indexName,
		"ON", "HASH",
		"PREFIX", "1", s.config.KeyPrefix,
		"SCHEMA",
		fieldVector, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.config.EmbeddingDim),
		"DISTANCE_METRIC", "COSINE",
		"EF_CONSTRUCTION", strconv.Itoa(ef),
		"M", strconv.Itoa(m),
		fieldText, "TEXT",
		fieldTitle, "TEXT",
		fieldDocumentID, "TAG",
		fieldOrganizationID, "TAG",
		fieldCategory, "TAG",
		fieldType, "TAG",
		fieldChunkIndex, "NUMERIC",
	).Result()
	if err != nil {
		return kb.IndexStateError("ensure_index", fmt.Errorf("failed to create index %s: %w", indexName, err))
	}

	s.indexCreated = true
	return nil
}

// Upsert writes entries to Redis in pipelined batches. Keys derive from the
// deterministic entry ids, so re-ingesting an unchanged document is a no-op
// overwrite rather than a duplicate.
func (s *RedisStore) Upsert(ctx context.Context, entries []kb.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	for start := 0; start < len(entries); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(entries) {
			end = len(entries)
		}

		pipe := s.client.Pipeline()
		for _, entry := range entries[start:end] {
			if len(entry.Vector) != s.config.EmbeddingDim {
				return kb.InputErrorf("upsert", "entry %s has dimension %d, index expects %d",
					entry.ID, len(entry.Vector), s.config.EmbeddingDim)
			}

			metadataJSON, _ := json.Marshal(entry.Metadata)
			pipe.HSet(ctx, s.config.KeyPrefix+entry.ID,
				fieldText, entry.Text,
				fieldVector, encodeVector(entry.Vector),
				fieldDocumentID, metaString(entry.Metadata, "document_id"),
				fieldOrganizationID, metaString(entry.Metadata, "organization_id"),
				fieldCategory, metaString(entry.Metadata, "category"),
				fieldType, metaString(entry.Metadata, "type"),
				fieldTitle, metaString(entry.Metadata, "title"),
				fieldChunkIndex, metaInt(entry.Metadata, "chunk_index"),
				fieldCreatedAt, metaString(entry.Metadata, "created_at"),
				fieldMetadata, metadataJSON,
			)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return kb.CapabilityError("upsert", fmt.Errorf("failed to write batch: %w", err))
		}
	}
	return nil
}

// Query runs a KNN search, optionally constrained by tag filters. Filters
// apply during the search, so a filtered query can never surface another
// tenant's chunks regardless of their scores.
func (s *RedisStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]kb.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	if len(vector) != s.config.EmbeddingDim {
		return nil, kb.InputErrorf("query", "query vector dimension %d, index expects %d",
			len(vector), s.config.EmbeddingDim)
	}

	prefilter, err := buildTagFilter(filter)
	if err != nil {
		return nil, err
	}

	queryStr := fmt.Sprintf("%s=>[KNN %d @%s $query_vector AS %s]", prefilter, topK, fieldVector, fieldScore)

	result, err := s.client.Do(ctx, "FT.SEARCH", s.config.IndexName, queryStr,
		"PARAMS", "2", "query_vector", encodeVector(vector),
		"RETURN", "9", fieldScore, fieldText, fieldTitle, fieldDocumentID,
		fieldOrganizationID, fieldCategory, fieldType, fieldChunkIndex, fieldMetadata,
		"SORTBY", fieldScore, "ASC",
		"LIMIT", "0", strconv.Itoa(topK),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, kb.IndexStateError("query", fmt.Errorf("vector search failed: %w", err))
	}

	return s.parseSearchResults(result), nil
}

// buildTagFilter renders the attribute filter as a RediSearch tag
// pre-filter expression, "*" when no filter is supplied.
func buildTagFilter(filter map[string]string) (string, error) {
	if len(filter) == 0 {
		return "*", nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !filterableFields[k] {
			return "", kb.IndexStateError("query", fmt.Errorf("field %q is not filterable", k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, fmt.Sprintf("@%s:{%s}", k, escapeTagValue(filter[k])))
	}
	return "(" + strings.Join(clauses, " ") + ")", nil
}

// parseSearchResults decodes the FT.SEARCH array reply: a count followed by
// alternating key and field-list elements. The KNN score field holds the
// cosine distance; similarity is 1 - distance.
func (s *RedisStore) parseSearchResults(result any) []kb.SearchResult {
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return []kb.SearchResult{}
	}

	var results []kb.SearchResult
	for i := 1; i+1 < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		fields, ok := values[i+1].([]any)
		if !ok {
			continue
		}

		res := kb.SearchResult{
			ChunkID:  strings.TrimPrefix(key, s.config.KeyPrefix),
			Metadata: make(map[string]any),
		}
		for j := 0; j+1 < len(fields); j += 2 {
			name, ok := fields[j].(string)
			if !ok {
				continue
			}
			value, _ := fields[j+1].(string)

			switch name {
			case fieldScore:
				if dist, err := strconv.ParseFloat(value, 32); err == nil {
					res.Score = 1 - float32(dist)
				}
			case fieldText:
				res.Text = value
			case fieldMetadata:
				var meta map[string]any
				if err := json.Unmarshal([]byte(value), &meta); err == nil {
					for k, v := range meta {
						res.Metadata[k] = v
					}
				}
			case fieldChunkIndex:
				if n, err := strconv.Atoi(value); err == nil {
					res.Metadata[name] = n
				}
			default:
				if _, exists := res.Metadata[name]; !exists {
					res.Metadata[name] = value
				}
			}
		}
		delete(res.Metadata, "text")
		results = append(results, res)
	}

	if results == nil {
		return []kb.SearchResult{}
	}
	return results
}

// deletePageSize bounds how many keys one delete-side search returns; larger
// documents are removed page by page.
const deletePageSize = 10000

// DeleteByDocument removes every chunk stored for a document id, paging until
// the index holds none, so a shrunk re-ingest cannot leave stale chunks
// behind a result cap.
func (s *RedisStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return kb.InputErrorf("delete_by_document", "document id cannot be empty")
	}

	query := fmt.Sprintf("@%s:{%s}", fieldDocumentID, escapeTagValue(documentID))
	for {
		result, err := s.client.Do(ctx, "FT.SEARCH", s.config.IndexName, query,
			"NOCONTENT",
			"LIMIT", "0", strconv.Itoa(deletePageSize),
			"DIALECT", "2",
		).Result()
		if err != nil {
			return kb.IndexStateError("delete_by_document",
				fmt.Errorf("failed to find chunks for document %s: %w", documentID, err))
		}

		keys := searchKeys(result)
		if len(keys) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return kb.CapabilityError("delete_by_document", err)
		}
		if len(keys) < deletePageSize {
			return nil
		}
	}
}

// searchKeys extracts the key names from a NOCONTENT FT.SEARCH reply: a
// count followed by one element per key.
func searchKeys(result any) []string {
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return nil
	}
	var keys []string
	for i := 1; i < len(values); i++ {
		if key, ok := values[i].(string); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Count returns the number of indexed entries, read from FT.INFO.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	info, err := s.client.Do(ctx, "FT.INFO", s.config.IndexName).Result()
	if err != nil {
		return 0, kb.IndexStateError("count", err)
	}

	values, ok := info.([]any)
	if !ok {
		return 0, nil
	}
	for i := 0; i+1 < len(values); i += 2 {
		if key, ok := values[i].(string); ok && key == "num_docs" {
			switch v := values[i+1].(type) {
			case int64:
				return v, nil
			case string:
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					return n, nil
				}
			}
		}
	}
	return 0, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// encodeVector encodes a float32 vector as the little-endian byte blob
// RediSearch expects for FLOAT32 vector fields.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// escapeTagValue escapes characters RediSearch treats specially inside TAG
// values.
func escapeTagValue(value string) string {
	var sb strings.Builder
	for _, r := range value {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';',
			'!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+',
			'=', '~', '|', ' ', '/', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
