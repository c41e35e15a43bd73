// Package engine wires the pipeline stages into the two operations the
// knowledge base exposes: ingestion (parse, chunk, embed, store) and
// query-time retrieval with grounded answer synthesis.
package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"

	"kbqa/kb"
	"kbqa/kb/parser"
	"kbqa/kb/vector"
	"kbqa/pubsub"
)

// Service executes the ingestion and query pipelines. Every dependency is
// injected explicitly; construct one Service at process start and share it,
// it is safe for concurrent use.
type Service struct {
	cfg     kb.Config
	parsers *parser.Registry
	embed   *vector.EmbeddingService
	store   vector.Store
	chat    model.BaseChatModel
	events  *pubsub.Broker[kb.IngestResult]
	log     *slog.Logger
}

// New creates a Service from its collaborators.
func New(cfg kb.Config, parsers *parser.Registry, embed *vector.EmbeddingService, store vector.Store, chat model.BaseChatModel, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		parsers: parsers,
		embed:   embed,
		store:   store,
		chat:    chat,
		events:  pubsub.NewBroker[kb.IngestResult](),
		log:     log,
	}
}

// Events exposes the ingestion lifecycle stream. Every Ingest call publishes
// one IngestCompleted or IngestFailed event carrying its result.
func (s *Service) Events() pubsub.Subscriber[kb.IngestResult] {
	return s.events
}

// Shutdown closes the event stream. The service itself holds no other
// resources; the vector store is closed by its owner.
func (s *Service) Shutdown() {
	s.events.Shutdown()
}

// Ingest runs the full ingestion pipeline for one document: extraction,
// normalization, chunking, embedding, and persistence. Failures come back as
// a structured result; a partially embedded document still reports success
// with a reduced EmbeddingsStored count.
func (s *Service) Ingest(ctx context.Context, r io.Reader, format parser.FileType, meta kb.DocumentMeta) (kb.IngestResult, error) {
	if meta.DocumentID == "" {
		meta.DocumentID = uuid.New().String()
	}

	// Resolve the parser before touching the stream so unsupported formats
	// are rejected without any extraction work.
	p, err := s.parsers.Get(format)
	if err != nil {
		return s.failIngest(meta, err), err
	}
	if meta.Type == "" {
		meta.Type = format.String()
	}

	doc, err := p.Parse(ctx, r)
	if err != nil {
		err = kb.InputErrorf("ingest", "failed to extract text: %v", err)
		return s.failIngest(meta, err), err
	}
	if meta.Title == "" && doc.Title != "" {
		meta.Title = doc.Title
	}

	// Validated after extraction so a title the document itself carries can
	// stand in for one the caller omitted.
	if err := meta.Validate(); err != nil {
		return s.failIngest(meta, err), err
	}

	chunks := vector.BuildChunks(doc.Content, meta, s.chunkConfig())
	if len(chunks) == 0 {
		err = kb.InputErrorf("ingest", "document %s produced no chunks; extracted text was empty", meta.DocumentID)
		return s.failIngest(meta, err), err
	}

	embedded, err := s.embed.EmbedChunks(ctx, chunks)
	if err != nil {
		return s.failIngest(meta, err), err
	}

	if err := s.store.EnsureIndex(ctx); err != nil {
		return s.failIngest(meta, err), err
	}

	// Remove chunks from any previous version of this document first, so a
	// re-ingested document that shrank leaves no stale high-index chunks.
	if err := s.store.DeleteByDocument(ctx, meta.DocumentID); err != nil {
		s.log.Warn("failed to clear previous chunks before upsert",
			"document_id", meta.DocumentID, "error", err)
	}

	entries := make([]kb.IndexEntry, len(embedded))
	for i, ec := range embedded {
		entries[i] = ec.Entry()
	}
	if err := s.store.Upsert(ctx, entries); err != nil {
		return s.failIngest(meta, err), err
	}

	if len(embedded) < len(chunks) {
		s.log.Warn("document partially ingested",
			"document_id", meta.DocumentID,
			"chunks", len(chunks),
			"embedded", len(embedded))
	}

	result := kb.IngestResult{
		Status:           kb.StatusSuccess,
		ChunksProcessed:  len(chunks),
		EmbeddingsStored: len(embedded),
		Meta:             meta,
	}
	s.events.Publish(pubsub.IngestCompleted, result)
	return result, nil
}

// Search embeds the query and runs a filtered nearest-neighbor search. It is
// the sole read path into the index, has no side effects, and is safe to
// call concurrently. Index failures degrade to an empty result list.
func (s *Service) Search(ctx context.Context, query string, topK int, filters map[string]string) ([]kb.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, kb.InputErrorf("search", "query cannot be empty")
	}
	// Tenant isolation: a query without an organization filter would see
	// every tenant's chunks.
	if filters["organization_id"] == "" {
		return nil, kb.InputErrorf("search", "organization_id filter is required")
	}

	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}

	queryVec, err := s.embed.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := s.store.Query(ctx, queryVec, topK, filters)
	if err != nil {
		// Missing index or unfilterable field means no knowledge, not a
		// crash; log the cause for operators.
		s.log.Error("vector search failed, degrading to empty result",
			"query", query, "error", err)
		return []kb.SearchResult{}, nil
	}
	return results, nil
}

// Ask answers a question grounded in retrieved context. Capability failures
// on the query path collapse into the refusal answer; only invalid input
// surfaces as an error.
func (s *Service) Ask(ctx context.Context, query string, topK int, filters map[string]string, extra map[string]any) (kb.AnswerResult, error) {
	results, err := s.Search(ctx, query, topK, filters)
	if err != nil {
		if kb.IsInput(err) {
			return kb.AnswerResult{}, err
		}
		s.log.Error("retrieval failed, refusing to answer", "query", query, "error", err)
		results = nil
	}

	return s.GenerateAnswer(ctx, query, results, extra), nil
}

// Count reports how many chunks the index currently holds.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

func (s *Service) chunkConfig() vector.ChunkConfig {
	return vector.ChunkConfig{
		ChunkSize:    s.cfg.ChunkSize,
		ChunkOverlap: s.cfg.ChunkOverlap,
		MinChunkSize: s.cfg.MinChunkSize,
	}
}

func (s *Service) failIngest(meta kb.DocumentMeta, err error) kb.IngestResult {
	result := kb.IngestResult{
		Status:  kb.StatusError,
		Message: err.Error(),
		Meta:    meta,
	}
	s.events.Publish(pubsub.IngestFailed, result)
	return result
}
