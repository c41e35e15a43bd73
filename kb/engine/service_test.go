package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbqa/kb"
	"kbqa/kb/parser"
	"kbqa/kb/vector"
	"kbqa/pubsub"
)

const testDim = 32

type fixture struct {
	svc      *Service
	store    *vector.MemoryStore
	embedder *hashEmbedder
	chat     *scriptedChat
}

func newFixture(t *testing.T, chatReply string) *fixture {
	t.Helper()

	cfg := kb.DefaultConfig()
	cfg.EmbeddingDim = testDim
	cfg.ChunkSize = 200
	cfg.ChunkOverlap = 40
	cfg.MinChunkSize = 10

	embedder := &hashEmbedder{dim: testDim}
	store := vector.NewMemoryStore(testDim)
	chat := &scriptedChat{reply: chatReply}
	embedSvc := vector.NewEmbeddingService(embedder, testDim, cfg.EmbedBatchSize, nil)

	return &fixture{
		svc:      New(cfg, parser.DefaultRegistry(), embedSvc, store, chat, nil),
		store:    store,
		embedder: embedder,
		chat:     chat,
	}
}

func refundMeta() kb.DocumentMeta {
	return kb.DocumentMeta{
		DocumentID:     "doc1",
		Title:          "Refund Policy",
		Category:       "billing",
		OrganizationID: "org-1",
	}
}

func orgFilter() map[string]string {
	return map[string]string{"organization_id": "org-1"}
}

func TestIngestAndAskRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "Refunds are processed within 5 business days.")

	doc := "Refunds are processed within 5 business days. Contact support for exceptions."
	result, err := f.svc.Ingest(ctx, strings.NewReader(doc), parser.FileTypeTXT, refundMeta())
	require.NoError(t, err)
	assert.Equal(t, kb.StatusSuccess, result.Status)
	assert.Equal(t, 1, result.ChunksProcessed)
	assert.Equal(t, 1, result.EmbeddingsStored)

	// Retrieval finds the chunk with a positive score.
	matches, err := f.svc.Search(ctx, "How long do refunds take?", 5, orgFilter())
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "doc1_chunk_0", matches[0].ChunkID)
	assert.Greater(t, matches[0].Score, float32(0))
	assert.Contains(t, matches[0].Text, "5 business days")

	// The grounded answer cites the chunk it reused.
	answer, err := f.svc.Ask(ctx, "How long do refunds take?", 5, orgFilter(), nil)
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "5 business days")
	assert.Greater(t, answer.ConfidenceScore, 0.0)
	require.NotEmpty(t, answer.Citations)
	assert.Equal(t, "doc1_chunk_0", answer.Citations[0].ChunkID)
	assert.Equal(t, "Refund Policy", answer.Citations[0].DocumentTitle)
}

func TestIngestRejectsUnsupportedFormat(t *testing.T) {
	f := newFixture(t, "")

	result, err := f.svc.Ingest(context.Background(), strings.NewReader("cells"),
		parser.FileTypeFromString("xlsx"), refundMeta())

	require.Error(t, err)
	assert.True(t, kb.IsInput(err))
	assert.Equal(t, kb.StatusError, result.Status)
	assert.Contains(t, result.Message, "unsupported")
	assert.Zero(t, f.embedder.calls, "rejected before the embedding capability is touched")
}

func TestIngestRejectsMissingMetadata(t *testing.T) {
	f := newFixture(t, "")

	meta := kb.DocumentMeta{DocumentID: "doc1", Title: "t"}
	result, err := f.svc.Ingest(context.Background(), strings.NewReader("text"), parser.FileTypeTXT, meta)

	require.Error(t, err)
	assert.True(t, kb.IsInput(err))
	assert.Equal(t, kb.StatusError, result.Status)
}

func TestIngestRejectsEmptyExtraction(t *testing.T) {
	f := newFixture(t, "")

	result, err := f.svc.Ingest(context.Background(), strings.NewReader("   \n  "), parser.FileTypeTXT, refundMeta())

	require.Error(t, err, "zero chunks is an ingestion failure, not a silent success")
	assert.True(t, kb.IsInput(err))
	assert.Equal(t, kb.StatusError, result.Status)
	assert.Zero(t, result.ChunksProcessed)
}

func TestIngestDerivesDocumentID(t *testing.T) {
	f := newFixture(t, "")

	meta := refundMeta()
	meta.DocumentID = ""
	result, err := f.svc.Ingest(context.Background(), strings.NewReader("Some document body."), parser.FileTypeTXT, meta)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Meta.DocumentID, "a stable id is derived when the caller supplies none")
}

func TestIngestUsesExtractedTitle(t *testing.T) {
	f := newFixture(t, "")

	meta := refundMeta()
	meta.Title = ""
	doc := "Refund Handbook\nRefunds are processed within 5 business days."
	result, err := f.svc.Ingest(context.Background(), strings.NewReader(doc), parser.FileTypeTXT, meta)
	require.NoError(t, err)
	assert.Equal(t, "Refund Handbook", result.Meta.Title,
		"a title carried by the document stands in for an omitted one")
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	doc := strings.Repeat("Refund policy paragraph with plenty of words to split on. ", 20)
	first, err := f.svc.Ingest(ctx, strings.NewReader(doc), parser.FileTypeTXT, refundMeta())
	require.NoError(t, err)
	require.Greater(t, first.ChunksProcessed, 1)

	countAfterFirst, err := f.store.Count(ctx)
	require.NoError(t, err)

	second, err := f.svc.Ingest(ctx, strings.NewReader(doc), parser.FileTypeTXT, refundMeta())
	require.NoError(t, err)
	assert.Equal(t, first.ChunksProcessed, second.ChunksProcessed)

	countAfterSecond, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, countAfterFirst, countAfterSecond, "re-ingesting unchanged content adds nothing")
}

func TestReingestShrunkDocumentLeavesNoStaleChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	long := strings.Repeat("A long refund policy paragraph with many words in it. ", 30)
	first, err := f.svc.Ingest(ctx, strings.NewReader(long), parser.FileTypeTXT, refundMeta())
	require.NoError(t, err)
	require.Greater(t, first.ChunksProcessed, 2)

	short := "A much shorter refund policy."
	second, err := f.svc.Ingest(ctx, strings.NewReader(short), parser.FileTypeTXT, refundMeta())
	require.NoError(t, err)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(second.ChunksProcessed), count,
		"chunks from the longer previous version must not survive re-ingestion")
}

func TestIngestPartialBatchFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	// Shrink batches so the document spans several embedding calls, then
	// fail exactly one of them.
	f.svc.embed = vector.NewEmbeddingService(f.embedder, testDim, 2, nil)
	f.embedder.failCalls = map[int]bool{2: true}

	doc := strings.Repeat("Billing policy sentence with a healthy number of words inside. ", 40)
	result, err := f.svc.Ingest(ctx, strings.NewReader(doc), parser.FileTypeTXT, refundMeta())
	require.NoError(t, err)

	assert.Equal(t, kb.StatusSuccess, result.Status, "partial ingestion is not a hard failure")
	require.Greater(t, result.ChunksProcessed, 4)
	assert.Equal(t, result.ChunksProcessed-2, result.EmbeddingsStored,
		"the dropped batch is reflected in the stored count")
}

func TestSearchRequiresOrganizationFilter(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.Search(context.Background(), "anything", 5, nil)
	require.Error(t, err)
	assert.True(t, kb.IsInput(err))

	_, err = f.svc.Search(context.Background(), "anything", 5, map[string]string{"category": "billing"})
	require.Error(t, err)
	assert.True(t, kb.IsInput(err))
}

func TestSearchTenantIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	_, err := f.svc.Ingest(ctx, strings.NewReader("Refunds are processed within 5 business days."),
		parser.FileTypeTXT, refundMeta())
	require.NoError(t, err)

	otherMeta := refundMeta()
	otherMeta.DocumentID = "doc2"
	otherMeta.OrganizationID = "org-2"
	_, err = f.svc.Ingest(ctx, strings.NewReader("Refunds are processed within 5 business days."),
		parser.FileTypeTXT, otherMeta)
	require.NoError(t, err)

	matches, err := f.svc.Search(ctx, "How long do refunds take?", 10, orgFilter())
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, "org-1", m.Metadata["organization_id"],
			"a filtered query never surfaces another tenant's chunks")
	}
}

func TestSearchClampsTopK(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	for i := 0; i < 8; i++ {
		meta := refundMeta()
		meta.DocumentID = fmt.Sprintf("doc%d", i)
		_, err := f.svc.Ingest(ctx, strings.NewReader(fmt.Sprintf("Refund policy variant %d text body.", i)),
			parser.FileTypeTXT, meta)
		require.NoError(t, err)
	}

	matches, err := f.svc.Search(ctx, "refund policy", 0, orgFilter())
	require.NoError(t, err)
	assert.Len(t, matches, f.svc.cfg.DefaultTopK, "topK defaults when unset")

	matches, err = f.svc.Search(ctx, "refund policy", 1000, orgFilter())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), f.svc.cfg.MaxTopK)
}

func TestAskWithoutKnowledgeRefuses(t *testing.T) {
	f := newFixture(t, "should never be used")

	answer, err := f.svc.Ask(context.Background(), "What is the meaning of life?", 5, orgFilter(), nil)
	require.NoError(t, err)

	assert.Equal(t, RefusalAnswer, answer.Answer)
	assert.Empty(t, answer.Citations)
	assert.Zero(t, answer.ConfidenceScore)
	assert.Zero(t, f.chat.calls, "no generation without grounding")
}

func TestAskDegradesOnIndexFailure(t *testing.T) {
	f := newFixture(t, "should never be used")

	// An unfilterable field makes the store reject the query; Q&A must
	// degrade to the refusal answer rather than crash.
	filters := map[string]string{"organization_id": "org-1", "word_count": "3"}
	answer, err := f.svc.Ask(context.Background(), "anything", 5, filters, nil)
	require.NoError(t, err)
	assert.Equal(t, RefusalAnswer, answer.Answer)
	assert.Zero(t, answer.ConfidenceScore)
}

func TestIngestPublishesLifecycleEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, "")
	defer f.svc.Shutdown()

	events := f.svc.Events().Subscribe(ctx)

	_, err := f.svc.Ingest(ctx, strings.NewReader("Refunds take 5 business days."), parser.FileTypeTXT, refundMeta())
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, pubsub.IngestCompleted, e.Type)
		assert.Equal(t, "doc1", e.Payload.Meta.DocumentID)
		assert.Equal(t, 1, e.Payload.EmbeddingsStored)
	case <-time.After(time.Second):
		t.Fatal("no event after successful ingestion")
	}

	_, err = f.svc.Ingest(ctx, strings.NewReader("x"), parser.FileTypeFromString("xlsx"), refundMeta())
	require.Error(t, err)

	select {
	case e := <-events:
		assert.Equal(t, pubsub.IngestFailed, e.Type)
		assert.Equal(t, kb.StatusError, e.Payload.Status)
	case <-time.After(time.Second):
		t.Fatal("no event after rejected ingestion")
	}
}

func TestAskPropagatesInputErrors(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.Ask(context.Background(), "anything", 5, nil, nil)
	require.Error(t, err)
	assert.True(t, kb.IsInput(err))
}
