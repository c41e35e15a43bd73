package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbqa/kb"
)

func result(id, title string, score float32) kb.SearchResult {
	return kb.SearchResult{
		ChunkID: id,
		Score:   score,
		Text:    "Text of " + id,
		Metadata: map[string]any{
			"title": title,
		},
	}
}

func TestBuildContextOrdersByScore(t *testing.T) {
	results := []kb.SearchResult{
		result("b_chunk_0", "Doc B", 0.4),
		result("a_chunk_0", "Doc A", 0.9),
		result("c_chunk_0", "Doc C", 0.7),
	}

	ctx := BuildContext(results, nil)
	posA := strings.Index(ctx, "Doc A")
	posC := strings.Index(ctx, "Doc C")
	posB := strings.Index(ctx, "Doc B")
	require.True(t, posA >= 0 && posB >= 0 && posC >= 0)
	assert.Less(t, posA, posC, "higher score renders first even when the input is unsorted")
	assert.Less(t, posC, posB)
}

func TestBuildContextCapsSources(t *testing.T) {
	var results []kb.SearchResult
	for i := 0; i < 9; i++ {
		results = append(results, result(fmt.Sprintf("d%d_chunk_0", i), fmt.Sprintf("Doc %d", i), float32(9-i)/10))
	}

	ctx := BuildContext(results, nil)
	assert.Equal(t, maxContextSources, strings.Count(ctx, "Source: "),
		"prompt context is bounded regardless of how many matches were retrieved")
	assert.NotContains(t, ctx, "Doc 5")
}

func TestBuildContextRendersScores(t *testing.T) {
	ctx := BuildContext([]kb.SearchResult{result("a_chunk_0", "Doc A", 0.87345)}, nil)
	assert.Contains(t, ctx, "Source: Doc A (relevance 0.873)")
	assert.Contains(t, ctx, "Text of a_chunk_0")
}

func TestBuildContextExtraContextFirst(t *testing.T) {
	results := []kb.SearchResult{result("a_chunk_0", "Doc A", 0.9)}
	extra := map[string]any{
		"account_type": "premium",
		"open_tickets": 2,
	}

	ctx := BuildContext(results, extra)
	assert.True(t, strings.HasPrefix(ctx, "Caller context:\n"), "caller facts come before retrieved sources")
	assert.Less(t, strings.Index(ctx, "account_type: premium"), strings.Index(ctx, "Source: Doc A"))
	assert.Contains(t, ctx, "open_tickets: 2")
}

func TestBuildContextDeterministic(t *testing.T) {
	results := []kb.SearchResult{
		result("a_chunk_0", "Doc A", 0.9),
		result("b_chunk_0", "Doc B", 0.4),
	}
	extra := map[string]any{"k1": "v1", "k2": "v2", "k3": "v3"}

	first := BuildContext(results, extra)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildContext(results, extra))
	}
}

func TestBuildContextFallsBackToChunkID(t *testing.T) {
	r := kb.SearchResult{ChunkID: "doc9_chunk_2", Score: 0.5, Text: "body", Metadata: map[string]any{}}
	ctx := BuildContext([]kb.SearchResult{r}, nil)
	assert.Contains(t, ctx, "Source: doc9_chunk_2")
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Empty(t, BuildContext(nil, nil))
}
