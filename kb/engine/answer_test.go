package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbqa/kb"
)

func testService(chat *scriptedChat) *Service {
	cfg := kb.DefaultConfig()
	return New(cfg, nil, nil, nil, chat, nil)
}

func TestGenerateAnswerRefusesWithoutContext(t *testing.T) {
	chat := &scriptedChat{reply: "should never be used"}
	svc := testService(chat)

	res := svc.GenerateAnswer(context.Background(), "what is the refund policy?", nil, nil)

	assert.Equal(t, RefusalAnswer, res.Answer)
	assert.Empty(t, res.Citations)
	assert.Zero(t, res.SourcesUsed)
	assert.Zero(t, res.ConfidenceScore)
	assert.Equal(t, "what is the refund policy?", res.Query)
	assert.Zero(t, chat.calls, "the model is never invoked without grounding")
}

func TestGenerateAnswerGrounded(t *testing.T) {
	chat := &scriptedChat{reply: "Refunds are processed within 5 business days."}
	svc := testService(chat)

	chunks := []kb.SearchResult{
		{
			ChunkID: "doc1_chunk_0",
			Score:   0.82,
			Text:    "Refunds are processed within 5 business days. Contact support for exceptions.",
			Metadata: map[string]any{
				"title": "Refund Policy",
				"type":  "txt",
			},
		},
	}

	res := svc.GenerateAnswer(context.Background(), "How long do refunds take?", chunks, nil)

	assert.Contains(t, res.Answer, "5 business days")
	assert.Equal(t, 1, res.SourcesUsed)
	assert.Greater(t, res.ConfidenceScore, 0.0)

	require.Len(t, res.Citations, 1)
	assert.Equal(t, "Refund Policy", res.Citations[0].DocumentTitle)
	assert.Equal(t, "doc1_chunk_0", res.Citations[0].ChunkID)
	assert.Equal(t, float32(0.82), res.Citations[0].RelevanceScore)

	// The prompt carries the context verbatim and the grounding instructions.
	require.Len(t, chat.lastMsgs, 2)
	assert.Contains(t, chat.lastMsgs[0].Content, "only the information in the provided context")
	assert.Contains(t, chat.lastMsgs[1].Content, "Refunds are processed within 5 business days.")
	assert.Contains(t, chat.lastMsgs[1].Content, "Question: How long do refunds take?")
}

func TestGenerateAnswerFailureBecomesRefusal(t *testing.T) {
	chat := &scriptedChat{err: errors.New("model unavailable")}
	svc := testService(chat)

	chunks := []kb.SearchResult{
		{ChunkID: "doc1_chunk_0", Score: 0.9, Text: "some text", Metadata: map[string]any{}},
	}
	res := svc.GenerateAnswer(context.Background(), "anything", chunks, nil)

	assert.Equal(t, RefusalAnswer, res.Answer)
	assert.Empty(t, res.Citations)
	assert.Zero(t, res.ConfidenceScore)
}

func TestGenerateAnswerEmptyReplyBecomesRefusal(t *testing.T) {
	chat := &scriptedChat{reply: "   "}
	svc := testService(chat)

	chunks := []kb.SearchResult{
		{ChunkID: "doc1_chunk_0", Score: 0.9, Text: "some text", Metadata: map[string]any{}},
	}
	res := svc.GenerateAnswer(context.Background(), "anything", chunks, nil)
	assert.Equal(t, RefusalAnswer, res.Answer)
}

func scored(scores ...float32) []kb.SearchResult {
	out := make([]kb.SearchResult, len(scores))
	for i, s := range scores {
		out[i] = kb.SearchResult{ChunkID: "c", Score: s}
	}
	return out
}

func TestConfidenceScore(t *testing.T) {
	assert.Zero(t, confidenceScore(nil))

	// Average of the scores, plus a bonus per match above the floor.
	assert.InDelta(t, 0.6+corroborationBonus, confidenceScore(scored(0.6)), 1e-6)
	assert.InDelta(t, 0.3, confidenceScore(scored(0.3)), 1e-6, "below the floor earns no bonus")

	// Capped at 1.0.
	assert.Equal(t, 1.0, confidenceScore(scored(0.99, 0.99, 0.99, 0.99)))
}

func TestConfidenceMonotonicity(t *testing.T) {
	a := scored(0.9, 0.7, 0.6)
	b := scored(0.8, 0.6, 0.4)
	assert.GreaterOrEqual(t, confidenceScore(a), confidenceScore(b),
		"uniformly higher scores never lower confidence")
}

func TestConfidenceRewardsCorroboration(t *testing.T) {
	one := confidenceScore(scored(0.8))
	three := confidenceScore(scored(0.8, 0.8, 0.8))
	assert.Greater(t, three, one, "independent agreeing matches beat an isolated hit")
}

func TestMatchCitations(t *testing.T) {
	chunks := []kb.SearchResult{
		{
			ChunkID:  "doc1_chunk_0",
			Score:    0.8,
			Text:     "Refunds are processed within 5 business days.",
			Metadata: map[string]any{"title": "Refund Policy"},
		},
		{
			ChunkID:  "doc2_chunk_0",
			Score:    0.5,
			Text:     "Enterprise contracts renew annually unless cancelled in writing.",
			Metadata: map[string]any{"title": "Contract Terms"},
		},
	}

	answer := "According to the Refund Policy, refunds are processed within 5 business days."
	cites := matchCitations(answer, chunks)
	require.Len(t, cites, 1, "only chunks detectably reused in the answer are cited")
	assert.Equal(t, "doc1_chunk_0", cites[0].ChunkID)
}

func TestMatchCitationsCaseInsensitive(t *testing.T) {
	chunks := []kb.SearchResult{
		{ChunkID: "doc1_chunk_0", Score: 0.8, Text: "REFUNDS TAKE FIVE DAYS.", Metadata: map[string]any{}},
	}
	cites := matchCitations("refunds take five days.", chunks)
	assert.Len(t, cites, 1)
}

func TestUsedInAnswerOverlap(t *testing.T) {
	chunk := "refunds are processed within five business days after approval"
	assert.True(t, usedInAnswer("the team processed refunds within five business days", chunk))
	assert.False(t, usedInAnswer("our offices are closed on sundays", chunk))
	assert.False(t, usedInAnswer("anything", ""))
}
