package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"kbqa/kb"
)

// RefusalAnswer is returned whenever the engine cannot ground an answer in
// retrieved context. The model is never asked to answer without grounding.
const RefusalAnswer = "I don't have enough information in the knowledge base to answer that question."

const systemPrompt = `You are a support assistant answering questions from a curated knowledge base.

Rules:
- Answer using only the information in the provided context.
- If the context does not contain the answer, say so explicitly instead of guessing.
- When a source is relevant, mention its title.
- Keep the answer concise and factual.`

const (
	// corroborationFloor is the score a match must reach before it counts as
	// independent corroboration.
	corroborationFloor = 0.5

	// corroborationBonus is added per corroborating match, rewarding
	// convergence of sources over a single isolated hit.
	corroborationBonus = 0.05

	// citationOverlapRatio is the fraction of a chunk's distinctive words
	// that must appear in the answer for the chunk to count as cited.
	citationOverlapRatio = 0.3
)

// GenerateAnswer drives the chat model with a grounding-constrained prompt
// and post-processes the response into an AnswerResult. Generation failures
// never reach the caller; they collapse into the refusal shape with the
// cause logged for operators.
func (s *Service) GenerateAnswer(ctx context.Context, query string, chunks []kb.SearchResult, extra map[string]any) kb.AnswerResult {
	if len(chunks) == 0 {
		return refusalResult(query)
	}

	prompt := fmt.Sprintf("Context:\n\n%s\n\nQuestion: %s", BuildContext(chunks, extra), query)
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}

	msg, err := s.chat.Generate(ctx, messages,
		model.WithTemperature(s.cfg.Temperature),
		model.WithMaxTokens(s.cfg.MaxAnswerTokens),
	)
	if err != nil {
		s.log.Error("answer generation failed", "query", query, "error", err)
		return refusalResult(query)
	}

	answer := strings.TrimSpace(msg.Content)
	if answer == "" {
		s.log.Error("answer generation returned empty content", "query", query)
		return refusalResult(query)
	}

	return kb.AnswerResult{
		Answer:          answer,
		Citations:       matchCitations(answer, chunks),
		SourcesUsed:     len(chunks),
		ConfidenceScore: confidenceScore(chunks),
		Query:           query,
	}
}

func refusalResult(query string) kb.AnswerResult {
	return kb.AnswerResult{
		Answer:          RefusalAnswer,
		Citations:       []kb.Citation{},
		SourcesUsed:     0,
		ConfidenceScore: 0,
		Query:           query,
	}
}

// confidenceScore averages the match scores and adds a corroboration bonus
// for every match above the floor, capped at 1.0.
func confidenceScore(chunks []kb.SearchResult) float64 {
	if len(chunks) == 0 {
		return 0
	}

	var sum float64
	corroborating := 0
	for _, c := range chunks {
		sum += float64(c.Score)
		if float64(c.Score) >= corroborationFloor {
			corroborating++
		}
	}

	score := sum/float64(len(chunks)) + corroborationBonus*float64(corroborating)
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// matchCitations returns a citation for every chunk whose text detectably
// shows up in the answer. Containment and word overlap are a coarse
// approximation of "the model used this source"; paraphrased answers will
// under- or over-attribute.
func matchCitations(answer string, chunks []kb.SearchResult) []kb.Citation {
	answerLower := strings.ToLower(answer)

	citations := []kb.Citation{}
	for _, c := range chunks {
		if !usedInAnswer(answerLower, strings.ToLower(c.Text)) {
			continue
		}
		citations = append(citations, kb.Citation{
			DocumentTitle:  c.MetaString("title"),
			DocumentType:   c.MetaString("type"),
			RelevanceScore: c.Score,
			ChunkID:        c.ChunkID,
		})
	}
	return citations
}

// usedInAnswer reports whether the chunk text appears to have been drawn
// upon: either one contains the other outright, or enough of the chunk's
// distinctive words recur in the answer.
func usedInAnswer(answerLower, chunkLower string) bool {
	if chunkLower == "" {
		return false
	}
	if strings.Contains(answerLower, chunkLower) {
		return true
	}

	words := distinctiveWords(chunkLower)
	if len(words) == 0 {
		return false
	}
	hits := 0
	for w := range words {
		if strings.Contains(answerLower, w) {
			hits++
		}
	}
	return float64(hits)/float64(len(words)) >= citationOverlapRatio
}

// distinctiveWords collects the deduplicated words of at least four
// characters, skipping anything too short to signal reuse.
func distinctiveWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, `.,!?'"-`)
		if len(w) >= 4 {
			words[w] = struct{}{}
		}
	}
	return words
}
