package engine

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// hashEmbedder is a deterministic bag-of-words embedder: texts sharing words
// land near each other, which is enough signal for retrieval tests.
type hashEmbedder struct {
	dim       int
	calls     int
	failCalls map[int]bool
}

func (e *hashEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls++
	if e.failCalls[e.calls] {
		return nil, errEmbedderDown
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = embedWords(text, e.dim)
	}
	return out, nil
}

var errEmbedderDown = context.DeadlineExceeded

func embedWords(text string, dim int) []float64 {
	vec := make([]float64, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,!?'"-`)
		if w == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[int(h.Sum32())%dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// scriptedChat is a chat capability returning a canned reply, or an error.
type scriptedChat struct {
	reply    string
	err      error
	calls    int
	lastMsgs []*schema.Message
}

func (c *scriptedChat) Generate(ctx context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	c.calls++
	c.lastMsgs = msgs
	if c.err != nil {
		return nil, c.err
	}
	return schema.AssistantMessage(c.reply, nil), nil
}

func (c *scriptedChat) Stream(ctx context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(c.reply, nil)}), nil
}
