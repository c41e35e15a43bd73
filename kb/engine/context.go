package engine

import (
	"fmt"
	"sort"
	"strings"

	"kbqa/kb"
)

// maxContextSources bounds how many matches are rendered into the prompt,
// regardless of how many the caller retrieved.
const maxContextSources = 5

// BuildContext turns ranked matches, plus optional caller-supplied facts,
// into a single bounded prompt-context string ordered by relevance. The
// output is deterministic for identical inputs.
func BuildContext(results []kb.SearchResult, extra map[string]any) string {
	var sb strings.Builder

	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("Caller context:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s: %v\n", k, extra[k])
		}
	}

	// Re-sort defensively; not every index adapter guarantees order.
	sorted := make([]kb.SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > maxContextSources {
		sorted = sorted[:maxContextSources]
	}

	for _, r := range sorted {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		title := r.MetaString("title")
		if title == "" {
			title = r.ChunkID
		}
		fmt.Fprintf(&sb, "Source: %s (relevance %.3f)\n%s\n", title, r.Score, r.Text)
	}

	return strings.TrimSpace(sb.String())
}
