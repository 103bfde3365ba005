package store

import (
	"sort"
	"strings"

	"github.com/agenthands/prism/internal/embed"
	"github.com/agenthands/prism/internal/model"
)

// matchesText applies the textContains filter client-side with Go's
// Unicode case folding; SQL LOWER and Cypher toLower only fold ASCII,
// so pushing this into the backends would miss matches like "ÄRZTE"
// for "ärzte".
func matchesText(n model.UINode, needle string) bool {
	if needle == "" {
		return true
	}
	needle = strings.ToLower(needle)
	return strings.Contains(strings.ToLower(n.Text), needle) ||
		strings.Contains(strings.ToLower(n.Description), needle)
}

// rankNodes scores filtered candidates against the query vector and keeps
// the top k at or above minScore. Candidates must arrive in insertion
// order; the stable sort preserves that order between equal scores.
func rankNodes(query []float32, candidates []model.UINode, k int, minScore float64) []model.NodeResult {
	results := make([]model.NodeResult, 0, len(candidates))
	for _, n := range candidates {
		if len(n.Embedding) == 0 {
			continue
		}
		score := embed.CosineSimilarity(query, n.Embedding)
		if score < minScore {
			continue
		}
		n.Embedding = nil // vectors stay inside the store
		results = append(results, model.NodeResult{UINode: n, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

type screenCandidate struct {
	id          string
	ts          int64
	app         string
	windowTitle string
	description string
	embedding   []float32
}

func rankScreens(query []float32, candidates []screenCandidate, k int) []model.ScreenResult {
	results := make([]model.ScreenResult, 0, len(candidates))
	for _, c := range candidates {
		if len(c.embedding) == 0 {
			continue
		}
		results = append(results, model.ScreenResult{
			ID:          c.id,
			Timestamp:   c.ts,
			App:         c.app,
			WindowTitle: c.windowTitle,
			Description: c.description,
			Score:       embed.CosineSimilarity(query, c.embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
