package retrieval

import "sort"

// scoreFloor keeps normalization well-defined when a leg's best score is
// zero or negative.
const scoreFloor = 0.01

// fuseCandidates merges the two candidate sets into a single ranking.
//
// Each leg's scores are divided by that leg's maximum (floored at scoreFloor)
// so both land in [0, 1], then combined as a weighted sum. When the semantic
// set is empty the full weight shifts to the lexical leg so lexical-only
// matches are not penalized for a degraded vector leg. Ties keep first-seen
// order, semantic candidates first.
func fuseCandidates(semantic, lexical []Candidate, weights Weights) []FusedResult {
	semanticWeight := weights.Semantic
	lexicalWeight := weights.Lexical
	if len(semantic) == 0 {
		semanticWeight = 0
		lexicalWeight = 1.0
	}

	semanticMax := maxScore(semantic)
	lexicalMax := maxScore(lexical)

	merged := make(map[string]*FusedResult)
	order := make([]string, 0, len(semantic)+len(lexical))

	for _, c := range semantic {
		entry, exists := merged[c.ID]
		if !exists {
			entry = &FusedResult{ID: c.ID, Story: c.Story}
			merged[c.ID] = entry
			order = append(order, c.ID)
		}
		entry.SemanticScore = c.RawScore / semanticMax
	}

	for _, c := range lexical {
		entry, exists := merged[c.ID]
		if !exists {
			entry = &FusedResult{ID: c.ID, Story: c.Story}
			merged[c.ID] = entry
			order = append(order, c.ID)
		}
		entry.LexicalScore = c.RawScore / lexicalMax
	}

	results := make([]FusedResult, 0, len(order))
	for _, id := range order {
		entry := merged[id]
		entry.HybridScore = entry.SemanticScore*semanticWeight + entry.LexicalScore*lexicalWeight
		results = append(results, *entry)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].HybridScore > results[j].HybridScore
	})

	return results
}

// maxScore returns the largest raw score in the set, floored at scoreFloor.
func maxScore(candidates []Candidate) float64 {
	max := scoreFloor
	for _, c := range candidates {
		if c.RawScore > max {
			max = c.RawScore
		}
	}
	return max
}
