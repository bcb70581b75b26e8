package query

import "strings"

// rerank is stage 5: a heuristic local reranker. Boosts short content,
// penalizes very long content, and boosts hits whose first sentence
// contains a query token. Final scores are clamped to [0, 1].
func rerank(q ProcessedQuery, hits []Hit) []Hit {
	for i := range hits {
		h := &hits[i]
		length := len(h.Content)

		switch {
		case length < 500:
			h.Score *= 1.1
		case length >= 2000:
			h.Score *= 0.9
		}

		if firstSentenceMatchesToken(h.Content, q.Tokens) {
			h.Score *= 1.15
		}

		h.Score = clamp01(h.Score)
	}
	return hits
}

func firstSentenceMatchesToken(content string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	sentence := content
	if idx := strings.IndexAny(content, ".!?\n"); idx >= 0 {
		sentence = content[:idx]
	}
	sentence = strings.ToLower(sentence)
	for _, tok := range tokens {
		if len(tok) > 2 && strings.Contains(sentence, tok) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
