package textproc

import (
	"sort"
	"strings"
	"unicode/utf8"

	"ailearn/pkg/domain"
)

const (
	termWeight     = 4.0
	lengthDivisor  = 300.0
	lengthBonusCap = 5.0
	minTermLength  = 3
)

// ScoredChunk is a chunk ranked against one query. Scores are ephemeral and
// never persisted.
type ScoredChunk struct {
	domain.Chunk
	Score float64 `json:"score"`
}

// Score ranks chunks lexically against a query and returns at most maxChunks
// results, best first. Each distinct query term (lowercased, longer than two
// characters) found as a substring of a chunk adds a fixed weight once;
// matching chunks additionally earn a capped length bonus so longer passages
// outrank fragments. Chunks matching no term are dropped. Ties keep original
// chunk order.
func Score(chunks []domain.Chunk, query string, maxChunks int) []ScoredChunk {
	if len(chunks) == 0 || maxChunks <= 0 {
		return nil
	}
	terms := QueryTerms(query)
	if len(terms) == 0 {
		return nil
	}
	scored := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		text := strings.ToLower(chunk.Content)
		score := 0.0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score += termWeight
			}
		}
		if score == 0 {
			continue
		}
		bonus := float64(len(text)) / lengthDivisor
		if bonus > lengthBonusCap {
			bonus = lengthBonusCap
		}
		scored = append(scored, ScoredChunk{Chunk: chunk, Score: score + bonus})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > maxChunks {
		scored = scored[:maxChunks]
	}
	return scored
}

// QueryTerms tokenizes a query for scoring: lowercase, whitespace-split,
// terms shorter than three characters discarded.
func QueryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := fields[:0]
	for _, field := range fields {
		if utf8.RuneCountInString(field) >= minTermLength {
			terms = append(terms, field)
		}
	}
	return terms
}
