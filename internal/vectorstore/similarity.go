// Package vectorstore keeps embedded chunks and answers top-K similarity
// queries over them.
package vectorstore

import (
	"fmt"
	"math"
	"sort"

	"academic-assistant/internal/domain"
)

// CosineSimilarity returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topK sorts by score descending, breaking ties by source, page and index so
// results are stable.
func topK(hits []domain.ScoredChunk, k int) []domain.ScoredChunk {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Source != hits[j].Source {
			return hits[i].Source < hits[j].Source
		}
		if hits[i].Page != hits[j].Page {
			return hits[i].Page < hits[j].Page
		}
		return hits[i].Index < hits[j].Index
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func checkSource(source string, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if c.Source != source {
			return fmt.Errorf("vectorstore: chunk %s belongs to %q, not %q", c.ID, c.Source, source)
		}
	}
	return nil
}
