package similarity

import (
	"math"
	"sort"

	"github.com/cooperage/pkg/models"
)

// Cosine computes the cosine similarity dot(a,b)/(|a|*|b|).
// Returns 0 when either vector has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// BatchItem is one embedded item in an in-memory comparison batch
type BatchItem struct {
	ID        string
	Embedding []float32
}

// PairsInBatch compares every unordered pair in the batch exhaustively and
// returns the pairs whose cosine similarity meets the threshold. O(N^2), which
// is acceptable because casking batches are small.
func PairsInBatch(items []BatchItem, threshold float64) []models.SimilarPair {
	var pairs []models.SimilarPair

	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			sim := Cosine(items[i].Embedding, items[j].Embedding)
			if sim >= threshold {
				pairs = append(pairs, models.SimilarPair{
					SourceID:   items[i].ID,
					TargetID:   items[j].ID,
					Similarity: sim,
				})
			}
		}
	}

	return pairs
}

// DedupePairs merges similarity results from multiple sources, keeping the
// first instance of each unordered (source, target) id pair.
func DedupePairs(sources ...[]models.SimilarPair) []models.SimilarPair {
	seen := make(map[string]bool)
	var merged []models.SimilarPair

	for _, pairs := range sources {
		for _, p := range pairs {
			key := pairKey(p.SourceID, p.TargetID)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, p)
		}
	}

	return merged
}

func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}
