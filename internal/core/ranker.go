package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

const DefaultTopK = 5

type Recommendation struct {
	Rank     int
	Title    string
	Speaker  string
	Category string
	Conf     string
	Score    float64
}

// Ranker scores every index entry against a query vector and returns the
// top-K. Results are deterministic for a fixed snapshot: ties keep the
// index's original item order.
type Ranker struct {
	index   *EmbeddingIndex
	encoder Encoder
}

func NewRanker(index *EmbeddingIndex, encoder Encoder) *Ranker {
	return &Ranker{index: index, encoder: encoder}
}

func (r *Ranker) Rank(ctx context.Context, query string, k int) ([]Recommendation, error) {
	if r.index.Len() == 0 {
		return nil, Permanent(ErrEmptyIndex)
	}

	queryVec, err := r.encoder.Encode(ctx, query)
	if err != nil {
		return nil, Permanent(&EncodingError{Err: err})
	}
	if len(queryVec) != r.index.Dim() {
		return nil, Permanent(&EncodingError{
			Err: fmt.Errorf("encoder produced dimension %d, index has %d", len(queryVec), r.index.Dim()),
		})
	}

	order := make([]int, r.index.Len())
	scores := make([]float64, r.index.Len())
	for i := range order {
		order[i] = i
		scores[i] = cosineSimilarity(queryVec, r.index.Vector(i))
	}

	// Stable sort on score only, so equal scores keep snapshot order.
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}

	recommendations := make([]Recommendation, k)
	for rank, idx := range order[:k] {
		entry := r.index.Entry(idx)
		recommendations[rank] = Recommendation{
			Rank:     rank + 1,
			Title:    entry.Title,
			Speaker:  entry.Speaker,
			Category: entry.Category,
			Conf:     entry.Conf,
			Score:    scores[idx],
		}
	}

	return recommendations, nil
}

// FormatRecommendations renders the persisted, user-visible result. The
// layout is part of the contract: the stored string is displayed verbatim.
func FormatRecommendations(recommendations []Recommendation) string {
	lines := make([]string, len(recommendations))
	for i, rec := range recommendations {
		lines[i] = fmt.Sprintf("%d. [%s] %s — %s (%s)", rec.Rank, rec.Category, rec.Title, rec.Speaker, rec.Conf)
	}
	return strings.Join(lines, "\n")
}

func cosineSimilarity(a, b []float32) float64 {
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
