package memory

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, empty vectors and zero vectors have similarity 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (na * nb)
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

// Euclidean returns the L2 distance between a and b, or +Inf when their
// lengths differ.
func Euclidean(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}

// topK returns the indices of the k embeddings most similar to query, best
// first. Ties go to the later (more recent) index.
func topK(query []float64, embeddings [][]float64, k int) []int {
	if k <= 0 || len(embeddings) == 0 {
		return nil
	}
	idx := make([]int, len(embeddings))
	sims := make([]float64, len(embeddings))
	for i, e := range embeddings {
		idx[i] = i
		sims[i] = Cosine(query, e)
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		if c := cmp.Compare(sims[b], sims[a]); c != 0 {
			return c
		}
		return cmp.Compare(b, a)
	})
	return idx[:min(k, len(idx))]
}
