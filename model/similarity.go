package model

import (
	"math"
	"sort"
)

// Normalize returns v scaled to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	copy(out, v)
	norm := math.Sqrt(sum)
	if norm == 0 {
		return out
	}
	for i, x := range out {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// CosineSimilarity returns dot(a,b)/(|a|·|b|), and exactly 0 when either
// vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type Ranked struct {
	Index int // position in the candidate slice
	Score float64
}

// TopK ranks candidates by similarity to query, best first. Equal scores keep
// candidate order. The result has min(k, len(candidates)) entries.
func TopK(query []float32, candidates [][]float32, k int) []Ranked {
	if k <= 0 || len(candidates) == 0 {
		return []Ranked{}
	}
	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{Index: i, Score: CosineSimilarity(query, c)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked[:min(k, len(ranked))]
}
