package embeddings

import "math"

// Normalize scales the vector to unit length in place and returns the
// pre-normalization L2 norm. All-zero vectors are left untouched and report
// a zero norm.
func Normalize(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return 0
	}
	inv := 1 / norm
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return norm
}

// Cosine computes similarity between two stored-normalized vectors. When the
// dimensions disagree (legacy rows), it falls back to a truncated dot-product
// over the shared prefix divided by the shared length.
func Cosine(query, doc []float32) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	if len(query) != len(doc) {
		return truncatedDot(query, doc)
	}
	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(doc[i])
	}
	return dot
}

func truncatedDot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / float64(n)
}
