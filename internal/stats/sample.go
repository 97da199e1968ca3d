package stats

import "math/rand"

// SampleCategorical draws an index proportional to weights.
// Non-positive or empty weight vectors fall back to a uniform draw.
func SampleCategorical(rng *rand.Rand, weights []float64) int {
	n := len(weights)
	if n == 0 {
		return 0
	}
	total := 0.0
	for _, w := range weights {
		if w > 0 && IsFinite(w) {
			total += w
		}
	}
	if total <= 0 {
		return rng.Intn(n)
	}

	u := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		if w <= 0 || !IsFinite(w) {
			continue
		}
		acc += w
		if u < acc {
			return i
		}
	}
	// rounding: last positive weight
	for i := n - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return n - 1
}
