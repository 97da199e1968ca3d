package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// =============================================================================
// 기본 통계
// =============================================================================

// Mean 평균 계산 (빈 입력은 0)
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// StdDev 표본 표준편차 (n-1), 2개 미만이면 0
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// Variance 표본 분산 (n-1), 2개 미만이면 0
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.Variance(values, nil)
}

// MeanStdDev returns both moments in one pass
func MeanStdDev(values []float64) (float64, float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}

// ExcessKurtosis 초과 첨도 (정규분포 = 0)
func ExcessKurtosis(values []float64) float64 {
	if len(values) < 4 {
		return 0
	}
	k := stat.ExKurtosis(values, nil)
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return 0
	}
	return k
}

// ACF 자기상관 (lag)
func ACF(values []float64, lag int) float64 {
	n := len(values)
	if lag <= 0 || n <= lag+1 {
		return 0
	}
	mean := Mean(values)
	var num, den float64
	for i := 0; i < n; i++ {
		d := values[i] - mean
		den += d * d
		if i+lag < n {
			num += d * (values[i+lag] - mean)
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// =============================================================================
// 분위수 / Winsorize
// =============================================================================

// Percentile 백분위수 계산 (정렬된 입력, 선형 보간)
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	idx := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Sorted returns a sorted copy
func Sorted(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// Winsorize clamps values to the [lowerPct, upperPct] percentiles.
// Outliers are bounded, never dropped.
func Winsorize(values []float64, lowerPct, upperPct float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := Sorted(values)
	lo := Percentile(sorted, lowerPct)
	hi := Percentile(sorted, upperPct)

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = Clamp(v, lo, hi)
	}
	return out
}

// CountUnique counts distinct values (exact comparison)
func CountUnique(values []float64) int {
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// =============================================================================
// Rolling windows
// =============================================================================

// RollingStd returns the trailing standard deviation with the given window.
// Early positions use an expanding window; positions with < 2 samples copy
// the first full estimate so the proxy has no artificial zeros.
func RollingStd(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 || window < 2 {
		return out
	}

	for i := 0; i < n; i++ {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		if i-start+1 >= 2 {
			out[i] = StdDev(values[start : i+1])
		}
	}
	if n >= 2 {
		out[0] = out[1]
	}
	return out
}

// RollingMean returns, for every index i, the mean of the window of length w
// that ends at max(i, w-1). The head of the series therefore shares the first
// full window instead of a degenerate one-sample mean.
func RollingMean(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 || window <= 0 {
		return out
	}
	if window > n {
		window = n
	}

	for i := 0; i < n; i++ {
		end := i
		if end < window-1 {
			end = window - 1
		}
		out[i] = Mean(values[end-window+1 : end+1])
	}
	return out
}

// =============================================================================
// Helpers
// =============================================================================

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsFinite reports whether v is neither NaN nor ±Inf
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AllFinite reports whether every value is finite
func AllFinite(values []float64) bool {
	for _, v := range values {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// Standardize returns (x-mean)/std together with the moments used.
// A zero std leaves the centred series unscaled.
func Standardize(values []float64) ([]float64, float64, float64) {
	mean, std := MeanStdDev(values)
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v - mean
		if std > 0 {
			out[i] /= std
		}
	}
	return out, mean, std
}

// CorrelationMatrix returns the Pearson correlation of equal-length columns
// as a flat row-major n×n slice. Constant columns get zero off-diagonals.
func CorrelationMatrix(columns [][]float64) []float64 {
	n := len(columns)
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		out[i*n+i] = 1
		for j := i + 1; j < n; j++ {
			c := 0.0
			if len(columns[i]) >= 2 && StdDev(columns[i]) > 0 && StdDev(columns[j]) > 0 {
				c = stat.Correlation(columns[i], columns[j], nil)
				if !IsFinite(c) {
					c = 0
				}
			}
			out[i*n+j] = c
			out[j*n+i] = c
		}
	}
	return out
}
