package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wonny/scengen/internal/stats"
)

// =============================================================================
// VaR (Value at Risk) Calculation
// =============================================================================

// CalculateVaR 시나리오 변화 기반 VaR 계산 (Historical Simulation)
// changes: 가격 변화 배열 (양수=상승, 음수=하락)
// confidence: 신뢰수준 (예: 0.95, 0.99)
// 반환값: VaR는 손실을 양수로 표현
func CalculateVaR(changes []float64, confidence float64) VaRResult {
	if len(changes) == 0 {
		return VaRResult{Confidence: confidence}
	}

	// 오름차순: 손실이 앞에
	sorted := make([]float64, len(changes))
	copy(sorted, changes)
	sort.Float64s(sorted)

	// 예: 95% VaR = 하위 5% 백분위수
	idx := int(math.Floor((1.0 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	varValue := 0.0
	if sorted[idx] < 0 {
		varValue = -sorted[idx]
	}

	return VaRResult{
		Confidence: confidence,
		VaR:        varValue,
		CVaR:       CalculateCVaR(sorted, idx),
	}
}

// CalculateUpsideVaR 상승 tail: 부호를 뒤집어 같은 규약으로 계산
func CalculateUpsideVaR(changes []float64, confidence float64) VaRResult {
	flipped := make([]float64, len(changes))
	for i, c := range changes {
		flipped[i] = -c
	}
	return CalculateVaR(flipped, confidence)
}

// CalculateCVaR Conditional VaR (Expected Shortfall)
// sorted: 오름차순 정렬된 변화, varIdx 이하가 tail
func CalculateCVaR(sorted []float64, varIdx int) float64 {
	if len(sorted) == 0 || varIdx < 0 {
		return 0
	}

	var sum float64
	count := 0
	for i := 0; i <= varIdx && i < len(sorted); i++ {
		sum += sorted[i]
		count++
	}
	if count == 0 {
		return 0
	}

	if avg := sum / float64(count); avg < 0 {
		return -avg
	}
	return 0
}

// =============================================================================
// Parametric VaR (정규분포 가정)
// =============================================================================

// CalculateParametricVaR 정규분포 가정 VaR
// CVaR = -μ + σ·φ(z)/(1-c)
func CalculateParametricVaR(mean, stdDev, confidence float64) VaRResult {
	z := distuv.UnitNormal.Quantile(confidence)

	varValue := math.Max(z*stdDev-mean, 0)
	cvar := math.Max(stdDev*distuv.UnitNormal.Prob(z)/(1-confidence)-mean, 0)

	return VaRResult{
		Confidence: confidence,
		VaR:        varValue,
		CVaR:       cvar,
	}
}

// CalculatePercentiles 백분위수 (선형 보간)
func CalculatePercentiles(values []float64, percentiles []int) map[int]float64 {
	out := make(map[int]float64, len(percentiles))
	sorted := stats.Sorted(values)
	for _, p := range percentiles {
		out[p] = stats.Percentile(sorted, float64(p))
	}
	return out
}
