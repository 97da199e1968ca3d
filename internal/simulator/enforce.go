package simulator

import (
	"math"
	"math/rand"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/stats"
)

// EnforcementStats target-enforcement summary of one product
type EnforcementStats struct {
	Applied        bool `json:"applied"`
	AdjustedSteps  int  `json:"adjusted_steps"`  // steps outside the tolerance band
	BoundedFactors int  `json:"bounded_factors"` // per-path factors hit [min, max] ratio
	AdditiveShifts int  `json:"additive_shifts"` // steps shifted instead of rescaled (mean·forecast ≤ 0)
	FinalClamps    int  `json:"final_clamps"`    // prices clamped back inside mean ± kσ
}

// enforceTargets rescales each step's cross-path mean toward the forecast.
// Per-path factor = baseRatio·U[jitterLow, jitterHigh], bounded to
// [minRatio, maxRatio]. When the mean and the forecast are not both of the
// same sign (음수 가격) the ratio is meaningless and the step is shifted by
// (forecast − mean)·U[jitterLow, jitterHigh] instead. prices is indexed
// [path][step]; aborted paths are adjusted but excluded from the mean.
func enforceTargets(rngFor func(path int) *rand.Rand, prices [][]float64, aborted []bool, target contracts.ForecastTarget, cfg simconfig.Target, nextHour int) EnforcementStats {
	var st EnforcementStats
	if len(prices) == 0 || len(target.Values) == 0 {
		return st
	}
	horizon := len(prices[0])
	tol := target.Tolerance
	if tol <= 0 {
		tol = cfg.Tolerance
	}

	// join: 모든 경로의 step별 평균 → base ratio
	base := make([]float64, horizon)
	shift := make([]float64, horizon)
	for t := 0; t < horizon; t++ {
		v, ok := target.At(t, hourAt(nextHour, t), horizon)
		if !ok || !stats.IsFinite(v) {
			continue
		}
		sum, n := 0.0, 0
		for j, path := range prices {
			if aborted[j] {
				continue
			}
			sum += path[t]
			n++
		}
		if n == 0 {
			continue
		}
		avg := sum / float64(n)
		if !stats.IsFinite(avg) {
			continue
		}
		if math.Abs(avg-v) <= tol*math.Abs(v) {
			continue
		}
		st.AdjustedSteps++
		if avg*v <= 0 {
			shift[t] = v - avg
			st.AdditiveShifts++
			continue
		}
		base[t] = v / avg
	}
	if st.AdjustedSteps == 0 {
		return st
	}
	st.Applied = true

	for j, path := range prices {
		rng := rngFor(j)
		for t := range path {
			if base[t] == 0 && shift[t] == 0 {
				continue
			}
			jitter := cfg.JitterLow + rng.Float64()*(cfg.JitterHigh-cfg.JitterLow)
			if shift[t] != 0 {
				path[t] += shift[t] * jitter
				continue
			}
			f := base[t] * jitter
			if f < cfg.MinRatio || f > cfg.MaxRatio {
				f = stats.Clamp(f, cfg.MinRatio, cfg.MaxRatio)
				st.BoundedFactors++
			}
			path[t] *= f
		}
	}
	return st
}

// clampPrices keeps every price inside [lo, hi]
func clampPrices(prices [][]float64, lo, hi float64) int {
	n := 0
	for _, path := range prices {
		for t, p := range path {
			if p < lo || p > hi {
				path[t] = stats.Clamp(p, lo, hi)
				n++
			}
		}
	}
	return n
}
