package simulator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/stats"
)

func flatPaths(paths, horizon int, v float64) [][]float64 {
	out := make([][]float64, paths)
	for j := range out {
		out[j] = constant(horizon, v)
	}
	return out
}

func seeded(path int) *rand.Rand {
	return rand.New(rand.NewSource(int64(path) + 1))
}

func TestEnforceTargets_RescalesTowardForecast(t *testing.T) {
	cfg := simconfig.Default().Target
	prices := flatPaths(50, 24, 100)
	target := contracts.ForecastTarget{Product: "hub", Values: constant(24, 110)}

	st := enforceTargets(seeded, prices, make([]bool, 50), target, cfg, 0)

	assert.True(t, st.Applied)
	assert.Equal(t, 24, st.AdjustedSteps)
	assert.Equal(t, 0, st.BoundedFactors)
	for _, path := range prices {
		for _, p := range path {
			// 1.1 × U[0.9, 1.1]
			assert.True(t, p >= 99-1e-9 && p <= 121+1e-9, "price %v", p)
		}
	}
	// paths keep their diversity
	assert.Greater(t, stats.StdDev([]float64{prices[0][0], prices[1][0], prices[2][0]}), 0.0)
}

func TestEnforceTargets_FactorBounds(t *testing.T) {
	cfg := simconfig.Default().Target
	prices := flatPaths(10, 5, 100)
	target := contracts.ForecastTarget{Values: constant(5, 10000)}

	st := enforceTargets(seeded, prices, make([]bool, 10), target, cfg, 0)

	assert.Equal(t, 50, st.BoundedFactors)
	for _, path := range prices {
		for _, p := range path {
			assert.InDelta(t, 300, p, 1e-9)
		}
	}
}

func TestEnforceTargets_NegativeMeanShiftsTowardForecast(t *testing.T) {
	cfg := simconfig.Default().Target
	prices := flatPaths(20, 4, -10)
	target := contracts.ForecastTarget{Values: constant(4, 10)}

	st := enforceTargets(seeded, prices, make([]bool, 20), target, cfg, 0)

	assert.True(t, st.Applied)
	assert.Equal(t, 4, st.AdjustedSteps)
	assert.Equal(t, 4, st.AdditiveShifts)
	assert.Equal(t, 0, st.BoundedFactors)
	for step := 0; step < 4; step++ {
		column := make([]float64, len(prices))
		for j, path := range prices {
			// −10 + 20 × U[0.9, 1.1]
			assert.True(t, path[step] >= 8-1e-9 && path[step] <= 12+1e-9, "price %v", path[step])
			column[j] = path[step]
		}
		assert.InDelta(t, 10, stats.Mean(column), 1.0)
	}
}

func TestEnforceTargets_ZeroForecastShifts(t *testing.T) {
	cfg := simconfig.Default().Target
	prices := flatPaths(10, 2, 5)
	target := contracts.ForecastTarget{Values: constant(2, 0)}

	st := enforceTargets(seeded, prices, make([]bool, 10), target, cfg, 0)

	assert.Equal(t, 2, st.AdditiveShifts)
	for _, path := range prices {
		for _, p := range path {
			// 5 − 5 × U[0.9, 1.1]
			assert.True(t, p >= -0.5-1e-9 && p <= 0.5+1e-9, "price %v", p)
		}
	}
}

func TestEnforceTargets_WithinToleranceUntouched(t *testing.T) {
	cfg := simconfig.Default().Target
	prices := flatPaths(10, 24, 100)
	target := contracts.ForecastTarget{Values: constant(24, 101)} // 1% < 2%

	st := enforceTargets(seeded, prices, make([]bool, 10), target, cfg, 0)

	assert.False(t, st.Applied)
	assert.Equal(t, 100.0, prices[3][7])
}

func TestEnforceTargets_HourlyProfile(t *testing.T) {
	cfg := simconfig.Default().Target
	cfg.JitterLow, cfg.JitterHigh = 1, 1
	prices := flatPaths(4, 48, 100)
	profile := constant(24, 100)
	profile[5] = 150

	st := enforceTargets(seeded, prices, make([]bool, 4), contracts.ForecastTarget{Values: profile}, cfg, 0)

	assert.Equal(t, 2, st.AdjustedSteps) // hour 5 of both days
	assert.InDelta(t, 150, prices[0][5], 1e-9)
	assert.InDelta(t, 150, prices[2][29], 1e-9)
	assert.Equal(t, 100.0, prices[1][6])
}

func TestEnforceTargets_AbortedPathsExcludedFromMean(t *testing.T) {
	cfg := simconfig.Default().Target
	cfg.JitterLow, cfg.JitterHigh = 1, 1
	prices := [][]float64{{100}, {100}, {1000}}
	aborted := []bool{false, false, true}

	enforceTargets(seeded, prices, aborted, contracts.ForecastTarget{Values: []float64{120}}, cfg, 0)

	assert.InDelta(t, 120, prices[0][0], 1e-9)
	assert.InDelta(t, 1200, prices[2][0], 1e-9)
}

func TestClampPrices(t *testing.T) {
	prices := [][]float64{{90, 100, 111}}
	assert.Equal(t, 2, clampPrices(prices, 95, 105))
	assert.Equal(t, []float64{95, 100, 105}, prices[0])
}
