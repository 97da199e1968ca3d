package simulator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/regime"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/stats"
)

func bootstrapConfig() simconfig.Bootstrap {
	return simconfig.Default().Bootstrap
}

// noiseWithExtremeBlock: 500 N(0, 0.01) returns with 24 × +0.5 at [200, 224)
func noiseWithExtremeBlock() []float64 {
	rng := rand.New(rand.NewSource(11))
	out := make([]float64, 500)
	for i := range out {
		out[i] = 0.01 * rng.NormFloat64()
		if i >= 200 && i < 224 {
			out[i] = 0.5
		}
	}
	return out
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestBlockSampler_NeverAcceptsExtremeBlock(t *testing.T) {
	returns := noiseWithExtremeBlock()
	sigma := stats.StdDev(returns)
	s := newBlockSampler(returns, ones(len(returns)), sigma, 1, bootstrapConfig(), 24)

	rng := rand.New(rand.NewSource(1))
	limit := s.threshold(24)
	for trial := 0; trial < 10000; trial++ {
		d := s.draw(rng, 1, 24)
		require.Equal(t, 24, d.size)
		assert.NotEqual(t, 200, d.start, "extreme block accepted at trial %d", trial)

		values, _ := s.splice(d)
		assert.LessOrEqual(t, math.Abs(blockSum(values)), limit+1e-12)
		if !d.fallback {
			assert.LessOrEqual(t, math.Abs(blockSum(returns[d.start:d.start+24])), limit)
		}
	}
}

func TestBlockSampler_PrefersRegimeMatchedStarts(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	returns := make([]float64, 200)
	labels := make([]int, 200)
	for i := range returns {
		returns[i] = 0.01 * rng.NormFloat64()
		labels[i] = 1
		if i >= 100 {
			labels[i] = 2
		}
	}
	s := newBlockSampler(returns, labels, stats.StdDev(returns), 2, bootstrapConfig(), 10)

	for trial := 0; trial < 200; trial++ {
		d := s.draw(rng, 2, 10)
		require.True(t, d.constrained)
		_, got := s.splice(d)
		for _, l := range got {
			assert.Equal(t, 2, l)
		}
	}

	// regime 3 never observed → unconstrained start
	d := s.draw(rng, 3, 10)
	assert.False(t, d.constrained)
	assert.True(t, d.start >= 0 && d.start+10 <= len(returns))
}

func TestBlockSampler_RetryCapFallsBackToDemeanedBlock(t *testing.T) {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = 1 // every block drifts
	}
	cfg := bootstrapConfig()
	cfg.MaxAttempts = 7
	s := newBlockSampler(returns, ones(100), 0.001, 1, cfg, 24)

	d := s.draw(rand.New(rand.NewSource(3)), 1, 24)
	assert.True(t, d.fallback)
	assert.Equal(t, 7, d.rejections)

	values, _ := s.splice(d)
	assert.InDelta(t, 0, blockSum(values), 1e-12)
}

func TestBlockSampler_ShortHistoryShrinksBlock(t *testing.T) {
	returns := []float64{0.1, -0.1, 0.05, -0.05}
	s := newBlockSampler(returns, ones(4), stats.StdDev(returns), 1, bootstrapConfig(), 4)

	d := s.draw(rand.New(rand.NewSource(4)), 1, 24)
	assert.Equal(t, 4, d.size)
	assert.Equal(t, 0, d.start)
}

func TestBootstrapPass_UnconstrainedBlockAdvancesByPower(t *testing.T) {
	// 1 ↔ 2 alternation, start in regime 2; history only ever saw regime 1
	tr := &regime.Transition{K: 2, Matrix: []float64{0, 1, 1, 0}, Stationary: []float64{0, 1}}
	pm := &calibration.ProductModel{Regime: &regime.Model{OptimalK: 2, Transition: tr}}

	rng := rand.New(rand.NewSource(5))
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = 0.01 * rng.NormFloat64()
	}
	s := newBlockSampler(returns, ones(len(returns)), stats.StdDev(returns), 2, bootstrapConfig(), 3)
	powers := map[int][]float64{3: tr.Power(3)}

	out := &rawPath{returns: make([]float64, 6), regimes: make([]int, 6), flags: make([]StepFlag, 6)}
	bootstrapPass(rng, pm, s, powers, 6, 3, out)

	// block 1 (regime 2) is unconstrained; P^3 swaps 2 → 1, so block 2 is regime-matched.
	// A one-step transition from the block's last historical label (1) would land on 2 again.
	assert.Equal(t, 1, out.unconstrained)
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1}, out.regimes)
}
