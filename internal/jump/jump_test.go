package jump

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFit_DetectsJumps(t *testing.T) {
	returns := make([]float64, 200)
	rng := rand.New(rand.NewSource(1))
	for i := range returns {
		returns[i] = rng.NormFloat64() * 0.01
	}
	returns[50] = 0.5
	returns[150] = -0.6

	m := Fit(returns, 1, DefaultConfig())
	assert.False(t, m.Synthetic)
	require.Len(t, m.Sizes, 2)
	assert.InDelta(t, 2.0/200.0, m.Frequency, 1e-12)
	assert.Greater(t, m.Sizes[0], 0.0)
	assert.Less(t, m.Sizes[1], 0.0)
	assert.Greater(t, m.Threshold, 0.0)
}

func TestFit_UsesRawReturns(t *testing.T) {
	// drift 0.2 with ±0.01 noise and one 0.5 spike: σ ≈ 0.03, threshold ≈ 0.13.
	// Every raw return clears the threshold; only the spike deviates from the mean by that much.
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = 0.2 + 0.01*float64(i%2*2-1)
	}
	returns[40] = 0.5

	cfg := DefaultConfig()
	cfg.MinJumpSize = 0
	m := Fit(returns, 1, cfg)

	require.Greater(t, m.Sigma, 0.0)
	assert.InDelta(t, cfg.Threshold*m.Sigma, m.Threshold, 1e-15)
	assert.False(t, m.Synthetic)
	assert.Len(t, m.Sizes, len(returns))
	assert.InDelta(t, 1.0, m.Frequency, 1e-12)
	assert.Contains(t, m.Sizes, 0.5, "raw size, not the demeaned deviation")
}

func TestFit_EmptyJumpSetFallsBack(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.01, -0.01, 0.01, -0.01}
	m := Fit(returns, 2, DefaultConfig())

	assert.True(t, m.Synthetic)
	assert.Equal(t, 0.01, m.Frequency)
	require.Len(t, m.Sizes, 2)
	assert.InDelta(t, -2*m.Sigma, m.Sizes[0], 1e-15)
	assert.InDelta(t, 2*m.Sigma, m.Sizes[1], 1e-15)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		s := m.Sample(rng, SamplingEmpirical, 8)
		assert.InDelta(t, 2*m.Sigma, math.Abs(s), 1e-15)
	}
}

func TestFit_EmptyInputNeverPanics(t *testing.T) {
	m := Fit(nil, 1, DefaultConfig())
	assert.True(t, m.Synthetic)
	assert.Len(t, m.Sizes, 2)

	rng := rand.New(rand.NewSource(1))
	assert.NotPanics(t, func() { m.Sample(rng, SamplingParametric, 8) })
}

func TestSample_Capped(t *testing.T) {
	m := &Model{Sizes: []float64{100}, Mean: 100, Std: 50, Sigma: 1}
	rng := rand.New(rand.NewSource(3))

	assert.Equal(t, 5.0, m.Sample(rng, SamplingEmpirical, 5))
	for i := 0; i < 100; i++ {
		s := m.Sample(rng, SamplingParametric, 5)
		assert.LessOrEqual(t, math.Abs(s), 5.0)
	}
}

func TestInjector_RespectsCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 10
	m := &Model{Frequency: 0.8, Sizes: []float64{-1, 1}, Sigma: 1}

	rng := rand.New(rand.NewSource(99))
	in := NewInjector(cfg)

	var steps []int
	for step := 0; step < 5000; step++ {
		if _, ok := in.Inject(rng, step, m); ok {
			steps = append(steps, step)
		}
	}
	require.NotEmpty(t, steps)
	for i := 1; i < len(steps); i++ {
		assert.GreaterOrEqual(t, steps[i]-steps[i-1], cfg.Window)
	}
	assert.Equal(t, len(steps), in.Count())
}

func TestInjector_MinJumpSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinJumpSize = 0.5
	cfg.Window = 0
	m := &Model{Frequency: 1, Sizes: []float64{0.1}, Sigma: 1}

	in := NewInjector(cfg)
	rng := rand.New(rand.NewSource(1))
	for step := 0; step < 100; step++ {
		_, ok := in.Inject(rng, step, m)
		assert.False(t, ok)
	}
}

func TestFitRegimes(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, 1.0, -0.02, 0.01}
	labels := []int{1, 1, 1, 2, 2, 2}

	per, global := FitRegimes(returns, labels, 2, DefaultConfig())
	require.Len(t, per, 2)
	assert.Equal(t, 3, per[0].NumObs)
	assert.Equal(t, 0, global.Regime)
	assert.Equal(t, 6, global.NumObs)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Sampling = "kde"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SyntheticFrequency = 2
	assert.Error(t, cfg.Validate())
}
