package regime

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoRegimeReturns: 100 calm steps N(0,0.01) followed by 100 volatile steps N(0,0.05)
func twoRegimeReturns(seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, 200)
	for i := range out {
		sigma := 0.01
		if i >= 100 {
			sigma = 0.05
		}
		out[i] = rng.NormFloat64() * sigma
	}
	return out
}

func TestDetect_TwoRegimes(t *testing.T) {
	returns := twoRegimeReturns(42)
	d := NewDetector(DefaultConfig())

	model, err := d.Detect(returns, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, model.OptimalK)
	assert.Equal(t, StatusFitted, model.Status)
	require.Len(t, model.Labels, len(returns))
	for _, l := range model.Labels {
		assert.GreaterOrEqual(t, l, 1)
		assert.LessOrEqual(t, l, model.OptimalK)
	}

	// label 1 = calmest
	assert.Less(t, model.Components[0].Mean, model.Components[1].Mean)
	assert.Equal(t, 1, model.Labels[50])
	assert.Equal(t, 2, model.Labels[170])
}

func TestDetect_LabelsAlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 5; trial++ {
		returns := make([]float64, 300)
		for i := range returns {
			returns[i] = rng.NormFloat64() * (0.01 + 0.04*rng.Float64())
		}
		model, err := NewDetector(DefaultConfig()).Detect(returns, nil)
		require.NoError(t, err)
		require.Len(t, model.Labels, len(returns))
		for _, l := range model.Labels {
			assert.True(t, l >= 1 && l <= model.OptimalK)
		}
	}
}

func TestDetect_ConstantSeriesIsSkipped(t *testing.T) {
	returns := make([]float64, 50)
	model, err := NewDetector(DefaultConfig()).Detect(returns, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, model.Status)
	assert.Equal(t, 1, model.OptimalK)
	for _, l := range model.Labels {
		assert.Equal(t, 1, l)
	}
}

func TestDetect_ShortSeriesFallsBack(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	returns := make([]float64, 15) // < MinK·10
	for i := range returns {
		returns[i] = rng.NormFloat64()
	}
	model, err := NewDetector(DefaultConfig()).Detect(returns, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFallback, model.Status)
	assert.Equal(t, 2, model.OptimalK)
	assert.Len(t, model.Labels, 15)
}

func TestDetect_Empty(t *testing.T) {
	_, err := NewDetector(DefaultConfig()).Detect(nil, nil)
	assert.Error(t, err)
}

func TestFitGMM_SeparatesClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := make([]float64, 0, 400)
	for i := 0; i < 200; i++ {
		x = append(x, rng.NormFloat64()*0.1)
		x = append(x, 5+rng.NormFloat64()*0.1)
	}
	mix, err := fitGMM(x, 2, gmmOptions{maxIter: 200, tol: 1e-10, reg: 1e-6})
	require.NoError(t, err)

	assert.InDelta(t, 0.0, mix.Components[0].Mean, 0.05)
	assert.InDelta(t, 5.0, mix.Components[1].Mean, 0.05)
	assert.InDelta(t, 0.5, mix.Components[0].Weight, 0.01)
	assert.Equal(t, 5, mix.NumParams())
	assert.True(t, mix.Converged)
}

func TestBuildTransition(t *testing.T) {
	labels := []int{1, 1, 2, 2, 2, 1, 1, 3}
	tr := BuildTransition(labels, 3, nil, 0)

	for r := 0; r < 3; r++ {
		sum := 0.0
		for c := 0; c < 3; c++ {
			sum += tr.Matrix[r*3+c]
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "row %d", r)
	}
	// regime 3 never transitions: absorbing self-loop
	assert.Equal(t, 1.0, tr.Matrix[2*3+2])

	sum := 0.0
	for _, p := range tr.Stationary {
		assert.GreaterOrEqual(t, p, 0.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	require.Len(t, tr.Runs, 4)
	assert.Equal(t, Run{Regime: 2, Length: 3}, tr.Runs[1])
	assert.Equal(t, 2, tr.Durations[0].Min)
	assert.Equal(t, 1, tr.Overall.Min)
	assert.Equal(t, 3, tr.Overall.Max)
	assert.InDelta(t, 2.0, tr.Overall.Mean, 1e-12)
}

func TestStationary_KnownChain(t *testing.T) {
	p := []float64{
		0.9, 0.1,
		0.5, 0.5,
	}
	pi := Stationary(p, 2)
	assert.InDelta(t, 5.0/6.0, pi[0], 1e-9)
	assert.InDelta(t, 1.0/6.0, pi[1], 1e-9)

	assert.InDeltaSlice(t, pi, powerIteration(p, 2), 1e-9)
}

func TestHourlyTable(t *testing.T) {
	labels := []int{1, 2, 2, 1}
	hours := []int{0, 0, 5, 23}
	tr := BuildTransition(labels, 2, hours, 0.2)

	require.Len(t, tr.Hourly, HoursPerDay)
	assert.Equal(t, []float64{0.5, 0.5}, tr.Hourly[0])
	assert.Equal(t, []float64{0, 1}, tr.Hourly[5])
	assert.Equal(t, []float64{0, 0}, tr.Hourly[12])

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		assert.Equal(t, 2, tr.Initial(rng, 5), "hour 5 only ever saw regime 2")
	}
}

func TestTransitionStepAndPower(t *testing.T) {
	tr := BuildTransition([]int{1, 2, 1, 2, 1, 2}, 2, nil, 0)
	// deterministic alternation
	assert.Equal(t, []float64{0, 1, 1, 0}, tr.Matrix)

	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 2, tr.Step(rng, 1, -1))
	assert.Equal(t, 1, tr.Step(rng, 2, -1))

	p2 := tr.Power(2)
	assert.InDeltaSlice(t, []float64{1, 0, 0, 1}, p2, 1e-12)
	assert.Equal(t, 1, tr.StepWith(rng, p2, 1))

	id := tr.Power(0)
	assert.InDeltaSlice(t, []float64{1, 0, 0, 1}, id, 1e-12)
}

func TestSingle(t *testing.T) {
	m := Single(4, nil, StatusSingle)
	assert.Equal(t, 1, m.OptimalK)
	assert.Equal(t, []int{1, 1, 1, 1}, m.Labels)
	assert.Equal(t, []float64{1}, m.Transition.Matrix)
	assert.Equal(t, []int{0, 1, 2, 3}, m.Indices(1))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxK = 11
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxK = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.HourlyBias = 1.5
	assert.Error(t, cfg.Validate())
}
