package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/copula"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/stats"
)

// twoRegimeSeries: 100 calm N(0,0.01) returns then 100 volatile N(0,0.05)
// returns, cumulated from 100
func twoRegimeSeries(id contracts.ProductID, seed int64) contracts.ProductSeries {
	rng := rand.New(rand.NewSource(seed))
	prices := make([]float64, 201)
	prices[0] = 100
	for i := 1; i < len(prices); i++ {
		sigma := 0.01
		if i > 100 {
			sigma = 0.05
		}
		prices[i] = prices[i-1] + sigma*rng.NormFloat64()
	}
	return contracts.ProductSeries{ID: id, Resolution: "hourly", Prices: prices}
}

// correlatedSeries follows base's returns with weight rho plus own noise
func correlatedSeries(id contracts.ProductID, base contracts.ProductSeries, rho float64, seed int64) contracts.ProductSeries {
	rng := rand.New(rand.NewSource(seed))
	returns := base.Returns()
	sigma := stats.StdDev(returns)
	prices := make([]float64, len(base.Prices))
	prices[0] = 50
	for i, r := range returns {
		prices[i+1] = prices[i] + rho*r + math.Sqrt(1-rho*rho)*sigma*rng.NormFloat64()
	}
	return contracts.ProductSeries{ID: id, Resolution: "hourly", Prices: prices}
}

func testConfig() *simconfig.Config {
	cfg := simconfig.Default()
	cfg.Simulation.NumPaths = 20
	cfg.Simulation.Horizon = 72
	cfg.Simulation.Workers = 4
	return cfg
}

func calibrate(t *testing.T, cfg *simconfig.Config, series ...contracts.ProductSeries) *calibration.Set {
	t.Helper()
	set, err := calibration.NewCalibrator(cfg, nil).Calibrate(context.Background(), series)
	require.NoError(t, err)
	return set
}

func run(t *testing.T, cfg *simconfig.Config, set *calibration.Set, targets map[contracts.ProductID]contracts.ForecastTarget) *Result {
	t.Helper()
	res, err := NewEngine(NewContext(cfg, nil)).Run(context.Background(), set, targets)
	require.NoError(t, err)
	return res
}

func assertPricesValid(t *testing.T, set *calibration.Set, res *Result, k float64) {
	t.Helper()
	for _, id := range set.Order {
		pm := set.Products[id]
		lo, hi := pm.PriceBounds(k)
		prices := res.Prices[id]
		rows, cols := prices.Dims()
		require.Equal(t, res.Horizon, rows)
		require.Equal(t, res.NumPaths, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p := prices.At(i, j)
				require.True(t, stats.IsFinite(p), "%s [%d,%d] not finite", id, i, j)
				require.True(t, p >= lo-1e-9 && p <= hi+1e-9, "%s [%d,%d]=%v outside [%v,%v]", id, i, j, p, lo, hi)
			}
		}
	}
}

func TestRun_TwoRegimeEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Horizon = 168
	set := calibrate(t, cfg, twoRegimeSeries("hub", 42))

	pm := set.Products["hub"]
	require.Equal(t, 2, pm.K())
	assert.Less(t, pm.VolatilityFor(1).TargetVol(), pm.VolatilityFor(2).TargetVol())

	res := run(t, cfg, set, nil)
	assertPricesValid(t, set, res, cfg.Modulation.ResetSigma)

	diag := res.Diagnostics["hub"]
	require.NotNil(t, diag)
	assert.LessOrEqual(t, diag.Comparison.SimStd, 3*diag.Comparison.HistStd)
	assert.LessOrEqual(t, diag.Comparison.SimPriceStd, 3*diag.Comparison.HistPriceStd)
	assert.InDelta(t, 1.0, diag.RegimeOccupancy[0]+diag.RegimeOccupancy[1], 1e-9)

	// regime matrix carries labels in [1..K]
	rows, cols := res.Regimes["hub"].Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			l := res.Regimes["hub"].At(i, j)
			assert.True(t, l >= 1 && l <= 2)
		}
	}
}

func TestRun_SeedReproducible(t *testing.T) {
	cfg := testConfig()
	base := twoRegimeSeries("hub", 1)
	set := calibrate(t, cfg, base, correlatedSeries("regup", base, 0.7, 2))

	first := run(t, cfg, set, nil)

	serial := testConfig()
	serial.Simulation.Workers = 1
	second := run(t, serial, set, nil)

	for _, id := range set.Order {
		assert.True(t, mat.Equal(first.Prices[id], second.Prices[id]), "%s prices differ", id)
		assert.True(t, mat.Equal(first.Regimes[id], second.Regimes[id]), "%s regimes differ", id)
	}
	assert.NotEqual(t, first.RunID, second.RunID)

	other := testConfig()
	other.Meta.Seed = 7
	third := run(t, other, set, nil)
	assert.False(t, mat.Equal(first.Prices["hub"], third.Prices["hub"]))
}

func TestRun_SingleProductSkipsCorrelation(t *testing.T) {
	cfg := testConfig()
	set := calibrate(t, cfg, twoRegimeSeries("nonspin", 5))

	res := run(t, cfg, set, nil)

	assert.True(t, res.Correlation.Skipped)
	assert.Empty(t, res.CopulaChecks)
	assertPricesValid(t, set, res, cfg.Modulation.ResetSigma)
}

func TestRun_PricesStayInsideResetBand(t *testing.T) {
	cfg := testConfig()
	cfg.Modulation.AmplificationFactor = cfg.Modulation.MaxAmplification
	cfg.Meta.Mode = simconfig.ModeProduction
	base := twoRegimeSeries("hub", 9)
	set := calibrate(t, cfg, base, correlatedSeries("regdown", base, -0.5, 10))

	// an unreachable forecast pushes every factor to the upper bound
	targets := map[contracts.ProductID]contracts.ForecastTarget{
		"hub": {Product: "hub", Values: constant(cfg.Simulation.Horizon, 1e6)},
	}
	res := run(t, cfg, set, targets)

	assertPricesValid(t, set, res, cfg.Modulation.ResetSigma)
	assert.True(t, res.Diagnostics["hub"].Enforcement.Applied)
	assert.Greater(t, res.Diagnostics["hub"].Enforcement.FinalClamps, 0)
	assert.False(t, res.Correlation.Skipped)
	assert.Len(t, res.Correlation.Realised, 4)
}

func TestRun_JumpCooldownRespected(t *testing.T) {
	cfg := testConfig()
	cfg.Jump.Window = 10
	cfg.Jump.SyntheticFrequency = 0.6
	set := calibrate(t, cfg, twoRegimeSeries("hub", 3))

	res := run(t, cfg, set, nil)
	diag := res.Diagnostics["hub"]
	require.Greater(t, diag.InjectedJumps, 0)

	for j, flags := range diag.Flags {
		last := -1
		for step, f := range flags {
			if !f.Has(FlagJump) {
				continue
			}
			if last >= 0 {
				assert.GreaterOrEqual(t, step-last, cfg.Jump.Window, "path %d", j)
			}
			last = step
		}
	}
}

func TestRun_EmptyJumpSetFallsBack(t *testing.T) {
	cfg := testConfig()
	// alternating ±1 returns: no observation exceeds 4σ
	prices := make([]float64, 150)
	prices[0] = 20
	for i := 1; i < len(prices); i++ {
		prices[i] = prices[i-1] + float64(1-2*(i%2))
	}
	series := contracts.ProductSeries{ID: "gen", Prices: prices}
	set := calibrate(t, cfg, series)

	pm := set.Products["gen"]
	for _, jm := range pm.Jumps {
		assert.True(t, jm.Synthetic)
		assert.Equal(t, cfg.Jump.SyntheticFrequency, jm.Frequency)
		assert.Len(t, jm.Sizes, 2)
	}

	res := run(t, cfg, set, nil)
	assertPricesValid(t, set, res, cfg.Modulation.ResetSigma)
}

func TestRun_BootstrapDisabledUsesOverlay(t *testing.T) {
	cfg := testConfig()
	cfg.Bootstrap.Enabled = false
	base := twoRegimeSeries("hub", 21)
	set := calibrate(t, cfg, base, correlatedSeries("regup", base, 0.8, 22))

	res := run(t, cfg, set, nil)

	assertPricesValid(t, set, res, cfg.Modulation.ResetSigma)
	assert.Zero(t, res.Diagnostics["hub"].BlockRejections)
}

func TestRun_ConfigurationErrorsFailFast(t *testing.T) {
	cfg := testConfig()
	set := calibrate(t, cfg, twoRegimeSeries("hub", 4))

	bad := testConfig()
	bad.Simulation.NumPaths = 0
	_, err := NewEngine(NewContext(bad, nil)).Run(context.Background(), set, nil)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)

	_, err = NewEngine(NewContext(cfg, nil)).Run(context.Background(), set,
		map[contracts.ProductID]contracts.ForecastTarget{"unknown": {Values: []float64{1}}})
	assert.ErrorIs(t, err, contracts.ErrConfiguration)

	_, err = NewEngine(NewContext(cfg, nil)).Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)
}

func TestRun_GovernorModes(t *testing.T) {
	cfg := testConfig()
	set := calibrate(t, cfg, twoRegimeSeries("hub", 6))
	// infinite regime target volatility → non-finite volatility ratio
	for _, vm := range set.Products["hub"].Volatility {
		vm.CondVol = []float64{math.Inf(1)}
	}

	_, err := NewEngine(NewContext(cfg, nil)).Run(context.Background(), set, nil)
	require.Error(t, err)
	var stageErr *contracts.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, contracts.StageVolatility, stageErr.Stage)

	prod := testConfig()
	prod.Meta.Mode = simconfig.ModeProduction
	res := run(t, prod, set, nil)
	assert.Greater(t, res.Diagnostics["hub"].GovernorCorrections, 0)
	assertPricesValid(t, set, res, prod.Modulation.ResetSigma)
}

func TestRun_GovernorAbortKeepsHealthyProducts(t *testing.T) {
	cfg := testConfig()
	hub := twoRegimeSeries("hub", 7)
	set := calibrate(t, cfg, hub, correlatedSeries("regup", hub, 0.6, 17))
	for _, vm := range set.Products["regup"].Volatility {
		vm.CondVol = []float64{math.Inf(1)}
	}

	res := run(t, cfg, set, nil)

	require.Contains(t, res.ProductErrors, contracts.ProductID("regup"))
	var stageErr *contracts.StageError
	require.True(t, errors.As(res.ProductErrors["regup"], &stageErr))
	assert.Equal(t, contracts.StageVolatility, stageErr.Stage)
	assert.True(t, res.Failed("regup"))
	assert.False(t, res.Failed("hub"))

	// aborted product: no matrices, every path marked aborted
	assert.Nil(t, res.Prices["regup"])
	regup := res.Diagnostics["regup"]
	require.NotNil(t, regup)
	assert.Equal(t, cfg.Simulation.NumPaths, regup.AbortedPaths)
	assert.NotEmpty(t, regup.Error)

	// healthy product keeps its paths
	require.NotNil(t, res.Prices["hub"])
	rows, cols := res.Prices["hub"].Dims()
	assert.Equal(t, cfg.Simulation.Horizon, rows)
	assert.Equal(t, cfg.Simulation.NumPaths, cols)
	assert.Zero(t, res.Diagnostics["hub"].AbortedPaths)
	assert.True(t, res.Correlation.Skipped)

	var failFast bool
	for _, d := range res.Degradations {
		if d.Product == "regup" && d.Action == contracts.ActionFailFast {
			failFast = true
		}
	}
	assert.True(t, failFast)
}

func TestRun_DoesNotMutateDecodedCopula(t *testing.T) {
	cfg := testConfig()
	cfg.Correlation.Source = simconfig.CorrelationRegime
	hub := twoRegimeSeries("hub", 9)
	set := calibrate(t, cfg, hub, correlatedSeries("regup", hub, 0.7, 19))
	require.NotNil(t, set.Copula)

	// cache round trip drops the unexported factors
	raw, err := json.Marshal(set.Copula)
	require.NoError(t, err)
	var decoded copula.Model
	require.NoError(t, json.Unmarshal(raw, &decoded))
	set.Copula = &decoded

	run(t, cfg, set, nil)

	after, err := json.Marshal(set.Copula)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(after))
	for _, rc := range set.Copula.Regimes {
		assert.Nil(t, rc.Cholesky())
	}
}

func TestRun_ProgressCallback(t *testing.T) {
	cfg := testConfig()
	set := calibrate(t, cfg, twoRegimeSeries("hub", 8))

	sc := NewContext(cfg, nil)
	var calls, lastDone, lastTotal int
	sc.Progress = func(done, total int) {
		calls++
		lastDone, lastTotal = done, total
	}
	_, err := NewEngine(sc).Run(context.Background(), set, nil)
	require.NoError(t, err)

	assert.Equal(t, lastTotal, calls)
	assert.Equal(t, lastTotal, lastDone)
}

func TestRun_Cancelled(t *testing.T) {
	cfg := testConfig()
	set := calibrate(t, cfg, twoRegimeSeries("hub", 12))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(NewContext(cfg, nil)).Run(ctx, set, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeriveSeed_Distinct(t *testing.T) {
	seen := map[int64]bool{}
	for s := streamPath; s <= streamCopula; s++ {
		for path := 0; path < 20; path++ {
			for product := 0; product < 3; product++ {
				v := deriveSeed(42, s, path, product)
				assert.False(t, seen[v])
				seen[v] = true
			}
		}
	}
}
