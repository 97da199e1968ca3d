package simulator

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/copula"
	"github.com/wonny/scengen/internal/regime"
	"github.com/wonny/scengen/internal/stats"
)

// Comparison simulated vs historical statistics
type Comparison struct {
	HistStd      float64 `json:"hist_std"`
	SimStd       float64 `json:"sim_std"`
	HistKurtosis float64 `json:"hist_kurtosis"`
	SimKurtosis  float64 `json:"sim_kurtosis"`
	HistACF1     float64 `json:"hist_acf1"`
	SimACF1      float64 `json:"sim_acf1"` // mean over paths
	HistJumpFreq float64 `json:"hist_jump_freq"`
	SimJumpFreq  float64 `json:"sim_jump_freq"`
	HistPriceStd float64 `json:"hist_price_std"`
	SimPriceStd  float64 `json:"sim_price_std"`
}

// ProductDiagnostics per-product simulation report
type ProductDiagnostics struct {
	Product contracts.ProductID `json:"product"`
	Paths   int                 `json:"paths"`

	CappedReturns       int `json:"capped_returns"`
	InjectedJumps       int `json:"injected_jumps"`
	HardResets          int `json:"hard_resets"`
	GovernorCorrections int `json:"governor_corrections"`
	AbortedPaths        int `json:"aborted_paths"`
	BlockRejections     int `json:"block_rejections"`
	BlockFallbacks      int `json:"block_fallbacks"`
	UnconstrainedBlocks int `json:"unconstrained_blocks"`

	Error   string       `json:"error,omitempty"` // governor abort (debug)
	Aborted []bool       `json:"aborted"`         // per path, excluded from validation
	Flags   [][]StepFlag `json:"-"`       // [path][step]

	RegimeDurations []regime.DurationStats `json:"regime_durations"` // simulated, per regime
	HistDurations   []regime.DurationStats `json:"hist_durations"`
	RegimeOccupancy []float64              `json:"regime_occupancy"` // simulated share per regime
	HistStationary  []float64              `json:"hist_stationary"`

	Comparison  Comparison       `json:"comparison"`
	Enforcement EnforcementStats `json:"enforcement"`
}

// CorrelationDiagnostics realised vs historical cross-product correlation
type CorrelationDiagnostics struct {
	Skipped    bool                  `json:"skipped"`
	Reason     string                `json:"reason,omitempty"`
	Products   []contracts.ProductID `json:"products"`
	Historical []float64             `json:"historical"`
	Realised   []float64             `json:"realised"`
	MaxAbsDiff float64               `json:"max_abs_diff"`
}

// CopulaCheck fitted vs re-sampled correlation of one regime copula
type CopulaCheck struct {
	Regime      int           `json:"regime"`
	Family      copula.Family `json:"family"`
	Samples     int           `json:"samples"`
	MaxAbsError float64       `json:"max_abs_error"`
}

// productDiagnostics aggregates one product's paths
func productDiagnostics(pm *calibration.ProductModel, raws []*rawPath, mods []*modulated, prices [][]float64) *ProductDiagnostics {
	k := pm.K()
	d := &ProductDiagnostics{
		Product:         pm.ID,
		Paths:           len(raws),
		Aborted:         make([]bool, len(raws)),
		Flags:           make([][]StepFlag, len(raws)),
		RegimeDurations: make([]regime.DurationStats, k),
		RegimeOccupancy: make([]float64, k),
	}
	if tr := pm.Regime.Transition; tr != nil {
		d.HistDurations = tr.Durations
		d.HistStationary = tr.Stationary
	}

	var (
		pooledReturns []float64
		pooledPrices  []float64
		acfSum        float64
		acfN          int
		steps         int
	)
	for j, raw := range raws {
		m := mods[j]
		d.Flags[j] = raw.flags
		d.Aborted[j] = m.aborted
		d.InjectedJumps += raw.jumps
		d.BlockRejections += raw.rejections
		d.BlockFallbacks += raw.fallbacks
		d.UnconstrainedBlocks += raw.unconstrained
		d.HardResets += m.resets
		d.GovernorCorrections += m.governed
		for _, f := range raw.flags {
			if f.Has(FlagCapped) {
				d.CappedReturns++
			}
		}

		per, _ := regime.RunLengths(raw.regimes, k)
		for r := range per {
			d.RegimeDurations[r] = d.RegimeDurations[r].Merge(per[r])
		}
		for _, l := range raw.regimes {
			if l >= 1 && l <= k {
				d.RegimeOccupancy[l-1]++
			}
		}
		steps += len(raw.regimes)

		if m.aborted {
			d.AbortedPaths++
			continue
		}
		r := pathReturns(pm.LastPrice, prices[j])
		pooledReturns = append(pooledReturns, r...)
		pooledPrices = append(pooledPrices, prices[j]...)
		acfSum += stats.ACF(r, 1)
		acfN++
	}
	if steps > 0 {
		for r := range d.RegimeOccupancy {
			d.RegimeOccupancy[r] /= float64(steps)
		}
	}

	d.Comparison = Comparison{
		HistStd:      pm.ReturnStd,
		SimStd:       stats.StdDev(pooledReturns),
		HistKurtosis: pm.HistKurtosis,
		SimKurtosis:  stats.ExcessKurtosis(pooledReturns),
		HistACF1:     pm.HistACF1,
		HistJumpFreq: pm.HistJumpFreq,
		HistPriceStd: pm.PriceStd,
		SimPriceStd:  stats.StdDev(pooledPrices),
	}
	if acfN > 0 {
		d.Comparison.SimACF1 = acfSum / float64(acfN)
	}
	if steps > 0 {
		d.Comparison.SimJumpFreq = float64(d.InjectedJumps) / float64(steps)
	}
	return d
}

// pathReturns first differences of a price path, anchored at the start price
func pathReturns(start float64, prices []float64) []float64 {
	out := make([]float64, len(prices))
	prev := start
	for t, p := range prices {
		out[t] = p - prev
		prev = p
	}
	return out
}

// correlationDiagnostics pooled realised correlation over paths that no
// product aborted
func correlationDiagnostics(set *calibration.Set, prices [][][]float64, aborted [][]bool) CorrelationDiagnostics {
	d := len(set.Order)
	out := CorrelationDiagnostics{Products: set.Order, Historical: set.GlobalCorrelation}
	if d < 2 {
		out.Skipped = true
		out.Reason = "single product"
		return out
	}

	columns := make([][]float64, d)
	for j := range prices[0] {
		skip := false
		for i := 0; i < d; i++ {
			if aborted[i][j] {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for i, id := range set.Order {
			columns[i] = append(columns[i], pathReturns(set.Products[id].LastPrice, prices[i][j])...)
		}
	}
	if len(columns[0]) < 2 {
		out.Skipped = true
		out.Reason = "no complete paths"
		return out
	}

	out.Realised = stats.CorrelationMatrix(columns)
	out.MaxAbsDiff = maxAbsDiff(out.Realised, out.Historical)
	return out
}

// copulaChecks re-samples each fitted regime copula (nSim = min(limit, rows))
// and compares the sample correlation of the marginal scores with R
func copulaChecks(rng *rand.Rand, m *copula.Model, limit int) []CopulaCheck {
	if m == nil || m.Dim() < 2 {
		return nil
	}
	var checks []CopulaCheck
	for _, rc := range m.Regimes {
		if rc.Family == copula.FamilyNone {
			continue
		}
		n := copula.SampleSize(rc.Rows, limit)
		if n == 0 {
			continue
		}
		quantile := distuv.UnitNormal.Quantile
		if rc.Family == copula.FamilyT {
			quantile = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(rc.DF)}.Quantile
		}

		rows := m.Simulate(rng, rc.Regime, n)
		columns := make([][]float64, m.Dim())
		for j := range columns {
			columns[j] = make([]float64, n)
			for i, row := range rows {
				columns[j][i] = quantile(row[j])
			}
		}
		checks = append(checks, CopulaCheck{
			Regime:      rc.Regime,
			Family:      rc.Family,
			Samples:     n,
			MaxAbsError: maxAbsDiff(stats.CorrelationMatrix(columns), rc.Correlation),
		})
	}
	return checks
}

// maxAbsDiff largest element-wise difference, -1 when shapes differ
func maxAbsDiff(a, b []float64) float64 {
	if len(a) != len(b) {
		return -1
	}
	worst := 0.0
	for i := range a {
		if v := math.Abs(a[i] - b[i]); v > worst {
			worst = v
		}
	}
	return worst
}
