package regime

import (
	"math"
	"math/cmplx"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/wonny/scengen/internal/stats"
)

// HoursPerDay hourly regime table rows
const HoursPerDay = 24

// DurationStats run-length summary
type DurationStats struct {
	Mean  float64 `json:"mean"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Count int     `json:"count"`
}

// Run one contiguous stretch of a regime
type Run struct {
	Regime int `json:"regime"`
	Length int `json:"length"`
}

// Transition Markov regime-transition model
// ⭐ Matrix/Hourly rows are 0-based regime indices (label-1)
type Transition struct {
	K          int             `json:"k"`
	Matrix     []float64       `json:"matrix"`     // K×K row-stochastic, row-major
	Stationary []float64       `json:"stationary"` // length K, sums to 1
	Hourly     [][]float64     `json:"hourly"`     // 24×K, rows sum to 1 (or all zero)
	HourlyBias float64         `json:"hourly_bias"`
	Runs       []Run           `json:"runs"`
	Durations  []DurationStats `json:"durations"` // per regime
	Overall    DurationStats   `json:"overall"`
}

// BuildTransition counts label transitions and derives every table.
// hours may be nil or shorter than labels; missing hours are ignored.
func BuildTransition(labels []int, k int, hours []int, hourlyBias float64) *Transition {
	if k < 1 {
		k = 1
	}
	t := &Transition{
		K:          k,
		Matrix:     make([]float64, k*k),
		HourlyBias: hourlyBias,
	}

	// 전이 카운트
	for i := 0; i+1 < len(labels); i++ {
		from, to := labels[i]-1, labels[i+1]-1
		if from < 0 || from >= k || to < 0 || to >= k {
			continue
		}
		t.Matrix[from*k+to]++
	}
	for r := 0; r < k; r++ {
		row := t.Matrix[r*k : (r+1)*k]
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			// absorbing self-loop
			row[r] = 1
			continue
		}
		for c := range row {
			row[c] /= sum
		}
	}

	t.Stationary = Stationary(t.Matrix, k)
	t.Hourly = hourlyTable(labels, k, hours)
	t.Runs, t.Durations, t.Overall = durations(labels, k)
	return t
}

// Stationary returns |left eigenvector for λ=1| normalised to sum 1.
// Falls back to power iteration if the eigen decomposition is unusable.
func Stationary(p []float64, k int) []float64 {
	if k == 1 {
		return []float64{1}
	}

	pt := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			pt.Set(j, i, p[i*k+j])
		}
	}

	var eig mat.Eigen
	if ok := eig.Factorize(pt, mat.EigenRight); ok {
		vals := eig.Values(nil)
		best := 0
		for i, v := range vals {
			if cmplx.Abs(v-1) < cmplx.Abs(vals[best]-1) {
				best = i
			}
		}
		var vecs mat.CDense
		eig.VectorsTo(&vecs)

		pi := make([]float64, k)
		sum := 0.0
		for i := 0; i < k; i++ {
			pi[i] = cmplx.Abs(vecs.At(i, best))
			sum += pi[i]
		}
		if sum > 0 && stats.AllFinite(pi) && cmplx.Abs(vals[best]-1) < 1e-6 {
			for i := range pi {
				pi[i] /= sum
			}
			return pi
		}
	}
	return powerIteration(p, k)
}

func powerIteration(p []float64, k int) []float64 {
	pi := make([]float64, k)
	for i := range pi {
		pi[i] = 1 / float64(k)
	}
	next := make([]float64, k)
	for iter := 0; iter < 10000; iter++ {
		for j := range next {
			next[j] = 0
		}
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				next[j] += pi[i] * p[i*k+j]
			}
		}
		diff := 0.0
		for j := range next {
			diff += math.Abs(next[j] - pi[j])
		}
		copy(pi, next)
		if diff < 1e-12 {
			break
		}
	}
	return pi
}

func hourlyTable(labels []int, k int, hours []int) [][]float64 {
	table := make([][]float64, HoursPerDay)
	for h := range table {
		table[h] = make([]float64, k)
	}
	for i, l := range labels {
		if i >= len(hours) || l < 1 || l > k {
			continue
		}
		h := hours[i]
		if h < 0 || h >= HoursPerDay {
			continue
		}
		table[h][l-1]++
	}
	for _, row := range table {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for c := range row {
			row[c] /= sum
		}
	}
	return table
}

func durations(labels []int, k int) ([]Run, []DurationStats, DurationStats) {
	var runs []Run
	for i := 0; i < len(labels); {
		j := i
		for j < len(labels) && labels[j] == labels[i] {
			j++
		}
		runs = append(runs, Run{Regime: labels[i], Length: j - i})
		i = j
	}

	per := make([]DurationStats, k)
	var overall DurationStats
	for _, r := range runs {
		if r.Regime >= 1 && r.Regime <= k {
			addRun(&per[r.Regime-1], r.Length)
		}
		addRun(&overall, r.Length)
	}
	for i := range per {
		finishRun(&per[i])
	}
	finishRun(&overall)
	return runs, per, overall
}

// RunLengths per-regime and overall run-length statistics of a label sequence
func RunLengths(labels []int, k int) ([]DurationStats, DurationStats) {
	_, per, overall := durations(labels, k)
	return per, overall
}

// Merge combines two summaries (count-weighted mean)
func (d DurationStats) Merge(o DurationStats) DurationStats {
	switch {
	case o.Count == 0:
		return d
	case d.Count == 0:
		return o
	}
	out := DurationStats{
		Count: d.Count + o.Count,
		Min:   d.Min,
		Max:   d.Max,
	}
	if o.Min < out.Min {
		out.Min = o.Min
	}
	if o.Max > out.Max {
		out.Max = o.Max
	}
	out.Mean = (d.Mean*float64(d.Count) + o.Mean*float64(o.Count)) / float64(out.Count)
	return out
}

func addRun(d *DurationStats, length int) {
	if d.Count == 0 || length < d.Min {
		d.Min = length
	}
	if length > d.Max {
		d.Max = length
	}
	d.Mean += float64(length)
	d.Count++
}

func finishRun(d *DurationStats) {
	if d.Count > 0 {
		d.Mean /= float64(d.Count)
	}
}

// =============================================================================
// Sampling
// =============================================================================

// Row returns the transition probabilities out of regime label `from`
func (t *Transition) Row(from int) []float64 {
	if from < 1 || from > t.K {
		return t.Stationary
	}
	return t.Matrix[(from-1)*t.K : from*t.K]
}

// Initial draws a starting label from the hourly table (or stationary
// distribution when the hour carries no data)
func (t *Transition) Initial(rng *rand.Rand, hour int) int {
	if row := t.hourRow(hour); row != nil {
		return stats.SampleCategorical(rng, row) + 1
	}
	return stats.SampleCategorical(rng, t.Stationary) + 1
}

// Step draws the next label, mixing in the hour-of-day table by HourlyBias
func (t *Transition) Step(rng *rand.Rand, from, hour int) int {
	row := t.Row(from)
	if hr := t.hourRow(hour); hr != nil && t.HourlyBias > 0 {
		mixed := make([]float64, t.K)
		for j := range mixed {
			mixed[j] = (1-t.HourlyBias)*row[j] + t.HourlyBias*hr[j]
		}
		row = mixed
	}
	return stats.SampleCategorical(rng, row) + 1
}

// Power returns P^steps (flat, row-major)
func (t *Transition) Power(steps int) []float64 {
	k := t.K
	p := mat.NewDense(k, k, append([]float64(nil), t.Matrix...))
	out := mat.NewDense(k, k, nil)
	if steps <= 0 {
		for i := 0; i < k; i++ {
			out.Set(i, i, 1)
		}
	} else {
		out.Pow(p, steps)
	}

	flat := make([]float64, k*k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			flat[i*k+j] = out.At(i, j)
		}
	}
	return flat
}

// StepWith draws the next label using a precomputed (possibly powered) matrix
func (t *Transition) StepWith(rng *rand.Rand, power []float64, from int) int {
	if from < 1 || from > t.K || len(power) != t.K*t.K {
		return stats.SampleCategorical(rng, t.Stationary) + 1
	}
	return stats.SampleCategorical(rng, power[(from-1)*t.K:from*t.K]) + 1
}

func (t *Transition) hourRow(hour int) []float64 {
	if hour < 0 || hour >= len(t.Hourly) {
		return nil
	}
	row := t.Hourly[hour]
	for _, v := range row {
		if v > 0 {
			return row
		}
	}
	return nil
}
