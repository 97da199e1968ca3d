package simulator

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/stats"
)

// =============================================================================
// Block sampler (read-only, shared by all paths of a product)
// =============================================================================

type blockKey struct {
	regime int
	size   int
}

// blockSampler regime-conditional block bootstrap over one product's history
type blockSampler struct {
	returns     []float64
	labels      []int
	sigma       float64 // σ_hist
	factor      float64
	maxAttempts int
	smoothing   int
	candidates  map[blockKey][]int // start indices whose next `size` labels all equal `regime`
}

// blockDraw outcome of one block search
type blockDraw struct {
	start       int
	size        int
	constrained bool // regime-matched start
	fallback    bool // retry cap exhausted, least extreme block demeaned
	rejections  int
}

func newBlockSampler(returns []float64, labels []int, sigma float64, k int, cfg simconfig.Bootstrap, sizes ...int) *blockSampler {
	s := &blockSampler{
		returns:     returns,
		labels:      labels,
		sigma:       sigma,
		factor:      cfg.MaxBlockCumSumFactor,
		maxAttempts: cfg.MaxAttempts,
		smoothing:   cfg.SmoothingWindow,
		candidates:  make(map[blockKey][]int),
	}

	// runLen[i] = same-label run length starting at i
	n := len(labels)
	runLen := make([]int, n)
	for i := n - 1; i >= 0; i-- {
		runLen[i] = 1
		if i+1 < n && labels[i+1] == labels[i] {
			runLen[i] = runLen[i+1] + 1
		}
	}
	for _, b := range sizes {
		for r := 1; r <= k; r++ {
			key := blockKey{regime: r, size: b}
			if _, ok := s.candidates[key]; ok {
				continue
			}
			var starts []int
			for i := 0; i+b <= n; i++ {
				if labels[i] == r && runLen[i] >= b {
					starts = append(starts, i)
				}
			}
			s.candidates[key] = starts
		}
	}
	return s
}

// threshold |Σblock| bound for a block of size b
func (s *blockSampler) threshold(b int) float64 {
	return s.factor * s.sigma * math.Sqrt(float64(b))
}

// accepts reports whether the block [start, start+b) passes the cumulative-sum test
func (s *blockSampler) accepts(start, b int) bool {
	return math.Abs(blockSum(s.returns[start:start+b])) <= s.threshold(b)
}

// draw searches a block for the simulated regime. Regime-matched starts are
// preferred; without any, starts are unconstrained. Rejected blocks are
// resampled up to maxAttempts.
func (s *blockSampler) draw(rng *rand.Rand, regime, b int) blockDraw {
	n := len(s.returns)
	if b > n {
		b = n
	}
	cands := s.candidates[blockKey{regime: regime, size: b}]
	d := blockDraw{size: b, constrained: len(cands) > 0}

	best, bestAbs := 0, math.Inf(1)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		var start int
		if d.constrained {
			start = cands[rng.Intn(len(cands))]
		} else {
			start = rng.Intn(n - b + 1)
		}
		if s.accepts(start, b) {
			d.start = start
			return d
		}
		d.rejections++
		if a := math.Abs(blockSum(s.returns[start : start+b])); a < bestAbs {
			best, bestAbs = start, a
		}
	}
	d.start = best
	d.fallback = true
	return d
}

// splice returns the smoothed block values and their historical labels
func (s *blockSampler) splice(d blockDraw) ([]float64, []int) {
	raw := s.returns[d.start : d.start+d.size]
	out := make([]float64, len(raw))
	if d.fallback {
		// 누적합 0으로 만들어 drift 제거
		mean := stats.Mean(raw)
		for i, v := range raw {
			out[i] = v - mean
		}
	} else if s.smoothing > 0 {
		rm := stats.RollingMean(raw, s.smoothing)
		for i, v := range raw {
			out[i] = v - rm[i]
		}
	} else {
		copy(out, raw)
	}
	labels := append([]int(nil), s.labels[d.start:d.start+d.size]...)
	return out, labels
}

func blockSum(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s
}

// =============================================================================
// Pass 1: block bootstrap / Pass 3: innovation overlay
// =============================================================================

// rawPath per-(product, path) output of passes 1-3
type rawPath struct {
	returns []float64
	regimes []int
	flags   []StepFlag

	jumps         int
	rejections    int
	fallbacks     int
	unconstrained int
}

// bootstrapPass fills the horizon with regime-conditional blocks.
// powers[b] = P^b: 비제약 블록은 과거 라벨이 현재 레짐과 무관하므로
// 다음 레짐을 블록 시작 레짐에서 b-step 전이로 뽑음
func bootstrapPass(rng *rand.Rand, pm *calibration.ProductModel, sampler *blockSampler, powers map[int][]float64, horizon, blockSize int, out *rawPath) {
	tr := pm.Regime.Transition
	current := tr.Initial(rng, pm.NextHour)

	for pos := 0; pos < horizon; {
		b := blockSize
		if horizon-pos < b {
			b = horizon - pos
		}
		d := sampler.draw(rng, current, b)
		out.rejections += d.rejections
		if d.fallback {
			out.fallbacks++
		}
		if !d.constrained {
			out.unconstrained++
		}

		values, labels := sampler.splice(d)
		copy(out.returns[pos:], values)
		copy(out.regimes[pos:], labels)
		pos += len(values)
		if len(values) == 0 {
			break
		}

		if power, ok := powers[len(values)]; ok && !d.constrained {
			current = tr.StepWith(rng, power, current)
			continue
		}
		last := labels[len(labels)-1]
		current = tr.Step(rng, last, hourAt(pm.NextHour, pos))
	}
}

// overlayPass Markov regime path plus a Gaussian or unit-variance Student-t
// innovation scaled by the regime target volatility (bootstrap disabled)
func overlayPass(rng *rand.Rand, pm *calibration.ProductModel, cfg simconfig.Innovation, horizon int, out *rawPath) {
	tr := pm.Regime.Transition
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: cfg.DF}
	scale := 1.0
	if cfg.Distribution == simconfig.InnovationStudentT {
		scale = math.Sqrt((cfg.DF - 2) / cfg.DF)
	}

	r := tr.Initial(rng, pm.NextHour)
	for t := 0; t < horizon; t++ {
		if t > 0 {
			r = tr.Step(rng, r, hourAt(pm.NextHour, t))
		}
		var eps float64
		switch cfg.Distribution {
		case simconfig.InnovationStudentT:
			u := stats.Clamp(rng.Float64(), 1e-12, 1-1e-12)
			eps = dist.Quantile(u) * scale
		default:
			eps = rng.NormFloat64()
		}
		mean := 0.0
		if vm := pm.VolatilityFor(r); vm != nil {
			mean = vm.Mean
		}
		out.regimes[t] = r
		out.returns[t] += mean + pm.TargetVol(r)*eps
	}
}

// hourAt hour of day of simulated step t
func hourAt(nextHour, t int) int {
	return (nextHour + t) % 24
}
