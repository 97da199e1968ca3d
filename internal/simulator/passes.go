package simulator

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/jump"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/stats"
)

// StepFlag per-step event bits
type StepFlag uint8

const (
	FlagJump     StepFlag = 1 << iota // jump injected
	FlagCapped                        // return capped at ±k·σ_hist
	FlagReset                         // hard reset (price clamped)
	FlagGoverned                      // governor correction (production mode)
	FlagAborted                       // path aborted at or before this step
)

// Has reports whether f carries bit
func (f StepFlag) Has(bit StepFlag) bool {
	return f&bit != 0
}

// =============================================================================
// Pass 2: jump injection
// =============================================================================

func jumpPass(rng *rand.Rand, pm *calibration.ProductModel, cfg jump.Config, out *rawPath) {
	inj := jump.NewInjector(cfg)
	for t := range out.returns {
		size, ok := inj.Inject(rng, t, pm.JumpFor(out.regimes[t]))
		if !ok {
			continue
		}
		out.returns[t] += size
		out.flags[t] |= FlagJump
	}
	out.jumps = inj.Count()
}

// =============================================================================
// Pass 4: cross-product correlation + cap
// =============================================================================

// correlator mixes standardised returns of all products of one path
type correlator struct {
	global  *mat.TriDense
	regimes []*mat.TriDense // index r-1, nil → global
}

// correlatePass z_t ← L·z_t per step, rescaled back to each product's
// own mean/std. returns[j] is product j in Set.Order.
func (c *correlator) correlatePass(returns [][]float64, regimes [][]int) {
	d := len(returns)
	if d < 2 || c == nil {
		return
	}
	horizon := len(returns[0])

	means := make([]float64, d)
	stds := make([]float64, d)
	z := make([][]float64, d)
	for j, r := range returns {
		z[j], means[j], stds[j] = stats.Standardize(r)
	}

	zt := make([]float64, d)
	labels := make([]int, d)
	for t := 0; t < horizon; t++ {
		for j := 0; j < d; j++ {
			zt[j] = z[j][t]
			labels[j] = regimes[j][t]
		}
		l := c.factorFor(modalRegime(labels))
		if l == nil {
			continue
		}
		for i := 0; i < d; i++ {
			if stds[i] == 0 {
				continue
			}
			s := 0.0
			for j := 0; j <= i; j++ {
				s += l.At(i, j) * zt[j]
			}
			returns[i][t] = means[i] + stds[i]*s
		}
	}
}

func (c *correlator) factorFor(r int) *mat.TriDense {
	if r >= 1 && r <= len(c.regimes) && c.regimes[r-1] != nil {
		return c.regimes[r-1]
	}
	if r > len(c.regimes) && len(c.regimes) > 0 && c.regimes[len(c.regimes)-1] != nil {
		return c.regimes[len(c.regimes)-1]
	}
	return c.global
}

// modalRegime most common label (ties → lowest)
func modalRegime(labels []int) int {
	counts := make(map[int]int, len(labels))
	best, bestCount := 1, 0
	for _, l := range labels {
		counts[l]++
	}
	for l, n := range counts {
		if n > bestCount || (n == bestCount && l < best) {
			best, bestCount = l, n
		}
	}
	return best
}

// capPass bounds every return to ±capSigma·σ_hist
func capPass(returns []float64, flags []StepFlag, sigma, capSigma float64) int {
	limit := capSigma * sigma
	capped := 0
	for t, r := range returns {
		if math.Abs(r) > limit {
			returns[t] = stats.Clamp(r, -limit, limit)
			flags[t] |= FlagCapped
			capped++
		}
	}
	return capped
}

// =============================================================================
// Pass 5: volatility modulation + price reconstruction
// =============================================================================

// modulated per-(product, path) output of pass 5
type modulated struct {
	prices   []float64
	resets   int
	governed int
	aborted  bool
}

// modulatePass rescales returns toward the regime target volatility,
// pulls prices toward the historical mean and hard-resets at mean ± kσ.
// Prices are the cumulative sum from the last observed price.
func modulatePass(pm *calibration.ProductModel, cfg *simconfig.Config, gov *governor, returns []float64, regimes []int, flags []StepFlag) (*modulated, error) {
	m := cfg.Modulation
	horizon := len(returns)
	out := &modulated{prices: make([]float64, horizon)}

	lo, hi := pm.PriceBounds(m.ResetSigma)
	anchor := pm.PriceMean
	escalation := m.EscalationSigma * pm.PriceStd
	pathVol := stats.RollingStd(returns, m.VolWindow)

	prev := pm.LastPrice
	zeroNext := false
	consecutive := 0

	for t := 0; t < horizon; t++ {
		// VOLATILITY_PASS
		target := pm.TargetVol(regimes[t]) * m.AmplificationFactor
		ratio := m.MaxVolRatio
		if pathVol[t] > 0 {
			ratio = target / pathVol[t]
		}
		if err := gov.checkRatio(t, ratio); err != nil {
			if gov.abort() {
				return nil, err
			}
			ratio = 1
			flags[t] |= FlagGoverned
			out.governed++
		}
		ratio = stats.Clamp(ratio, 1/m.MaxVolRatio, m.MaxVolRatio)

		r := returns[t] * ratio
		recovering := zeroNext
		if zeroNext {
			r = 0
			zeroNext = false
		}

		weight := m.AnchorWeight
		if math.Abs(prev-anchor) > escalation {
			weight = 1.0
		}
		p := prev + r + weight*(anchor-prev)

		// hard reset: clamp, zero next return, count
		if p < lo || p > hi {
			p = stats.Clamp(p, lo, hi)
			flags[t] |= FlagReset
			out.resets++
			consecutive++
			zeroNext = true
		} else if !recovering {
			// the zeroed step after a reset does not break the streak
			consecutive = 0
		}

		// ADVANCE
		if err := gov.checkPrice(t, prev, p); err != nil {
			if gov.abort() {
				return nil, err
			}
			p = gov.correctPrice(prev, p, anchor)
			flags[t] |= FlagGoverned
			out.governed++
			zeroNext = true
		}

		out.prices[t] = p
		prev = p

		if consecutive > cfg.Safety.MaxConsecutiveResets {
			out.aborted = true
			for u := t + 1; u < horizon; u++ {
				out.prices[u] = p
				flags[u] |= FlagAborted
			}
			flags[t] |= FlagAborted
			break
		}
	}
	return out, nil
}

// checkReturns governor pass over a return series after a stage
func checkReturns(gov *governor, stage contracts.Stage, returns []float64, flags []StepFlag) (int, error) {
	governed := 0
	for t, r := range returns {
		if err := gov.checkFinite(stage, t, r); err != nil {
			if gov.abort() {
				return governed, err
			}
			returns[t] = 0
			flags[t] |= FlagGoverned
			governed++
		}
	}
	return governed, nil
}
