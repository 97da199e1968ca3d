package regime

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/stats"
)

var ErrComponentCollapse = errors.New("mixture component collapsed")

// Mixture fitted 1-D Gaussian mixture
type Mixture struct {
	Components    []Component
	LogLikelihood float64
	Iterations    int
	Converged     bool
}

// NumParams free parameters: K means + K variances + (K-1) weights
func (m *Mixture) NumParams() int {
	return 3*len(m.Components) - 1
}

// BIC = -2·logL + k·ln(n)
func (m *Mixture) BIC(n int) float64 {
	return -2*m.LogLikelihood + float64(m.NumParams())*math.Log(float64(n))
}

// gmmOptions EM 설정
type gmmOptions struct {
	maxIter int
	tol     float64
	reg     float64
}

// fitGMM fits a K-component mixture by EM.
// Initial means sit on evenly spaced quantiles, variances start at the pooled
// variance, and reg is added to every variance update.
func fitGMM(x []float64, k int, opts gmmOptions) (*Mixture, error) {
	n := len(x)
	if k < 1 || n < k {
		return nil, fmt.Errorf("%w: %d observations for %d components", contracts.ErrDataInsufficiency, n, k)
	}

	sorted := stats.Sorted(x)
	pooled := stats.Variance(x) + opts.reg
	if pooled <= 0 {
		return nil, fmt.Errorf("%w: zero variance", contracts.ErrDataInsufficiency)
	}

	comps := make([]Component, k)
	for j := range comps {
		q := (float64(j) + 0.5) / float64(k) * 100
		comps[j] = Component{
			Weight:   1 / float64(k),
			Mean:     stats.Percentile(sorted, q),
			Variance: pooled,
		}
	}

	resp := make([]float64, n*k)
	logp := make([]float64, k)
	prevLL := math.Inf(-1)
	mix := &Mixture{}

	for iter := 1; iter <= opts.maxIter; iter++ {
		// E-step (log-sum-exp)
		ll := 0.0
		for i, xi := range x {
			maxLog := math.Inf(-1)
			for j, c := range comps {
				logp[j] = math.Log(c.Weight) + logNormal(xi, c.Mean, c.Variance)
				if logp[j] > maxLog {
					maxLog = logp[j]
				}
			}
			sum := 0.0
			for j := range comps {
				sum += math.Exp(logp[j] - maxLog)
			}
			lse := maxLog + math.Log(sum)
			ll += lse
			for j := range comps {
				resp[i*k+j] = math.Exp(logp[j] - lse)
			}
		}
		if !stats.IsFinite(ll) {
			return nil, fmt.Errorf("%w: non-finite log-likelihood at iteration %d", contracts.ErrNumericalInstability, iter)
		}

		// M-step
		for j := range comps {
			nk := 0.0
			mean := 0.0
			for i, xi := range x {
				nk += resp[i*k+j]
				mean += resp[i*k+j] * xi
			}
			if nk < 1e-10 {
				return nil, fmt.Errorf("%w: component %d", ErrComponentCollapse, j)
			}
			mean /= nk
			v := 0.0
			for i, xi := range x {
				d := xi - mean
				v += resp[i*k+j] * d * d
			}
			comps[j] = Component{
				Weight:   nk / float64(n),
				Mean:     mean,
				Variance: v/nk + opts.reg,
			}
			if comps[j].Variance <= 0 {
				return nil, fmt.Errorf("%w: component %d", ErrComponentCollapse, j)
			}
		}

		mix.LogLikelihood = ll
		mix.Iterations = iter
		if math.Abs(ll-prevLL) <= opts.tol*math.Max(1, math.Abs(ll)) {
			mix.Converged = true
			break
		}
		prevLL = ll
	}

	// final log-likelihood under the updated parameters
	mix.LogLikelihood = mixtureLogLikelihood(x, comps)

	sort.SliceStable(comps, func(a, b int) bool { return comps[a].Mean < comps[b].Mean })
	mix.Components = comps
	return mix, nil
}

// Assign returns the most likely label (1..K) for every observation
func (m *Mixture) Assign(x []float64) []int {
	labels := make([]int, len(x))
	for i, xi := range x {
		best, bestLog := 0, math.Inf(-1)
		for j, c := range m.Components {
			lp := math.Log(c.Weight) + logNormal(xi, c.Mean, c.Variance)
			if lp > bestLog {
				best, bestLog = j, lp
			}
		}
		labels[i] = best + 1
	}
	return labels
}

func mixtureLogLikelihood(x []float64, comps []Component) float64 {
	ll := 0.0
	for _, xi := range x {
		maxLog := math.Inf(-1)
		logs := make([]float64, len(comps))
		for j, c := range comps {
			logs[j] = math.Log(c.Weight) + logNormal(xi, c.Mean, c.Variance)
			if logs[j] > maxLog {
				maxLog = logs[j]
			}
		}
		sum := 0.0
		for _, l := range logs {
			sum += math.Exp(l - maxLog)
		}
		ll += maxLog + math.Log(sum)
	}
	return ll
}

func logNormal(x, mean, variance float64) float64 {
	d := x - mean
	return -0.5 * (math.Log(2*math.Pi*variance) + d*d/variance)
}
