package volatility

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/stats"
)

// penalty returned for non-finite objective values
const penalty = 1e10

var ErrNotConverged = errors.New("optimizer did not converge")

// acceptedStatuses optimizer termination states treated as a usable optimum
var acceptedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
	optimize.MethodConverge:      true,
	optimize.FunctionThreshold:   true,
}

// limitStatuses budget exhaustion: the best point is kept but flagged
var limitStatuses = map[optimize.Status]bool{
	optimize.FunctionEvaluationLimit: true,
	optimize.IterationLimit:          true,
	optimize.RuntimeLimit:            true,
}

// Estimator 변동성 모델 추정기
type Estimator struct {
	config Config
}

// NewEstimator 새 추정기 생성
func NewEstimator(config Config) *Estimator {
	return &Estimator{config: config}
}

// Fit searches family × p × q and keeps the candidate with the lowest
// criterion. It always returns a usable model: when every candidate fails
// (or data is too short) the unconditional-variance fallback is returned.
func (e *Estimator) Fit(returns []float64, regime int) *Model {
	mean, std := stats.MeanStdDev(returns)
	initVar := std * std
	residuals := make([]float64, len(returns))
	for i, r := range returns {
		residuals[i] = r - mean
	}

	if len(returns) < e.config.MinObservations {
		return Fallback(returns, regime, fmt.Sprintf("%d observations < %d", len(returns), e.config.MinObservations))
	}
	if initVar <= 0 {
		return Fallback(returns, regime, "zero variance")
	}

	var best *Model
	for _, f := range e.config.Families {
		for p := 1; p <= e.config.MaxP; p++ {
			for q := 1; q <= e.config.MaxQ; q++ {
				m, err := e.fitOne(f, p, q, residuals, initVar)
				if err != nil {
					continue
				}
				if best == nil || m.Score < best.Score {
					best = m
				}
			}
		}
	}
	if best == nil {
		return Fallback(returns, regime, "all candidate fits failed")
	}

	best.Regime = regime
	best.Mean = mean
	best.Innovations = standardize(residuals, best.CondVol)
	return best
}

// FitRegimes fits one model per regime label 1..k.
// Returns are grouped by label preserving time order.
func (e *Estimator) FitRegimes(returns []float64, labels []int, k int) []*Model {
	groups := GroupByRegime(returns, labels, k)
	models := make([]*Model, k)
	for r := 1; r <= k; r++ {
		models[r-1] = e.Fit(groups[r-1], r)
	}
	return models
}

// GroupByRegime splits returns by label (index r-1 holds label r)
func GroupByRegime(returns []float64, labels []int, k int) [][]float64 {
	groups := make([][]float64, k)
	for i, r := range returns {
		if i >= len(labels) {
			break
		}
		l := labels[i]
		if l < 1 || l > k {
			continue
		}
		groups[l-1] = append(groups[l-1], r)
	}
	return groups
}

func (e *Estimator) fitOne(f Family, p, q int, residuals []float64, initVar float64) (*Model, error) {
	objective := func(theta []float64) float64 {
		params := toParams(f, p, q, theta)
		variance := ConditionalVariance(f, p, q, params, residuals, initVar)
		ll := GaussianLogLikelihood(residuals, variance)
		if !stats.IsFinite(ll) {
			return penalty
		}
		return -ll
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{FuncEvaluations: e.config.MaxEvaluations}

	result, err := optimize.Minimize(problem, initialTheta(f, p, q, initVar), settings, &optimize.NelderMead{})
	if result == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConverged, err)
	}
	converged := acceptedStatuses[result.Status]
	if !converged && !limitStatuses[result.Status] {
		return nil, fmt.Errorf("%w: status %v", ErrNotConverged, result.Status)
	}
	if result.F >= penalty || !stats.IsFinite(result.F) {
		return nil, fmt.Errorf("%w: non-finite likelihood", contracts.ErrNumericalInstability)
	}

	params := toParams(f, p, q, result.X)
	variance := ConditionalVariance(f, p, q, params, residuals, initVar)
	vol := make([]float64, len(variance))
	for i, v := range variance {
		vol[i] = math.Sqrt(v)
	}
	if !stats.AllFinite(vol) {
		return nil, fmt.Errorf("%w: non-finite conditional volatility", contracts.ErrNumericalInstability)
	}

	ll := -result.F
	k := float64(NumParams(f, p, q))
	n := float64(len(residuals))
	score := 2*k - 2*ll
	if e.config.Criterion == CriterionBIC {
		score = k*math.Log(n) - 2*ll
	}

	return &Model{
		Family:        f,
		P:             p,
		Q:             q,
		Params:        params,
		InitVariance:  initVar,
		CondVol:       vol,
		LogLikelihood: ll,
		Criterion:     e.config.Criterion,
		Score:         score,
		NumObs:        len(residuals),
		Converged:     converged,
	}, nil
}

// Fallback unconditional-variance model: constant σ = sample std,
// residuals standardised by the same std
func Fallback(returns []float64, regime int, reason string) *Model {
	mean, std := stats.MeanStdDev(returns)
	residuals := make([]float64, len(returns))
	vol := make([]float64, len(returns))
	for i, r := range returns {
		residuals[i] = r - mean
		vol[i] = std
	}
	return &Model{
		Regime:       regime,
		Family:       FamilyGARCH,
		Params:       []float64{std * std},
		Mean:         mean,
		InitVariance: std * std,
		CondVol:      vol,
		Innovations:  standardize(residuals, vol),
		NumObs:       len(returns),
		Fallback:     true,
		Reason:       reason,
	}
}

func standardize(residuals, vol []float64) []float64 {
	out := make([]float64, len(residuals))
	for i, e := range residuals {
		if vol[i] > 0 {
			out[i] = e / vol[i]
		}
	}
	return out
}
