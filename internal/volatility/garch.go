package volatility

import "math"

// persistenceCap keeps Σα+Σβ (GARCH) and |Σβ| (EGARCH) strictly below 1
const persistenceCap = 0.999

// logVarBound clamps EGARCH log-variance to avoid overflow
const logVarBound = 50.0

// expectedAbsZ E|z| for z ~ N(0,1)
var expectedAbsZ = math.Sqrt(2 / math.Pi)

// ConditionalVariance runs the variance recursion over residuals.
// Lags before the first observation are backcast with initVar.
//
//	GARCH:  σ²_t = ω + Σ α_i ε²_{t-i} + Σ β_j σ²_{t-j}
//	EGARCH: ln σ²_t = ω + Σ α_i (|z_{t-i}| - E|z|) + Σ γ_i z_{t-i} + Σ β_j ln σ²_{t-j}
func ConditionalVariance(f Family, p, q int, params, residuals []float64, initVar float64) []float64 {
	n := len(residuals)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if initVar <= 0 || math.IsNaN(initVar) {
		initVar = 1e-12
	}
	if len(params) < NumParams(f, p, q) {
		for i := range out {
			out[i] = initVar
		}
		return out
	}

	switch f {
	case FamilyEGARCH:
		omega := params[0]
		alpha := params[1 : 1+q]
		gamma := params[1+q : 1+2*q]
		beta := params[1+2*q : 1+2*q+p]
		logInit := math.Log(initVar)

		logVar := make([]float64, n)
		for t := 0; t < n; t++ {
			lv := omega
			for i := 1; i <= q; i++ {
				if t-i < 0 {
					continue // z backcast = 0, |z|-E|z| backcast = 0
				}
				z := residuals[t-i] / math.Sqrt(out[t-i])
				lv += alpha[i-1]*(math.Abs(z)-expectedAbsZ) + gamma[i-1]*z
			}
			for j := 1; j <= p; j++ {
				prev := logInit
				if t-j >= 0 {
					prev = logVar[t-j]
				}
				lv += beta[j-1] * prev
			}
			lv = math.Max(-logVarBound, math.Min(logVarBound, lv))
			logVar[t] = lv
			out[t] = math.Exp(lv)
		}

	default:
		omega := params[0]
		alpha := params[1 : 1+q]
		beta := params[1+q : 1+q+p]
		for t := 0; t < n; t++ {
			v := omega
			for i := 1; i <= q; i++ {
				e2 := initVar
				if t-i >= 0 {
					e2 = residuals[t-i] * residuals[t-i]
				}
				v += alpha[i-1] * e2
			}
			for j := 1; j <= p; j++ {
				s2 := initVar
				if t-j >= 0 {
					s2 = out[t-j]
				}
				v += beta[j-1] * s2
			}
			out[t] = math.Max(v, 1e-300)
		}
	}
	return out
}

// GaussianLogLikelihood Σ -½(ln 2π + ln σ² + ε²/σ²)
func GaussianLogLikelihood(residuals, variance []float64) float64 {
	ll := 0.0
	for t, e := range residuals {
		v := variance[t]
		ll += -0.5 * (math.Log(2*math.Pi) + math.Log(v) + e*e/v)
	}
	return ll
}

// =============================================================================
// Parameter transforms (unconstrained θ ↔ model params)
// =============================================================================

// toParams maps an unconstrained vector to admissible parameters
func toParams(f Family, p, q int, theta []float64) []float64 {
	params := make([]float64, len(theta))
	switch f {
	case FamilyEGARCH:
		copy(params, theta[:1+2*q])
		for j := 0; j < p; j++ {
			params[1+2*q+j] = persistenceCap * math.Tanh(theta[1+2*q+j]) / float64(p)
		}
	default:
		params[0] = math.Exp(theta[0])
		sum := 0.0
		for i := 1; i < len(theta); i++ {
			params[i] = math.Exp(theta[i])
			sum += params[i]
		}
		scale := persistenceCap / (1 + sum)
		for i := 1; i < len(theta); i++ {
			params[i] *= scale
		}
	}
	return params
}

// initialTheta starting point: persistence 0.9 split 0.1 ARCH / 0.8 GARCH
// (EGARCH: β = 0.9, no leverage)
func initialTheta(f Family, p, q int, initVar float64) []float64 {
	theta := make([]float64, NumParams(f, p, q))
	switch f {
	case FamilyEGARCH:
		theta[0] = 0.1 * math.Log(initVar)
		for i := 0; i < q; i++ {
			theta[1+i] = 0.1 / float64(q)
		}
		for j := 0; j < p; j++ {
			theta[1+2*q+j] = math.Atanh(0.9 / persistenceCap)
		}
	default:
		const arch, garch = 0.1, 0.8
		target := arch + garch
		// a_i = α_i(1+s)/cap with s = target/(cap-target)
		s := target / (persistenceCap - target)
		theta[0] = math.Log(initVar * (1 - target))
		for i := 0; i < q; i++ {
			theta[1+i] = math.Log(arch / float64(q) * (1 + s) / persistenceCap)
		}
		for j := 0; j < p; j++ {
			theta[1+q+j] = math.Log(garch / float64(p) * (1 + s) / persistenceCap)
		}
	}
	return theta
}
