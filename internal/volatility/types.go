package volatility

import (
	"fmt"
	"math"
)

// =============================================================================
// Family & Criterion
// =============================================================================

// Family conditional-heteroskedasticity model family
type Family string

const (
	FamilyGARCH  Family = "garch"
	FamilyEGARCH Family = "egarch"
)

// Valid reports whether f is a known family
func (f Family) Valid() bool {
	return f == FamilyGARCH || f == FamilyEGARCH
}

// Criterion information criterion used to rank candidate fits
type Criterion string

const (
	CriterionAIC Criterion = "aic"
	CriterionBIC Criterion = "bic"
)

// =============================================================================
// Config
// =============================================================================

// Config 변동성 모델 설정
type Config struct {
	Families        []Family  `json:"families" yaml:"families"`                 // 탐색할 모델군
	MaxP            int       `json:"max_p" yaml:"max_p"`                       // GARCH 항 (β) 최대 차수
	MaxQ            int       `json:"max_q" yaml:"max_q"`                       // ARCH 항 (α) 최대 차수
	Criterion       Criterion `json:"criterion" yaml:"criterion"`               // aic/bic
	MinObservations int       `json:"min_observations" yaml:"min_observations"` // 미만이면 fallback (기본: 30)
	MaxEvaluations  int       `json:"max_evaluations" yaml:"max_evaluations"`   // optimizer function evaluations
}

// DefaultConfig 기본 변동성 모델 설정
func DefaultConfig() Config {
	return Config{
		Families:        []Family{FamilyGARCH, FamilyEGARCH},
		MaxP:            2,
		MaxQ:            2,
		Criterion:       CriterionBIC,
		MinObservations: 30,
		MaxEvaluations:  2000,
	}
}

// Validate 설정 검증
func (c Config) Validate() error {
	if len(c.Families) == 0 {
		return fmt.Errorf("at least one family is required")
	}
	for _, f := range c.Families {
		if !f.Valid() {
			return fmt.Errorf("unknown family %q", f)
		}
	}
	if c.MaxP < 1 || c.MaxQ < 1 || c.MaxP > 2 || c.MaxQ > 2 {
		return fmt.Errorf("max_p and max_q must be in [1, 2]")
	}
	if c.Criterion != CriterionAIC && c.Criterion != CriterionBIC {
		return fmt.Errorf("criterion must be aic or bic")
	}
	if c.MinObservations < 5 {
		return fmt.Errorf("min_observations must be >= 5")
	}
	if c.MaxEvaluations <= 0 {
		return fmt.Errorf("max_evaluations must be > 0")
	}
	return nil
}

// =============================================================================
// Model
// =============================================================================

// Model per-regime volatility model.
// ⭐ Params는 raw 파라미터 벡터 (estimator handle 아님) → 언제든 재계산 가능
//   - GARCH:  [ω, α1..αQ, β1..βP]
//   - EGARCH: [ω, α1..αQ, γ1..γQ, β1..βP]
//
// A fallback model is GARCH(0,0): Params = [sample variance].
type Model struct {
	Regime        int       `json:"regime"`
	Family        Family    `json:"family"`
	P             int       `json:"p"`
	Q             int       `json:"q"`
	Params        []float64 `json:"params"`
	Mean          float64   `json:"mean"`          // regime return mean (residual = r - mean)
	InitVariance  float64   `json:"init_variance"` // sample variance of the regime's returns
	CondVol       []float64 `json:"cond_vol"`      // fitted conditional volatility
	Innovations   []float64 `json:"innovations"`   // standardised residuals ε/σ
	LogLikelihood float64   `json:"log_likelihood"`
	Criterion     Criterion `json:"criterion"`
	Score         float64   `json:"score"` // criterion value (lower is better)
	NumObs        int       `json:"num_obs"`
	Converged     bool      `json:"converged"`
	Fallback      bool      `json:"fallback"`
	Reason        string    `json:"reason,omitempty"` // fallback reason
}

// TargetVol average fitted conditional volatility (simulation target)
func (m *Model) TargetVol() float64 {
	if len(m.CondVol) == 0 {
		return math.Sqrt(math.Max(m.InitVariance, 0))
	}
	sum := 0.0
	for _, v := range m.CondVol {
		sum += v
	}
	return sum / float64(len(m.CondVol))
}

// Recompute rebuilds the conditional volatility of residuals from Params
func (m *Model) Recompute(residuals []float64) []float64 {
	variance := ConditionalVariance(m.Family, m.P, m.Q, m.Params, residuals, m.InitVariance)
	vol := make([]float64, len(variance))
	for i, v := range variance {
		vol[i] = math.Sqrt(v)
	}
	return vol
}

// NumParams number of free parameters for a family/order
func NumParams(f Family, p, q int) int {
	if f == FamilyEGARCH {
		return 1 + 2*q + p
	}
	return 1 + q + p
}
