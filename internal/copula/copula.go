package copula

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/corrmat"
	"github.com/wonny/scengen/internal/stats"
)

// =============================================================================
// Family & Config
// =============================================================================

// Family 코퓰라 종류
type Family string

const (
	FamilyNone     Family = "none" // independence
	FamilyGaussian Family = "gaussian"
	FamilyT        Family = "t"
)

// UniformEpsilon clamps uniforms away from exactly 0/1
const UniformEpsilon = 1e-10

// Config 코퓰라 설정
type Config struct {
	Family    Family    `json:"family" yaml:"family"`         // gaussian/t/none
	DFGrid    []float64 `json:"df_grid" yaml:"df_grid"`       // t-copula ν 후보
	MinRows   int       `json:"min_rows" yaml:"min_rows"`     // 적합 최소 행 수 (기본: 2)
	MaxSample int       `json:"max_sample" yaml:"max_sample"` // 검증 샘플 크기 상한 (기본: 1000)
}

// DefaultConfig 기본 코퓰라 설정
func DefaultConfig() Config {
	return Config{
		Family:    FamilyT,
		DFGrid:    []float64{2, 3, 4, 5, 6, 8, 10, 15, 20, 30},
		MinRows:   2,
		MaxSample: 1000,
	}
}

// Validate 설정 검증
func (c Config) Validate() error {
	switch c.Family {
	case FamilyNone, FamilyGaussian, FamilyT:
	default:
		return fmt.Errorf("unknown copula family %q", c.Family)
	}
	if c.Family == FamilyT && len(c.DFGrid) == 0 {
		return fmt.Errorf("df_grid is required for the t copula")
	}
	for _, df := range c.DFGrid {
		if df <= 0 {
			return fmt.Errorf("df_grid values must be > 0")
		}
	}
	if c.MinRows < 2 {
		return fmt.Errorf("min_rows must be >= 2")
	}
	if c.MaxSample < 2 {
		return fmt.Errorf("max_sample must be >= 2")
	}
	return nil
}

// =============================================================================
// Model
// =============================================================================

// RegimeCopula fitted dependency for one regime
type RegimeCopula struct {
	Regime        int       `json:"regime"`
	Family        Family    `json:"family"`
	Correlation   []float64 `json:"correlation"` // d×d, row-major, projected
	DF            int       `json:"df,omitempty"`
	Rows          int       `json:"rows"`
	Truncated     bool      `json:"truncated"` // lengths differed, truncated to shortest
	Corrected     bool      `json:"corrected"` // projection/jitter needed
	LogLikelihood float64   `json:"log_likelihood"`
	Reason        string    `json:"reason,omitempty"`

	chol *mat.TriDense
}

// Cholesky lower factor of Correlation (nil before Prepare)
func (rc *RegimeCopula) Cholesky() *mat.TriDense {
	return rc.chol
}

// Factor prepared Cholesky factor, or one derived on the fly without
// touching rc (model decoded and never prepared). d = product count.
func (rc *RegimeCopula) Factor(d int) *mat.TriDense {
	if rc.chol != nil {
		return rc.chol
	}
	if d == 0 {
		return nil
	}
	if rc.Family == FamilyNone || len(rc.Correlation) != d*d {
		l, _, _ := corrmat.Cholesky(corrmat.Identity(d))
		return l
	}
	_, l, _, err := corrmat.Prepare(append([]float64(nil), rc.Correlation...))
	if err != nil {
		l, _, _ = corrmat.Cholesky(corrmat.Identity(d))
	}
	return l
}

// Model regime-conditioned copula across products
type Model struct {
	Products []contracts.ProductID `json:"products"` // column order
	Family   Family                `json:"family"`
	Regimes  []*RegimeCopula       `json:"regimes"` // index r-1 → regime r
}

// Dim number of products
func (m *Model) Dim() int {
	return len(m.Products)
}

// Regime returns the copula for label r (clamped to the fitted range)
func (m *Model) Regime(r int) *RegimeCopula {
	if len(m.Regimes) == 0 {
		return nil
	}
	if r < 1 {
		r = 1
	}
	if r > len(m.Regimes) {
		r = len(m.Regimes)
	}
	return m.Regimes[r-1]
}

// Prepare (re)computes the Cholesky factors. Must run before the model is
// shared; Fit calls it, a model decoded from cache must call it.
func (m *Model) Prepare() {
	d := m.Dim()
	for _, rc := range m.Regimes {
		if d == 0 {
			continue
		}
		if rc.Family == FamilyNone || len(rc.Correlation) != d*d {
			rc.Correlation = corrmat.Identity(d)
			rc.chol, _, _ = corrmat.Cholesky(rc.Correlation)
			continue
		}
		proj, l, degraded, err := corrmat.Prepare(rc.Correlation)
		if err != nil {
			proj = corrmat.Identity(d)
			l, _, _ = corrmat.Cholesky(proj)
			degraded = true
		}
		rc.Correlation = proj
		rc.chol = l
		if degraded && rc.Family != FamilyNone {
			rc.Corrected = true
		}
	}
}

// =============================================================================
// Fit
// =============================================================================

// Fit builds one copula per regime 1..k. innovations[p][r-1] holds the
// standardised innovations of product p in regime r; a product with fewer
// regimes contributes its highest regime.
//
// Unequal lengths are truncated to the shortest (rows are not aligned by
// timestamp); RegimeCopula.Truncated flags it.
func Fit(products []contracts.ProductID, innovations map[contracts.ProductID][][]float64, k int, cfg Config) *Model {
	ordered := append([]contracts.ProductID(nil), products...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	m := &Model{Products: ordered, Family: cfg.Family}
	d := len(ordered)
	for r := 1; r <= k; r++ {
		rc := &RegimeCopula{Regime: r, Family: cfg.Family}
		m.Regimes = append(m.Regimes, rc)

		if d < 2 || cfg.Family == FamilyNone {
			rc.Family = FamilyNone
			rc.Reason = "independence"
			continue
		}

		columns := make([][]float64, d)
		for j, p := range ordered {
			perRegime := innovations[p]
			if len(perRegime) == 0 {
				continue
			}
			idx := r
			if idx > len(perRegime) {
				idx = len(perRegime)
			}
			columns[j] = perRegime[idx-1]
		}

		u, truncated := uniformRows(columns)
		rc.Truncated = truncated
		rc.Rows = len(u)
		if len(u) < cfg.MinRows {
			rc.Family = FamilyNone
			rc.Reason = fmt.Sprintf("%d usable rows < %d", len(u), cfg.MinRows)
			continue
		}

		var err error
		switch cfg.Family {
		case FamilyT:
			err = fitT(rc, u, cfg.DFGrid)
		default:
			err = fitGaussian(rc, u)
		}
		if err != nil {
			rc.Family = FamilyNone
			rc.Correlation = nil
			rc.Reason = err.Error()
		}
	}
	m.Prepare()
	return m
}

// uniformRows truncates columns to the shortest length, drops rows with a
// non-finite value and maps to clamped uniforms via Φ
func uniformRows(columns [][]float64) ([][]float64, bool) {
	minLen := math.MaxInt
	maxLen := 0
	for _, c := range columns {
		if len(c) < minLen {
			minLen = len(c)
		}
		if len(c) > maxLen {
			maxLen = len(c)
		}
	}
	if len(columns) == 0 || minLen == 0 {
		return nil, maxLen > 0
	}

	rows := make([][]float64, 0, minLen)
	for i := 0; i < minLen; i++ {
		row := make([]float64, len(columns))
		ok := true
		for j, c := range columns {
			if !stats.IsFinite(c[i]) {
				ok = false
				break
			}
			row[j] = ClampUniform(distuv.UnitNormal.CDF(c[i]))
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, minLen != maxLen
}

// ClampUniform bounds u to [ε, 1-ε]
func ClampUniform(u float64) float64 {
	return stats.Clamp(u, UniformEpsilon, 1-UniformEpsilon)
}

func fitGaussian(rc *RegimeCopula, u [][]float64) error {
	x := transform(u, distuv.UnitNormal.Quantile)
	r, corrected, err := projectedCorrelation(x)
	if err != nil {
		return err
	}
	rc.Family = FamilyGaussian
	rc.Correlation = r
	rc.Corrected = corrected
	rc.LogLikelihood, err = gaussianLogLikelihood(x, r)
	return err
}

// fitT chooses ν by profile likelihood over grid; R is the correlation of
// the t-scores for each candidate ν
func fitT(rc *RegimeCopula, u [][]float64, grid []float64) error {
	bestLL := math.Inf(-1)
	var (
		bestR    []float64
		bestNu   float64
		bestCorr bool
	)
	for _, nu := range grid {
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
		x := transform(u, dist.Quantile)
		r, corrected, err := projectedCorrelation(x)
		if err != nil {
			continue
		}
		ll, err := tLogLikelihood(x, r, nu)
		if err != nil || !stats.IsFinite(ll) {
			continue
		}
		if ll > bestLL {
			bestLL, bestR, bestNu, bestCorr = ll, r, nu, corrected
		}
	}
	if bestR == nil {
		return fmt.Errorf("%w: no admissible degrees of freedom", contracts.ErrNumericalInstability)
	}
	rc.Family = FamilyT
	rc.Correlation = bestR
	rc.DF = int(math.Round(math.Max(1, bestNu)))
	rc.Corrected = bestCorr
	rc.LogLikelihood = bestLL
	return nil
}

func transform(u [][]float64, q func(float64) float64) [][]float64 {
	d := len(u[0])
	columns := make([][]float64, d)
	for j := range columns {
		columns[j] = make([]float64, len(u))
		for i, row := range u {
			columns[j][i] = q(row[j])
		}
	}
	return columns
}

func projectedCorrelation(columns [][]float64) ([]float64, bool, error) {
	raw := stats.CorrelationMatrix(columns)
	proj, err := corrmat.Nearest(raw, corrmat.DefaultEigenFloor)
	if err != nil {
		return nil, false, err
	}
	corrected := false
	for i := range raw {
		if math.Abs(raw[i]-proj[i]) > 1e-10 {
			corrected = true
			break
		}
	}
	return proj, corrected, nil
}

// gaussianLogLikelihood copula log-density Σ -½ log|R| - ½ xᵀ(R⁻¹-I)x
func gaussianLogLikelihood(columns [][]float64, r []float64) (float64, error) {
	chol, err := factor(r)
	if err != nil {
		return 0, err
	}
	d := len(columns)
	logDet := chol.LogDet()
	x := mat.NewVecDense(d, nil)
	var y mat.VecDense

	ll := 0.0
	for i := range columns[0] {
		for j := 0; j < d; j++ {
			x.SetVec(j, columns[j][i])
		}
		if err := chol.SolveVecTo(&y, x); err != nil {
			return 0, err
		}
		ll += -0.5*logDet - 0.5*(mat.Dot(x, &y)-mat.Dot(x, x))
	}
	return ll, nil
}

// tLogLikelihood copula log-density: multivariate t minus the t marginals
func tLogLikelihood(columns [][]float64, r []float64, nu float64) (float64, error) {
	chol, err := factor(r)
	if err != nil {
		return 0, err
	}
	d := float64(len(columns))
	logDet := chol.LogDet()
	lgA, _ := math.Lgamma((nu + d) / 2)
	lgB, _ := math.Lgamma(nu / 2)
	norm := lgA - lgB - d/2*math.Log(nu*math.Pi) - 0.5*logDet
	marginal := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}

	x := mat.NewVecDense(len(columns), nil)
	var y mat.VecDense
	ll := 0.0
	for i := range columns[0] {
		margins := 0.0
		for j := range columns {
			v := columns[j][i]
			x.SetVec(j, v)
			margins += marginal.LogProb(v)
		}
		if err := chol.SolveVecTo(&y, x); err != nil {
			return 0, err
		}
		q := mat.Dot(x, &y)
		ll += norm - (nu+d)/2*math.Log1p(q/nu) - margins
	}
	return ll, nil
}

func factor(r []float64) (*mat.Cholesky, error) {
	sym, err := corrmat.ToSym(r)
	if err != nil {
		return nil, err
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("%w: correlation not positive definite", contracts.ErrNumericalInstability)
	}
	return &chol, nil
}
