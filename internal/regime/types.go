package regime

import "fmt"

// =============================================================================
// Status
// =============================================================================

// Status 레짐 탐지 결과 상태
type Status string

const (
	StatusFitted   Status = "fitted"   // BIC 기반 K 선택 성공
	StatusFallback Status = "fallback" // K=2, relaxed regularization
	StatusSkipped  Status = "skipped"  // unique 값 < 2, 전부 레짐 1
	StatusSingle   Status = "single"   // 탐지 실패 → 단일 글로벌 레짐
)

// =============================================================================
// Config
// =============================================================================

// Config 레짐 탐지 설정
type Config struct {
	MinK              int     `json:"min_k" yaml:"min_k"`                             // 후보 K 하한 (기본: 2)
	MaxK              int     `json:"max_k" yaml:"max_k"`                             // 후보 K 상한 (기본: 5, 최대 10)
	MinBICImprovement float64 `json:"min_bic_improvement" yaml:"min_bic_improvement"` // 바로 작은 K 대비 요구 BIC 개선폭
	MinComponentShare float64 `json:"min_component_share" yaml:"min_component_share"` // 성분 최소 비중 (과분할 방지)
	Regularization    float64 `json:"regularization" yaml:"regularization"`           // 분산 정규화 값
	RelaxedFactor     float64 `json:"relaxed_factor" yaml:"relaxed_factor"`           // fallback 시 정규화 배수
	MaxIterations     int     `json:"max_iterations" yaml:"max_iterations"`
	Tolerance         float64 `json:"tolerance" yaml:"tolerance"`
	VolWindow         int     `json:"vol_window" yaml:"vol_window"`     // volatility proxy rolling window
	LogProxy          bool    `json:"log_proxy" yaml:"log_proxy"`       // log(rolling std) 사용
	WinsorLower       float64 `json:"winsor_lower" yaml:"winsor_lower"` // 백분위 (기본: 1)
	WinsorUpper       float64 `json:"winsor_upper" yaml:"winsor_upper"` // 백분위 (기본: 99)
	HourlyBias        float64 `json:"hourly_bias" yaml:"hourly_bias"`   // 전이 시 시간대 확률 혼합 비중
}

// DefaultConfig 기본 레짐 탐지 설정
func DefaultConfig() Config {
	return Config{
		MinK:              2,
		MaxK:              5,
		MinBICImprovement: 10,
		MinComponentShare: 0.05,
		Regularization:    1e-6,
		RelaxedFactor:     100,
		MaxIterations:     500,
		Tolerance:         1e-8,
		VolWindow:         10,
		LogProxy:          true,
		WinsorLower:       1,
		WinsorUpper:       99,
		HourlyBias:        0.2,
	}
}

// MaxRegimes upper bound for MaxK
const MaxRegimes = 10

// Validate 설정 검증
func (c Config) Validate() error {
	if c.MinK < 1 {
		return fmt.Errorf("min_k must be >= 1")
	}
	if c.MaxK < c.MinK {
		return fmt.Errorf("max_k must be >= min_k")
	}
	if c.MaxK > MaxRegimes {
		return fmt.Errorf("max_k must be <= %d", MaxRegimes)
	}
	if c.MinBICImprovement < 0 {
		return fmt.Errorf("min_bic_improvement must be >= 0")
	}
	if c.MinComponentShare < 0 || c.MinComponentShare >= 0.5 {
		return fmt.Errorf("min_component_share must be in [0, 0.5)")
	}
	if c.Regularization < 0 || c.RelaxedFactor < 1 {
		return fmt.Errorf("regularization must be >= 0 and relaxed_factor >= 1")
	}
	if c.MaxIterations <= 0 || c.Tolerance <= 0 {
		return fmt.Errorf("max_iterations and tolerance must be > 0")
	}
	if c.VolWindow < 2 {
		return fmt.Errorf("vol_window must be >= 2")
	}
	if c.WinsorLower < 0 || c.WinsorUpper > 100 || c.WinsorLower >= c.WinsorUpper {
		return fmt.Errorf("winsor percentiles must satisfy 0 <= lower < upper <= 100")
	}
	if c.HourlyBias < 0 || c.HourlyBias > 1 {
		return fmt.Errorf("hourly_bias must be in [0, 1]")
	}
	return nil
}

// =============================================================================
// Model
// =============================================================================

// Component 1-D Gaussian mixture component
type Component struct {
	Weight   float64 `json:"weight"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// Model 레짐 모델 (calibration artefact, read-only during simulation)
type Model struct {
	OptimalK   int             `json:"optimal_k"`
	Components []Component     `json:"components"` // ascending mean, index k → label k+1
	Labels     []int           `json:"labels"`     // 1..K, aligned to returns
	Status     Status          `json:"status"`
	BIC        map[int]float64 `json:"bic,omitempty"`
	Transition *Transition     `json:"transition"`
}

// Indices returns the return indices carrying the given label
func (m *Model) Indices(label int) []int {
	var idx []int
	for i, l := range m.Labels {
		if l == label {
			idx = append(idx, i)
		}
	}
	return idx
}

// Single builds the degenerate one-regime model used when detection fails
func Single(n int, hours []int, status Status) *Model {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = 1
	}
	return &Model{
		OptimalK:   1,
		Components: []Component{{Weight: 1}},
		Labels:     labels,
		Status:     status,
		Transition: BuildTransition(labels, 1, hours, 0),
	}
}
