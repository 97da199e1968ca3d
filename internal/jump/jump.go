package jump

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/wonny/scengen/internal/stats"
)

// SamplingMode 점프 크기 샘플링 방식
type SamplingMode string

const (
	SamplingEmpirical  SamplingMode = "empirical"  // 관측 점프 재표집
	SamplingParametric SamplingMode = "parametric" // N(mean, std)
)

// Config 점프 모델 설정
type Config struct {
	Threshold          float64      `json:"threshold" yaml:"threshold"`                     // |r| > threshold·σ (기본: 4)
	MinJumpSize        float64      `json:"min_jump_size" yaml:"min_jump_size"`             // 절대 크기 하한
	Window             int          `json:"window" yaml:"window"`                           // cooldown steps between injected jumps
	Sampling           SamplingMode `json:"sampling" yaml:"sampling"`                       // empirical/parametric
	CapSigma           float64      `json:"cap_sigma" yaml:"cap_sigma"`                     // 샘플 크기 상한 (σ 배수)
	SyntheticFrequency float64      `json:"synthetic_frequency" yaml:"synthetic_frequency"` // 점프 미검출 시 빈도 (기본: 0.01)
	SyntheticSigma     float64      `json:"synthetic_sigma" yaml:"synthetic_sigma"`         // 점프 미검출 시 ±kσ (기본: 2)
}

// DefaultConfig 기본 점프 설정
func DefaultConfig() Config {
	return Config{
		Threshold:          4,
		MinJumpSize:        0,
		Window:             24,
		Sampling:           SamplingEmpirical,
		CapSigma:           8,
		SyntheticFrequency: 0.01,
		SyntheticSigma:     2,
	}
}

// Validate 설정 검증
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be > 0")
	}
	if c.MinJumpSize < 0 {
		return fmt.Errorf("min_jump_size must be >= 0")
	}
	if c.Window < 0 {
		return fmt.Errorf("window must be >= 0")
	}
	if c.Sampling != SamplingEmpirical && c.Sampling != SamplingParametric {
		return fmt.Errorf("sampling must be empirical or parametric")
	}
	if c.CapSigma <= 0 {
		return fmt.Errorf("cap_sigma must be > 0")
	}
	if c.SyntheticFrequency < 0 || c.SyntheticFrequency > 1 {
		return fmt.Errorf("synthetic_frequency must be in [0, 1]")
	}
	if c.SyntheticSigma <= 0 {
		return fmt.Errorf("synthetic_sigma must be > 0")
	}
	return nil
}

// Model per-regime jump model
type Model struct {
	Regime    int       `json:"regime"` // 0 = global
	Frequency float64   `json:"frequency"`
	Sizes     []float64 `json:"sizes"` // empirical sample (never empty)
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
	Threshold float64   `json:"threshold"` // absolute detection threshold
	Sigma     float64   `json:"sigma"`     // regime return std
	NumObs    int       `json:"num_obs"`
	Synthetic bool      `json:"synthetic"` // ±kσ fallback pair
}

// Fit detects jumps in one regime's returns: |r| > threshold·σ on the raw
// (not demeaned) return, sizes kept as raw returns.
// No detected jumps → synthetic {-kσ, +kσ} at the configured low frequency.
func Fit(returns []float64, regime int, cfg Config) *Model {
	sigma := stats.StdDev(returns)
	m := &Model{
		Regime:    regime,
		Threshold: cfg.Threshold * sigma,
		Sigma:     sigma,
		NumObs:    len(returns),
	}

	if sigma > 0 {
		for _, r := range returns {
			if math.Abs(r) > m.Threshold && math.Abs(r) >= cfg.MinJumpSize {
				m.Sizes = append(m.Sizes, r)
			}
		}
	}

	if len(m.Sizes) == 0 {
		k := cfg.SyntheticSigma * sigma
		m.Sizes = []float64{-k, k}
		m.Frequency = cfg.SyntheticFrequency
		m.Synthetic = true
	} else {
		m.Frequency = float64(len(m.Sizes)) / float64(len(returns))
	}
	m.Mean, m.Std = stats.MeanStdDev(m.Sizes)
	return m
}

// FitRegimes fits every regime 1..k plus a global model over all returns
func FitRegimes(returns []float64, labels []int, k int, cfg Config) (perRegime []*Model, global *Model) {
	groups := make([][]float64, k)
	for i, r := range returns {
		if i < len(labels) && labels[i] >= 1 && labels[i] <= k {
			groups[labels[i]-1] = append(groups[labels[i]-1], r)
		}
	}
	perRegime = make([]*Model, k)
	for i := range groups {
		perRegime[i] = Fit(groups[i], i+1, cfg)
	}
	return perRegime, Fit(returns, 0, cfg)
}

// Sample draws a jump size, clipped to ±capSigma·σ
func (m *Model) Sample(rng *rand.Rand, mode SamplingMode, capSigma float64) float64 {
	var size float64
	switch mode {
	case SamplingParametric:
		size = m.Mean + m.Std*rng.NormFloat64()
	default:
		size = m.Sizes[rng.Intn(len(m.Sizes))]
	}
	if limit := capSigma * m.Sigma; limit > 0 {
		size = stats.Clamp(size, -limit, limit)
	}
	return size
}

// =============================================================================
// Injector
// =============================================================================

// noJump sentinel for "no jump injected yet"
const noJump = math.MinInt32

// Injector enforces the cooldown between injected jumps of one
// (product, path). Not safe for concurrent use; one per path.
type Injector struct {
	window  int
	minSize float64
	mode    SamplingMode
	cap     float64
	last    int
	count   int
}

// NewInjector 새 Injector 생성
func NewInjector(cfg Config) *Injector {
	return &Injector{
		window:  cfg.Window,
		minSize: cfg.MinJumpSize,
		mode:    cfg.Sampling,
		cap:     cfg.CapSigma,
		last:    noJump,
	}
}

// Inject draws the Bernoulli event for step and returns the jump to add.
// The Bernoulli draw is always consumed so the random stream does not
// depend on cooldown state.
func (in *Injector) Inject(rng *rand.Rand, step int, m *Model) (float64, bool) {
	if m == nil {
		return 0, false
	}
	hit := rng.Float64() < m.Frequency
	if !hit {
		return 0, false
	}
	if in.last != noJump && step-in.last < in.window {
		return 0, false
	}
	size := m.Sample(rng, in.mode, in.cap)
	if math.Abs(size) <= in.minSize || size == 0 {
		return 0, false
	}
	in.last = step
	in.count++
	return size, true
}

// Count number of injected jumps
func (in *Injector) Count() int {
	return in.count
}
