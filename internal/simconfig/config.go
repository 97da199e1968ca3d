package simconfig

import (
	"github.com/wonny/scengen/internal/copula"
	"github.com/wonny/scengen/internal/jump"
	"github.com/wonny/scengen/internal/regime"
	"github.com/wonny/scengen/internal/volatility"
)

// Config 시뮬레이션 1회분 전체 설정 (하이퍼파라미터 세트 1개)
// ⭐ SSOT: 모델/시뮬레이션 파라미터는 이 구조체만 사용
type Config struct {
	Meta        Meta              `yaml:"meta" json:"meta"`
	Simulation  Simulation        `yaml:"simulation" json:"simulation"`
	Regime      regime.Config     `yaml:"regime" json:"regime"`
	Volatility  volatility.Config `yaml:"volatility" json:"volatility"`
	Jump        jump.Config       `yaml:"jump" json:"jump"`
	Copula      copula.Config     `yaml:"copula" json:"copula"`
	Bootstrap   Bootstrap         `yaml:"bootstrap" json:"bootstrap"`
	Innovation  Innovation        `yaml:"innovation" json:"innovation"`
	Correlation Correlation       `yaml:"correlation" json:"correlation"`
	Modulation  Modulation        `yaml:"modulation" json:"modulation"`
	Safety      Safety            `yaml:"safety" json:"safety"`
	Target      Target            `yaml:"target" json:"target"`
}

// Mode governor 동작 모드
type Mode string

const (
	ModeDebug      Mode = "debug"      // 위반 시 product abort (fail loud)
	ModeProduction Mode = "production" // 위반 시 hard reset + warning
)

// Meta 메타 정보
type Meta struct {
	RunName string `yaml:"run_name" json:"run_name"`
	Seed    int64  `yaml:"seed" json:"seed"` // 재현성용 시드
	Mode    Mode   `yaml:"mode" json:"mode"`
}

// Simulation 경로 수/기간/워커
type Simulation struct {
	NumPaths int `yaml:"num_paths" json:"num_paths"`
	Horizon  int `yaml:"horizon" json:"horizon"` // steps per path
	Workers  int `yaml:"workers" json:"workers"` // 0 → process default (SIM_WORKERS)
}

// Bootstrap regime-conditional block bootstrap
type Bootstrap struct {
	Enabled              bool    `yaml:"enabled" json:"enabled"`
	BlockSize            int     `yaml:"block_size" json:"block_size"`
	MaxBlockCumSumFactor float64 `yaml:"max_block_cumsum_factor" json:"max_block_cumsum_factor"` // |Σblock| ≤ f·σ·√b
	MaxAttempts          int     `yaml:"max_attempts" json:"max_attempts"`                       // 리샘플 상한
	SmoothingWindow      int     `yaml:"smoothing_window" json:"smoothing_window"`               // rolling mean 차감 윈도우
}

// InnovationDistribution overlay 분포
type InnovationDistribution string

const (
	InnovationGaussian InnovationDistribution = "gaussian"
	InnovationStudentT InnovationDistribution = "t"
)

// Innovation heavy-tailed overlay (bootstrap 비활성 시)
type Innovation struct {
	Distribution InnovationDistribution `yaml:"distribution" json:"distribution"`
	DF           float64                `yaml:"df" json:"df"`
}

// CorrelationSource Cholesky mixing에 사용할 상관행렬
type CorrelationSource string

const (
	CorrelationGlobal CorrelationSource = "global"
	CorrelationRegime CorrelationSource = "regime"
)

// Correlation cross-product correlation pass
type Correlation struct {
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Source   CorrelationSource `yaml:"source" json:"source"`
	CapSigma float64           `yaml:"cap_sigma" json:"cap_sigma"` // 수익률 cap (±k·σ_hist)
}

// Modulation regime-switching volatility modulation
type Modulation struct {
	AmplificationFactor float64 `yaml:"amplification_factor" json:"amplification_factor"`
	MaxAmplification    float64 `yaml:"max_amplification" json:"max_amplification"`
	MaxVolRatio         float64 `yaml:"max_vol_ratio" json:"max_vol_ratio"` // ratio ∈ [1/max, max]
	VolWindow           int     `yaml:"vol_window" json:"vol_window"`       // 현재 경로 변동성 윈도우
	AnchorWeight        float64 `yaml:"anchor_weight" json:"anchor_weight"`
	EscalationSigma     float64 `yaml:"escalation_sigma" json:"escalation_sigma"` // 이탈 시 anchor weight → 1.0
	ResetSigma          float64 `yaml:"reset_sigma" json:"reset_sigma"`           // hard reset 경계 (mean ± kσ)
}

// Safety governor 한도
type Safety struct {
	MaxConsecutiveResets int     `yaml:"max_consecutive_resets" json:"max_consecutive_resets"`
	MaxPriceChangeSigma  float64 `yaml:"max_price_change_sigma" json:"max_price_change_sigma"` // |Δp| ≤ k·σ_price
}

// Target forecast-tolerance enforcement
type Target struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Tolerance  float64 `yaml:"tolerance" json:"tolerance"`     // 기본: 0.02
	JitterLow  float64 `yaml:"jitter_low" json:"jitter_low"`   // per-path factor U[low, high]
	JitterHigh float64 `yaml:"jitter_high" json:"jitter_high"`
	MinRatio   float64 `yaml:"min_ratio" json:"min_ratio"`     // 0.33×
	MaxRatio   float64 `yaml:"max_ratio" json:"max_ratio"`     // 3.0×
}

// Default 기본 설정
func Default() *Config {
	return &Config{
		Meta: Meta{
			RunName: "default",
			Seed:    42,
			Mode:    ModeDebug,
		},
		Simulation: Simulation{
			NumPaths: 100,
			Horizon:  168,
		},
		Regime:     regime.DefaultConfig(),
		Volatility: volatility.DefaultConfig(),
		Jump:       jump.DefaultConfig(),
		Copula:     copula.DefaultConfig(),
		Bootstrap: Bootstrap{
			Enabled:              true,
			BlockSize:            24,
			MaxBlockCumSumFactor: 3,
			MaxAttempts:          50,
			SmoothingWindow:      24,
		},
		Innovation: Innovation{
			Distribution: InnovationStudentT,
			DF:           5,
		},
		Correlation: Correlation{
			Enabled:  true,
			Source:   CorrelationRegime,
			CapSigma: 3,
		},
		Modulation: Modulation{
			AmplificationFactor: 1,
			MaxAmplification:    3,
			MaxVolRatio:         5,
			VolWindow:           24,
			AnchorWeight:        0.05,
			EscalationSigma:     3,
			ResetSigma:          5,
		},
		Safety: Safety{
			MaxConsecutiveResets: 20,
			MaxPriceChangeSigma:  10,
		},
		Target: Target{
			Enabled:    true,
			Tolerance:  0.02,
			JitterLow:  0.9,
			JitterHigh: 1.1,
			MinRatio:   0.33,
			MaxRatio:   3.0,
		},
	}
}
