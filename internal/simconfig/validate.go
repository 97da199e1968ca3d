package simconfig

import (
	"fmt"
	"math"

	"github.com/wonny/scengen/internal/contracts"
)

// ValidationError 검증 실패 (orchestrator boundary에서 fail fast)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap classifies every validation failure as a configuration error
func (e ValidationError) Unwrap() error {
	return contracts.ErrConfiguration
}

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	if cfg == nil {
		return ValidationError{"config", "required"}
	}

	// === Meta ===
	if cfg.Meta.RunName == "" {
		return ValidationError{"meta.run_name", "required"}
	}
	if cfg.Meta.Mode != ModeDebug && cfg.Meta.Mode != ModeProduction {
		return ValidationError{"meta.mode", "must be debug or production"}
	}

	// === Simulation ===
	if cfg.Simulation.NumPaths <= 0 {
		return ValidationError{"simulation.num_paths", "must be > 0"}
	}
	if cfg.Simulation.Horizon <= 0 {
		return ValidationError{"simulation.horizon", "must be > 0"}
	}
	if cfg.Simulation.Workers < 0 {
		return ValidationError{"simulation.workers", "must be >= 0"}
	}

	// === Model sections ===
	if err := cfg.Regime.Validate(); err != nil {
		return ValidationError{"regime", err.Error()}
	}
	if err := cfg.Volatility.Validate(); err != nil {
		return ValidationError{"volatility", err.Error()}
	}
	if err := cfg.Jump.Validate(); err != nil {
		return ValidationError{"jump", err.Error()}
	}
	if err := cfg.Copula.Validate(); err != nil {
		return ValidationError{"copula", err.Error()}
	}

	// === Bootstrap ===
	b := cfg.Bootstrap
	if b.BlockSize <= 0 {
		return ValidationError{"bootstrap.block_size", "must be > 0"}
	}
	if b.MaxBlockCumSumFactor <= 0 {
		return ValidationError{"bootstrap.max_block_cumsum_factor", "must be > 0"}
	}
	if b.MaxAttempts <= 0 {
		return ValidationError{"bootstrap.max_attempts", "must be > 0"}
	}
	if b.SmoothingWindow < 0 {
		return ValidationError{"bootstrap.smoothing_window", "must be >= 0"}
	}

	// === Innovation ===
	switch cfg.Innovation.Distribution {
	case InnovationGaussian:
	case InnovationStudentT:
		if cfg.Innovation.DF <= 2 {
			return ValidationError{"innovation.df", "must be > 2 for unit-variance scaling"}
		}
	default:
		return ValidationError{"innovation.distribution", "must be gaussian or t"}
	}

	// === Correlation ===
	if cfg.Correlation.Source != CorrelationGlobal && cfg.Correlation.Source != CorrelationRegime {
		return ValidationError{"correlation.source", "must be global or regime"}
	}
	if cfg.Correlation.CapSigma <= 0 {
		return ValidationError{"correlation.cap_sigma", "must be > 0"}
	}

	// === Modulation ===
	m := cfg.Modulation
	if !finitePositive(m.AmplificationFactor) {
		return ValidationError{"modulation.amplification_factor", "must be > 0"}
	}
	if m.AmplificationFactor > m.MaxAmplification {
		return ValidationError{"modulation.amplification_factor", fmt.Sprintf("must be <= max_amplification (%g)", m.MaxAmplification)}
	}
	if !finitePositive(m.MaxVolRatio) || m.MaxVolRatio < 1 {
		return ValidationError{"modulation.max_vol_ratio", "must be >= 1"}
	}
	if m.VolWindow < 2 {
		return ValidationError{"modulation.vol_window", "must be >= 2"}
	}
	if m.AnchorWeight < 0 || m.AnchorWeight > 1 {
		return ValidationError{"modulation.anchor_weight", "must be in [0, 1]"}
	}
	if !finitePositive(m.EscalationSigma) || !finitePositive(m.ResetSigma) {
		return ValidationError{"modulation", "escalation_sigma and reset_sigma must be > 0"}
	}
	if m.EscalationSigma > m.ResetSigma {
		return ValidationError{"modulation.escalation_sigma", "must be <= reset_sigma"}
	}

	// === Safety ===
	if cfg.Safety.MaxConsecutiveResets <= 0 {
		return ValidationError{"safety.max_consecutive_resets", "must be > 0"}
	}
	if !finitePositive(cfg.Safety.MaxPriceChangeSigma) {
		return ValidationError{"safety.max_price_change_sigma", "must be > 0"}
	}
	// 리셋 밴드 끝에서 끝까지 (escalated anchor pull 포함) 한 스텝에 이동 가능
	if cfg.Safety.MaxPriceChangeSigma < 2*m.ResetSigma {
		return ValidationError{"safety.max_price_change_sigma", fmt.Sprintf("must be >= 2·reset_sigma (%g)", 2*m.ResetSigma)}
	}

	// === Target ===
	t := cfg.Target
	if t.Tolerance < 0 || t.Tolerance >= 1 {
		return ValidationError{"target.tolerance", "must be in [0, 1)"}
	}
	if t.JitterLow <= 0 || t.JitterLow > t.JitterHigh {
		return ValidationError{"target.jitter", "must satisfy 0 < jitter_low <= jitter_high"}
	}
	if t.MinRatio <= 0 || t.MinRatio > 1 || t.MaxRatio < 1 {
		return ValidationError{"target.ratio", "must satisfy 0 < min_ratio <= 1 <= max_ratio"}
	}

	return nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
