package simulator

import (
	"fmt"
	"math"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/stats"
)

// governor safety checks for one (product, path)
// debug: 위반 시 StageError 반환 (product abort)
// production: 호출자가 교정 후 계속 진행
type governor struct {
	mode      simconfig.Mode
	product   contracts.ProductID
	path      int
	maxChange float64 // |Δp| bound, 0 = unchecked
}

func newGovernor(cfg *simconfig.Config, product contracts.ProductID, path int, priceStd float64) *governor {
	return &governor{
		mode:      cfg.Meta.Mode,
		product:   product,
		path:      path,
		maxChange: cfg.Safety.MaxPriceChangeSigma * priceStd,
	}
}

// abort reports whether violations are fatal
func (g *governor) abort() bool {
	return g.mode != simconfig.ModeProduction
}

func (g *governor) fail(stage contracts.Stage, step int, err error) error {
	return &contracts.StageError{
		Product: g.product,
		Path:    g.path,
		Step:    step,
		Stage:   stage,
		Err:     err,
	}
}

// checkFinite no NaN/Inf after a return-producing stage
func (g *governor) checkFinite(stage contracts.Stage, step int, v float64) error {
	if stats.IsFinite(v) {
		return nil
	}
	return g.fail(stage, step, fmt.Errorf("%w: return is %v", contracts.ErrNumericalInstability, v))
}

// checkRatio volatility ratio must be finite
func (g *governor) checkRatio(step int, ratio float64) error {
	if stats.IsFinite(ratio) {
		return nil
	}
	return g.fail(contracts.StageVolatility, step, fmt.Errorf("%w: volatility ratio is %v", contracts.ErrNumericalInstability, ratio))
}

// checkPrice finite price and bounded absolute change
func (g *governor) checkPrice(step int, prev, p float64) error {
	if !stats.IsFinite(p) {
		return g.fail(contracts.StageAdvance, step, fmt.Errorf("%w: price is %v", contracts.ErrNumericalInstability, p))
	}
	if g.maxChange > 0 && math.Abs(p-prev) > g.maxChange {
		return g.fail(contracts.StageAdvance, step, fmt.Errorf("%w: price change %.4g exceeds %.4g",
			contracts.ErrExplosion, math.Abs(p-prev), g.maxChange))
	}
	return nil
}

// correctPrice production-mode replacement for a violating price
func (g *governor) correctPrice(prev, p, anchor float64) float64 {
	if !stats.IsFinite(p) {
		if stats.IsFinite(prev) {
			return prev
		}
		return anchor
	}
	if g.maxChange > 0 {
		return stats.Clamp(p, prev-g.maxChange, prev+g.maxChange)
	}
	return p
}
