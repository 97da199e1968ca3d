package calibration

import (
	"time"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/copula"
	"github.com/wonny/scengen/internal/jump"
	"github.com/wonny/scengen/internal/regime"
	"github.com/wonny/scengen/internal/volatility"
)

// ProductModel 상품 1개의 캘리브레이션 결과
// ⭐ 시뮬레이션 중 read-only (모든 경로가 공유)
type ProductModel struct {
	ID          contracts.ProductID `json:"id"`
	Resolution  string              `json:"resolution"`
	LastPrice   float64             `json:"last_price"` // 경로 시작점
	NextHour    int                 `json:"next_hour"`  // 첫 시뮬레이션 스텝의 시각
	Returns     []float64           `json:"returns"`
	ReturnHours []int               `json:"return_hours"`

	PriceMean  float64 `json:"price_mean"`
	PriceStd   float64 `json:"price_std"`
	ReturnMean float64 `json:"return_mean"`
	ReturnStd  float64 `json:"return_std"` // σ_hist

	Regime     *regime.Model       `json:"regime"`
	Volatility []*volatility.Model `json:"volatility"` // index r-1
	Jumps      []*jump.Model       `json:"jumps"`      // index r-1
	GlobalJump *jump.Model         `json:"global_jump"`

	// historical reference for diagnostics
	HistKurtosis float64 `json:"hist_kurtosis"`
	HistACF1     float64 `json:"hist_acf1"`
	HistJumpFreq float64 `json:"hist_jump_freq"`
}

// K number of regimes
func (p *ProductModel) K() int {
	if p.Regime == nil || p.Regime.OptimalK < 1 {
		return 1
	}
	return p.Regime.OptimalK
}

// Labels historical regime label per return
func (p *ProductModel) Labels() []int {
	if p.Regime == nil {
		return nil
	}
	return p.Regime.Labels
}

// VolatilityFor returns the volatility model of regime r (clamped)
func (p *ProductModel) VolatilityFor(r int) *volatility.Model {
	if len(p.Volatility) == 0 {
		return nil
	}
	return p.Volatility[clampRegime(r, len(p.Volatility))-1]
}

// JumpFor returns the jump model of regime r, or the global model
func (p *ProductModel) JumpFor(r int) *jump.Model {
	if len(p.Jumps) == 0 {
		return p.GlobalJump
	}
	if m := p.Jumps[clampRegime(r, len(p.Jumps))-1]; m != nil {
		return m
	}
	return p.GlobalJump
}

// TargetVol regime-specific target volatility, σ_hist when unknown
func (p *ProductModel) TargetVol(r int) float64 {
	if m := p.VolatilityFor(r); m != nil {
		if v := m.TargetVol(); v > 0 {
			return v
		}
	}
	return p.ReturnStd
}

// PriceBounds historical mean ± k·σ_price
func (p *ProductModel) PriceBounds(k float64) (float64, float64) {
	return p.PriceMean - k*p.PriceStd, p.PriceMean + k*p.PriceStd
}

// Innovations standardised residuals per regime (index r-1)
func (p *ProductModel) Innovations() [][]float64 {
	out := make([][]float64, len(p.Volatility))
	for i, m := range p.Volatility {
		if m != nil {
			out[i] = m.Innovations
		}
	}
	return out
}

func clampRegime(r, k int) int {
	if r < 1 {
		return 1
	}
	if r > k {
		return k
	}
	return r
}

// Set 전체 캘리브레이션 산출물
// ⭐ SSOT: 시뮬레이터 입력은 이 구조체 하나
type Set struct {
	ConfigHash        string                                 `json:"config_hash"`
	Fingerprint       string                                 `json:"fingerprint"`
	Products          map[contracts.ProductID]*ProductModel `json:"products"`
	Order             []contracts.ProductID                  `json:"order"` // sorted, column order of Copula/GlobalCorrelation
	Copula            *copula.Model                          `json:"copula"`
	GlobalCorrelation []float64                              `json:"global_correlation"` // d×d, projected
	Degradations      []contracts.Degradation                `json:"degradations"`
	CreatedAt         time.Time                              `json:"created_at"`
}

// Product returns the model of id
func (s *Set) Product(id contracts.ProductID) (*ProductModel, bool) {
	p, ok := s.Products[id]
	return p, ok
}

// MaxK largest regime count across products
func (s *Set) MaxK() int {
	k := 1
	for _, p := range s.Products {
		if p.K() > k {
			k = p.K()
		}
	}
	return k
}
