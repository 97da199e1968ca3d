package risk

import (
	"time"

	"github.com/google/uuid"

	"github.com/wonny/scengen/internal/contracts"
)

// VaRConvention VaR 부호 규약
// ⭐ SSOT: Loss를 양수로 표현 (하락 가격 변화 = 손실)
// 전체 시스템에서 이 규약을 일관되게 사용
const VaRConvention = "loss_positive"

// =============================================================================
// Config
// =============================================================================

// Config 리스크 요약 설정
type Config struct {
	ConfidenceLevels []float64 `json:"confidence_levels"` // 신뢰수준 [0.95, 0.99]
	FanPercentiles   []int     `json:"fan_percentiles"`   // 스텝별 백분위 밴드
	MinPaths         int       `json:"min_paths"`         // 유효 경로 최소 수 (fail-closed, 기본: 2)
}

// DefaultConfig 기본 설정
func DefaultConfig() Config {
	return Config{
		ConfidenceLevels: []float64{0.95, 0.99},
		FanPercentiles:   []int{5, 25, 50, 75, 95},
		MinPaths:         2,
	}
}

// =============================================================================
// VaR/CVaR Types
// =============================================================================

// VaRResult VaR 계산 결과
// ⭐ SSOT: VaR/CVaR는 손실을 양수로 표현
// - VaR=4.2 → 95% 신뢰수준에서 최대 4.2 하락 가능
// - CVaR=6.0 → 5% tail에서 평균 6.0 하락 예상
type VaRResult struct {
	Confidence float64 `json:"confidence"` // 신뢰수준 (예: 0.95, 0.99)
	VaR        float64 `json:"var"`        // Value at Risk (손실, 양수)
	CVaR       float64 `json:"cvar"`       // Conditional VaR (Expected Shortfall, 양수)
}

// =============================================================================
// Summary Types
// =============================================================================

// FanBand 한 스텝의 경로 분포
type FanBand struct {
	Step        int             `json:"step"`
	Mean        float64         `json:"mean"`
	Percentiles map[int]float64 `json:"percentiles"`
}

// ProductRisk 상품별 시나리오 리스크
type ProductRisk struct {
	Product   contracts.ProductID `json:"product"`
	Paths     int                 `json:"paths"` // 유효 경로 (aborted 제외)
	LastPrice float64             `json:"last_price"`

	// 터미널 변화 = 마지막 시뮬레이션 가격 - 마지막 관측 가격
	TerminalMean float64         `json:"terminal_mean"`
	TerminalStd  float64         `json:"terminal_std"`
	Downside     []VaRResult     `json:"downside"`   // 하락 tail
	Upside       []VaRResult     `json:"upside"`     // 상승 tail (가격 급등 리스크)
	Parametric   []VaRResult     `json:"parametric"` // 정규분포 기준 비교값
	Percentiles  map[int]float64 `json:"percentiles"`

	Fan []FanBand `json:"fan"`
}

// Summary 시뮬레이션 1회분 리스크 요약
// ⭐ RunID로 simulator.Result와 연결
type Summary struct {
	RunID     uuid.UUID                            `json:"run_id"`
	Config    Config                               `json:"config"`
	Order     []contracts.ProductID                `json:"order"`
	Products  map[contracts.ProductID]*ProductRisk `json:"products"`
	CreatedAt time.Time                            `json:"created_at"`
}
