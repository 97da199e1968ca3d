package risk

import (
	"fmt"
	"time"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/simulator"
	"github.com/wonny/scengen/internal/stats"
)

// =============================================================================
// Engine - 순수 계산기
// =============================================================================

// Engine 시나리오 리스크 엔진 (순수 계산기)
// ⭐ SSOT: 경로 생성은 simulator, 여기서는 결과 요약만 담당
type Engine struct {
	config Config
}

// NewEngine 새 리스크 엔진 생성
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// ValidateConfig 설정 유효성 검사
func ValidateConfig(config Config) error {
	if config.MinPaths < 1 {
		return fmt.Errorf("%w: min_paths must be >= 1", contracts.ErrConfiguration)
	}
	if len(config.ConfidenceLevels) == 0 {
		return fmt.Errorf("%w: confidence_levels cannot be empty", contracts.ErrConfiguration)
	}
	for _, cl := range config.ConfidenceLevels {
		if cl <= 0 || cl >= 1 {
			return fmt.Errorf("%w: confidence level must be between 0 and 1", contracts.ErrConfiguration)
		}
	}
	for _, p := range config.FanPercentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: fan percentile %d outside [0, 100]", contracts.ErrConfiguration, p)
		}
	}
	return nil
}

// Summarize 시뮬레이션 결과의 상품별 리스크 요약
// aborted 경로는 제외 (fail-closed: 유효 경로 < MinPaths → 에러)
// governor abort 상품은 요약에서 빠짐
func (e *Engine) Summarize(res *simulator.Result, set *calibration.Set) (*Summary, error) {
	if err := ValidateConfig(e.config); err != nil {
		return nil, err
	}
	if res == nil || set == nil {
		return nil, fmt.Errorf("%w: result and calibration set are required", contracts.ErrConfiguration)
	}

	summary := &Summary{
		RunID:     res.RunID,
		Config:    e.config,
		Order:     res.Order,
		Products:  make(map[contracts.ProductID]*ProductRisk, len(res.Order)),
		CreatedAt: time.Now().UTC(),
	}
	for _, id := range res.Order {
		if res.Failed(id) {
			continue
		}
		pm, ok := set.Product(id)
		if !ok {
			return nil, fmt.Errorf("%w: product %s missing from calibration set", contracts.ErrConfiguration, id)
		}
		pr, err := e.summarizeProduct(res, id, pm.LastPrice)
		if err != nil {
			return nil, err
		}
		summary.Products[id] = pr
	}
	return summary, nil
}

func (e *Engine) summarizeProduct(res *simulator.Result, id contracts.ProductID, lastPrice float64) (*ProductRisk, error) {
	prices, ok := res.Prices[id]
	if !ok || prices == nil {
		return nil, fmt.Errorf("%w: no simulated prices for %s", contracts.ErrConfiguration, id)
	}
	horizon, numPaths := prices.Dims()

	var aborted []bool
	if d := res.Diagnostics[id]; d != nil {
		aborted = d.Aborted
	}
	valid := make([]int, 0, numPaths)
	for j := 0; j < numPaths; j++ {
		if j < len(aborted) && aborted[j] {
			continue
		}
		valid = append(valid, j)
	}
	if len(valid) < e.config.MinPaths {
		return nil, fmt.Errorf("%w: product %s has %d valid paths, need %d",
			contracts.ErrDataInsufficiency, id, len(valid), e.config.MinPaths)
	}

	// 터미널 변화
	changes := make([]float64, len(valid))
	for i, j := range valid {
		changes[i] = prices.At(horizon-1, j) - lastPrice
	}
	mean, std := stats.MeanStdDev(changes)

	pr := &ProductRisk{
		Product:      id,
		Paths:        len(valid),
		LastPrice:    lastPrice,
		TerminalMean: mean,
		TerminalStd:  std,
		Percentiles:  CalculatePercentiles(changes, e.config.FanPercentiles),
		Fan:          make([]FanBand, horizon),
	}
	for _, cl := range e.config.ConfidenceLevels {
		pr.Downside = append(pr.Downside, CalculateVaR(changes, cl))
		pr.Upside = append(pr.Upside, CalculateUpsideVaR(changes, cl))
		pr.Parametric = append(pr.Parametric, CalculateParametricVaR(mean, std, cl))
	}

	// 스텝별 fan
	column := make([]float64, len(valid))
	for t := 0; t < horizon; t++ {
		for i, j := range valid {
			column[i] = prices.At(t, j)
		}
		pr.Fan[t] = FanBand{
			Step:        t,
			Mean:        stats.Mean(column),
			Percentiles: CalculatePercentiles(column, e.config.FanPercentiles),
		}
	}
	return pr, nil
}
