package regime

import (
	"fmt"
	"math"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/stats"
)

// minObsPerRegime K 후보당 최소 관측치 배수
const minObsPerRegime = 10

// proxyFloor keeps log(rolling std) finite on flat stretches
const proxyFloor = 1e-12

// Detector 변동성 레짐 탐지기
type Detector struct {
	config Config
}

// NewDetector 새 탐지기 생성
func NewDetector(config Config) *Detector {
	return &Detector{config: config}
}

// Proxy builds the winsorised volatility proxy aligned to returns
func (d *Detector) Proxy(returns []float64) []float64 {
	proxy := stats.RollingStd(returns, d.config.VolWindow)
	if d.config.LogProxy {
		for i, v := range proxy {
			proxy[i] = math.Log(math.Max(v, proxyFloor))
		}
	}
	return stats.Winsorize(proxy, d.config.WinsorLower, d.config.WinsorUpper)
}

// Detect clusters the volatility proxy of returns into K regimes.
// hours (hour-of-day per return, may be nil) feed the transition model.
//
// 실패는 치명적이지 않음: error 반환 시 호출자가 Single()로 degrade
func (d *Detector) Detect(returns []float64, hours []int) (*Model, error) {
	n := len(returns)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty return series", contracts.ErrDataInsufficiency)
	}

	proxy := d.Proxy(returns)
	if stats.CountUnique(proxy) < 2 {
		return Single(n, hours, StatusSkipped), nil
	}

	opts := gmmOptions{
		maxIter: d.config.MaxIterations,
		tol:     d.config.Tolerance,
		reg:     d.config.Regularization,
	}

	bic := make(map[int]float64)
	var (
		best  *Mixture
		bestK int
	)
	for k := d.config.MinK; k <= d.config.MaxK; k++ {
		if n < k*minObsPerRegime {
			break
		}
		mix, err := fitGMM(proxy, k, opts)
		if err != nil || !d.admissible(mix) {
			continue
		}
		score := mix.BIC(n)
		bic[k] = score

		if best == nil {
			best, bestK = mix, k
			continue
		}
		// 안정성 검사: 바로 작은 K 대비 최소 개선폭 요구
		prev, ok := bic[k-1]
		if !ok {
			prev = bic[bestK]
		}
		if score < bic[bestK] && prev-score >= d.config.MinBICImprovement {
			best, bestK = mix, k
		}
	}

	status := StatusFitted
	if best == nil {
		// relaxed regularization, K=2
		relaxed := opts
		relaxed.reg = math.Max(d.config.Regularization, 1e-8) * d.config.RelaxedFactor
		mix, err := fitGMM(proxy, 2, relaxed)
		if err != nil {
			return nil, fmt.Errorf("regime fallback fit: %w", err)
		}
		best, bestK = mix, 2
		bic[2] = mix.BIC(n)
		status = StatusFallback
	}

	labels := best.Assign(proxy)
	return &Model{
		OptimalK:   bestK,
		Components: best.Components,
		Labels:     labels,
		Status:     status,
		BIC:        bic,
		Transition: BuildTransition(labels, bestK, hours, d.config.HourlyBias),
	}, nil
}

// admissible rejects fragmented fits (a component below the minimum share)
func (d *Detector) admissible(mix *Mixture) bool {
	for _, c := range mix.Components {
		if c.Weight < d.config.MinComponentShare || !stats.IsFinite(c.Mean) {
			return false
		}
	}
	return true
}
