package contracts

import (
	"fmt"
	"math"
	"time"
)

// ProductID identifies a market product (nodal price, hub price, regup, ...)
type ProductID string

// ProductSeries is one cleaned, gap-free historical series
// ⭐ SSOT: 코어에 들어오는 모든 입력은 이 형태로 조립되어 전달
// 결측/이상치 정리는 상위 레이어 책임
type ProductSeries struct {
	ID         ProductID   `json:"id"`
	Resolution string      `json:"resolution"` // "hourly", "15min", ...
	Timestamps []time.Time `json:"timestamps"` // len == len(Prices), optional
	Prices     []float64   `json:"prices"`
}

// Returns returns first differences: len(Returns) == len(Prices)-1
func (s ProductSeries) Returns() []float64 {
	if len(s.Prices) < 2 {
		return nil
	}
	out := make([]float64, len(s.Prices)-1)
	for i := 1; i < len(s.Prices); i++ {
		out[i-1] = s.Prices[i] - s.Prices[i-1]
	}
	return out
}

// ReturnHours returns the hour of day of every return observation.
// A return is stamped with the timestamp of the price that closes it.
// Without timestamps the series is assumed hourly and index-aligned.
func (s ProductSeries) ReturnHours() []int {
	n := len(s.Prices) - 1
	if n <= 0 {
		return nil
	}
	hours := make([]int, n)
	for i := 0; i < n; i++ {
		if len(s.Timestamps) == len(s.Prices) {
			hours[i] = s.Timestamps[i+1].Hour()
		} else {
			hours[i] = (i + 1) % 24
		}
	}
	return hours
}

// LastPrice returns the last observed price (simulation anchor)
func (s ProductSeries) LastPrice() float64 {
	if len(s.Prices) == 0 {
		return 0
	}
	return s.Prices[len(s.Prices)-1]
}

// NextHour returns the hour of day of the first simulated step
func (s ProductSeries) NextHour() int {
	if len(s.Timestamps) == len(s.Prices) && len(s.Timestamps) > 0 {
		last := s.Timestamps[len(s.Timestamps)-1]
		step := time.Hour
		if len(s.Timestamps) > 1 {
			if d := last.Sub(s.Timestamps[len(s.Timestamps)-2]); d > 0 {
				step = d
			}
		}
		return last.Add(step).Hour()
	}
	return len(s.Prices) % 24
}

// Validate checks the structural invariants the core relies on
func (s ProductSeries) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: product id is empty", ErrConfiguration)
	}
	if len(s.Prices) < 3 {
		return fmt.Errorf("%w: product %s has %d prices, need >= 3",
			ErrDataInsufficiency, s.ID, len(s.Prices))
	}
	if len(s.Timestamps) != 0 && len(s.Timestamps) != len(s.Prices) {
		return fmt.Errorf("%w: product %s has %d timestamps for %d prices",
			ErrConfiguration, s.ID, len(s.Timestamps), len(s.Prices))
	}
	for i, p := range s.Prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: product %s price[%d] is not finite",
				ErrNumericalInstability, s.ID, i)
		}
	}
	return nil
}

// ForecastTarget is the exogenous point forecast a product's simulated mean must track.
// Values is either one value per simulated step or a 24-value hour-of-day profile.
type ForecastTarget struct {
	Product   ProductID `json:"product"`
	Values    []float64 `json:"values"`
	Tolerance float64   `json:"tolerance"` // 0 → config default (2%)
}

// At returns the target for a simulated step, given its hour of day
func (f ForecastTarget) At(step, hour, horizon int) (float64, bool) {
	switch {
	case len(f.Values) >= horizon && step < len(f.Values):
		return f.Values[step], true
	case len(f.Values) == 24:
		return f.Values[hour%24], true
	default:
		return 0, false
	}
}
