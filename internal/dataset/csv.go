package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/scengen/internal/contracts"
)

// timestampLayouts 허용하는 timestamp 형식 (순서대로 시도)
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// =============================================================================
// Price tables
// =============================================================================

// LoadPrices reads a wide price table: `timestamp,<product>,<product>...`.
// A product may start or end later than others (blank cells at the edges),
// but gaps inside a product's range are rejected: cleaning is upstream.
func LoadPrices(r io.Reader) ([]contracts.ProductSeries, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: price table needs a timestamp and at least one product column", contracts.ErrConfiguration)
	}

	series := make([]contracts.ProductSeries, len(header)-1)
	ended := make([]bool, len(series))
	for i, name := range header[1:] {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty product name in column %d", contracts.ErrConfiguration, i+2)
		}
		series[i] = contracts.ProductSeries{ID: contracts.ProductID(name), Resolution: "hourly"}
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for i, cell := range record[1:] {
			s := &series[i]
			cell = strings.TrimSpace(cell)
			if cell == "" {
				if len(s.Prices) > 0 {
					ended[i] = true
				}
				continue
			}
			if ended[i] {
				return nil, fmt.Errorf("%w: product %s has a gap before line %d",
					contracts.ErrDataInsufficiency, s.ID, line)
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d product %s: %w", line, s.ID, err)
			}
			s.Prices = append(s.Prices, v)
			s.Timestamps = append(s.Timestamps, ts)
		}
	}

	for i := range series {
		series[i].Resolution = resolutionOf(series[i].Timestamps)
	}
	return series, nil
}

// LoadPricesFile LoadPrices from a file path
func LoadPricesFile(path string) ([]contracts.ProductSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open price table: %w", err)
	}
	defer f.Close()
	return LoadPrices(f)
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", contracts.ErrConfiguration, v)
}

// resolutionOf labels the spacing of the first two timestamps
func resolutionOf(ts []time.Time) string {
	if len(ts) < 2 {
		return "hourly"
	}
	switch d := ts[1].Sub(ts[0]); d {
	case time.Hour:
		return "hourly"
	case 15 * time.Minute:
		return "15min"
	case 5 * time.Minute:
		return "5min"
	case 24 * time.Hour:
		return "daily"
	default:
		return d.String()
	}
}

// =============================================================================
// Forecast tables
// =============================================================================

// LoadForecasts reads `step,<product>...`: one row per simulated step, or
// 24 rows (hour 0-23) for an hour-of-day profile
func LoadForecasts(r io.Reader) (map[contracts.ProductID]contracts.ForecastTarget, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: forecast table needs a step column and at least one product", contracts.ErrConfiguration)
	}

	targets := make(map[contracts.ProductID]contracts.ForecastTarget, len(header)-1)
	ids := make([]contracts.ProductID, len(header)-1)
	for i, name := range header[1:] {
		ids[i] = contracts.ProductID(strings.TrimSpace(name))
		targets[ids[i]] = contracts.ForecastTarget{Product: ids[i]}
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		step, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil || step != line-2 {
			return nil, fmt.Errorf("%w: line %d step must be %d", contracts.ErrConfiguration, line, line-2)
		}
		for i, cell := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d product %s: %w", line, ids[i], err)
			}
			t := targets[ids[i]]
			t.Values = append(t.Values, v)
			targets[ids[i]] = t
		}
	}
	return targets, nil
}

// LoadForecastsFile LoadForecasts from a file path
func LoadForecastsFile(path string) (map[contracts.ProductID]contracts.ForecastTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open forecast table: %w", err)
	}
	defer f.Close()
	return LoadForecasts(f)
}
