package commands

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/risk"
	"github.com/wonny/scengen/internal/scheduler"
	"github.com/wonny/scengen/internal/simulator"
	"github.com/wonny/scengen/internal/volatility"
)

func TestVolatilityLabel(t *testing.T) {
	pm := &calibration.ProductModel{Volatility: []*volatility.Model{
		{Family: volatility.FamilyGARCH, P: 1, Q: 1},
		{Fallback: true},
	}}
	assert.Equal(t, "garch(1,1) +1 fb", volatilityLabel(pm))

	pm.Volatility = pm.Volatility[:1]
	assert.Equal(t, "garch(1,1)", volatilityLabel(pm))

	pm.Volatility = []*volatility.Model{{Fallback: true}}
	assert.Equal(t, "fallback", volatilityLabel(pm))
}

func TestPrintRisk(t *testing.T) {
	summary := &risk.Summary{
		Order: []contracts.ProductID{"hub", "missing"},
		Products: map[contracts.ProductID]*risk.ProductRisk{
			"hub": {
				Product:   "hub",
				Paths:     100,
				LastPrice: 42,
				Downside:  []risk.VaRResult{{Confidence: 0.95, VaR: 3.5, CVaR: 4.25}},
				Upside:    []risk.VaRResult{{Confidence: 0.95, VaR: 6}},
			},
		},
	}

	var buf bytes.Buffer
	printRisk(&buf, summary)
	out := buf.String()
	assert.Contains(t, out, "hub")
	assert.Contains(t, out, "3.50")
	assert.Contains(t, out, "4.25")
	assert.Contains(t, out, "6.00")
	assert.NotContains(t, out, "missing")

	assert.Equal(t, risk.VaRResult{Confidence: 0.99}, varAt(nil, 0.99))
}

func TestPrintDegradations(t *testing.T) {
	var buf bytes.Buffer
	printDegradations(&buf, nil)
	assert.Empty(t, buf.String())

	printDegradations(&buf, []contracts.Degradation{
		{Component: "volatility", Product: "hub"},
		{Component: "volatility", Product: "regup"},
		{Component: "copula"},
	})
	assert.Contains(t, buf.String(), "3 degradations")
	assert.Contains(t, buf.String(), "volatility")
}

func TestPrintJobStats(t *testing.T) {
	last := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printJobStats(&buf, map[string]scheduler.JobStats{
		"scenario_refresh": {JobName: "scenario_refresh", TotalRuns: 4, SuccessCount: 3, FailureCount: 1, SuccessRate: 0.75, LastRun: &last},
		"idle":             {JobName: "idle"},
	})

	out := buf.String()
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "2026-10-01T06:00:00Z")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("idle")), bytes.Index(buf.Bytes(), []byte("scenario_refresh")))
}

func TestPrintDiagnostics_FailedProduct(t *testing.T) {
	res := &simulator.Result{
		Order: []contracts.ProductID{"hub", "regup"},
		Diagnostics: map[contracts.ProductID]*simulator.ProductDiagnostics{
			"hub":   {Product: "hub"},
			"regup": {Product: "regup", AbortedPaths: 10},
		},
		ProductErrors: map[contracts.ProductID]error{"regup": errors.New("volatility ratio is +Inf")},
	}
	var buf bytes.Buffer
	printDiagnostics(&buf, res)
	assert.Contains(t, buf.String(), "regup aborted: volatility ratio is +Inf")
	assert.NotContains(t, buf.String(), "hub aborted")
}
