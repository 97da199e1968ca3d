package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/risk"
	"github.com/wonny/scengen/internal/scheduler"
	"github.com/wonny/scengen/internal/simulator"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

const (
	doubleLine = "═══════════════════════════════════════════════════════════"
	singleLine = "───────────────────────────────────────────────────────────"
)

// printHeader prints a formatted command header
func printHeader(w io.Writer, title string, rows [][2]string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, doubleLine)
	fmt.Fprintf(w, "  %s\n", title)
	fmt.Fprintln(w, singleLine)
	for _, r := range rows {
		fmt.Fprintf(w, "  %-10s: %s\n", r[0], r[1])
	}
	fmt.Fprintln(w, singleLine)
}

// printCalibration per-product model summary
func printCalibration(w io.Writer, set *calibration.Set) {
	fmt.Fprintf(w, "%-12s %4s %-22s %6s %10s %10s\n", "PRODUCT", "K", "VOLATILITY", "JUMPS", "LAST", "σ(ret)")
	for _, id := range set.Order {
		pm, ok := set.Product(id)
		if !ok {
			continue
		}
		jumps := 0
		for _, j := range pm.Jumps {
			if j != nil && !j.Synthetic {
				jumps += len(j.Sizes)
			}
		}
		fmt.Fprintf(w, "%-12s %4d %-22s %6d %10.2f %10.4f\n",
			id, pm.K(), volatilityLabel(pm), jumps, pm.LastPrice, pm.ReturnStd)
	}
	printDegradations(w, set.Degradations)
}

func volatilityLabel(pm *calibration.ProductModel) string {
	fallback := 0
	label := ""
	for _, m := range pm.Volatility {
		if m == nil {
			continue
		}
		if m.Fallback {
			fallback++
			continue
		}
		if label == "" {
			label = fmt.Sprintf("%s(%d,%d)", m.Family, m.P, m.Q)
		}
	}
	switch {
	case label == "":
		return "fallback"
	case fallback > 0:
		return fmt.Sprintf("%s +%d fb", label, fallback)
	default:
		return label
	}
}

// printDiagnostics per-product path counters
func printDiagnostics(w io.Writer, res *simulator.Result) {
	fmt.Fprintf(w, "%-12s %8s %8s %8s %8s %8s\n", "PRODUCT", "CAPPED", "JUMPS", "RESETS", "GOV", "ABORTED")
	for _, id := range res.Order {
		d := res.Diagnostics[id]
		if d == nil {
			continue
		}
		fmt.Fprintf(w, "%-12s %8d %8d %8d %8d %8d\n",
			id, d.CappedReturns, d.InjectedJumps, d.HardResets, d.GovernorCorrections, d.AbortedPaths)
	}
	for _, id := range res.Order {
		if err, ok := res.ProductErrors[id]; ok {
			fmt.Fprintf(w, "❌ %s aborted: %v\n", id, err)
		}
	}
}

// printRisk terminal-change risk table
func printRisk(w io.Writer, summary *risk.Summary) {
	fmt.Fprintf(w, "%-12s %6s %10s %10s %10s %10s %10s %10s\n",
		"PRODUCT", "PATHS", "LAST", "Δ MEAN", "Δ STD", "VaR95", "CVaR95", "UP95")
	for _, id := range summary.Order {
		pr := summary.Products[id]
		if pr == nil {
			continue
		}
		fmt.Fprintf(w, "%-12s %6d %10.2f %10.2f %10.2f %10.2f %10.2f %10.2f\n",
			id, pr.Paths, pr.LastPrice, pr.TerminalMean, pr.TerminalStd,
			varAt(pr.Downside, 0.95).VaR, varAt(pr.Downside, 0.95).CVaR, varAt(pr.Upside, 0.95).VaR)
	}
}

func varAt(results []risk.VaRResult, confidence float64) risk.VaRResult {
	for _, r := range results {
		if r.Confidence == confidence {
			return r
		}
	}
	return risk.VaRResult{Confidence: confidence}
}

// printDegradations grouped by component
func printDegradations(w io.Writer, degr []contracts.Degradation) {
	if len(degr) == 0 {
		return
	}
	counts := map[string]int{}
	for _, d := range degr {
		counts[d.Component]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "⚠️  %d degradations\n", len(degr))
	for _, k := range keys {
		fmt.Fprintf(w, "  - %-12s %d\n", k, counts[k])
	}
	if verbose {
		for _, d := range degr {
			fmt.Fprintf(w, "    %s\n", d.String())
		}
	}
}

// printCompletion prints the completion line
func printCompletion(w io.Writer, what string, elapsed time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "✅ %s completed in %.2fs\n", what, elapsed.Seconds())
}

// printJobStats per-job run counters
func printJobStats(w io.Writer, stats map[string]scheduler.JobStats) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%-20s %6s %6s %6s %8s  %s\n", "JOB", "RUNS", "OK", "FAIL", "RATE", "LAST")
	for _, name := range names {
		st := stats[name]
		last := "-"
		if st.LastRun != nil {
			last = st.LastRun.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-20s %6d %6d %6d %7.1f%%  %s\n",
			name, st.TotalRuns, st.SuccessCount, st.FailureCount, st.SuccessRate*100, last)
	}
}
