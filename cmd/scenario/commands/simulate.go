package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/scengen/internal/simconfig"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "캘리브레이션 + 경로 생성 + 리스크 요약",
	Long: `전체 run을 실행합니다: load → calibrate → simulate → summarize → persist → export.

출력:
  <out>/<product>_paths.csv  - step × path 가격
  <out>/<product>_fan.csv    - step별 평균/백분위

Example:
  go run ./cmd/scenario simulate --data data/history.csv --out out
  go run ./cmd/scenario simulate --paths 500 --horizon 168 --seed 7`,
	RunE: runSimulate,
}

var (
	simData      string
	simForecast  string
	simOut       string
	simPaths     int
	simHorizon   int
	simSeed      int64
	simMode      string
	simNoPersist bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simData, "data", "", "historical price CSV (default: SCENARIO_DATA)")
	simulateCmd.Flags().StringVar(&simForecast, "forecast", "", "forecast target CSV (default: SCENARIO_FORECAST)")
	simulateCmd.Flags().StringVar(&simOut, "out", "", "output directory (default: SCENARIO_OUTPUT)")
	simulateCmd.Flags().IntVar(&simPaths, "paths", 0, "override simulation.num_paths")
	simulateCmd.Flags().IntVar(&simHorizon, "horizon", 0, "override simulation.horizon")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "override meta.seed")
	simulateCmd.Flags().StringVar(&simMode, "mode", "", "override meta.mode (debug|production)")
	simulateCmd.Flags().BoolVar(&simNoPersist, "no-persist", false, "skip the run database")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx, opts{persist: !simNoPersist})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := applyOverrides(cmd, a.sim); err != nil {
		return err
	}

	rc := a.runConfig(simData, simForecast, simOut)
	printHeader(os.Stdout, "Scenario Simulation", [][2]string{
		{"Run", a.sim.Meta.RunName},
		{"Mode", string(a.sim.Meta.Mode)},
		{"Paths", strconv.Itoa(a.sim.Simulation.NumPaths)},
		{"Horizon", strconv.Itoa(a.sim.Simulation.Horizon)},
		{"Seed", strconv.FormatInt(a.sim.Meta.Seed, 10)},
		{"Data", rc.DataPath},
		{"Output", rc.OutputDir},
	})

	lastPct := -1
	rc.Progress = func(done, total int) {
		if total <= 0 {
			return
		}
		if pct := done * 100 / total; pct/10 != lastPct/10 {
			lastPct = pct
			fmt.Printf("[Simulate] %3d%% (%d/%d)\n", pct, done, total)
		}
	}

	result, err := a.orchestrator.Run(ctx, rc)
	if err != nil {
		return err
	}

	fmt.Println()
	printDiagnostics(os.Stdout, result.Result)
	fmt.Println()
	printRisk(os.Stdout, result.Summary)
	printDegradations(os.Stdout, result.Result.Degradations)

	fmt.Printf("\n  Run ID : %s\n", result.Result.RunID)
	for _, f := range result.Files {
		fmt.Printf("  Wrote  : %s\n", f)
	}
	printCompletion(os.Stdout, "Simulation", result.Duration)
	return nil
}

// applyOverrides copies explicitly set flags into the simulation config
func applyOverrides(cmd *cobra.Command, sim *simconfig.Config) error {
	flags := cmd.Flags()
	if flags.Changed("paths") {
		sim.Simulation.NumPaths = simPaths
	}
	if flags.Changed("horizon") {
		sim.Simulation.Horizon = simHorizon
	}
	if flags.Changed("seed") {
		sim.Meta.Seed = simSeed
	}
	if flags.Changed("mode") {
		sim.Meta.Mode = simconfig.Mode(simMode)
	}
	return simconfig.Validate(sim)
}
