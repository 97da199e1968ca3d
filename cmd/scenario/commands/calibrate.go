package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/scengen/internal/dataset"
)

// calibrateCmd represents the calibrate command
var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "모델 캘리브레이션만 실행",
	Long: `과거 가격 CSV로 상품별 레짐/변동성/점프 모델과 코퓰라를 적합합니다.
Redis가 켜져 있으면 결과는 (config hash, data fingerprint) 키로 캐시됩니다.

Example:
  go run ./cmd/scenario calibrate --data data/history.csv`,
	RunE: runCalibrate,
}

var calibrateData string

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().StringVar(&calibrateData, "data", "", "historical price CSV (default: SCENARIO_DATA)")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx, opts{})
	if err != nil {
		return err
	}
	defer a.Close()

	rc := a.runConfig(calibrateData, "", "")
	printHeader(os.Stdout, "Calibration", [][2]string{
		{"Config", a.cfg.Scenario.ConfigPath},
		{"Data", rc.DataPath},
	})

	start := time.Now()
	series, err := dataset.LoadPricesFile(rc.DataPath)
	if err != nil {
		return fmt.Errorf("load prices: %w", err)
	}
	set, err := a.calibrator.Calibrate(ctx, series)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	printCalibration(os.Stdout, set)
	fmt.Printf("\n  Fingerprint : %s\n", set.Fingerprint)
	printCompletion(os.Stdout, "Calibration", time.Since(start))
	return nil
}
