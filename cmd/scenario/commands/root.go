package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	simConfigFile string
	env           string
	verbose       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scenario",
	Short: "레짐 기반 전력/보조서비스 가격 경로 생성기",
	Long: `Scenario Engine CLI

과거 가격으로 레짐/변동성/점프/코퓰라 모델을 캘리브레이션하고
Monte Carlo 가격 경로와 리스크 요약(fan, VaR/CVaR)을 생성합니다.

Usage:
  go run ./cmd/scenario [command]

Examples:
  go run ./cmd/scenario calibrate --data data/history.csv
  go run ./cmd/scenario simulate --data data/history.csv --out out
  go run ./cmd/scenario serve
  go run ./cmd/scenario schedule start`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). Ctrl+C cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&simConfigFile, "config", "", "simulation YAML (default: SCENARIO_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
