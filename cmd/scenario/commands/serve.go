package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wonny/scengen/internal/api"
	"github.com/wonny/scengen/internal/api/handlers"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "API 서버 시작",
	Long: `run 이력 조회/트리거 REST API 서버를 시작합니다.

Endpoints:
  GET  /health                 - Health check (database, redis)
  GET  /metrics                - Prometheus metrics
  GET  /api/runs               - 최근 run 목록
  GET  /api/runs/{id}          - run 상세 (진단 포함)
  GET  /api/runs/{id}/summary  - 리스크 요약 (fan, VaR/CVaR)
  POST /api/runs               - 설정된 입력으로 run 실행

With --scheduler (스케줄러를 같은 프로세스에서 실행):
  GET    /api/scheduler/jobs                - 작업 목록 + 통계
  GET    /api/scheduler/jobs/{name}/history - 최근 실행 결과
  POST   /api/scheduler/jobs/{name}/run     - 즉시 실행
  DELETE /api/scheduler/jobs/{name}         - 스케줄 해제

Example:
  go run ./cmd/scenario serve
  go run ./cmd/scenario serve --port 8089
  go run ./cmd/scenario serve --scheduler`,
	RunE: runServe,
}

var (
	servePort      string
	serveScheduler bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePort, "port", "", "API 서버 포트 (default: PORT)")
	serveCmd.Flags().BoolVar(&serveScheduler, "scheduler", false, "scenario_refresh 스케줄러 함께 실행")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Scenario Engine API Server ===")

	ctx := cmd.Context()
	a, err := bootstrap(ctx, opts{persist: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort != "" {
		a.cfg.Port = servePort
	}

	trigger := func(ctx context.Context) (uuid.UUID, error) {
		result, err := a.orchestrator.Run(ctx, a.runConfig("", "", ""))
		if err != nil {
			return uuid.Nil, err
		}
		return result.Result.RunID, nil
	}

	var metricsHandler http.Handler
	if a.metrics != nil {
		metricsHandler = a.metrics.Handler()
	}

	var schedHandler *handlers.SchedulerHandler
	if serveScheduler {
		sched, err := a.newScheduler()
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
		schedHandler = handlers.NewSchedulerHandler(sched, a.log)
	}

	runHandler := handlers.NewRunHandler(a.repo, trigger, a.log)
	router := api.NewRouter(runHandler, schedHandler, metricsHandler, a.healthChecks(), a.log)
	server := api.New(a.cfg, a.log, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	a.log.WithField("port", a.cfg.Port).Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}
