package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/scengen/internal/scheduler"
	"github.com/wonny/scengen/internal/scheduler/jobs"
	"github.com/wonny/scengen/pkg/redis"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "주기적 시나리오 갱신",
	Long: `SCENARIO_SCHEDULE(cron, 초 필드 선택)에 따라 scenario_refresh 작업을 실행합니다.
여러 인스턴스가 떠 있으면 Redis 락으로 한 인스턴스만 실행합니다.

Subcommands:
  start  - 스케줄러 데몬 시작
  run    - scenario_refresh 즉시 1회 실행

Example:
  go run ./cmd/scenario schedule start
  go run ./cmd/scenario schedule run`,
}

var (
	scheduleStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		RunE:  runScheduleStart,
	}

	scheduleRunCmd = &cobra.Command{
		Use:   "run",
		Short: "scenario_refresh 즉시 실행",
		RunE:  runScheduleNow,
	}

	scheduleLockTTL time.Duration
	scheduleRetries int
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)

	scheduleCmd.PersistentFlags().DurationVar(&scheduleLockTTL, "lock-ttl", time.Hour, "refresh lock lease")
	scheduleCmd.PersistentFlags().IntVar(&scheduleRetries, "retries", scheduler.DefaultOptions().MaxRetries, "retries per failed run")
}

// newScheduler wires the refresh job into a scheduler
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	if err := scheduler.ValidateSchedule(a.cfg.Scenario.Schedule); err != nil {
		return nil, err
	}

	opts := scheduler.DefaultOptions()
	opts.MaxRetries = scheduleRetries
	sched := scheduler.New(opts, a.log)

	job := jobs.NewScenarioRefreshJob(a.orchestrator, a.runConfig("", "", ""), a.cfg.Scenario.Schedule, a.log).
		WithLock(redis.NewLock(a.redis, keyPrefix), scheduleLockTTL)
	if a.redis.Enabled() {
		job.WithSummaryCache(redis.NewCache(a.redis, keyPrefix, a.cfg.Redis.CacheTTL))
	}
	if err := sched.AddJob(job); err != nil {
		return nil, err
	}
	return sched, nil
}

func runScheduleStart(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Scenario Engine Scheduler ===")

	ctx := cmd.Context()
	a, err := bootstrap(ctx, opts{persist: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for _, name := range sched.GetAllJobs() {
		next, _ := sched.NextRun(name)
		fmt.Printf("  - %s (next: %s)\n", name, next.Format(time.RFC3339))
	}
	fmt.Println("\nPress Ctrl+C to stop")

	<-ctx.Done()
	sched.Stop()

	fmt.Println()
	printJobStats(cmd.OutOrStdout(), sched.GetJobStats())
	return nil
}

func runScheduleNow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx, opts{persist: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	result, err := sched.RunJobSync(ctx, jobs.ScenarioRefreshName)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s failed after %d attempts: %s", result.JobName, result.Attempts, result.Error)
	}
	printCompletion(cmd.OutOrStdout(), result.JobName, result.Duration)
	return nil
}
