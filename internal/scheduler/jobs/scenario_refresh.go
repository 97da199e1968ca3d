package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/scengen/internal/brain"
	"github.com/wonny/scengen/pkg/logger"
	"github.com/wonny/scengen/pkg/redis"
)

// ScenarioRefreshName job name used for scheduling and the distributed lock
const ScenarioRefreshName = "scenario_refresh"

// Runner executes one scenario run
type Runner interface {
	Run(ctx context.Context, rc brain.RunConfig) (*brain.RunResult, error)
}

// Locker single-holder lease across instances
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// SummaryCache stores the latest summary for fast reads
type SummaryCache interface {
	Set(ctx context.Context, key string, value interface{}) error
}

// ScenarioRefreshJob re-runs calibration and simulation on the configured inputs
type ScenarioRefreshJob struct {
	runner   Runner
	locker   Locker       // nil → 락 없이 실행
	cache    SummaryCache // nil → 캐시 생략
	input    brain.RunConfig
	schedule string
	lockTTL  time.Duration
	logger   *logger.Logger
}

// NewScenarioRefreshJob creates a new scenario refresh job
func NewScenarioRefreshJob(runner Runner, input brain.RunConfig, schedule string, log *logger.Logger) *ScenarioRefreshJob {
	if log == nil {
		log = logger.Nop()
	}
	return &ScenarioRefreshJob{
		runner:   runner,
		input:    input,
		schedule: schedule,
		lockTTL:  time.Hour,
		logger:   log.WithField("job", ScenarioRefreshName),
	}
}

// WithLock guards runs with a distributed lease held for at most ttl
func (j *ScenarioRefreshJob) WithLock(l Locker, ttl time.Duration) *ScenarioRefreshJob {
	j.locker = l
	if ttl > 0 {
		j.lockTTL = ttl
	}
	return j
}

// WithSummaryCache caches each run's summary under its run id
func (j *ScenarioRefreshJob) WithSummaryCache(c SummaryCache) *ScenarioRefreshJob {
	j.cache = c
	return j
}

// Name returns the job name
func (j *ScenarioRefreshJob) Name() string {
	return ScenarioRefreshName
}

// Schedule returns the cron schedule
func (j *ScenarioRefreshJob) Schedule() string {
	return j.schedule
}

// Run executes one refresh. A lease held elsewhere skips the run without error.
func (j *ScenarioRefreshJob) Run(ctx context.Context) error {
	if j.locker != nil {
		release, acquired, err := j.locker.Acquire(ctx, ScenarioRefreshName, j.lockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			j.logger.Info("Refresh already running on another instance, skipping")
			return nil
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				j.logger.WithError(err).Warn("Failed to release refresh lock")
			}
		}()
	}

	j.logger.Debug("Starting scheduled scenario refresh")
	result, err := j.runner.Run(ctx, j.input)
	if err != nil {
		return fmt.Errorf("scenario refresh: %w", err)
	}

	if result.Summary == nil {
		return fmt.Errorf("scenario refresh: run produced no summary")
	}
	runID := result.Summary.RunID.String()

	if j.cache != nil {
		if err := j.cache.Set(ctx, redis.RunSummaryKey(runID), result.Summary); err != nil {
			j.logger.WithError(err).Warn("Failed to cache run summary")
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"run_id":   runID,
		"stages":   len(result.CompletedStages),
		"files":    len(result.Files),
		"duration": result.Duration.Seconds(),
	}).Info("Scenario refresh completed")
	return nil
}
