package brain

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/dataset"
	"github.com/wonny/scengen/internal/metrics"
	"github.com/wonny/scengen/internal/risk"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/simulator"
	"github.com/wonny/scengen/internal/store"
	"github.com/wonny/scengen/pkg/logger"
)

// Stage names of one scenario run
const (
	StageLoad      = "load"
	StageCalibrate = "calibrate"
	StageSimulate  = "simulate"
	StageSummarize = "summarize"
	StagePersist   = "persist"
	StageExport    = "export"
)

// Orchestrator coordinates load → calibrate → simulate → summarize → persist → export
// ⭐ SSOT: run 조율은 여기서만 (CLI, API, 스케줄러 공용)
type Orchestrator struct {
	config     *simconfig.Config
	calibrator *calibration.Calibrator
	riskEngine *risk.Engine
	repo       store.RunRepository // nil → persist 생략
	metrics    *metrics.Recorder
	workers    int
	logger     *logger.Logger
}

// RunConfig holds inputs for one run
type RunConfig struct {
	// 입력: Series가 비어 있으면 DataPath에서 로드
	Series       []contracts.ProductSeries
	DataPath     string
	Targets      map[contracts.ProductID]contracts.ForecastTarget
	ForecastPath string

	OutputDir string // 비어 있으면 export 생략
	Progress  simulator.ProgressFunc
}

// RunResult holds the results of a complete run
type RunResult struct {
	Success         bool
	CompletedStages []string
	Set             *calibration.Set
	Result          *simulator.Result
	Summary         *risk.Summary
	Files           []string
	Duration        time.Duration
}

// NewOrchestrator creates a new orchestrator. repo and rec may be nil.
func NewOrchestrator(
	cfg *simconfig.Config,
	calibrator *calibration.Calibrator,
	riskEngine *risk.Engine,
	repo store.RunRepository,
	rec *metrics.Recorder,
	log *logger.Logger,
) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		config:     cfg,
		calibrator: calibrator,
		riskEngine: riskEngine,
		repo:       repo,
		metrics:    rec,
		workers:    cfg.Simulation.Workers,
		logger:     log.WithField("module", "brain"),
	}
}

// WithWorkers overrides the simulation worker count
func (o *Orchestrator) WithWorkers(n int) *Orchestrator {
	if n > 0 {
		o.workers = n
	}
	return o
}

// Run executes one complete scenario run
func (o *Orchestrator) Run(ctx context.Context, rc RunConfig) (*RunResult, error) {
	startTime := time.Now()
	result := &RunResult{CompletedStages: make([]string, 0, 6)}

	o.logger.WithFields(map[string]interface{}{
		"run_name": o.config.Meta.RunName,
		"data":     rc.DataPath,
		"forecast": rc.ForecastPath,
		"output":   rc.OutputDir,
	}).Info("Starting scenario run")

	// Load
	series, targets, err := o.load(rc)
	if err != nil {
		return result, o.fail(StageLoad, err)
	}
	result.CompletedStages = append(result.CompletedStages, StageLoad)

	// Calibrate
	set, err := o.calibrator.Calibrate(ctx, series)
	if err != nil {
		return result, o.fail(StageCalibrate, err)
	}
	result.Set = set
	result.CompletedStages = append(result.CompletedStages, StageCalibrate)

	// Simulate
	sc := simulator.NewContext(o.config, o.logger)
	if o.workers > 0 {
		sc.Workers = o.workers
	}
	sc.Progress = rc.Progress
	sc.Metrics = o.metrics
	res, err := simulator.NewEngine(sc).Run(ctx, set, targets)
	if err != nil {
		return result, o.fail(StageSimulate, err)
	}
	result.Result = res
	result.CompletedStages = append(result.CompletedStages, StageSimulate)

	// Summarize
	summary, err := o.riskEngine.Summarize(res, set)
	if err != nil {
		return result, o.fail(StageSummarize, err)
	}
	result.Summary = summary
	result.CompletedStages = append(result.CompletedStages, StageSummarize)

	// Persist (optional)
	if o.repo != nil {
		if err := o.repo.SaveRun(ctx, store.NewRunRecord(res, set.Fingerprint, summary)); err != nil {
			return result, o.fail(StagePersist, err)
		}
		result.CompletedStages = append(result.CompletedStages, StagePersist)
	}

	// Export (optional)
	if rc.OutputDir != "" {
		files, err := dataset.WriteRunFiles(rc.OutputDir, res.Order, res.Prices, summary)
		result.Files = files
		if err != nil {
			return result, o.fail(StageExport, err)
		}
		result.CompletedStages = append(result.CompletedStages, StageExport)
	}

	result.Success = true
	result.Duration = time.Since(startTime)

	o.logger.WithRun(res.RunID.String()).WithFields(map[string]interface{}{
		"duration":     result.Duration.Seconds(),
		"stages":       len(result.CompletedStages),
		"degradations": len(res.Degradations),
	}).Info("Scenario run completed successfully")

	return result, nil
}

// fail logs and wraps a stage error
func (o *Orchestrator) fail(stage string, err error) error {
	o.logger.WithStage(stage).WithError(err).Error("Scenario run failed")
	return fmt.Errorf("%s failed: %w", stage, err)
}

func (o *Orchestrator) load(rc RunConfig) ([]contracts.ProductSeries, map[contracts.ProductID]contracts.ForecastTarget, error) {
	series := rc.Series
	if len(series) == 0 {
		if rc.DataPath == "" {
			return nil, nil, fmt.Errorf("%w: no series and no data path", contracts.ErrConfiguration)
		}
		loaded, err := dataset.LoadPricesFile(rc.DataPath)
		if err != nil {
			return nil, nil, err
		}
		series = loaded
	}

	targets := rc.Targets
	if targets == nil && rc.ForecastPath != "" {
		loaded, err := dataset.LoadForecastsFile(rc.ForecastPath)
		if err != nil {
			return nil, nil, err
		}
		targets = loaded
	}

	o.logger.WithFields(map[string]interface{}{
		"products": len(series),
		"targets":  len(targets),
	}).Info("Inputs loaded")
	return series, targets, nil
}
