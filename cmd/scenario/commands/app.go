package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/scengen/internal/api"
	"github.com/wonny/scengen/internal/brain"
	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/metrics"
	"github.com/wonny/scengen/internal/risk"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/store"
	"github.com/wonny/scengen/pkg/config"
	"github.com/wonny/scengen/pkg/database"
	"github.com/wonny/scengen/pkg/logger"
	"github.com/wonny/scengen/pkg/redis"
)

// keyPrefix Redis 키 네임스페이스
const keyPrefix = "scengen"

// app 커맨드 공용 의존성
type app struct {
	cfg     *config.Config
	sim     *simconfig.Config
	log     *logger.Logger
	metrics *metrics.Recorder
	db      *database.DB // nil → DATABASE_URL 미설정
	redis   *redis.Client
	repo    store.RunRepository

	calibrator   *calibration.Calibrator
	orchestrator *brain.Orchestrator
}

// opts bootstrap 옵션
type opts struct {
	persist bool // false → DB 연결 없이 실행
}

// bootstrap loads configuration and wires every dependency in order
func bootstrap(ctx context.Context, o opts) (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if env != "" {
		cfg.Env = env
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if simConfigFile != "" {
		cfg.Scenario.ConfigPath = simConfigFile
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Load simulation config
	sim, _, err := simconfig.Load(cfg.Scenario.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load simulation config %s: %w", cfg.Scenario.ConfigPath, err)
	}
	if sim.Simulation.Workers <= 0 {
		sim.Simulation.Workers = cfg.Scenario.Workers
	}

	a := &app{cfg: cfg, sim: sim, log: log}
	if cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}

	// 4. Redis (calibration cache + refresh lock)
	a.redis, err = redis.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// 5. Run repository: Postgres when configured, memory otherwise
	a.repo = store.NewMemoryRepository()
	if o.persist && cfg.Database.Enabled() {
		db, err := database.New(ctx, cfg)
		if err != nil && !errors.Is(err, database.ErrDisabled) {
			a.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if db != nil {
			a.db = db
			pg := store.NewPostgresRepository(db.Pool)
			if err := pg.EnsureSchema(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
			a.repo = pg
			log.Info("Connected to database")
		}
	}

	// 6. Pipeline
	a.calibrator = calibration.NewCalibrator(sim, log).WithMetrics(a.metrics)
	if a.redis.Enabled() {
		a.calibrator.WithCache(redis.NewCache(a.redis, keyPrefix, cfg.Redis.CacheTTL))
	}
	a.orchestrator = brain.NewOrchestrator(sim, a.calibrator, risk.NewEngine(risk.DefaultConfig()), a.repo, a.metrics, log)

	log.WithFields(map[string]interface{}{
		"env":      cfg.Env,
		"run_name": sim.Meta.RunName,
		"mode":     sim.Meta.Mode,
		"paths":    sim.Simulation.NumPaths,
		"horizon":  sim.Simulation.Horizon,
		"db":       a.db != nil,
		"redis":    a.redis.Enabled(),
	}).Info("Scenario engine initialized")
	return a, nil
}

// runConfig default inputs from config, overridden by non-empty flags
func (a *app) runConfig(data, forecast, out string) brain.RunConfig {
	rc := brain.RunConfig{
		DataPath:     a.cfg.Scenario.DataPath,
		ForecastPath: a.cfg.Scenario.ForecastPath,
		OutputDir:    a.cfg.Scenario.OutputDir,
	}
	if data != "" {
		rc.DataPath = data
	}
	if forecast != "" {
		rc.ForecastPath = forecast
	}
	if out != "" {
		rc.OutputDir = out
	}
	return rc
}

// healthChecks dependencies checked by /health
func (a *app) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{}
	if a.db != nil {
		checks["database"] = a.db.Ping
	}
	if a.redis.Enabled() {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Redis().Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases connections
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
}
