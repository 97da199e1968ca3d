package simulator

import (
	"math/rand"
	"runtime"
	"sync"

	"github.com/wonny/scengen/internal/metrics"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/pkg/logger"
)

// ProgressFunc receives completed/total work units.
// Calls are serialised by the engine.
type ProgressFunc func(done, total int)

// SimulationContext explicit run state threaded through every pass
// ⭐ SSOT: 시드/진행률/설정은 전역이 아니라 이 객체로만 전달
type SimulationContext struct {
	Config   *simconfig.Config
	Seed     int64
	Workers  int
	Progress ProgressFunc
	Logger   *logger.Logger
	Metrics  *metrics.Recorder

	mu   sync.Mutex
	done int
}

// NewContext builds a context from config (seed and workers included)
func NewContext(cfg *simconfig.Config, log *logger.Logger) *SimulationContext {
	if log == nil {
		log = logger.Nop()
	}
	workers := cfg.Simulation.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &SimulationContext{
		Config:  cfg,
		Seed:    cfg.Meta.Seed,
		Workers: workers,
		Logger:  log,
	}
}

// report advances the progress counter by one unit
func (c *SimulationContext) report(total int) {
	if c.Progress == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done++
	c.Progress(c.done, total)
}

func (c *SimulationContext) resetProgress() {
	c.mu.Lock()
	c.done = 0
	c.mu.Unlock()
}

// =============================================================================
// Random streams
// =============================================================================

// stream separates the random draws of independent concerns
type stream uint64

const (
	streamPath    stream = iota + 1 // bootstrap, jumps, overlay
	streamTarget                    // enforcement jitter
	streamCopula                    // copula validation sample
)

// rngFor returns the deterministic generator of (stream, path, product).
// Results never depend on worker scheduling.
func (c *SimulationContext) rngFor(s stream, path, product int) *rand.Rand {
	return rand.New(rand.NewSource(deriveSeed(c.Seed, s, path, product)))
}

func deriveSeed(seed int64, s stream, path, product int) int64 {
	x := splitmix(uint64(seed) ^ uint64(s)*0x9E3779B97F4A7C15)
	x = splitmix(x ^ uint64(path+1)*0xBF58476D1CE4E5B9)
	x = splitmix(x ^ uint64(product+1)*0x94D049BB133111EB)
	return int64(x)
}

func splitmix(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
