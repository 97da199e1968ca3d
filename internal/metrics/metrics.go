package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scengen"

// Recorder Prometheus metrics for calibration and simulation runs.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	hardResets     *prometheus.CounterVec
	cappedReturns  *prometheus.CounterVec
	injectedJumps  *prometheus.CounterVec
	blockRejects   *prometheus.CounterVec
	blockFallbacks *prometheus.CounterVec
	abortedPaths   *prometheus.CounterVec
	degradations   *prometheus.CounterVec
	runs           *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	lastRunPaths   prometheus.Gauge
}

// New creates a recorder on its own registry (no global state)
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		hardResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hard_resets_total",
			Help:      "Hard resets applied by the safety governor",
		}, []string{"product"}),
		cappedReturns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capped_returns_total",
			Help:      "Returns capped at ±kσ after the correlation pass",
		}, []string{"product"}),
		injectedJumps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injected_jumps_total",
			Help:      "Jumps injected into simulated paths",
		}, []string{"product"}),
		blockRejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_rejections_total",
			Help:      "Bootstrap blocks rejected by the cumulative-sum test",
		}, []string{"product"}),
		blockFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_fallbacks_total",
			Help:      "Bootstrap positions that exhausted the retry cap",
		}, []string{"product"}),
		abortedPaths: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborted_paths_total",
			Help:      "Paths aborted after too many consecutive resets",
		}, []string{"product"}),
		degradations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Non-fatal fallbacks by component and error kind",
		}, []string{"component", "kind"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Calibration and simulation runs by outcome",
		}, []string{"stage", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of calibration and simulation stages",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		lastRunPaths: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_paths",
			Help:      "Number of paths produced by the last simulation run",
		}),
	}
}

// Registry exposes the private registry (tests, custom exporters)
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// PathCounters per-product totals reported by one simulation run
type PathCounters struct {
	HardResets     int
	CappedReturns  int
	InjectedJumps  int
	BlockRejects   int
	BlockFallbacks int
	AbortedPaths   int
}

// RecordProduct adds one product's counters
func (r *Recorder) RecordProduct(product string, c PathCounters) {
	if r == nil {
		return
	}
	r.hardResets.WithLabelValues(product).Add(float64(c.HardResets))
	r.cappedReturns.WithLabelValues(product).Add(float64(c.CappedReturns))
	r.injectedJumps.WithLabelValues(product).Add(float64(c.InjectedJumps))
	r.blockRejects.WithLabelValues(product).Add(float64(c.BlockRejects))
	r.blockFallbacks.WithLabelValues(product).Add(float64(c.BlockFallbacks))
	r.abortedPaths.WithLabelValues(product).Add(float64(c.AbortedPaths))
}

// RecordDegradation counts one non-fatal fallback
func (r *Recorder) RecordDegradation(component, kind string) {
	if r == nil {
		return
	}
	r.degradations.WithLabelValues(component, kind).Inc()
}

// RecordRun counts a run outcome and observes its duration
func (r *Recorder) RecordRun(stage string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.runs.WithLabelValues(stage, status).Inc()
	r.duration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// SetLastRunPaths records the path count of the latest run
func (r *Recorder) SetLastRunPaths(n int) {
	if r == nil {
		return
	}
	r.lastRunPaths.Set(float64(n))
}

// Stage labels
const (
	StageCalibration = "calibration"
	StageSimulation  = "simulation"
)
