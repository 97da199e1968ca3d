package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/wonny/scengen/internal/calibration"
	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/corrmat"
	"github.com/wonny/scengen/internal/metrics"
	"github.com/wonny/scengen/internal/simconfig"
)

// Result 시뮬레이션 결과
type Result struct {
	RunID      uuid.UUID             `json:"run_id"`
	RunName    string                `json:"run_name"`
	ConfigHash string                `json:"config_hash"`
	Seed       int64                 `json:"seed"`
	Mode       simconfig.Mode        `json:"mode"`
	Horizon    int                   `json:"horizon"`
	NumPaths   int                   `json:"num_paths"`
	Order      []contracts.ProductID `json:"order"`

	Prices  map[contracts.ProductID]*mat.Dense `json:"-"` // T×N
	Regimes map[contracts.ProductID]*mat.Dense `json:"-"` // T×N regime labels

	Diagnostics  map[contracts.ProductID]*ProductDiagnostics `json:"diagnostics"`
	Correlation  CorrelationDiagnostics                      `json:"correlation"`
	CopulaChecks []CopulaCheck                               `json:"copula_checks"`
	Degradations []contracts.Degradation                     `json:"degradations"`

	// debug 모드 governor abort: 해당 상품은 Prices/Regimes 없음
	ProductErrors map[contracts.ProductID]error `json:"-"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Failed reports whether product id was aborted by the safety governor
func (r *Result) Failed(id contracts.ProductID) bool {
	_, ok := r.ProductErrors[id]
	return ok
}

// Engine path simulator (passes 1-5, governor, target enforcement)
// ⭐ SSOT: 경로 생성은 이 엔진에서만
type Engine struct {
	sc *SimulationContext
}

// NewEngine 새 엔진 생성
func NewEngine(sc *SimulationContext) *Engine {
	return &Engine{sc: sc}
}

// productPlan read-only per-product inputs prepared before the parallel phase
type productPlan struct {
	index   int
	model   *calibration.ProductModel
	sampler *blockSampler
	powers  map[int][]float64 // block size → P^size
}

// Run simulates every product of set over the configured horizon.
// targets may be nil; a target for an unknown product is a configuration error.
// A debug-mode governor violation aborts only the offending product
// (Result.ProductErrors); Run fails when no product survives.
func (e *Engine) Run(ctx context.Context, set *calibration.Set, targets map[contracts.ProductID]contracts.ForecastTarget) (res *Result, err error) {
	sc := e.sc
	cfg := sc.Config
	start := time.Now()
	defer func() { sc.Metrics.RecordRun(metrics.StageSimulation, err, time.Since(start)) }()

	// === fail fast at the boundary ===
	if err := simconfig.Validate(cfg); err != nil {
		return nil, err
	}
	if err := validateSet(set, targets); err != nil {
		return nil, err
	}

	horizon := cfg.Simulation.Horizon
	numPaths := cfg.Simulation.NumPaths
	d := len(set.Order)
	log := sc.Logger.WithFields(map[string]interface{}{
		"module":   "simulator",
		"run_name": cfg.Meta.RunName,
	})
	log.WithFields(map[string]interface{}{
		"products": d,
		"paths":    numPaths,
		"horizon":  horizon,
		"workers":  sc.Workers,
		"seed":     sc.Seed,
	}).Info("Starting simulation")

	res = &Result{
		RunID:       uuid.New(),
		RunName:     cfg.Meta.RunName,
		ConfigHash:  set.ConfigHash,
		Seed:        sc.Seed,
		Mode:        cfg.Meta.Mode,
		Horizon:     horizon,
		NumPaths:    numPaths,
		Order:       set.Order,
		Prices:      make(map[contracts.ProductID]*mat.Dense, d),
		Regimes:     make(map[contracts.ProductID]*mat.Dense, d),
		Diagnostics: make(map[contracts.ProductID]*ProductDiagnostics, d),
		StartedAt:   start.UTC(),

		ProductErrors: make(map[contracts.ProductID]error),
	}
	res.Degradations = append(res.Degradations, set.Degradations...)

	plans := e.plan(set)
	corr, corrDegr := e.correlator(set)
	res.Degradations = append(res.Degradations, corrDegr...)

	total := d*numPaths + numPaths + d
	sc.resetProgress()
	failures := newProductFailures(d)

	// === Phase A: passes 1-3 per (product, path) ===
	raws := make([][]*rawPath, d)
	for i := range raws {
		raws[i] = make([]*rawPath, numPaths)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sc.Workers)
	for i, p := range plans {
		for j := 0; j < numPaths; j++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				defer sc.report(total)
				if failures.failed(i) {
					return nil
				}
				raw, err := e.synthesize(p, j, horizon)
				if err != nil {
					failures.record(i, err)
					return nil
				}
				raws[i][j] = raw
				return nil
			})
		}
	}
	// join (a): 상관 패스는 경로별 모든 상품이 필요
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("simulate returns: %w", err)
	}
	if err := failures.all(); err != nil {
		return nil, fmt.Errorf("simulate returns: %w", err)
	}
	// 상관 패스는 모든 상품의 경로가 필요 → abort 상품이 있으면 생략
	if corr != nil && failures.any() {
		corr = nil
		res.Degradations = append(res.Degradations, contracts.Degradation{
			Component: "simulator",
			Kind:      contracts.KindNumericalInstability,
			Action:    contracts.ActionDegrade,
			Detail:    "correlation pass skipped: aborted products " + failures.names(set.Order),
		})
	}

	// === Phase B: passes 4-5 per path ===
	mods := make([][]*modulated, d)
	prices := make([][][]float64, d)
	for i := range mods {
		mods[i] = make([]*modulated, numPaths)
		prices[i] = make([][]float64, numPaths)
	}
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(sc.Workers)
	for j := 0; j < numPaths; j++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e.assemble(plans, corr, raws, mods, failures, j)
			for i := range plans {
				if m := mods[i][j]; m != nil {
					prices[i][j] = m.prices
				}
			}
			sc.report(total)
			return nil
		})
	}
	// join (b): target enforcement은 상품별 모든 경로가 필요
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("simulate prices: %w", err)
	}
	if err := failures.all(); err != nil {
		return nil, fmt.Errorf("simulate prices: %w", err)
	}

	// === Phase C: enforcement + diagnostics per product ===
	diags := make([]*ProductDiagnostics, d)
	aborted := make([][]bool, d)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(sc.Workers)
	for i, p := range plans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer sc.report(total)
			if err := failures.err(i); err != nil {
				diags[i], aborted[i] = failedDiagnostics(p.model, numPaths, err)
				return nil
			}
			diags[i], aborted[i] = e.finish(p, raws[i], mods[i], prices[i], targets)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enforce targets: %w", err)
	}

	for i, p := range plans {
		id := p.model.ID
		res.Diagnostics[id] = diags[i]
		if err := failures.err(i); err != nil {
			res.ProductErrors[id] = err
			res.Degradations = append(res.Degradations, contracts.Degradation{
				Component: "simulator",
				Product:   id,
				Kind:      contracts.KindOf(err),
				Action:    contracts.ActionFailFast,
				Detail:    err.Error(),
			})
			log.WithProduct(string(id)).WithError(err).Error("Product aborted by safety governor")
			continue
		}
		res.Prices[id], res.Regimes[id] = toMatrices(prices[i], raws[i], horizon)
		res.Degradations = append(res.Degradations, pathDegradations(diags[i])...)
		sc.Metrics.RecordProduct(string(id), metrics.PathCounters{
			HardResets:     diags[i].HardResets,
			CappedReturns:  diags[i].CappedReturns,
			InjectedJumps:  diags[i].InjectedJumps,
			BlockRejects:   diags[i].BlockRejections,
			BlockFallbacks: diags[i].BlockFallbacks,
			AbortedPaths:   diags[i].AbortedPaths,
		})
		if diags[i].AbortedPaths > 0 {
			log.WithFields(map[string]interface{}{
				"product": id,
				"aborted": diags[i].AbortedPaths,
				"kind":    contracts.KindExplosion.String(),
			}).Warn("Paths aborted after consecutive hard resets")
		}
	}

	if failures.any() {
		res.Correlation = CorrelationDiagnostics{
			Skipped:    true,
			Reason:     "aborted products " + failures.names(set.Order),
			Products:   set.Order,
			Historical: set.GlobalCorrelation,
		}
	} else {
		res.Correlation = correlationDiagnostics(set, prices, aborted)
	}
	res.CopulaChecks = copulaChecks(sc.rngFor(streamCopula, 0, 0), set.Copula, cfg.Copula.MaxSample)
	res.Elapsed = time.Since(start)
	sc.Metrics.SetLastRunPaths(numPaths)

	log.WithFields(map[string]interface{}{
		"run_id":       res.RunID.String(),
		"failed":       len(res.ProductErrors),
		"degradations": len(res.Degradations),
		"elapsed_ms":   res.Elapsed.Milliseconds(),
	}).Info("Simulation completed")
	return res, nil
}

// plan builds the shared read-only samplers
func (e *Engine) plan(set *calibration.Set) []*productPlan {
	cfg := e.sc.Config
	horizon := cfg.Simulation.Horizon
	plans := make([]*productPlan, len(set.Order))
	for i, id := range set.Order {
		pm := set.Products[id]
		p := &productPlan{index: i, model: pm}
		if cfg.Bootstrap.Enabled {
			n := len(pm.Returns)
			sizes := []int{min(cfg.Bootstrap.BlockSize, n)}
			if rem := horizon % cfg.Bootstrap.BlockSize; rem > 0 {
				sizes = append(sizes, min(rem, n))
			}
			p.sampler = newBlockSampler(pm.Returns, pm.Labels(), pm.ReturnStd, pm.K(), cfg.Bootstrap, sizes...)
			p.powers = make(map[int][]float64, len(sizes))
			for _, b := range sizes {
				p.powers[b] = pm.Regime.Transition.Power(b)
			}
		}
		plans[i] = p
	}
	return plans
}

// correlator Cholesky factors for pass 4 (nil → pass skipped)
func (e *Engine) correlator(set *calibration.Set) (*correlator, []contracts.Degradation) {
	cfg := e.sc.Config
	if !cfg.Correlation.Enabled || len(set.Order) < 2 {
		return nil, nil
	}

	var degr []contracts.Degradation
	c := &correlator{}
	l, corrected, err := corrmat.Cholesky(set.GlobalCorrelation)
	if err != nil {
		l, _, _ = corrmat.Cholesky(corrmat.Identity(len(set.Order)))
		degr = append(degr, contracts.Degradation{
			Component: "simulator",
			Kind:      contracts.KindNumericalInstability,
			Action:    contracts.ActionCorrect,
			Detail:    "global correlation not factorisable, identity used: " + err.Error(),
		})
	} else if corrected {
		degr = append(degr, contracts.Degradation{
			Component: "simulator",
			Kind:      contracts.KindNumericalInstability,
			Action:    contracts.ActionCorrect,
			Detail:    "global correlation needed diagonal jitter",
		})
	}
	c.global = l

	// set은 읽기 전용: 준비 안 된 copula는 로컬 factor로
	if cfg.Correlation.Source == simconfig.CorrelationRegime && set.Copula != nil {
		c.regimes = make([]*mat.TriDense, len(set.Copula.Regimes))
		for r, rc := range set.Copula.Regimes {
			c.regimes[r] = rc.Factor(set.Copula.Dim())
		}
	}
	return c, degr
}

// synthesize passes 1-3 for one (product, path)
func (e *Engine) synthesize(p *productPlan, path, horizon int) (*rawPath, error) {
	cfg := e.sc.Config
	pm := p.model
	rng := e.sc.rngFor(streamPath, path, p.index)
	gov := newGovernor(cfg, pm.ID, path, pm.PriceStd)

	raw := &rawPath{
		returns: make([]float64, horizon),
		regimes: make([]int, horizon),
		flags:   make([]StepFlag, horizon),
	}

	// pass 1 / pass 3
	stage := contracts.StageBlock
	if p.sampler != nil {
		bootstrapPass(rng, pm, p.sampler, p.powers, horizon, cfg.Bootstrap.BlockSize, raw)
	} else {
		stage = contracts.StageOverlay
		overlayPass(rng, pm, cfg.Innovation, horizon, raw)
	}
	if _, err := checkReturns(gov, stage, raw.returns, raw.flags); err != nil {
		return nil, err
	}

	// pass 2
	jumpPass(rng, pm, cfg.Jump, raw)
	if _, err := checkReturns(gov, contracts.StageJump, raw.returns, raw.flags); err != nil {
		return nil, err
	}
	return raw, nil
}

// assemble passes 4-5 for every product of one path.
// corr is nil whenever a product failed in passes 1-3.
func (e *Engine) assemble(plans []*productPlan, corr *correlator, raws [][]*rawPath, mods [][]*modulated, failures *productFailures, path int) {
	cfg := e.sc.Config
	d := len(plans)

	// pass 4
	if corr != nil {
		returns := make([][]float64, d)
		regimes := make([][]int, d)
		for i := range plans {
			returns[i] = raws[i][path].returns
			regimes[i] = raws[i][path].regimes
		}
		corr.correlatePass(returns, regimes)
	}

	for i, p := range plans {
		if failures.failed(i) {
			continue
		}
		pm := p.model
		raw := raws[i][path]
		gov := newGovernor(cfg, pm.ID, path, pm.PriceStd)

		if corr != nil {
			if _, err := checkReturns(gov, contracts.StageCorrelation, raw.returns, raw.flags); err != nil {
				failures.record(i, err)
				continue
			}
		}
		capPass(raw.returns, raw.flags, pm.ReturnStd, cfg.Correlation.CapSigma)
		if _, err := checkReturns(gov, contracts.StageCapCheck, raw.returns, raw.flags); err != nil {
			failures.record(i, err)
			continue
		}

		// pass 5
		m, err := modulatePass(pm, cfg, gov, raw.returns, raw.regimes, raw.flags)
		if err != nil {
			failures.record(i, err)
			continue
		}
		mods[i][path] = m
	}
}

// finish target enforcement, final bound clamp and diagnostics of one product
func (e *Engine) finish(p *productPlan, raws []*rawPath, mods []*modulated, prices [][]float64, targets map[contracts.ProductID]contracts.ForecastTarget) (*ProductDiagnostics, []bool) {
	cfg := e.sc.Config
	pm := p.model

	aborted := make([]bool, len(mods))
	for j, m := range mods {
		aborted[j] = m.aborted
	}

	var st EnforcementStats
	if target, ok := targets[pm.ID]; ok && cfg.Target.Enabled {
		rngFor := func(path int) *rand.Rand { return e.sc.rngFor(streamTarget, path, p.index) }
		st = enforceTargets(rngFor, prices, aborted, target, cfg.Target, pm.NextHour)
	}
	lo, hi := pm.PriceBounds(cfg.Modulation.ResetSigma)
	st.FinalClamps = clampPrices(prices, lo, hi)

	diag := productDiagnostics(pm, raws, mods, prices)
	diag.Enforcement = st
	return diag, aborted
}

// failedDiagnostics report of a product aborted by the governor: every path aborted
func failedDiagnostics(pm *calibration.ProductModel, numPaths int, err error) (*ProductDiagnostics, []bool) {
	aborted := make([]bool, numPaths)
	for j := range aborted {
		aborted[j] = true
	}
	return &ProductDiagnostics{
		Product:      pm.ID,
		Paths:        numPaths,
		AbortedPaths: numPaths,
		Aborted:      aborted,
		Error:        err.Error(),
	}, aborted
}

// =============================================================================
// Product failures
// =============================================================================

// productFailures first governor error per product (index in Set.Order)
type productFailures struct {
	mu   sync.Mutex
	errs []error
}

func newProductFailures(d int) *productFailures {
	return &productFailures{errs: make([]error, d)}
}

// record keeps the first error of product i
func (f *productFailures) record(i int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs[i] == nil {
		f.errs[i] = err
	}
}

func (f *productFailures) err(i int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[i]
}

func (f *productFailures) failed(i int) bool {
	return f.err(i) != nil
}

func (f *productFailures) any() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, err := range f.errs {
		if err != nil {
			return true
		}
	}
	return false
}

// all joined errors when every product failed, nil otherwise
func (f *productFailures) all() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, err := range f.errs {
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("all products aborted: %w", errors.Join(f.errs...))
}

func (f *productFailures) names(order []contracts.ProductID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := ""
	for i, err := range f.errs {
		if err == nil {
			continue
		}
		if out != "" {
			out += ","
		}
		out += string(order[i])
	}
	return out
}

func toMatrices(prices [][]float64, raws []*rawPath, horizon int) (*mat.Dense, *mat.Dense) {
	n := len(prices)
	pm := mat.NewDense(horizon, n, nil)
	rm := mat.NewDense(horizon, n, nil)
	for j := 0; j < n; j++ {
		for t := 0; t < horizon; t++ {
			pm.Set(t, j, prices[j][t])
			rm.Set(t, j, float64(raws[j].regimes[t]))
		}
	}
	return pm, rm
}

// pathDegradations observable simulator-level fallbacks of one product
func pathDegradations(d *ProductDiagnostics) []contracts.Degradation {
	var out []contracts.Degradation
	if d.AbortedPaths > 0 {
		out = append(out, contracts.Degradation{
			Component: "simulator",
			Product:   d.Product,
			Kind:      contracts.KindExplosion,
			Action:    contracts.ActionResetAndCount,
			Detail:    fmt.Sprintf("%d paths aborted after consecutive hard resets", d.AbortedPaths),
		})
	}
	if d.GovernorCorrections > 0 {
		out = append(out, contracts.Degradation{
			Component: "simulator",
			Product:   d.Product,
			Kind:      contracts.KindNumericalInstability,
			Action:    contracts.ActionCorrect,
			Detail:    fmt.Sprintf("%d governor corrections", d.GovernorCorrections),
		})
	}
	if d.BlockFallbacks > 0 {
		out = append(out, contracts.Degradation{
			Component: "simulator",
			Product:   d.Product,
			Kind:      contracts.KindDataInsufficiency,
			Action:    contracts.ActionDegrade,
			Detail:    fmt.Sprintf("%d blocks exhausted the retry cap and were demeaned", d.BlockFallbacks),
		})
	}
	return out
}

// validateSet structural checks of the calibration input
func validateSet(set *calibration.Set, targets map[contracts.ProductID]contracts.ForecastTarget) error {
	if set == nil || len(set.Order) == 0 {
		return fmt.Errorf("%w: empty calibration set", contracts.ErrConfiguration)
	}
	for _, id := range set.Order {
		pm, ok := set.Products[id]
		if !ok || pm == nil {
			return fmt.Errorf("%w: product %s missing from calibration set", contracts.ErrConfiguration, id)
		}
		if len(pm.Returns) == 0 || pm.Regime == nil || pm.Regime.Transition == nil {
			return fmt.Errorf("%w: product %s is not calibrated", contracts.ErrConfiguration, id)
		}
		if len(pm.Regime.Labels) != len(pm.Returns) {
			return fmt.Errorf("%w: product %s has %d labels for %d returns",
				contracts.ErrConfiguration, id, len(pm.Regime.Labels), len(pm.Returns))
		}
	}
	if len(set.Order) > 1 && len(set.GlobalCorrelation) != len(set.Order)*len(set.Order) {
		return fmt.Errorf("%w: global correlation has %d entries for %d products",
			contracts.ErrConfiguration, len(set.GlobalCorrelation), len(set.Order))
	}
	for id := range targets {
		if _, ok := set.Products[id]; !ok {
			return fmt.Errorf("%w: forecast target for unknown product %s", contracts.ErrConfiguration, id)
		}
	}
	return nil
}
