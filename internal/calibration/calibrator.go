package calibration

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/copula"
	"github.com/wonny/scengen/internal/corrmat"
	"github.com/wonny/scengen/internal/jump"
	"github.com/wonny/scengen/internal/metrics"
	"github.com/wonny/scengen/internal/regime"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/stats"
	"github.com/wonny/scengen/internal/volatility"
	"github.com/wonny/scengen/pkg/logger"
	"github.com/wonny/scengen/pkg/redis"
)

// Cache calibration set cache (pkg/redis.Cache 구현)
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// Calibrator 상품별 모델 적합 오케스트레이터
// ⭐ SSOT: 레짐/변동성/점프/코퓰라 적합 순서는 여기서만
type Calibrator struct {
	config  *simconfig.Config
	logger  *logger.Logger
	cache   Cache
	metrics *metrics.Recorder
	workers int
	policy  contracts.FallbackPolicy
}

// NewCalibrator 새 Calibrator 생성
func NewCalibrator(cfg *simconfig.Config, log *logger.Logger) *Calibrator {
	if log == nil {
		log = logger.Nop()
	}
	workers := cfg.Simulation.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Calibrator{
		config:  cfg,
		logger:  log.WithField("module", "calibration"),
		workers: workers,
		policy:  contracts.DefaultFallbackPolicy(),
	}
}

// WithCache enables the calibration cache
func (c *Calibrator) WithCache(cache Cache) *Calibrator {
	c.cache = cache
	return c
}

// WithMetrics attaches a metrics recorder
func (c *Calibrator) WithMetrics(m *metrics.Recorder) *Calibrator {
	c.metrics = m
	return c
}

// WithWorkers overrides the worker count
func (c *Calibrator) WithWorkers(n int) *Calibrator {
	if n > 0 {
		c.workers = n
	}
	return c
}

// Calibrate fits every product in parallel, then the cross-product copula.
// Configuration and input-shape errors fail fast; model-fitting failures
// degrade and are recorded in Set.Degradations.
func (c *Calibrator) Calibrate(ctx context.Context, series []contracts.ProductSeries) (set *Set, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordRun(metrics.StageCalibration, err, time.Since(start)) }()

	if err := simconfig.Validate(c.config); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no product series", contracts.ErrConfiguration)
	}

	seen := make(map[contracts.ProductID]bool, len(series))
	for _, s := range series {
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate product %s", contracts.ErrConfiguration, s.ID)
		}
		seen[s.ID] = true
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("validate %s: %w", s.ID, err)
		}
	}

	configHash, err := simconfig.CalibrationHash(c.config)
	if err != nil {
		return nil, fmt.Errorf("config hash: %w", err)
	}
	fingerprint := Fingerprint(series)
	key := redis.CalibrationKey(configHash, fingerprint)

	if cached := c.loadCached(ctx, key); cached != nil {
		return cached, nil
	}

	c.logger.WithFields(map[string]interface{}{
		"products": len(series),
		"workers":  c.workers,
	}).Info("Starting calibration")

	// 1. 상품별 적합 (병렬, 각 worker는 자기 슬롯에만 기록)
	models := make([]*ProductModel, len(series))
	degradations := make([][]contracts.Degradation, len(series))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range series {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			models[i], degradations[i] = c.calibrateProduct(series[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("calibrate products: %w", err)
	}

	set = &Set{
		ConfigHash:  configHash,
		Fingerprint: fingerprint,
		Products:    make(map[contracts.ProductID]*ProductModel, len(models)),
		CreatedAt:   time.Now().UTC(),
	}
	for i, m := range models {
		set.Products[m.ID] = m
		set.Order = append(set.Order, m.ID)
		set.Degradations = append(set.Degradations, degradations[i]...)
	}
	sort.Slice(set.Order, func(i, j int) bool { return set.Order[i] < set.Order[j] })

	// 2. 코퓰라 + 글로벌 상관행렬 (join point)
	set.Copula, set.Degradations = c.fitCopula(set, set.Degradations)
	set.GlobalCorrelation, set.Degradations = c.globalCorrelation(set, set.Degradations)

	for _, d := range set.Degradations {
		c.metrics.RecordDegradation(d.Component, d.Kind.String())
	}

	c.logger.WithFields(map[string]interface{}{
		"products":     len(set.Products),
		"max_k":        set.MaxK(),
		"copula":       set.Copula.Family,
		"degradations": len(set.Degradations),
		"elapsed_ms":   time.Since(start).Milliseconds(),
	}).Info("Calibration completed")

	c.storeCached(ctx, key, set)
	return set, nil
}

// calibrateProduct regime → volatility → jump for one product
func (c *Calibrator) calibrateProduct(s contracts.ProductSeries) (*ProductModel, []contracts.Degradation) {
	log := c.logger.WithProduct(string(s.ID))
	var degr []contracts.Degradation
	degrade := func(component string, r int, kind contracts.ErrorKind, detail string) {
		d := contracts.Degradation{
			Component: component,
			Product:   s.ID,
			Regime:    r,
			Kind:      kind,
			Action:    c.policy.ActionFor(kind),
			Detail:    detail,
		}
		degr = append(degr, d)
		log.WithFields(map[string]interface{}{
			"component": component,
			"regime":    r,
			"kind":      kind.String(),
		}).Warn(detail)
	}

	returns := s.Returns()
	hours := s.ReturnHours()
	priceMean, priceStd := stats.MeanStdDev(s.Prices)
	retMean, retStd := stats.MeanStdDev(returns)

	m := &ProductModel{
		ID:           s.ID,
		Resolution:   s.Resolution,
		LastPrice:    s.LastPrice(),
		NextHour:     s.NextHour(),
		Returns:      returns,
		ReturnHours:  hours,
		PriceMean:    priceMean,
		PriceStd:     priceStd,
		ReturnMean:   retMean,
		ReturnStd:    retStd,
		HistKurtosis: stats.ExcessKurtosis(returns),
		HistACF1:     stats.ACF(returns, 1),
	}

	// 레짐 탐지 (실패 → 단일 글로벌 레짐)
	rm, err := regime.NewDetector(c.config.Regime).Detect(returns, hours)
	if err != nil {
		kind := contracts.KindOf(err)
		if kind == 0 {
			kind = contracts.KindDataInsufficiency
		}
		degrade("regime", 0, kind, fmt.Sprintf("detection failed, single regime: %v", err))
		rm = regime.Single(len(returns), hours, regime.StatusSingle)
	}
	switch rm.Status {
	case regime.StatusSkipped:
		degrade("regime", 0, contracts.KindDataInsufficiency, "fewer than 2 unique proxy values, detection skipped")
	case regime.StatusFallback:
		degrade("regime", 0, contracts.KindDataInsufficiency, "no admissible K, fell back to K=2 with relaxed regularization")
	}
	m.Regime = rm
	k := rm.OptimalK

	// 변동성 (레짐별, 항상 사용 가능한 모델 반환)
	m.Volatility = volatility.NewEstimator(c.config.Volatility).FitRegimes(returns, rm.Labels, k)
	for _, v := range m.Volatility {
		if v.Fallback {
			degrade("volatility", v.Regime, contracts.KindDataInsufficiency,
				"unconditional variance fallback: "+v.Reason)
		}
	}

	// 점프
	m.Jumps, m.GlobalJump = jump.FitRegimes(returns, rm.Labels, k, c.config.Jump)
	for _, j := range m.Jumps {
		if j.Synthetic {
			degrade("jump", j.Regime, contracts.KindDataInsufficiency, "no jumps detected, synthetic ±kσ pair")
		}
	}
	m.HistJumpFreq = m.GlobalJump.Frequency
	if m.GlobalJump.Synthetic {
		m.HistJumpFreq = 0
	}

	log.WithFields(map[string]interface{}{
		"k":      k,
		"status": rm.Status,
		"n":      len(returns),
	}).Debug("Product calibrated")
	return m, degr
}

func (c *Calibrator) fitCopula(set *Set, degr []contracts.Degradation) (*copula.Model, []contracts.Degradation) {
	innovations := make(map[contracts.ProductID][][]float64, len(set.Products))
	for id, p := range set.Products {
		innovations[id] = p.Innovations()
	}
	model := copula.Fit(set.Order, innovations, set.MaxK(), c.config.Copula)

	if len(set.Order) < 2 || c.config.Copula.Family == copula.FamilyNone {
		return model, degr
	}
	for _, rc := range model.Regimes {
		if rc.Family == copula.FamilyNone {
			degr = append(degr, c.copulaDegradation(rc, contracts.KindDataInsufficiency, "independence: "+rc.Reason))
		}
		if rc.Truncated {
			degr = append(degr, c.copulaDegradation(rc, contracts.KindDataInsufficiency,
				fmt.Sprintf("innovation lengths differ, truncated to %d rows", rc.Rows)))
		}
		if rc.Corrected {
			degr = append(degr, c.copulaDegradation(rc, contracts.KindNumericalInstability,
				"correlation projected to nearest positive definite matrix"))
		}
	}
	return model, degr
}

func (c *Calibrator) copulaDegradation(rc *copula.RegimeCopula, kind contracts.ErrorKind, detail string) contracts.Degradation {
	c.logger.WithFields(map[string]interface{}{
		"component": "copula",
		"regime":    rc.Regime,
		"kind":      kind.String(),
	}).Warn(detail)
	return contracts.Degradation{
		Component: "copula",
		Regime:    rc.Regime,
		Kind:      kind,
		Action:    c.policy.ActionFor(kind),
		Detail:    detail,
	}
}

// globalCorrelation correlation of raw returns across products
// (truncated to the shortest series, projected)
func (c *Calibrator) globalCorrelation(set *Set, degr []contracts.Degradation) ([]float64, []contracts.Degradation) {
	d := len(set.Order)
	if d < 2 {
		return corrmat.Identity(d), degr
	}
	minLen := math.MaxInt
	for _, id := range set.Order {
		if n := len(set.Products[id].Returns); n < minLen {
			minLen = n
		}
	}
	columns := make([][]float64, d)
	for j, id := range set.Order {
		columns[j] = set.Products[id].Returns[:minLen]
	}

	raw := stats.CorrelationMatrix(columns)
	proj, err := corrmat.Nearest(raw, corrmat.DefaultEigenFloor)
	if err != nil {
		degr = append(degr, contracts.Degradation{
			Component: "correlation",
			Kind:      contracts.KindNumericalInstability,
			Action:    c.policy.ActionFor(contracts.KindNumericalInstability),
			Detail:    "global correlation projection failed, identity used: " + err.Error(),
		})
		return corrmat.Identity(d), degr
	}
	return proj, degr
}

// =============================================================================
// Cache
// =============================================================================

func (c *Calibrator) loadCached(ctx context.Context, key string) *Set {
	if c.cache == nil {
		return nil
	}
	var set Set
	found, err := c.cache.Get(ctx, key, &set)
	if err != nil {
		c.logger.WithError(err).Warn("Calibration cache read failed")
		return nil
	}
	if !found || set.Copula == nil || len(set.Products) == 0 {
		return nil
	}
	// Cholesky factors are not serialised
	set.Copula.Prepare()
	c.logger.WithField("key", key).Info("Calibration loaded from cache")
	return &set
}

func (c *Calibrator) storeCached(ctx context.Context, key string, set *Set) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, set); err != nil {
		c.logger.WithError(err).Warn("Calibration cache write failed")
	}
}

// Fingerprint SHA-256 over product ids, resolutions, timestamps and prices
func Fingerprint(series []contracts.ProductSeries) string {
	ordered := append([]contracts.ProductSeries(nil), series...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	h := sha256.New()
	buf := make([]byte, 8)
	for _, s := range ordered {
		h.Write([]byte(s.ID))
		h.Write([]byte{0})
		h.Write([]byte(s.Resolution))
		h.Write([]byte{0})
		for _, ts := range s.Timestamps {
			binary.LittleEndian.PutUint64(buf, uint64(ts.UnixNano()))
			h.Write(buf)
		}
		for _, p := range s.Prices {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(p))
			h.Write(buf)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
