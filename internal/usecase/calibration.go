package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"VolSurf/internal/domain/models"
	domrepo "VolSurf/internal/domain/repository"
	domsvc "VolSurf/internal/domain/service"
	"VolSurf/internal/vol/surface"
	pkgcache "VolSurf/pkg/cache"
	applogger "VolSurf/pkg/logger"
	"VolSurf/pkg/util"

	"github.com/montanaflynn/stats"
)

// reportKeyPrefix namespaces persisted reports in the shared cache.
const reportKeyPrefix = "volsurf:report"

// reportTTL keeps persisted reports for a day so restarts can serve the last
// known diagnostics.
const reportTTL = 24 * time.Hour

// ErrUnknownUnderlying is returned when no surface has been calibrated yet.
var ErrUnknownUnderlying = errors.New("usecase: no surface for underlying")

// iqrFence is the multiplier on the interquartile range used to drop
// per-maturity vol outliers before fitting.
const iqrFence = 2.0

// SurfaceState is the result of a completed calibration for one underlying.
type SurfaceState struct {
	Snapshot *models.MarketSnapshot
	Surface  domsvc.Surface
	Report   *models.Report
	Vols     []models.ImpliedVol
}

// Calibration runs the full quote-to-surface pipeline and holds the latest
// surface per underlying.
type Calibration struct {
	solver  domsvc.ImpliedVolSolver
	fitter  domsvc.SliceCalibrator
	pub     domrepo.Publisher
	metrics domrepo.Metrics
	logger  *applogger.Logger

	mu       sync.RWMutex
	surfaces map[string]*SurfaceState
	reports  pkgcache.Service
}

// SetReportStore enables cross-restart report persistence.
func (uc *Calibration) SetReportStore(s pkgcache.Service) { uc.reports = s }

func NewCalibration(
	solver domsvc.ImpliedVolSolver,
	fitter domsvc.SliceCalibrator,
	pub domrepo.Publisher,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
) *Calibration {
	return &Calibration{
		solver:   solver,
		fitter:   fitter,
		pub:      pub,
		metrics:  metrics,
		logger:   logger,
		surfaces: make(map[string]*SurfaceState),
	}
}

// Calibrate runs the whole pipeline: filter quotes, invert to implied vols,
// fit one SVI slice per maturity, assemble the surface. Per-quote and
// per-slice failures are reported, not fatal; the run errors only when no
// maturity survives.
func (uc *Calibration) Calibrate(ctx context.Context, snap *models.MarketSnapshot, quotes []*models.OptionQuote, cfg *models.CalibrationConfig) (*models.Report, error) {
	if snap == nil {
		return nil, fmt.Errorf("usecase: snapshot is nil")
	}
	if !validSnapshot(snap) {
		return nil, fmt.Errorf("usecase: bad snapshot for %s: spot=%g rate=%g yield=%g",
			snap.Underlying, snap.Spot, snap.Rate, snap.Yield)
	}
	if cfg == nil {
		cfg = &models.CalibrationConfig{}
	}
	cfg.Defaults()

	start := time.Now()
	report := &models.Report{
		Underlying: snap.Underlying,
		Timestamp:  snap.Timestamp,
		QuotesIn:   len(quotes),
	}

	resolveMaturities(snap, quotes)
	kept := uc.filterQuotes(quotes, cfg, report)
	vols := uc.solveQuotes(ctx, snap, kept, cfg, report)
	groups := uc.groupByMaturity(vols, cfg, report)
	slices := uc.fitSlices(ctx, snap, groups, cfg, report)

	report.Slices = slices
	report.Elapsed = time.Since(start)

	if len(slices) == 0 {
		uc.metrics.RecordError("calibrate_empty")
		return report, fmt.Errorf("usecase: no maturity produced a usable slice for %s", snap.Underlying)
	}

	surf, err := surface.New(snap, slices)
	if err != nil {
		return report, fmt.Errorf("usecase: assemble surface: %w", err)
	}

	fitted := make([]models.ImpliedVol, 0, len(vols))
	for _, g := range groups {
		fitted = append(fitted, g...)
	}
	report.QuotesFit = len(fitted)

	uc.mu.Lock()
	uc.surfaces[snap.Underlying] = &SurfaceState{
		Snapshot: snap,
		Surface:  surf,
		Report:   report,
		Vols:     fitted,
	}
	uc.mu.Unlock()

	uc.metrics.RecordSliceCount(snap.Underlying, len(slices))
	uc.metrics.RecordLatency("calibrate", report.Elapsed.Seconds())
	uc.logger.Info("surface calibrated",
		applogger.String("underlying", snap.Underlying),
		applogger.Int("quotes_in", report.QuotesIn),
		applogger.Int("quotes_fit", report.QuotesFit),
		applogger.Int("slices", len(slices)),
		applogger.Duration("elapsed_ms", report.Elapsed),
	)

	if uc.reports != nil {
		key := pkgcache.GenerateKey(reportKeyPrefix, snap.Underlying)
		if err := uc.reports.Set(ctx, key, report, reportTTL); err != nil {
			uc.logger.Warn("report persist failed", applogger.Error(err))
		}
	}

	if uc.pub != nil {
		if err := uc.pub.PublishSurfaceUpdated(ctx, snap.Underlying, report); err != nil {
			uc.metrics.RecordError("publish")
			uc.logger.Warn("surface event publish failed", applogger.Error(err))
		}
	}

	return report, nil
}

// State returns the latest calibrated state for an underlying.
func (uc *Calibration) State(underlying string) (*SurfaceState, error) {
	uc.mu.RLock()
	st, ok := uc.surfaces[underlying]
	uc.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnderlying, underlying)
	}
	return st, nil
}

// filterQuotes applies the static pre-solve filters. Excluded quotes land in
// the report with a reason.
func (uc *Calibration) filterQuotes(quotes []*models.OptionQuote, cfg *models.CalibrationConfig, report *models.Report) []*models.OptionQuote {
	kept := make([]*models.OptionQuote, 0, len(quotes))
	exclude := func(q *models.OptionQuote, reason string) {
		report.ExcludedQuotes = append(report.ExcludedQuotes, models.ExcludedQuote{
			Strike: q.Strike, T: q.T, Reason: reason,
		})
	}

	for _, q := range quotes {
		if q == nil {
			continue
		}
		switch {
		case cfg.Source == "calls" && q.Type != models.Call:
			exclude(q, "source_filter")
		case cfg.Source == "puts" && q.Type != models.Put:
			exclude(q, "source_filter")
		case q.T <= 0:
			exclude(q, "expired")
		case q.Crossed():
			exclude(q, "crossed_market")
		case q.Mid() <= 0:
			exclude(q, "non_positive_mid")
		case cfg.MinVolume > 0 && q.Volume < cfg.MinVolume:
			exclude(q, "low_volume")
		case cfg.MinStrike > 0 && q.Strike < cfg.MinStrike:
			exclude(q, "strike_below_min")
		case cfg.MaxStrike > 0 && q.Strike > cfg.MaxStrike:
			exclude(q, "strike_above_max")
		default:
			kept = append(kept, q)
		}
	}
	return kept
}

// solveQuotes inverts the surviving quotes. Quotes with no Black-Scholes
// solution are excluded with the solver's reason.
func (uc *Calibration) solveQuotes(ctx context.Context, snap *models.MarketSnapshot, quotes []*models.OptionQuote, cfg *models.CalibrationConfig, report *models.Report) []models.ImpliedVol {
	results := uc.solver.SolveBatch(ctx, snap, quotes, cfg.SolverTolerance, cfg.SolverMaxIter)

	vols := make([]models.ImpliedVol, 0, len(quotes))
	for _, res := range results {
		q := quotes[res.Index]
		if res.Err != nil {
			uc.metrics.RecordSolve(snap.Underlying, "failed")
			report.ExcludedQuotes = append(report.ExcludedQuotes, models.ExcludedQuote{
				Strike: q.Strike, T: q.T, Reason: res.Err.Error(),
			})
			continue
		}
		uc.metrics.RecordSolve(snap.Underlying, "ok")
		vols = append(vols, models.NewImpliedVol(snap, q, res.Vol))
	}
	return vols
}

// groupByMaturity buckets vols per expiry, drops per-bucket IQR outliers and
// buckets too thin to fit. Buckets come back in ascending T order.
func (uc *Calibration) groupByMaturity(vols []models.ImpliedVol, cfg *models.CalibrationConfig, report *models.Report) map[float64][]models.ImpliedVol {
	byT := make(map[float64][]models.ImpliedVol)
	for _, v := range vols {
		byT[v.T] = append(byT[v.T], v)
	}

	for T, group := range byT {
		filtered, dropped := dropVolOutliers(group)
		for _, d := range dropped {
			report.ExcludedQuotes = append(report.ExcludedQuotes, models.ExcludedQuote{
				Strike: d.Strike, T: d.T, Reason: "iqr_outlier",
			})
		}
		if len(filtered) < cfg.MinSliceQuotes {
			report.SkippedSlices = append(report.SkippedSlices, models.SkippedSlice{
				T: T, Reason: fmt.Sprintf("only %d usable quotes, need %d", len(filtered), cfg.MinSliceQuotes),
			})
			delete(byT, T)
			continue
		}
		byT[T] = filtered
	}
	return byT
}

// dropVolOutliers removes vols outside Q1−2·IQR .. Q3+2·IQR. Degenerate
// quartiles (too few points) keep the group intact.
func dropVolOutliers(group []models.ImpliedVol) (kept, dropped []models.ImpliedVol) {
	if len(group) < 4 {
		return group, nil
	}
	xs := make([]float64, len(group))
	for i, v := range group {
		xs[i] = v.Vol
	}
	q, err := stats.Quartile(xs)
	if err != nil {
		return group, nil
	}
	iqr := q.Q3 - q.Q1
	lo := q.Q1 - iqrFence*iqr
	hi := q.Q3 + iqrFence*iqr

	kept = make([]models.ImpliedVol, 0, len(group))
	for _, v := range group {
		if v.Vol < lo || v.Vol > hi {
			dropped = append(dropped, v)
			continue
		}
		kept = append(kept, v)
	}
	return kept, dropped
}

// fitSlices calibrates every maturity bucket concurrently. Failed maturities
// are recorded as skipped, not fatal.
func (uc *Calibration) fitSlices(ctx context.Context, snap *models.MarketSnapshot, groups map[float64][]models.ImpliedVol, cfg *models.CalibrationConfig, report *models.Report) []models.SVISlice {
	maturities := make([]float64, 0, len(groups))
	for T := range groups {
		maturities = append(maturities, T)
	}
	sort.Float64s(maturities)

	type fitResult struct {
		slice *models.SVISlice
		T     float64
		err   error
	}
	results := make([]fitResult, len(maturities))

	var wg sync.WaitGroup
	for i, T := range maturities {
		wg.Add(1)
		go func(i int, T float64) {
			defer wg.Done()
			sl, err := uc.fitter.Calibrate(ctx, groups[T], T, cfg)
			results[i] = fitResult{slice: sl, T: T, err: err}
		}(i, T)
	}
	wg.Wait()

	slices := make([]models.SVISlice, 0, len(maturities))
	underlying := report.Underlying
	for _, res := range results {
		if res.err != nil {
			uc.metrics.RecordSliceFit(underlying, "failed")
			report.SkippedSlices = append(report.SkippedSlices, models.SkippedSlice{
				T: res.T, Reason: res.err.Error(),
			})
			delete(groups, res.T)
			continue
		}
		uc.metrics.RecordSliceFit(underlying, "ok")
		sl := *res.slice
		sl.Forward = snap.Forward(sl.T)
		slices = append(slices, sl)
	}
	return slices
}

// LastReport returns the freshest report for an underlying: the in-memory
// state when present, falling back to the persisted copy after a restart.
func (uc *Calibration) LastReport(ctx context.Context, underlying string) (*models.Report, error) {
	if st, err := uc.State(underlying); err == nil {
		return st.Report, nil
	}
	if uc.reports == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnderlying, underlying)
	}
	var report models.Report
	key := pkgcache.GenerateKey(reportKeyPrefix, underlying)
	if err := uc.reports.Get(ctx, key, &report); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUnderlying, underlying)
		}
		return nil, err
	}
	return &report, nil
}

// Underlyings lists the underlyings with a live surface, sorted.
func (uc *Calibration) Underlyings() []string {
	uc.mu.RLock()
	names := make([]string, 0, len(uc.surfaces))
	for name := range uc.surfaces {
		names = append(names, name)
	}
	uc.mu.RUnlock()
	sort.Strings(names)
	return names
}

// resolveMaturities fills in T for quotes that arrived with an expiry date
// instead of a year fraction.
func resolveMaturities(snap *models.MarketSnapshot, quotes []*models.OptionQuote) {
	for _, q := range quotes {
		if q != nil && q.T == 0 && !q.Expiry.IsZero() {
			q.T = util.YearFraction(snap.Timestamp, q.Expiry)
		}
	}
}

// sanity guard against NaN snapshots slipping into the store
func validSnapshot(snap *models.MarketSnapshot) bool {
	return snap.Spot > 0 && !math.IsNaN(snap.Rate) && !math.IsNaN(snap.Yield)
}
