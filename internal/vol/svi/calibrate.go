package svi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/optimize"

	"VolSurf/internal/domain/models"
	domsvc "VolSurf/internal/domain/service"
)

// ErrCalibrationFailed means no multi-start run produced a finite,
// arbitrage-admissible fit for the slice.
var ErrCalibrationFailed = errors.New("svi: calibration failed for slice")

// Calibrator fits SVI slices. Stateless; all per-call settings arrive in the
// CalibrationConfig so concurrent runs with different settings cannot
// interfere.
type Calibrator struct{}

func NewCalibrator() *Calibrator { return &Calibrator{} }

var _ domsvc.SliceCalibrator = (*Calibrator)(nil)

// candidate is one multi-start run's outcome.
type candidate struct {
	start     int
	params    models.SVIParams
	objective float64
	iters     int
	converged bool
}

// Calibrate fits one slice to the (k, w) pairs of a single maturity.
func (c *Calibrator) Calibrate(ctx context.Context, vols []models.ImpliedVol, T float64, cfg *models.CalibrationConfig) (*models.SVISlice, error) {
	if len(vols) < 3 {
		return nil, fmt.Errorf("%w: only %d quotes at T=%g", ErrCalibrationFailed, len(vols), T)
	}

	ks := make([]float64, len(vols))
	ws := make([]float64, len(vols))
	var weights []float64
	for i, v := range vols {
		ks[i] = v.LogMoneyness
		ws[i] = v.TotalVar
		if v.Weight > 0 {
			if weights == nil {
				weights = make([]float64, len(vols))
				for j := range weights {
					weights[j] = 1
				}
			}
			weights[i] = v.Weight
		}
	}

	bx := deriveBox(ks, ws, cfg.Bounds)

	// Draw every start up front in index order from one seeded generator,
	// then run them in parallel. Selection below is a fold over the indexed
	// results, so the winner never depends on completion order.
	rng := rand.New(rand.NewSource(cfg.Seed))
	starts := make([]models.SVIParams, cfg.MultiStartCount)
	for i := range starts {
		starts[i] = bx.draw(rng)
	}

	cands := make([]candidate, len(starts))
	var wg sync.WaitGroup
	for i := range starts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cands[i] = runStart(i, starts[i], bx, ks, ws, weights, cfg.Lambda)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best, ok := selectBest(cands, T)
	if !ok {
		return nil, fmt.Errorf("%w: %d starts, none admissible at T=%g", ErrCalibrationFailed, len(starts), T)
	}

	return &models.SVISlice{
		Params:     best.params,
		T:          T,
		Objective:  best.objective,
		Converged:  best.converged,
		Iterations: best.iters,
		StartIndex: best.start,
		NumQuotes:  len(vols),
	}, nil
}

// runStart minimizes the regularized objective from one seed using
// Nelder-Mead on box-transformed parameters. The problem supplies no
// gradient, so the method must be derivative-free.
func runStart(idx int, start models.SVIParams, bx box, ks, ws, weights []float64, lambda float64) candidate {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			v := Objective(bx.decode(x), ks, ws, weights, lambda)
			if math.IsNaN(v) {
				return math.Inf(1)
			}
			return v
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		FuncEvaluations: 20000,
	}

	res, err := optimize.Minimize(problem, bx.encode(start), settings, &optimize.NelderMead{})
	if err != nil || res == nil || math.IsInf(res.F, 0) || math.IsNaN(res.F) {
		return candidate{start: idx, objective: math.Inf(1)}
	}

	return candidate{
		start:     idx,
		params:    bx.decode(res.X),
		objective: res.F,
		iters:     res.Stats.MajorIterations,
		converged: statusConverged(res.Status),
	}
}

func statusConverged(st optimize.Status) bool {
	switch st {
	case optimize.Success,
		optimize.FunctionThreshold,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}

// selectBest folds the indexed candidates into the winner: lowest objective
// among converged, admissible runs; ties go to the smoother candidate
// (smaller b² + σ²), then to the lower start index.
func selectBest(cands []candidate, T float64) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range cands {
		if !c.converged || math.IsInf(c.objective, 0) {
			continue
		}
		if !Admissible(c.params, T) {
			continue
		}
		if !found || less(c, best) {
			best = c
			found = true
		}
	}
	return best, found
}

func less(a, b candidate) bool {
	const eps = 1e-12
	if math.Abs(a.objective-b.objective) > eps {
		return a.objective < b.objective
	}
	ra, rb := Roughness(a.params), Roughness(b.params)
	if math.Abs(ra-rb) > eps {
		return ra < rb
	}
	return a.start < b.start
}

// box maps SVI parameters to and from an unconstrained optimization domain.
type box struct {
	aMin, aMax     float64
	bMax           float64
	rhoMax         float64
	mMin, mMax     float64
	sigMin, sigMax float64
}

// deriveBox builds the parameter box from data-driven scales, honoring any
// caller overrides.
func deriveBox(ks, ws []float64, override *models.ParamBounds) box {
	kMin, kMax := ks[0], ks[0]
	wMax := ws[0]
	for i := range ks {
		kMin = math.Min(kMin, ks[i])
		kMax = math.Max(kMax, ks[i])
		wMax = math.Max(wMax, ws[i])
	}
	if wMax <= 0 {
		wMax = 1e-4
	}
	kSpan := kMax - kMin
	if kSpan <= 0 {
		kSpan = 0.1
	}

	bx := box{
		aMin:   -wMax,
		aMax:   2 * wMax,
		bMax:   4 * wMax / kSpan,
		rhoMax: 0.999,
		mMin:   kMin - 0.5*kSpan,
		mMax:   kMax + 0.5*kSpan,
		sigMin: 1e-3,
		sigMax: 2 * kSpan,
	}
	if override != nil {
		if override.AMax > override.AMin {
			bx.aMin, bx.aMax = override.AMin, override.AMax
		}
		if override.BMax > 0 {
			bx.bMax = override.BMax
		}
		if override.RhoMax > 0 && override.RhoMax < 1 {
			bx.rhoMax = override.RhoMax
		}
		if override.MMax > override.MMin {
			bx.mMin, bx.mMax = override.MMin, override.MMax
		}
		if override.SigmaMax > override.SigmaMin && override.SigmaMin > 0 {
			bx.sigMin, bx.sigMax = override.SigmaMin, override.SigmaMax
		}
	}
	return bx
}

// draw samples an initial parameter set uniformly inside the box. Rho is
// drawn in (−0.9, 0.9) and m near the k-range interior per the seeding rules.
func (bx box) draw(rng *rand.Rand) models.SVIParams {
	return models.SVIParams{
		A:     bx.aMin + rng.Float64()*(bx.aMax-bx.aMin),
		B:     0.05*bx.bMax + 0.9*rng.Float64()*bx.bMax,
		Rho:   -0.9 + 1.8*rng.Float64(),
		M:     bx.mMin + (0.25+0.5*rng.Float64())*(bx.mMax-bx.mMin),
		Sigma: bx.sigMin + rng.Float64()*(bx.sigMax-bx.sigMin),
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(u float64) float64 {
	const eps = 1e-9
	if u < eps {
		u = eps
	}
	if u > 1-eps {
		u = 1 - eps
	}
	return math.Log(u / (1 - u))
}

// decode maps an unconstrained vector into the box.
func (bx box) decode(x []float64) models.SVIParams {
	return models.SVIParams{
		A:     bx.aMin + (bx.aMax-bx.aMin)*sigmoid(x[0]),
		B:     bx.bMax * sigmoid(x[1]),
		Rho:   bx.rhoMax * math.Tanh(x[2]),
		M:     bx.mMin + (bx.mMax-bx.mMin)*sigmoid(x[3]),
		Sigma: bx.sigMin + (bx.sigMax-bx.sigMin)*sigmoid(x[4]),
	}
}

// encode is the inverse of decode for points strictly inside the box.
func (bx box) encode(p models.SVIParams) []float64 {
	rho := p.Rho / bx.rhoMax
	if rho > 1-1e-9 {
		rho = 1 - 1e-9
	}
	if rho < -1+1e-9 {
		rho = -1 + 1e-9
	}
	return []float64{
		logit((p.A - bx.aMin) / (bx.aMax - bx.aMin)),
		logit(p.B / bx.bMax),
		math.Atanh(rho),
		logit((p.M - bx.mMin) / (bx.mMax - bx.mMin)),
		logit((p.Sigma - bx.sigMin) / (bx.sigMax - bx.sigMin)),
	}
}
