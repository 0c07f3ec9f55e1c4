package svi

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"VolSurf/internal/domain/models"
	"VolSurf/internal/vol/pricing"
	"VolSurf/internal/vol/solver"
)

var trueParams = models.SVIParams{A: 0.02, B: 0.1, Rho: -0.3, M: 0.0, Sigma: 0.2}

func snapshot() *models.MarketSnapshot {
	return &models.MarketSnapshot{Underlying: "TEST", Spot: 100, Rate: 0.02, Yield: 0, Timestamp: time.Now()}
}

// syntheticVols builds exact model vols at the scenario strikes.
func syntheticVols(snap *models.MarketSnapshot, T float64, strikes []float64) []models.ImpliedVol {
	vols := make([]models.ImpliedVol, len(strikes))
	fwd := snap.Forward(T)
	for i, K := range strikes {
		k := math.Log(K / fwd)
		w := TotalVariance(trueParams, k)
		vols[i] = models.ImpliedVol{
			Strike:       K,
			T:            T,
			Vol:          math.Sqrt(w / T),
			LogMoneyness: k,
			TotalVar:     w,
		}
	}
	return vols
}

func scenarioConfig() *models.CalibrationConfig {
	cfg := &models.CalibrationConfig{MultiStartCount: 8, Lambda: 0.001, Seed: 42}
	cfg.Defaults()
	return cfg
}

func TestCalibrateScenario(t *testing.T) {
	snap := snapshot()
	strikes := []float64{80, 90, 100, 110, 120}
	vols := syntheticVols(snap, 0.5, strikes)

	slice, err := NewCalibrator().Calibrate(context.Background(), vols, 0.5, scenarioConfig())
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if !slice.Converged {
		t.Fatalf("expected converged fit, got %+v", slice)
	}
	for _, v := range vols {
		got := TotalVariance(slice.Params, v.LogMoneyness)
		if math.Abs(got-v.TotalVar) > 1e-3 {
			t.Fatalf("k=%g: fitted w=%g observed w=%g", v.LogMoneyness, got, v.TotalVar)
		}
	}
}

func TestCalibrateAdmissibility(t *testing.T) {
	snap := snapshot()
	vols := syntheticVols(snap, 0.5, []float64{80, 90, 100, 110, 120})
	slice, err := NewCalibrator().Calibrate(context.Background(), vols, 0.5, scenarioConfig())
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	p := slice.Params
	if p.B*(1+math.Abs(p.Rho)) > 4/0.5+1e-9 {
		t.Fatalf("slope bound violated: %+v", p)
	}
	if MinVariance(p) < -1e-9 {
		t.Fatalf("negative minimum variance: %+v", p)
	}
	if !Admissible(p, 0.5) {
		t.Fatalf("Admissible disagrees with explicit checks: %+v", p)
	}
}

func TestCalibrateDeterministic(t *testing.T) {
	snap := snapshot()
	vols := syntheticVols(snap, 0.5, []float64{80, 90, 100, 110, 120})
	c := NewCalibrator()
	a, err := c.Calibrate(context.Background(), vols, 0.5, scenarioConfig())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := c.Calibrate(context.Background(), vols, 0.5, scenarioConfig())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if a.Params != b.Params || a.StartIndex != b.StartIndex {
		t.Fatalf("same seed produced different fits:\n%+v\n%+v", a, b)
	}
}

func TestRegularizationMonotonicity(t *testing.T) {
	snap := snapshot()
	vols := syntheticVols(snap, 0.5, []float64{80, 90, 100, 110, 120})
	c := NewCalibrator()

	prev := math.Inf(1)
	for _, lambda := range []float64{0.1, 0.01, 0.001, 0} {
		cfg := scenarioConfig()
		cfg.Lambda = lambda
		slice, err := c.Calibrate(context.Background(), vols, 0.5, cfg)
		if err != nil {
			t.Fatalf("lambda=%g: %v", lambda, err)
		}
		r := Roughness(slice.Params)
		// weaker regularization may only grow or hold the roughness
		if prev != math.Inf(1) && r+1e-6 < prev {
			t.Fatalf("roughness fell from %g to %g as lambda decreased to %g", prev, r, lambda)
		}
		prev = r
	}
}

func TestCalibrateTooFewQuotes(t *testing.T) {
	snap := snapshot()
	vols := syntheticVols(snap, 0.5, []float64{100, 110})
	_, err := NewCalibrator().Calibrate(context.Background(), vols, 0.5, scenarioConfig())
	if !errors.Is(err, ErrCalibrationFailed) {
		t.Fatalf("expected ErrCalibrationFailed, got %v", err)
	}
}

// TestRoundTripThroughSolver generates prices from the model, inverts them
// with the solver, and recalibrates; total variance must come back within
// 1e-3 over the sampled strikes.
func TestRoundTripThroughSolver(t *testing.T) {
	snap := snapshot()
	T := 0.5
	strikes := []float64{80, 90, 100, 110, 120}
	fwd := snap.Forward(T)

	sv := solver.New()
	vols := make([]models.ImpliedVol, 0, len(strikes))
	for _, K := range strikes {
		k := math.Log(K / fwd)
		sigma := math.Sqrt(TotalVariance(trueParams, k) / T)
		price := pricing.Price(snap.Spot, K, T, snap.Rate, snap.Yield, sigma, models.Call)
		q := &models.OptionQuote{Strike: K, T: T, Type: models.Call, Bid: price, Ask: price}
		got, err := sv.Solve(snap, q, 1e-10, 200)
		if err != nil {
			t.Fatalf("solve K=%g: %v", K, err)
		}
		vols = append(vols, models.NewImpliedVol(snap, q, got))
	}

	slice, err := NewCalibrator().Calibrate(context.Background(), vols, T, scenarioConfig())
	if err != nil {
		t.Fatalf("recalibrate: %v", err)
	}
	for _, v := range vols {
		want := TotalVariance(trueParams, v.LogMoneyness)
		got := TotalVariance(slice.Params, v.LogMoneyness)
		if math.Abs(got-want) > 1e-3 {
			t.Fatalf("k=%g: recovered w=%g true w=%g", v.LogMoneyness, got, want)
		}
	}
}

func TestAdmissibleRejects(t *testing.T) {
	if Admissible(models.SVIParams{A: 0.02, B: 9, Rho: 0.5, M: 0, Sigma: 0.1}, 1.0) {
		t.Fatal("slope bound should reject b(1+|rho|) > 4/T")
	}
	if Admissible(models.SVIParams{A: -1, B: 0.1, Rho: 0, M: 0, Sigma: 0.1}, 1.0) {
		t.Fatal("negative minimum variance should be rejected")
	}
	if Admissible(models.SVIParams{A: 0.02, B: -0.1, Rho: 0, M: 0, Sigma: 0.1}, 1.0) {
		t.Fatal("negative b should be rejected")
	}
}
