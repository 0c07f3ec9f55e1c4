package surface

import (
	"errors"
	"math"
	"testing"
	"time"

	"VolSurf/internal/domain/models"
	"VolSurf/internal/vol/svi"
)

func snapshot() *models.MarketSnapshot {
	return &models.MarketSnapshot{Underlying: "TEST", Spot: 100, Rate: 0.02, Yield: 0, Timestamp: time.Now()}
}

func flatSlice(snap *models.MarketSnapshot, T, level float64) models.SVISlice {
	// sigma large relative to the tested k range keeps the wing term flat
	return models.SVISlice{
		Params:    models.SVIParams{A: level, B: 0, Rho: 0, M: 0, Sigma: 0.1},
		T:         T,
		Forward:   snap.Forward(T),
		Converged: true,
	}
}

func TestNewEmpty(t *testing.T) {
	_, err := New(snapshot(), nil)
	if !errors.Is(err, ErrEmptySurface) {
		t.Fatalf("expected ErrEmptySurface, got %v", err)
	}
}

func TestTotalVarianceLinearInT(t *testing.T) {
	snap := snapshot()
	s, err := New(snap, []models.SVISlice{
		flatSlice(snap, 0.25, 0.01),
		flatSlice(snap, 0.75, 0.03),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// midpoint maturity: w must be the average of the bracketing levels
	K := snap.Forward(0.5) // k = 0 at the query maturity
	w, err := s.TotalVariance(K, 0.5)
	if err != nil {
		t.Fatalf("total variance: %v", err)
	}
	if math.Abs(w-0.02) > 1e-12 {
		t.Fatalf("midpoint w = %g, want 0.02", w)
	}
}

func TestFlatExtrapolation(t *testing.T) {
	snap := snapshot()
	s, err := New(snap, []models.SVISlice{
		flatSlice(snap, 0.25, 0.01),
		flatSlice(snap, 0.75, 0.03),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	short, err := s.TotalVariance(100, 0.1)
	if err != nil {
		t.Fatalf("short end: %v", err)
	}
	atFirst, _ := s.TotalVariance(100, 0.25)
	if math.Abs(short-atFirst) > 1e-12 {
		t.Fatalf("short extrapolation %g != first slice %g", short, atFirst)
	}

	long, err := s.TotalVariance(100, 2.0)
	if err != nil {
		t.Fatalf("long end: %v", err)
	}
	atLast, _ := s.TotalVariance(100, 0.75)
	if math.Abs(long-atLast) > 1e-12 {
		t.Fatalf("long extrapolation %g != last slice %g", long, atLast)
	}
}

func TestImpliedVolConsistency(t *testing.T) {
	snap := snapshot()
	sl := models.SVISlice{
		Params:    models.SVIParams{A: 0.02, B: 0.1, Rho: -0.3, M: 0, Sigma: 0.2},
		T:         0.5,
		Forward:   snap.Forward(0.5),
		Converged: true,
	}
	s, err := New(snap, []models.SVISlice{sl})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, K := range []float64{80, 100, 120} {
		k := math.Log(K / sl.Forward)
		want := math.Sqrt(svi.TotalVariance(sl.Params, k) / 0.5)
		got, err := s.ImpliedVol(K, 0.5)
		if err != nil {
			t.Fatalf("implied vol K=%g: %v", K, err)
		}
		if math.Abs(got-want) > 1e-12 {
			t.Fatalf("K=%g: vol %g, want %g", K, got, want)
		}
	}
}

func TestSlicesSorted(t *testing.T) {
	snap := snapshot()
	s, err := New(snap, []models.SVISlice{
		flatSlice(snap, 1.0, 0.04),
		flatSlice(snap, 0.25, 0.01),
		flatSlice(snap, 0.5, 0.02),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := s.Slices()
	for i := 1; i < len(got); i++ {
		if got[i].T <= got[i-1].T {
			t.Fatalf("slices not ascending in T: %v then %v", got[i-1].T, got[i].T)
		}
	}
}

func TestSampleGrid(t *testing.T) {
	snap := snapshot()
	s, err := New(snap, []models.SVISlice{
		flatSlice(snap, 0.25, 0.01),
		flatSlice(snap, 0.75, 0.03),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	pts, err := s.SampleGrid(11, 0.5)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(pts) != 2*11 {
		t.Fatalf("got %d points, want %d", len(pts), 2*11)
	}
	if pts[0].Strike != 50 || pts[10].Strike != 150 {
		t.Fatalf("strike span [%g, %g], want [50, 150]", pts[0].Strike, pts[10].Strike)
	}

	again, err := s.SampleGrid(11, 0.5)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	for i := range pts {
		if pts[i] != again[i] {
			t.Fatalf("grid not deterministic at %d: %+v vs %+v", i, pts[i], again[i])
		}
	}

	if _, err := s.SampleGrid(1, 0.5); err == nil {
		t.Fatal("resolution below 2 should fail")
	}
	if _, err := s.SampleGrid(11, 1.5); err == nil {
		t.Fatal("strike range outside (0,1) should fail")
	}
}
