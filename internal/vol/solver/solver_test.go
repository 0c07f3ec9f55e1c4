package solver

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"VolSurf/internal/domain/models"
	"VolSurf/internal/vol/pricing"
)

func snapshot() *models.MarketSnapshot {
	return &models.MarketSnapshot{
		Underlying: "TEST",
		Spot:       100,
		Rate:       0.02,
		Yield:      0.01,
		Timestamp:  time.Now(),
	}
}

func TestSolveRoundTrip(t *testing.T) {
	s := New()
	snap := snapshot()
	for _, sigma := range []float64{0.01, 0.05, 0.2, 0.5, 1.0, 2.0, 3.0} {
		for _, K := range []float64{80, 100, 120} {
			for _, typ := range []models.OptionType{models.Call, models.Put} {
				price := pricing.Price(snap.Spot, K, 0.5, snap.Rate, snap.Yield, sigma, typ)
				q := &models.OptionQuote{Strike: K, T: 0.5, Type: typ, Bid: price, Ask: price}
				got, err := s.Solve(snap, q, 1e-10, 200)
				if err != nil {
					t.Fatalf("sigma=%g K=%g %s: %v", sigma, K, typ, err)
				}
				if math.Abs(got-sigma) > 1e-6 {
					t.Fatalf("sigma=%g K=%g %s: got %g", sigma, K, typ, got)
				}
			}
		}
	}
}

func TestSolvePriceAboveBand(t *testing.T) {
	s := New()
	snap := snapshot()
	// a call can never be worth more than the discounted spot
	q := &models.OptionQuote{Strike: 100, T: 0.5, Type: models.Call, Bid: 101, Ask: 101}
	if _, err := s.Solve(snap, q, 1e-8, 100); !errors.Is(err, ErrNoSolution) {
		t.Fatalf("expected ErrNoSolution, got %v", err)
	}
}

func TestSolvePriceBelowIntrinsic(t *testing.T) {
	s := New()
	snap := snapshot()
	// deep ITM call priced at half intrinsic violates the lower bound
	lo, _ := pricing.Bounds(snap.Spot, 50, 0.5, snap.Rate, snap.Yield, models.Call)
	q := &models.OptionQuote{Strike: 50, T: 0.5, Type: models.Call, Bid: lo / 2, Ask: lo / 2}
	if _, err := s.Solve(snap, q, 1e-8, 100); !errors.Is(err, ErrNoSolution) {
		t.Fatalf("expected ErrNoSolution, got %v", err)
	}
}

func TestSolveNonPositivePrice(t *testing.T) {
	s := New()
	q := &models.OptionQuote{Strike: 100, T: 0.5, Type: models.Call}
	if _, err := s.Solve(snapshot(), q, 1e-8, 100); !errors.Is(err, ErrNoSolution) {
		t.Fatalf("expected ErrNoSolution, got %v", err)
	}
}

func TestSolveVolFloor(t *testing.T) {
	s := New()
	snap := snapshot()
	// ITM call priced exactly at the zero-vol limit clamps to the floor
	lo, _ := pricing.Bounds(snap.Spot, 80, 0.5, snap.Rate, snap.Yield, models.Call)
	q := &models.OptionQuote{Strike: 80, T: 0.5, Type: models.Call, Bid: lo, Ask: lo}
	got, err := s.Solve(snap, q, 1e-8, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got < VolFloor {
		t.Fatalf("vol %g below floor", got)
	}
}

func TestSolveBatchPreservesOrder(t *testing.T) {
	s := New()
	snap := snapshot()
	sigmas := []float64{0.1, 0.2, 0.3, 0.4, 0.5}
	quotes := make([]*models.OptionQuote, len(sigmas))
	for i, sg := range sigmas {
		price := pricing.Price(snap.Spot, 100, 0.5, snap.Rate, snap.Yield, sg, models.Call)
		quotes[i] = &models.OptionQuote{Strike: 100, T: 0.5, Type: models.Call, Bid: price, Ask: price}
	}
	results := s.SolveBatch(context.Background(), snap, quotes, 1e-10, 200)
	if len(results) != len(quotes) {
		t.Fatalf("expected %d results, got %d", len(quotes), len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("index %d: %v", i, r.Err)
		}
		if r.Index != i {
			t.Fatalf("index mismatch at %d: %d", i, r.Index)
		}
		if math.Abs(r.Vol-sigmas[i]) > 1e-6 {
			t.Fatalf("index %d: got %g want %g", i, r.Vol, sigmas[i])
		}
	}
}

func TestSolveBatchIsolatesFailures(t *testing.T) {
	s := New()
	snap := snapshot()
	good := pricing.Price(snap.Spot, 100, 0.5, snap.Rate, snap.Yield, 0.2, models.Call)
	quotes := []*models.OptionQuote{
		{Strike: 100, T: 0.5, Type: models.Call, Bid: good, Ask: good},
		{Strike: 100, T: 0.5, Type: models.Call, Bid: 200, Ask: 200}, // outside band
		{Strike: 100, T: 0.5, Type: models.Call, Bid: good, Ask: good},
	}
	results := s.SolveBatch(context.Background(), snap, quotes, 1e-10, 200)
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("good quotes failed: %v %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, ErrNoSolution) {
		t.Fatalf("expected ErrNoSolution at index 1, got %v", results[1].Err)
	}
}
