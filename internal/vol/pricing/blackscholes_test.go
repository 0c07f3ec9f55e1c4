package pricing

import (
	"math"
	"testing"

	"VolSurf/internal/domain/models"
)

func TestPutCallParity(t *testing.T) {
	S, r, q := 100.0, 0.03, 0.015
	for _, K := range []float64{70, 100, 130} {
		for _, T := range []float64{0.1, 0.5, 2.0} {
			c := Price(S, K, T, r, q, 0.25, models.Call)
			p := Price(S, K, T, r, q, 0.25, models.Put)
			want := S*math.Exp(-q*T) - K*math.Exp(-r*T)
			if math.Abs((c-p)-want) > 1e-10 {
				t.Fatalf("K=%g T=%g: parity gap %g", K, T, (c-p)-want)
			}
		}
	}
}

func TestPriceZeroVolLimit(t *testing.T) {
	// sigma -> 0 collapses the price to discounted intrinsic on the forward
	S, K, T, r, q := 100.0, 90.0, 0.5, 0.02, 0.0
	fwd := S * math.Exp((r-q)*T)
	want := math.Exp(-r*T) * (fwd - K)
	got := Price(S, K, T, r, q, 0, models.Call)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("zero-vol call %g, want %g", got, want)
	}
	if p := Price(S, K, T, r, q, 0, models.Put); p != 0 {
		t.Fatalf("zero-vol OTM put %g, want 0", p)
	}
}

func TestBoundsBracketPrice(t *testing.T) {
	S, K, T, r, q := 100.0, 105.0, 0.75, 0.02, 0.01
	for _, typ := range []models.OptionType{models.Call, models.Put} {
		lo, hi := Bounds(S, K, T, r, q, typ)
		for _, sigma := range []float64{0.01, 0.2, 1.0, 3.0} {
			p := Price(S, K, T, r, q, sigma, typ)
			if p < lo-1e-12 || p > hi+1e-12 {
				t.Fatalf("%s sigma=%g: price %g outside [%g, %g]", typ, sigma, p, lo, hi)
			}
		}
	}
}

func TestVegaPositive(t *testing.T) {
	for _, K := range []float64{60, 100, 160} {
		if v := Vega(100, K, 0.5, 0.02, 0.01, 0.2); v <= 0 {
			t.Fatalf("K=%g: vega %g", K, v)
		}
	}
}
