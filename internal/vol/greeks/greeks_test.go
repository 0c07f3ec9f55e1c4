package greeks

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"VolSurf/internal/domain/models"
	"VolSurf/internal/vol/pricing"
	"VolSurf/internal/vol/surface"
)

func snapshot() *models.MarketSnapshot {
	return &models.MarketSnapshot{Underlying: "TEST", Spot: 100, Rate: 0.02, Yield: 0.01, Timestamp: time.Now()}
}

func testSurface(t *testing.T, snap *models.MarketSnapshot) *surface.Surface {
	t.Helper()
	s, err := surface.New(snap, []models.SVISlice{
		{
			Params:    models.SVIParams{A: 0.02, B: 0.1, Rho: -0.3, M: 0, Sigma: 0.2},
			T:         0.5,
			Forward:   snap.Forward(0.5),
			Converged: true,
		},
	})
	if err != nil {
		t.Fatalf("surface: %v", err)
	}
	return s
}

// TestAnalyticMatchesFiniteDiff cross-checks every closed-form Greek against
// a central difference of the pricing function.
func TestAnalyticMatchesFiniteDiff(t *testing.T) {
	cfg := Config{}
	cfg.Defaults()

	cases := []struct {
		name  string
		S, K  float64
		T     float64
		sigma float64
		typ   models.OptionType
	}{
		{"atm_call", 100, 100, 0.5, 0.2, models.Call},
		{"itm_call", 100, 80, 0.5, 0.2, models.Call},
		{"otm_call", 100, 120, 0.5, 0.2, models.Call},
		{"atm_put", 100, 100, 0.5, 0.2, models.Put},
		{"short_dated", 100, 100, 0.05, 0.3, models.Call},
		{"high_vol_put", 100, 110, 1.0, 0.6, models.Put},
	}
	const r, q = 0.02, 0.01
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			an := Analytic(tc.S, tc.K, tc.T, r, q, tc.sigma, tc.typ)
			fd := FiniteDiff(tc.S, tc.K, tc.T, r, q, tc.sigma, tc.typ, &cfg)

			check := func(name string, a, f, tol float64) {
				if math.Abs(a-f) > tol {
					t.Errorf("%s: analytic %g vs finite diff %g", name, a, f)
				}
			}

			price := func(S, T, sigma float64) float64 {
				return pricing.Price(S, tc.K, T, r, q, sigma, tc.typ)
			}
			dS := tc.S * cfg.BumpSpot
			check("delta", an.Delta,
				(price(tc.S+dS, tc.T, tc.sigma)-price(tc.S-dS, tc.T, tc.sigma))/(2*dS), 1e-6)
			check("gamma", an.Gamma,
				(price(tc.S+dS, tc.T, tc.sigma)-2*price(tc.S, tc.T, tc.sigma)+price(tc.S-dS, tc.T, tc.sigma))/(dS*dS), 1e-4)
			check("vega", an.Vega,
				(price(tc.S, tc.T, tc.sigma+cfg.BumpVol)-price(tc.S, tc.T, tc.sigma-cfg.BumpVol))/(2*cfg.BumpVol), 1e-4)
			// truncation error of the time difference grows with |theta|,
			// so the tolerance scales with the magnitude
			check("theta", an.Theta,
				-(price(tc.S, tc.T+cfg.BumpTime, tc.sigma)-price(tc.S, tc.T-cfg.BumpTime, tc.sigma))/(2*cfg.BumpTime),
				1e-4*(1+math.Abs(an.Theta)))

			check("vanna", an.Vanna, fd.Vanna, 1e-3)
			check("volga", an.Volga, fd.Volga, 1e-2)
			check("charm", an.Charm, fd.Charm, 1e-3)
			check("speed", an.Speed, fd.Speed, 1e-3)
		})
	}
}

func TestGreeksFromSurface(t *testing.T) {
	snap := snapshot()
	cfg := Config{}
	cfg.Defaults()
	e := New(cfg, testSurface(t, snap), nil)

	g, err := e.Greeks(snap, 100, 0.5, models.Call, models.VolSourceSVI)
	if err != nil {
		t.Fatalf("greeks: %v", err)
	}
	if g.Delta <= 0 || g.Delta >= 1 {
		t.Fatalf("call delta %g outside (0, 1)", g.Delta)
	}
	if g.Gamma <= 0 || g.Vega <= 0 {
		t.Fatalf("gamma %g and vega %g must be positive", g.Gamma, g.Vega)
	}
	if g.Vol <= 0 {
		t.Fatalf("resolved vol %g must be positive", g.Vol)
	}
}

func TestGreeksSVIWithoutSurface(t *testing.T) {
	cfg := Config{}
	cfg.Defaults()
	e := New(cfg, nil, nil)

	_, err := e.Greeks(snapshot(), 100, 0.5, models.Call, models.VolSourceSVI)
	if !errors.Is(err, ErrNoSurface) {
		t.Fatalf("expected ErrNoSurface, got %v", err)
	}
}

func TestGreeksRawNearestQuote(t *testing.T) {
	snap := snapshot()
	cfg := Config{}
	cfg.Defaults()
	vols := []models.ImpliedVol{
		{Strike: 100, T: 0.5, Type: models.Call, Vol: 0.22},
		{Strike: 110, T: 0.5, Type: models.Call, Vol: 0.25},
	}
	e := New(cfg, nil, vols)

	g, err := e.Greeks(snap, 100.5, 0.5, models.Call, models.VolSourceRaw)
	if err != nil {
		t.Fatalf("greeks: %v", err)
	}
	if g.Vol != 0.22 {
		t.Fatalf("picked vol %g, want nearest quote 0.22", g.Vol)
	}

	_, err = e.Greeks(snap, 200, 0.5, models.Call, models.VolSourceRaw)
	if !errors.Is(err, ErrNoQuoteNearby) {
		t.Fatalf("expected ErrNoQuoteNearby, got %v", err)
	}
}

func TestGreeksBatchOrderAndGaps(t *testing.T) {
	snap := snapshot()
	cfg := Config{}
	cfg.Defaults()
	vols := []models.ImpliedVol{
		{Strike: 100, T: 0.5, Type: models.Call, Vol: 0.22},
	}
	e := New(cfg, nil, vols)

	Ks := []float64{100, 200, 100.5}
	Ts := []float64{0.5, 0.5, 0.5}
	out, err := e.GreeksBatch(context.Background(), snap, Ks, Ts, models.Call, models.VolSourceRaw)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d results, want 3", len(out))
	}
	if out[0] == nil || out[2] == nil {
		t.Fatal("in-tolerance points must be populated")
	}
	if out[1] != nil {
		t.Fatal("point with no nearby quote must stay nil")
	}
	if out[0].Strike != 100 || out[2].Strike != 100.5 {
		t.Fatalf("results out of order: %g, %g", out[0].Strike, out[2].Strike)
	}
}

func TestPutCallDeltaParity(t *testing.T) {
	// call delta minus put delta equals the discounted dividend factor
	c := Analytic(100, 100, 0.5, 0.02, 0.01, 0.2, models.Call)
	p := Analytic(100, 100, 0.5, 0.02, 0.01, 0.2, models.Put)
	want := math.Exp(-0.01 * 0.5)
	if math.Abs((c.Delta-p.Delta)-want) > 1e-12 {
		t.Fatalf("delta parity: %g, want %g", c.Delta-p.Delta, want)
	}
	if math.Abs(c.Gamma-p.Gamma) > 1e-12 || math.Abs(c.Vega-p.Vega) > 1e-12 {
		t.Fatal("gamma and vega must match across call and put")
	}
}
