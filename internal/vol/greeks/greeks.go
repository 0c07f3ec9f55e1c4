// Package greeks evaluates option sensitivities from either raw market
// implied vols or the fitted SVI surface.
package greeks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"VolSurf/internal/domain/models"
	domsvc "VolSurf/internal/domain/service"
	"VolSurf/internal/vol/pricing"
)

var (
	// ErrNoQuoteNearby means raw mode found no market quote within tolerance.
	ErrNoQuoteNearby = errors.New("greeks: no quote within tolerance")
	// ErrNoSurface means svi mode was requested without a fitted surface.
	ErrNoSurface = errors.New("greeks: no fitted surface available")
)

// Config tunes quote matching and finite differencing.
type Config struct {
	StrikeTolerance float64 // relative, as fraction of strike
	TTolerance      float64 // absolute, years
	BumpSpot        float64 // relative spot bump for finite differences
	BumpVol         float64 // absolute vol bump
	BumpTime        float64 // years
	UseFiniteDiff   bool    // force FD for higher-order Greeks
}

// Defaults fills zero fields.
func (c *Config) Defaults() {
	if c.StrikeTolerance <= 0 {
		c.StrikeTolerance = 0.05
	}
	if c.TTolerance <= 0 {
		c.TTolerance = 1.0 / 52
	}
	if c.BumpSpot <= 0 {
		c.BumpSpot = 1e-4
	}
	if c.BumpVol <= 0 {
		c.BumpVol = 1e-4
	}
	if c.BumpTime <= 0 {
		c.BumpTime = 1.0 / 3650
	}
}

// Engine computes GreekSets. Immutable after construction.
type Engine struct {
	cfg     Config
	surface domsvc.Surface         // nil when only raw mode is wanted
	vols    []models.ImpliedVol    // solved market vols for raw mode
}

func New(cfg Config, surf domsvc.Surface, vols []models.ImpliedVol) *Engine {
	cfg.Defaults()
	return &Engine{cfg: cfg, surface: surf, vols: vols}
}

var _ domsvc.GreeksEngine = (*Engine)(nil)

// Greeks evaluates all sensitivities at one (K, T) point.
func (e *Engine) Greeks(snap *models.MarketSnapshot, K, T float64, typ models.OptionType, mode models.VolSource) (*models.GreekSet, error) {
	sigma, err := e.volAt(snap, K, T, mode)
	if err != nil {
		return nil, err
	}
	gs := Analytic(snap.Spot, K, T, snap.Rate, snap.Yield, sigma, typ)
	if e.cfg.UseFiniteDiff {
		fd := FiniteDiff(snap.Spot, K, T, snap.Rate, snap.Yield, sigma, typ, &e.cfg)
		gs.Vanna, gs.Volga, gs.Charm, gs.Speed = fd.Vanna, fd.Volga, fd.Charm, fd.Speed
	}
	return gs, nil
}

// GreeksBatch evaluates sensitivities pairwise over equal-length K and T
// arrays, in parallel, preserving input order.
func (e *Engine) GreeksBatch(ctx context.Context, snap *models.MarketSnapshot, Ks, Ts []float64, typ models.OptionType, mode models.VolSource) ([]*models.GreekSet, error) {
	if len(Ks) != len(Ts) {
		return nil, fmt.Errorf("greeks: batch length mismatch %d vs %d", len(Ks), len(Ts))
	}
	out := make([]*models.GreekSet, len(Ks))
	errs := make([]error, len(Ks))
	var wg sync.WaitGroup
	for i := range Ks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			out[i], errs[i] = e.Greeks(snap, Ks[i], Ts[i], typ, mode)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil && !errors.Is(err, ErrNoQuoteNearby) {
			return nil, err
		}
	}
	// points with no nearby quote stay nil in raw mode; callers render gaps
	return out, nil
}

func (e *Engine) volAt(snap *models.MarketSnapshot, K, T float64, mode models.VolSource) (float64, error) {
	switch mode {
	case models.VolSourceSVI:
		if e.surface == nil {
			return 0, ErrNoSurface
		}
		return e.surface.ImpliedVol(K, T)
	default:
		return e.nearestVol(K, T)
	}
}

// nearestVol finds the solved market vol closest to (K, T) within tolerance.
func (e *Engine) nearestVol(K, T float64) (float64, error) {
	bestDist := math.Inf(1)
	var best *models.ImpliedVol
	for i := range e.vols {
		v := &e.vols[i]
		dK := math.Abs(v.Strike-K) / K
		dT := math.Abs(v.T - T)
		if dK > e.cfg.StrikeTolerance || dT > e.cfg.TTolerance {
			continue
		}
		d := dK/e.cfg.StrikeTolerance + dT/e.cfg.TTolerance
		if d < bestDist {
			bestDist = d
			best = v
		}
	}
	if best == nil {
		return 0, fmt.Errorf("%w: K=%g T=%g", ErrNoQuoteNearby, K, T)
	}
	return best.Vol, nil
}

// Analytic computes the full closed-form GreekSet.
func Analytic(S, K, T, r, q, sigma float64, typ models.OptionType) *models.GreekSet {
	sqrtT := math.Sqrt(T)
	d1 := pricing.D1(S, K, T, r, q, sigma)
	d2 := d1 - sigma*sqrtT
	dfq := math.Exp(-q * T)
	dfr := math.Exp(-r * T)
	pdf1 := pricing.Pdf(d1)

	gs := &models.GreekSet{Strike: K, T: T, Type: typ, Vol: sigma}

	gamma := dfq * pdf1 / (S * sigma * sqrtT)
	vega := S * dfq * pdf1 * sqrtT

	gs.Gamma = gamma
	gs.Vega = vega
	if typ == models.Call {
		gs.Delta = dfq * pricing.Phi(d1)
		gs.Theta = -S*dfq*pdf1*sigma/(2*sqrtT) - r*K*dfr*pricing.Phi(d2) + q*S*dfq*pricing.Phi(d1)
		gs.Rho = K * T * dfr * pricing.Phi(d2)
		gs.Charm = q*dfq*pricing.Phi(d1) - dfq*pdf1*(2*(r-q)*T-d2*sigma*sqrtT)/(2*T*sigma*sqrtT)
	} else {
		gs.Delta = -dfq * pricing.Phi(-d1)
		gs.Theta = -S*dfq*pdf1*sigma/(2*sqrtT) + r*K*dfr*pricing.Phi(-d2) - q*S*dfq*pricing.Phi(-d1)
		gs.Rho = -K * T * dfr * pricing.Phi(-d2)
		gs.Charm = -q*dfq*pricing.Phi(-d1) - dfq*pdf1*(2*(r-q)*T-d2*sigma*sqrtT)/(2*T*sigma*sqrtT)
	}

	// cross and third-order terms share the same d1/d2 building blocks
	gs.Vanna = (vega / S) * (1 - d1/(sigma*sqrtT))
	gs.Volga = vega * d1 * d2 / sigma
	gs.Speed = -(gamma / S) * (d1/(sigma*sqrtT) + 1)
	return gs
}

// FDSet holds finite-difference values for the higher-order Greeks.
type FDSet struct {
	Vanna float64
	Volga float64
	Charm float64
	Speed float64
}

// FiniteDiff computes the higher-order Greeks by central differences on the
// Black-Scholes price. Used as fallback and as the cross-check against the
// analytic path: the two must agree within a tolerance scaled to the bump.
func FiniteDiff(S, K, T, r, q, sigma float64, typ models.OptionType, cfg *Config) FDSet {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.Defaults()
	dS := S * c.BumpSpot
	dV := c.BumpVol
	dT := c.BumpTime

	price := func(S, T, sigma float64) float64 {
		return pricing.Price(S, K, T, r, q, sigma, typ)
	}
	delta := func(S, T, sigma float64) float64 {
		return (price(S+dS, T, sigma) - price(S-dS, T, sigma)) / (2 * dS)
	}
	gamma := func(S, T, sigma float64) float64 {
		return (price(S+dS, T, sigma) - 2*price(S, T, sigma) + price(S-dS, T, sigma)) / (dS * dS)
	}
	vega := func(S, T, sigma float64) float64 {
		return (price(S, T, sigma+dV) - price(S, T, sigma-dV)) / (2 * dV)
	}

	return FDSet{
		// ∂²V/∂S∂σ
		Vanna: (vega(S+dS, T, sigma) - vega(S-dS, T, sigma)) / (2 * dS),
		// ∂²V/∂σ²
		Volga: (price(S, T, sigma+dV) - 2*price(S, T, sigma) + price(S, T, sigma-dV)) / (dV * dV),
		// delta decay per year of calendar time, −∂Δ/∂τ
		Charm: -(delta(S, T+dT, sigma) - delta(S, T-dT, sigma)) / (2 * dT),
		// ∂Γ/∂S
		Speed: (gamma(S+dS, T, sigma) - gamma(S-dS, T, sigma)) / (2 * dS),
	}
}
