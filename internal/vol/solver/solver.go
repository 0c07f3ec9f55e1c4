// Package solver inverts option prices into Black-Scholes implied
// volatilities using bracketed Brent root-finding.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"VolSurf/internal/domain/models"
	domsvc "VolSurf/internal/domain/service"
	"VolSurf/internal/vol/pricing"
)

var (
	// ErrNoSolution means the quote lies outside the arbitrage-free band.
	ErrNoSolution = errors.New("solver: price outside arbitrage-free band")
	// ErrConvergence means the iteration budget ran out before tolerance.
	ErrConvergence = errors.New("solver: root-finder did not converge")
)

const (
	// VolFloor keeps solved vols strictly positive so later Greek
	// evaluation never divides by zero.
	VolFloor = 1e-6

	bracketHigh   = 2.0
	bracketGrowth = 2.0
	maxExpansions = 16
)

// Solver solves implied volatilities. Stateless and safe for concurrent use.
type Solver struct{}

func New() *Solver { return &Solver{} }

var _ domsvc.ImpliedVolSolver = (*Solver)(nil)

// Solve returns the sigma >= VolFloor at which the Black-Scholes price
// matches the quote's mid price.
func (s *Solver) Solve(snap *models.MarketSnapshot, q *models.OptionQuote, tol float64, maxIter int) (float64, error) {
	price := q.Mid()
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %g", ErrNoSolution, price)
	}
	lo, hi := pricing.Bounds(snap.Spot, q.Strike, q.T, snap.Rate, snap.Yield, q.Type)
	if price < lo || price > hi {
		return 0, fmt.Errorf("%w: price %g outside [%g, %g]", ErrNoSolution, price, lo, hi)
	}

	f := func(sigma float64) float64 {
		return pricing.Price(snap.Spot, q.Strike, q.T, snap.Rate, snap.Yield, sigma, q.Type) - price
	}

	a, b := VolFloor, bracketHigh
	fa, fb := f(a), f(b)
	if fa > 0 {
		// price below the zero-vol limit within tolerance; clamp to floor
		return VolFloor, nil
	}
	// expand the upper end geometrically until the bracket holds
	for i := 0; fb < 0 && i < maxExpansions; i++ {
		b *= bracketGrowth
		fb = f(b)
	}
	if fb < 0 {
		return 0, fmt.Errorf("%w: no sign change up to sigma=%g", ErrNoSolution, b)
	}

	root, err := brent(f, a, b, fa, fb, tol, maxIter)
	if err != nil {
		return 0, err
	}
	if root < VolFloor {
		root = VolFloor
	}
	return root, nil
}

// SolveBatch solves a batch of quotes in parallel. Results are indexed by the
// quote's position, so output order never depends on goroutine scheduling.
func (s *Solver) SolveBatch(ctx context.Context, snap *models.MarketSnapshot, quotes []*models.OptionQuote, tol float64, maxIter int) []domsvc.SolveResult {
	results := make([]domsvc.SolveResult, len(quotes))
	workers := runtime.GOMAXPROCS(0)
	if workers > len(quotes) {
		workers = len(quotes)
	}
	if workers < 1 {
		workers = 1
	}

	idxCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				if err := ctx.Err(); err != nil {
					results[i] = domsvc.SolveResult{Index: i, Err: err}
					continue
				}
				v, err := s.Solve(snap, quotes[i], tol, maxIter)
				results[i] = domsvc.SolveResult{Index: i, Vol: v, Err: err}
			}
		}()
	}
	for i := range quotes {
		idxCh <- i
	}
	close(idxCh)
	wg.Wait()
	return results
}

// brent finds a root of f in [a, b] given f(a) and f(b) with opposite signs.
// Inverse quadratic interpolation with bisection fallback.
func brent(f func(float64) float64, a, b, fa, fb, tol float64, maxIter int) (float64, error) {
	if tol <= 0 {
		tol = 1e-8
	}
	if maxIter <= 0 {
		maxIter = 100
	}
	if fa*fb > 0 {
		return 0, fmt.Errorf("%w: root not bracketed in [%g, %g]", ErrNoSolution, a, b)
	}

	c, fc := a, fa
	d := b - a
	e := d

	for i := 0; i < maxIter; i++ {
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}
		tol1 := 2*math.Nextafter(math.Abs(b), math.Inf(1))*0x1p-52 + 0.5*tol
		xm := 0.5 * (c - b)
		if math.Abs(xm) <= tol1 || fb == 0 {
			return b, nil
		}
		if math.Abs(e) >= tol1 && math.Abs(fa) > math.Abs(fb) {
			// attempt interpolation
			s := fb / fa
			var p, q float64
			if a == c {
				p = 2 * xm * s
				q = 1 - s
			} else {
				r := fb / fc
				t := fa / fc
				p = s * (2*xm*t*(t-r) - (b-a)*(r-1))
				q = (t - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			}
			p = math.Abs(p)
			if 2*p < math.Min(3*xm*q-math.Abs(tol1*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = xm
				e = d
			}
		} else {
			d = xm
			e = d
		}
		a, fa = b, fb
		if math.Abs(d) > tol1 {
			b += d
		} else {
			b += math.Copysign(tol1, xm)
		}
		fb = f(b)
		if (fb > 0) == (fc > 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
	}
	return 0, fmt.Errorf("%w after %d iterations", ErrConvergence, maxIter)
}
