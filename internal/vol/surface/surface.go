// Package surface assembles calibrated SVI slices into a continuous
// volatility surface over (strike, maturity).
package surface

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"VolSurf/internal/domain/models"
	domsvc "VolSurf/internal/domain/service"
)

// ErrEmptySurface means no slice survived calibration; queries cannot be
// answered.
var ErrEmptySurface = errors.New("surface: no calibrated slices")

// Surface is an immutable assembled surface. Rebuilt whenever any slice is
// recalibrated; never mutated in place.
type Surface struct {
	snap   *models.MarketSnapshot
	slices []models.SVISlice // ascending T
	rule   models.InterpRule
}

var _ domsvc.Surface = (*Surface)(nil)

// New assembles a surface from per-maturity slices. Tolerates fewer slices
// than requested maturities; fails only when there are none at all.
func New(snap *models.MarketSnapshot, slices []models.SVISlice) (*Surface, error) {
	if len(slices) == 0 {
		return nil, ErrEmptySurface
	}
	ordered := make([]models.SVISlice, len(slices))
	copy(ordered, slices)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].T < ordered[j].T })
	return &Surface{snap: snap, slices: ordered, rule: models.InterpLinearTotalVar}, nil
}

// Rule names the cross-maturity interpolation in use.
func (s *Surface) Rule() models.InterpRule { return s.rule }

// Slices returns the calibrated slices in maturity order.
func (s *Surface) Slices() []models.SVISlice {
	out := make([]models.SVISlice, len(s.slices))
	copy(out, s.slices)
	return out
}

// TotalVariance returns w(K, T) for an arbitrary strike and maturity.
// Between calibrated maturities total variance is interpolated linearly in T
// at matched log-moneyness; outside the calibrated range the nearest slice's
// shape is held constant.
func (s *Surface) TotalVariance(K, T float64) (float64, error) {
	if K <= 0 || T <= 0 {
		return 0, fmt.Errorf("surface: invalid query K=%g T=%g", K, T)
	}
	k := math.Log(K / s.snap.Forward(T))
	return s.varianceAt(k, T), nil
}

// ImpliedVol returns σ(K, T) = √(w(K,T)/T).
func (s *Surface) ImpliedVol(K, T float64) (float64, error) {
	w, err := s.TotalVariance(K, T)
	if err != nil {
		return 0, err
	}
	if w < 0 {
		w = 0
	}
	return math.Sqrt(w / T), nil
}

func (s *Surface) varianceAt(k, T float64) float64 {
	first, last := s.slices[0], s.slices[len(s.slices)-1]
	switch {
	case T <= first.T:
		return sliceVariance(first, k)
	case T >= last.T:
		return sliceVariance(last, k)
	}
	// find the bracketing pair
	hi := sort.Search(len(s.slices), func(i int) bool { return s.slices[i].T >= T })
	lo := hi - 1
	s1, s2 := s.slices[lo], s.slices[hi]
	w1 := sliceVariance(s1, k)
	w2 := sliceVariance(s2, k)
	frac := (T - s1.T) / (s2.T - s1.T)
	return w1 + frac*(w2-w1)
}

func sliceVariance(sl models.SVISlice, k float64) float64 {
	p := sl.Params
	km := k - p.M
	return p.A + p.B*(p.Rho*km+math.Sqrt(km*km+p.Sigma*p.Sigma))
}

// SampleGrid evaluates the surface on a dense, evenly spaced log-moneyness
// grid at every calibrated maturity. strikeRange is the strike span as a
// multiple of spot (0.5 means 50%–150% of spot). Pure: repeated calls with
// the same surface and arguments return identical output.
func (s *Surface) SampleGrid(resolution int, strikeRange float64) ([]models.GridPoint, error) {
	if resolution < 2 {
		return nil, fmt.Errorf("surface: resolution %d too small", resolution)
	}
	if strikeRange <= 0 || strikeRange >= 1 {
		return nil, fmt.Errorf("surface: strike range %g outside (0, 1)", strikeRange)
	}

	lowK := s.snap.Spot * (1 - strikeRange)
	highK := s.snap.Spot * (1 + strikeRange)
	strikes := make([]float64, resolution)
	floats.Span(strikes, lowK, highK)

	out := make([]models.GridPoint, 0, resolution*len(s.slices))
	for _, sl := range s.slices {
		fwd := s.snap.Forward(sl.T)
		for _, K := range strikes {
			k := math.Log(K / fwd)
			w := sliceVariance(sl, k)
			if w < 0 {
				w = 0
			}
			out = append(out, models.GridPoint{
				Strike:       K,
				LogMoneyness: k,
				T:            sl.T,
				Vol:          math.Sqrt(w / sl.T),
				TotalVar:     w,
			})
		}
	}
	return out, nil
}
