package usecase

import (
	"context"
	"fmt"
	"math"

	"VolSurf/internal/domain/models"
	domsvc "VolSurf/internal/domain/service"
	volgreeks "VolSurf/internal/vol/greeks"
)

// SurfaceQuery serves point, grid and Greeks reads off the latest surfaces.
type SurfaceQuery struct {
	cal    *Calibration
	greeks volgreeks.Config
}

func NewSurfaceQuery(cal *Calibration) *SurfaceQuery {
	cfg := volgreeks.Config{}
	cfg.Defaults()
	return &SurfaceQuery{cal: cal, greeks: cfg}
}

// SurfacePoint is one (strike, maturity) lookup on the fitted surface.
type SurfacePoint struct {
	Underlying   string            `json:"underlying"`
	Strike       float64           `json:"strike"`
	T            float64           `json:"t"`
	Vol          float64           `json:"vol"`
	TotalVar     float64           `json:"total_variance"`
	LogMoneyness float64           `json:"log_moneyness"`
	Rule         models.InterpRule `json:"interpolation"`
}

// Point evaluates the surface at one (K, T).
func (q *SurfaceQuery) Point(underlying string, K, T float64) (*SurfacePoint, error) {
	st, err := q.cal.State(underlying)
	if err != nil {
		return nil, err
	}
	w, err := st.Surface.TotalVariance(K, T)
	if err != nil {
		return nil, err
	}
	vol, err := st.Surface.ImpliedVol(K, T)
	if err != nil {
		return nil, err
	}
	return &SurfacePoint{
		Underlying:   underlying,
		Strike:       K,
		T:            T,
		Vol:          vol,
		TotalVar:     w,
		LogMoneyness: math.Log(K / st.Snapshot.Forward(T)),
		Rule:         models.InterpLinearTotalVar,
	}, nil
}

// GridResult carries a sampled surface plus the metadata a renderer needs.
type GridResult struct {
	Underlying string             `json:"underlying"`
	Rule       models.InterpRule  `json:"interpolation"`
	Moneyness  bool               `json:"moneyness"`
	Points     []models.GridPoint `json:"points"`
}

// Grid samples the surface on an even strike ladder per maturity. With
// moneyness set, strikes in the output are replaced by K/S ratios.
func (q *SurfaceQuery) Grid(underlying string, resolution int, strikeRange float64, moneyness bool) (*GridResult, error) {
	st, err := q.cal.State(underlying)
	if err != nil {
		return nil, err
	}
	pts, err := st.Surface.SampleGrid(resolution, strikeRange)
	if err != nil {
		return nil, err
	}
	if moneyness {
		spot := st.Snapshot.Spot
		for i := range pts {
			pts[i].Strike = pts[i].Strike / spot
		}
	}
	return &GridResult{
		Underlying: underlying,
		Rule:       models.InterpLinearTotalVar,
		Moneyness:  moneyness,
		Points:     pts,
	}, nil
}

// Report returns the diagnostics of the run that produced the live surface.
func (q *SurfaceQuery) Report(ctx context.Context, underlying string) (*models.Report, error) {
	return q.cal.LastReport(ctx, underlying)
}

// Greeks evaluates one point. Raw mode reads the nearest market implied vol,
// svi mode reads the fitted surface.
func (q *SurfaceQuery) Greeks(underlying string, K, T float64, typ models.OptionType, mode models.VolSource) (*models.GreekSet, error) {
	engine, snap, err := q.engineFor(underlying)
	if err != nil {
		return nil, err
	}
	return engine.Greeks(snap, K, T, typ, mode)
}

// GreeksBatch evaluates strikes[i] paired with ts[i], preserving order.
func (q *SurfaceQuery) GreeksBatch(ctx context.Context, underlying string, Ks, Ts []float64, typ models.OptionType, mode models.VolSource) ([]*models.GreekSet, error) {
	if len(Ks) != len(Ts) {
		return nil, fmt.Errorf("usecase: %d strikes vs %d maturities", len(Ks), len(Ts))
	}
	engine, snap, err := q.engineFor(underlying)
	if err != nil {
		return nil, err
	}
	return engine.GreeksBatch(ctx, snap, Ks, Ts, typ, mode)
}

func (q *SurfaceQuery) engineFor(underlying string) (domsvc.GreeksEngine, *models.MarketSnapshot, error) {
	st, err := q.cal.State(underlying)
	if err != nil {
		return nil, nil, err
	}
	return volgreeks.New(q.greeks, st.Surface, st.Vols), st.Snapshot, nil
}
