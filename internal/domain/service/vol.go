package service

import (
	"context"

	"VolSurf/internal/domain/models"
)

// ImpliedVolSolver inverts option prices into Black-Scholes volatilities.
type ImpliedVolSolver interface {
	Solve(snap *models.MarketSnapshot, q *models.OptionQuote, tol float64, maxIter int) (float64, error)
	SolveBatch(ctx context.Context, snap *models.MarketSnapshot, quotes []*models.OptionQuote, tol float64, maxIter int) []SolveResult
}

// SolveResult pairs a quote index with its outcome.
type SolveResult struct {
	Index int
	Vol   float64
	Err   error
}

// SliceCalibrator fits one SVI parameter set to a single maturity's smile.
type SliceCalibrator interface {
	Calibrate(ctx context.Context, vols []models.ImpliedVol, T float64, cfg *models.CalibrationConfig) (*models.SVISlice, error)
}

// Surface is the continuous fitted surface over (strike, maturity).
type Surface interface {
	TotalVariance(K, T float64) (float64, error)
	ImpliedVol(K, T float64) (float64, error)
	SampleGrid(resolution int, strikeRange float64) ([]models.GridPoint, error)
	Slices() []models.SVISlice
}

// GreeksEngine evaluates sensitivities at arbitrary (K, T) points.
type GreeksEngine interface {
	Greeks(snap *models.MarketSnapshot, K, T float64, typ models.OptionType, mode models.VolSource) (*models.GreekSet, error)
	GreeksBatch(ctx context.Context, snap *models.MarketSnapshot, Ks, Ts []float64, typ models.OptionType, mode models.VolSource) ([]*models.GreekSet, error)
}
