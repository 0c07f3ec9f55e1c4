// Package svi implements the raw-SVI total variance model and its
// regularized multi-start calibration.
package svi

import (
	"math"

	"VolSurf/internal/domain/models"
)

// TotalVariance evaluates w(k) = a + b(ρ(k−m) + √((k−m)² + σ²)).
func TotalVariance(p models.SVIParams, k float64) float64 {
	km := k - p.M
	return p.A + p.B*(p.Rho*km+math.Sqrt(km*km+p.Sigma*p.Sigma))
}

// MinVariance is the minimum of the slice: a + bσ√(1−ρ²).
func MinVariance(p models.SVIParams) float64 {
	return p.A + p.B*p.Sigma*math.Sqrt(1-p.Rho*p.Rho)
}

// Admissible reports whether the slice passes the static no-arbitrage
// constraints for maturity T: b(1+|ρ|) ≤ 4/T and non-negative minimum
// variance.
func Admissible(p models.SVIParams, T float64) bool {
	const slack = 1e-9
	if p.B < 0 || p.Sigma <= 0 || math.Abs(p.Rho) >= 1 {
		return false
	}
	if p.B*(1+math.Abs(p.Rho)) > 4/T+slack {
		return false
	}
	return MinVariance(p) >= -slack
}

// Roughness is the regularization term b² + σ²; smaller is smoother.
// Also the tie-break key in candidate selection.
func Roughness(p models.SVIParams) float64 {
	return p.B*p.B + p.Sigma*p.Sigma
}

// Objective is the weighted sum of squared total-variance residuals plus the
// regularization penalty λ·(b² + σ²).
func Objective(p models.SVIParams, ks, ws, weights []float64, lambda float64) float64 {
	var sum float64
	for i, k := range ks {
		r := TotalVariance(p, k) - ws[i]
		w := 1.0
		if weights != nil && weights[i] > 0 {
			w = weights[i]
		}
		sum += w * r * r
	}
	return sum + lambda*Roughness(p)
}
