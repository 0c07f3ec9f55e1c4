package pricing

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"VolSurf/internal/domain/models"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Phi is the standard normal CDF.
func Phi(x float64) float64 { return stdNormal.CDF(x) }

// Pdf is the standard normal density.
func Pdf(x float64) float64 { return stdNormal.Prob(x) }

// D1 computes the Black-Scholes d1 term.
func D1(S, K, T, r, q, sigma float64) float64 {
	return (math.Log(S/K) + (r-q+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
}

// Price returns the Black-Scholes price of a European option with continuous
// dividend yield q.
func Price(S, K, T, r, q, sigma float64, typ models.OptionType) float64 {
	if sigma <= 0 || T <= 0 {
		return intrinsicForward(S, K, T, r, q, typ)
	}
	d1 := D1(S, K, T, r, q, sigma)
	d2 := d1 - sigma*math.Sqrt(T)
	dfq := math.Exp(-q * T)
	dfr := math.Exp(-r * T)
	if typ == models.Call {
		return S*dfq*Phi(d1) - K*dfr*Phi(d2)
	}
	return K*dfr*Phi(-d2) - S*dfq*Phi(-d1)
}

// Vega returns the Black-Scholes vega (per unit of volatility).
func Vega(S, K, T, r, q, sigma float64) float64 {
	if sigma <= 0 || T <= 0 {
		return 0
	}
	d1 := D1(S, K, T, r, q, sigma)
	return S * math.Exp(-q*T) * Pdf(d1) * math.Sqrt(T)
}

// Bounds returns the arbitrage-free price band [lo, hi] for the option.
// Quotes outside the band have no implied volatility.
func Bounds(S, K, T, r, q float64, typ models.OptionType) (lo, hi float64) {
	dfq := math.Exp(-q * T)
	dfr := math.Exp(-r * T)
	if typ == models.Call {
		return math.Max(0, S*dfq-K*dfr), S * dfq
	}
	return math.Max(0, K*dfr-S*dfq), K * dfr
}

// intrinsicForward is the zero-vol limit of the Black-Scholes price.
func intrinsicForward(S, K, T, r, q float64, typ models.OptionType) float64 {
	dfq := math.Exp(-q * T)
	dfr := math.Exp(-r * T)
	if typ == models.Call {
		return math.Max(0, S*dfq-K*dfr)
	}
	return math.Max(0, K*dfr-S*dfq)
}
