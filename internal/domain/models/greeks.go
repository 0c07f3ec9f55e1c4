package models

// VolSource selects where Greeks evaluation takes its volatility from.
type VolSource string

const (
	// VolSourceRaw uses the implied vol of the nearest market quote.
	VolSourceRaw VolSource = "raw"
	// VolSourceSVI uses the fitted surface's total variance.
	VolSourceSVI VolSource = "svi"
)

// GreekSet holds all sensitivities at one (K, T) point.
// Purely derived; recomputed on demand.
type GreekSet struct {
	Strike float64    `json:"strike"`
	T      float64    `json:"t"`
	Type   OptionType `json:"type"`
	Vol    float64    `json:"vol"`

	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`

	Vanna float64 `json:"vanna"`
	Volga float64 `json:"volga"`
	Charm float64 `json:"charm"`
	Speed float64 `json:"speed"`
}
