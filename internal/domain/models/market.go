package models

import (
	"math"
	"time"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// MarketSnapshot holds the underlying state for one calibration run.
// Immutable once constructed.
type MarketSnapshot struct {
	Underlying string    `json:"underlying"`
	Spot       float64   `json:"spot"`
	Rate       float64   `json:"rate"`
	Yield      float64   `json:"yield"`
	Timestamp  time.Time `json:"timestamp"`
}

// Forward returns the forward price for maturity T (years).
func (s *MarketSnapshot) Forward(T float64) float64 {
	return s.Spot * math.Exp((s.Rate-s.Yield)*T)
}

// OptionQuote is a single observed option price. Feeds may carry either a
// year fraction T or an expiry date; a zero T with a set Expiry is resolved
// against the snapshot timestamp at intake.
type OptionQuote struct {
	Strike float64    `json:"strike"`
	T      float64    `json:"t"` // years to expiry
	Expiry time.Time  `json:"expiry,omitempty"`
	Type   OptionType `json:"type"`
	Bid    float64    `json:"bid"`
	Ask    float64    `json:"ask"`
	Volume float64    `json:"volume,omitempty"`
	Weight float64    `json:"weight,omitempty"` // optional fit weight; 0 means uniform
}

// Mid returns the mid price, falling back to whichever side is present.
func (q *OptionQuote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Ask > 0:
		return q.Ask
	default:
		return q.Bid
	}
}

// Crossed reports whether the quote's bid exceeds its ask.
func (q *OptionQuote) Crossed() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Bid > q.Ask
}

// SnapshotBatch is one intake unit: a snapshot paired with its option chain.
// This is the wire schema of the streaming feed.
type SnapshotBatch struct {
	Snapshot MarketSnapshot `json:"snapshot"`
	Quotes   []OptionQuote  `json:"quotes"`
}

// ImpliedVol is a quote inverted into Black-Scholes volatility space.
// Derived data: recomputed whenever the source quote or snapshot changes.
type ImpliedVol struct {
	Strike       float64    `json:"strike"`
	T            float64    `json:"t"`
	Type         OptionType `json:"type"`
	Vol          float64    `json:"vol"`
	LogMoneyness float64    `json:"log_moneyness"` // ln(K / forward)
	TotalVar     float64    `json:"total_variance"`
	Weight       float64    `json:"weight,omitempty"`
}

// NewImpliedVol derives the vol-space record for a solved quote.
func NewImpliedVol(snap *MarketSnapshot, q *OptionQuote, sigma float64) ImpliedVol {
	return ImpliedVol{
		Strike:       q.Strike,
		T:            q.T,
		Type:         q.Type,
		Vol:          sigma,
		LogMoneyness: math.Log(q.Strike / snap.Forward(q.T)),
		TotalVar:     sigma * sigma * q.T,
		Weight:       q.Weight,
	}
}
