package models

import "time"

// SVIParams is one raw-SVI parameter set: w(k) = a + b(ρ(k−m) + √((k−m)²+σ²)).
type SVIParams struct {
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	Rho   float64 `json:"rho"`
	M     float64 `json:"m"`
	Sigma float64 `json:"sigma"`
}

// SVISlice is a calibrated parameter set for a single maturity plus the
// diagnostics of the fit that produced it. Immutable once emitted.
type SVISlice struct {
	Params     SVIParams `json:"params"`
	T          float64   `json:"t"`
	Forward    float64   `json:"forward"`
	Objective  float64   `json:"objective"`
	Converged  bool      `json:"converged"`
	Iterations int       `json:"iterations"`
	StartIndex int       `json:"start_index"` // which multi-start seed won
	NumQuotes  int       `json:"num_quotes"`
}

// InterpRule names the cross-maturity interpolation applied by the assembler.
type InterpRule string

const (
	// InterpLinearTotalVar interpolates total variance linearly in T at
	// matched log-moneyness, with flat extrapolation beyond the calibrated
	// range. This is an assumption, not given by the source data; it is
	// surfaced so rendering collaborators can display it.
	InterpLinearTotalVar InterpRule = "linear_total_variance"
)

// CalibrationConfig carries the per-call settings for a calibration run.
// Always passed explicitly; never process-wide state.
type CalibrationConfig struct {
	MultiStartCount int     `json:"multi_start_count"`
	Lambda          float64 `json:"lambda"` // regularization weight on b² + σ²
	Seed            int64   `json:"seed"`
	SolverTolerance float64 `json:"solver_tolerance"`
	SolverMaxIter   int     `json:"solver_max_iter"`
	MinStrike       float64 `json:"min_strike,omitempty"`
	MaxStrike       float64 `json:"max_strike,omitempty"`
	MinVolume       float64 `json:"min_volume,omitempty"`
	MinSliceQuotes  int     `json:"min_slice_quotes"`
	Source          string  `json:"source"` // "calls", "puts", or "both"

	// Bounds overrides the data-driven parameter box when non-nil.
	Bounds *ParamBounds `json:"bounds,omitempty"`
}

// ParamBounds is the box the multi-start seeds and the optimizer operate in.
// Zero-valued fields are replaced with data-driven scales.
type ParamBounds struct {
	AMin     float64 `json:"a_min"`
	AMax     float64 `json:"a_max"`
	BMax     float64 `json:"b_max"`
	RhoMax   float64 `json:"rho_max"` // cap on |rho|, < 1
	MMin     float64 `json:"m_min"`
	MMax     float64 `json:"m_max"`
	SigmaMin float64 `json:"sigma_min"`
	SigmaMax float64 `json:"sigma_max"`
}

// Defaults fills zero-valued fields with working settings.
func (c *CalibrationConfig) Defaults() {
	if c.MultiStartCount <= 0 {
		c.MultiStartCount = 8
	}
	if c.SolverTolerance <= 0 {
		c.SolverTolerance = 1e-8
	}
	if c.SolverMaxIter <= 0 {
		c.SolverMaxIter = 100
	}
	if c.MinSliceQuotes <= 0 {
		c.MinSliceQuotes = 5
	}
	if c.Source == "" {
		c.Source = "both"
	}
}

// ExcludedQuote records why a quote did not make it into the fit.
type ExcludedQuote struct {
	Strike float64 `json:"strike"`
	T      float64 `json:"t"`
	Reason string  `json:"reason"`
}

// SkippedSlice records a maturity that produced no usable slice.
type SkippedSlice struct {
	T      float64 `json:"t"`
	Reason string  `json:"reason"`
}

// Report is the structured diagnostics attached to a calibration result.
// Per-quote and per-slice failures land here instead of aborting the run.
type Report struct {
	Underlying     string          `json:"underlying"`
	Timestamp      time.Time       `json:"timestamp"`
	QuotesIn       int             `json:"quotes_in"`
	QuotesFit      int             `json:"quotes_fit"`
	Slices         []SVISlice      `json:"slices"`
	ExcludedQuotes []ExcludedQuote `json:"excluded_quotes,omitempty"`
	SkippedSlices  []SkippedSlice  `json:"skipped_slices,omitempty"`
	Elapsed        time.Duration   `json:"elapsed_ns"`
}

// GridPoint is one sample of the smoothed surface, ready for plotting.
type GridPoint struct {
	Strike       float64 `json:"strike"`
	LogMoneyness float64 `json:"log_moneyness"`
	T            float64 `json:"t"`
	Vol          float64 `json:"vol"`
	TotalVar     float64 `json:"total_variance"`
}
