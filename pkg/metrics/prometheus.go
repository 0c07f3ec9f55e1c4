package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	solves      *prometheus.CounterVec
	sliceFits   *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	sliceCount  *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
	throttled   *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		solves: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurf_solves_total",
				Help: "Total number of implied vol inversions by outcome",
			},
			[]string{"underlying", "result"},
		),
		sliceFits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurf_slice_fits_total",
				Help: "Total number of per-maturity calibrations by outcome",
			},
			[]string{"underlying", "result"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurf_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		sliceCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volsurf_surface_slices",
				Help: "Number of calibrated maturities on the current surface",
			},
			[]string{"underlying"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "volsurf_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		throttled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurf_pipeline_throttled_total",
				Help: "Total number of snapshot batches deferred by the recalibration throttle",
			},
			[]string{"underlying"},
		),
	}
}

// RecordSolve records one implied vol inversion outcome.
func (r *Recorder) RecordSolve(underlying, result string) {
	r.solves.WithLabelValues(underlying, result).Inc()
}

// RecordSliceFit records one per-maturity calibration outcome.
func (r *Recorder) RecordSliceFit(underlying, result string) {
	r.sliceFits.WithLabelValues(underlying, result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordSliceCount records the slice population of a published surface.
func (r *Recorder) RecordSliceCount(underlying string, n int) {
	r.sliceCount.WithLabelValues(underlying).Set(float64(n))
}

// RecordThrottle records a snapshot batch deferred by the throttle.
func (r *Recorder) RecordThrottle(underlying string) {
	r.throttled.WithLabelValues(underlying).Inc()
}
