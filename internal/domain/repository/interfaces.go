package repository

import (
	"context"

	"VolSurf/internal/domain/models"
)

// Publisher announces surface updates to downstream consumers.
type Publisher interface {
	PublishSurfaceUpdated(ctx context.Context, underlying string, report *models.Report) error
	Close() error
}

// Metrics abstracts the Prometheus recorder from domain code.
type Metrics interface {
	RecordSolve(underlying, result string)
	RecordSliceFit(underlying, result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSliceCount(underlying string, n int)
	RecordThrottle(underlying string)
}
