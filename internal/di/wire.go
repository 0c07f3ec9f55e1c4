//go:build wireinject
// +build wireinject

package di

import (
	"VolSurf/pkg/config"
	"VolSurf/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Numerical services
		ProvideSolver,
		ProvideCalibrator,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideReportStore,
		ProvideBytesCache,

		// Event publishing
		ProvideSurfacePublisher,

		// Use cases
		ProvideCalibration,
		ProvideSurfaceQuery,
		ProvidePipeline,

		// Intake
		ProvideKafkaConsumer,
		ProvideSnapshotsHandler,

		// Async jobs
		ProvideJobTracker,
		ProvideJobQueue,

		// HTTP
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
