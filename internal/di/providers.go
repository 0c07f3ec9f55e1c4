package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"VolSurf/internal/domain/models"
	"VolSurf/internal/domain/repository"
	domsvc "VolSurf/internal/domain/service"
	"VolSurf/internal/handler/api"
	mid "VolSurf/internal/middleware"
	internalrepo "VolSurf/internal/repository"
	icache "VolSurf/internal/service/cache"
	"VolSurf/internal/usecase"
	"VolSurf/internal/vol/solver"
	"VolSurf/internal/vol/svi"
	pkgcache "VolSurf/pkg/cache"
	"VolSurf/pkg/config"
	xhttp "VolSurf/pkg/http"
	pkgkafka "VolSurf/pkg/kafka"
	applogger "VolSurf/pkg/logger"
	"VolSurf/pkg/metrics"
	"VolSurf/pkg/queue"
	"VolSurf/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideSolver creates the implied vol solver.
func ProvideSolver() domsvc.ImpliedVolSolver {
	return solver.New()
}

// ProvideCalibrator creates the slice calibrator.
func ProvideCalibrator() domsvc.SliceCalibrator {
	return svi.NewCalibrator()
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideSurfacePublisher creates the surface-updated event publisher.
func ProvideSurfacePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil || cfg.Kafka.EventsTopic == "" {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.EventsTopic)
}

// ProvideRedisCache creates the shared redis-backed cache, or nil.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, nil
	}
	host, port := splitAddr(cfg.Cache.Redis.Addr)
	return pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Cache.Redis.Password),
		pkgcache.WithRedisDB(cfg.Cache.Redis.DB),
	)
}

func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// ProvideReportStore exposes report persistence: layered over redis when
// available, memory-only otherwise.
func ProvideReportStore(rc *pkgcache.RedisCache) pkgcache.Service {
	if rc != nil {
		return pkgcache.NewLayeredCache(rc)
	}
	return pkgcache.NewMemoryCache()
}

// ProvideBytesCache creates the HTTP response cache.
func ProvideBytesCache(cfg *config.Config) icache.BytesCache {
	if cfg.Cache.Redis.Enabled {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// ProvideCalibration creates the calibration orchestrator.
func ProvideCalibration(
	slv domsvc.ImpliedVolSolver,
	fitter domsvc.SliceCalibrator,
	pub repository.Publisher,
	m repository.Metrics,
	l *applogger.Logger,
	reports pkgcache.Service,
) *usecase.Calibration {
	cal := usecase.NewCalibration(slv, fitter, pub, m, l)
	cal.SetReportStore(reports)
	return cal
}

// ProvideSurfaceQuery creates the surface read side.
func ProvideSurfaceQuery(cal *usecase.Calibration) *usecase.SurfaceQuery {
	return usecase.NewSurfaceQuery(cal)
}

// ProvidePipeline builds the throttled recalibration pipeline.
func ProvidePipeline(cal *usecase.Calibration, m repository.Metrics, cfg *config.Config) *mid.SnapshotPipeline {
	baseline := models.CalibrationConfig{
		MultiStartCount: cfg.Calibration.MultiStartCount,
		Lambda:          cfg.Calibration.Lambda,
		Seed:            cfg.Calibration.Seed,
		SolverTolerance: cfg.Calibration.SolverTolerance,
		SolverMaxIter:   cfg.Calibration.SolverMaxIter,
		MinVolume:       cfg.Calibration.MinVolume,
		MinSliceQuotes:  cfg.Calibration.MinSliceQuotes,
		Source:          cfg.Calibration.Source,
	}
	proc := usecase.NewSnapshotProcessor(cal, baseline)
	opts := []mid.PipelineOption{}
	if cfg.Calibration.MinInterval > 0 {
		opts = append(opts, mid.WithMinInterval(cfg.Calibration.MinInterval))
	}
	return mid.NewSnapshotPipeline(proc, m, opts...)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NoopHook{})
	return consumer, nil
}

// ProvideSnapshotsHandler registers the intake handler for the snapshot topic.
func ProvideSnapshotsHandler(pipeline *mid.SnapshotPipeline, m repository.Metrics, cfg *config.Config) *usecase.KafkaSnapshotsHandler {
	if cfg.Kafka.Topic == "" {
		return nil
	}
	return usecase.NewKafkaSnapshotsHandler(cfg.Kafka.Topic, pipeline, m)
}

// ProvideJobTracker creates the async job status store.
func ProvideJobTracker(bc icache.BytesCache, cfg *config.Config) *usecase.JobTracker {
	return usecase.NewJobTracker(bc, cfg.Queue.JobTTL)
}

// ProvideJobQueue creates the redis-backed worker queue, or nil when off.
func ProvideJobQueue(
	cfg *config.Config,
	l *applogger.Logger,
	rc *pkgcache.RedisCache,
	cal *usecase.Calibration,
	tracker *usecase.JobTracker,
) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	qcfg := &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: 1,
		RetryDelay: 5 * time.Second,
	}
	q := queue.NewRedisQueue(l, qcfg, rc.Client(), queue.ModeProducerConsumer,
		queue.WithKeyPrefix("volsurf:queue"))
	q.RegisterJob(usecase.NewCalibrateJob(cal, tracker, l))
	return q
}

// ProvideHTTPHandler creates the surface API handler.
func ProvideHTTPHandler(
	l *applogger.Logger,
	cal *usecase.Calibration,
	query *usecase.SurfaceQuery,
	bc icache.BytesCache,
	jobQueue *queue.RedisQueue,
	tracker *usecase.JobTracker,
	cfg *config.Config,
) xhttp.Handler {
	h := api.NewSurfaceHandler(l, cal, query)
	h.SetCache(bc, cfg.Cache.GridTTL)
	if jobQueue != nil {
		h.SetQueue(jobQueue, tracker)
	}
	return h
}

// logTopicPublisher adapts the Kafka producer to the log collector's
// Publisher interface.
type logTopicPublisher struct {
	producer *pkgkafka.Producer
}

func (p logTopicPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler xhttp.Handler,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaSnapshotsHandler,
	pipeline *mid.SnapshotPipeline,
	jobQueue *queue.RedisQueue,
	pub repository.Publisher,
) *server.App {
	if producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          "volsurf.error-logs",
			Publisher:      logTopicPublisher{producer: producer},
		})
	}

	var mh pkgkafka.MessageHandler
	if kh != nil {
		mh = kh
	}
	app := server.New(cfg, l, handler, consumer, mh, pipeline, jobQueue)
	if pub != nil {
		app.AddCloser(pub.Close)
	}
	if producer != nil {
		app.AddCloser(func() error {
			l.RemoveCollector()
			return nil
		})
	}
	return app
}
