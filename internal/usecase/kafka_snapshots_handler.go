package usecase

import (
	"context"
	"encoding/json"
	"time"

	"VolSurf/internal/domain/models"
	domrepo "VolSurf/internal/domain/repository"
	"VolSurf/internal/middleware"
	pkgkafka "VolSurf/pkg/kafka"
)

// KafkaSnapshotsHandler consumes snapshot batches from Kafka and feeds them
// through the recalibration pipeline.
type KafkaSnapshotsHandler struct {
	topic    string
	pipeline *middleware.SnapshotPipeline
	metrics  domrepo.Metrics
}

func NewKafkaSnapshotsHandler(topic string, pipeline *middleware.SnapshotPipeline, metrics domrepo.Metrics) *KafkaSnapshotsHandler {
	return &KafkaSnapshotsHandler{topic: topic, pipeline: pipeline, metrics: metrics}
}

func (h *KafkaSnapshotsHandler) Topic() string { return h.topic }

// incoming message schema: models.SnapshotBatch as JSON
func (h *KafkaSnapshotsHandler) Handle(ctx context.Context, b []byte) error {
	var batch models.SnapshotBatch
	if err := json.Unmarshal(b, &batch); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}

	// E2E latency from snapshot time to now (approx)
	if !batch.Snapshot.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(batch.Snapshot.Timestamp).Seconds())
	}

	if err := h.pipeline.Process(ctx, &batch); err != nil {
		h.metrics.RecordError("consumer_process")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaSnapshotsHandler)(nil)
