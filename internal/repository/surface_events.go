package repository

import (
	"context"
	"time"

	"VolSurf/internal/domain/models"
	"VolSurf/internal/domain/repository"
	pkgkafka "VolSurf/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka surface-updated events.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// PublishSurfaceUpdated emits a compact event; downstream consumers that
// want the full fit re-query the HTTP API.
func (p *KafkaPublisher) PublishSurfaceUpdated(ctx context.Context, underlying string, report *models.Report) error {
	return p.producer.Publish(ctx, p.topic, []byte(underlying), map[string]interface{}{
		"underlying": underlying,
		"timestamp":  report.Timestamp.Format(time.RFC3339Nano),
		"quotes_in":  report.QuotesIn,
		"quotes_fit": report.QuotesFit,
		"slices":     len(report.Slices),
		"skipped":    len(report.SkippedSlices),
		"elapsed_ms": report.Elapsed.Milliseconds(),
	})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
