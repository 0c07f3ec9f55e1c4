package usecase

import (
	"context"

	"VolSurf/internal/domain/models"
)

// SnapshotProcessor turns intake batches into calibration runs using a fixed
// baseline config. Implements the pipeline's downstream side.
type SnapshotProcessor struct {
	cal *Calibration
	cfg models.CalibrationConfig
}

func NewSnapshotProcessor(cal *Calibration, cfg models.CalibrationConfig) *SnapshotProcessor {
	cfg.Defaults()
	return &SnapshotProcessor{cal: cal, cfg: cfg}
}

// Process recalibrates the batch's underlying. The config is copied per run
// so concurrent batches cannot share mutable settings.
func (p *SnapshotProcessor) Process(ctx context.Context, b *models.SnapshotBatch) error {
	quotes := make([]*models.OptionQuote, len(b.Quotes))
	for i := range b.Quotes {
		quotes[i] = &b.Quotes[i]
	}
	cfg := p.cfg
	_, err := p.cal.Calibrate(ctx, &b.Snapshot, quotes, &cfg)
	return err
}
