package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"VolSurf/internal/domain/models"
	domrepo "VolSurf/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, b *models.SnapshotBatch) error
}

// SnapshotPipeline sits between the streaming feed and the calibration run.
// It validates batches, throttles per-underlying recalibration, and coalesces
// bursts: when a newer snapshot for the same underlying arrives while an
// older one waits, the older one is superseded.
type SnapshotPipeline struct {
	proc        Proc
	metrics     domrepo.Metrics
	minInterval time.Duration

	mu       sync.Mutex
	lastRun  map[string]time.Time
	pending  map[string]*models.SnapshotBatch
	wake     chan struct{}
	stopCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

type PipelineOption func(*SnapshotPipeline)

// WithMinInterval sets the minimum spacing between recalibrations of the
// same underlying.
func WithMinInterval(d time.Duration) PipelineOption {
	return func(p *SnapshotPipeline) {
		if d > 0 {
			p.minInterval = d
		}
	}
}

// NewSnapshotPipeline creates a new pipeline.
func NewSnapshotPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *SnapshotPipeline {
	p := &SnapshotPipeline{
		proc:        proc,
		metrics:     metrics,
		minInterval: 5 * time.Second, // default spacing per underlying
		lastRun:     make(map[string]time.Time),
		pending:     make(map[string]*models.SnapshotBatch),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background drain of deferred snapshots.
func (p *SnapshotPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.minInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-p.wake:
			case <-ticker.C:
			}
			p.drain(ctx)
		}
	}()
}

// Stop stops the background drain.
func (p *SnapshotPipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Process validates and either runs the batch now or parks it as the pending
// batch for its underlying.
func (p *SnapshotPipeline) Process(ctx context.Context, b *models.SnapshotBatch) error {
	if err := validateBatch(b); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	name := b.Snapshot.Underlying
	now := time.Now()

	p.mu.Lock()
	last := p.lastRun[name]
	if !last.IsZero() && now.Sub(last) < p.minInterval {
		// too soon; keep only the newest waiting batch
		if old, ok := p.pending[name]; ok && old.Snapshot.Timestamp.After(b.Snapshot.Timestamp) {
			p.mu.Unlock()
			return nil
		}
		p.pending[name] = b
		p.mu.Unlock()
		p.metrics.RecordThrottle(name)
		return nil
	}
	p.lastRun[name] = now
	p.mu.Unlock()

	start := time.Now()
	if err := p.proc.Process(ctx, b); err != nil {
		p.metrics.RecordError("pipeline_process")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// drain runs every pending batch whose throttle window has elapsed.
func (p *SnapshotPipeline) drain(ctx context.Context) {
	now := time.Now()
	var due []*models.SnapshotBatch

	p.mu.Lock()
	for name, b := range p.pending {
		if now.Sub(p.lastRun[name]) >= p.minInterval {
			due = append(due, b)
			p.lastRun[name] = now
			delete(p.pending, name)
		}
	}
	p.mu.Unlock()

	for _, b := range due {
		if err := p.proc.Process(ctx, b); err != nil {
			p.metrics.RecordError("pipeline_flush")
		}
	}
}

func validateBatch(b *models.SnapshotBatch) error {
	if b == nil {
		return fmt.Errorf("batch nil")
	}
	if b.Snapshot.Underlying == "" {
		return fmt.Errorf("underlying empty")
	}
	if b.Snapshot.Spot <= 0 {
		return fmt.Errorf("spot must be positive")
	}
	if b.Snapshot.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	if len(b.Quotes) == 0 {
		return fmt.Errorf("no quotes")
	}
	return nil
}
