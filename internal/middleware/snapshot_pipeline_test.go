package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"VolSurf/internal/domain/models"
)

type recordingProc struct {
	mu      sync.Mutex
	batches []*models.SnapshotBatch
}

func (p *recordingProc) Process(_ context.Context, b *models.SnapshotBatch) error {
	p.mu.Lock()
	p.batches = append(p.batches, b)
	p.mu.Unlock()
	return nil
}

func (p *recordingProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func (p *recordingProc) last() *models.SnapshotBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.batches) == 0 {
		return nil
	}
	return p.batches[len(p.batches)-1]
}

type countingMetrics struct {
	mu        sync.Mutex
	errors    map[string]int
	throttles map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: make(map[string]int), throttles: make(map[string]int)}
}

func (m *countingMetrics) RecordSolve(string, string)    {}
func (m *countingMetrics) RecordSliceFit(string, string) {}
func (m *countingMetrics) RecordLatency(string, float64) {}
func (m *countingMetrics) RecordSliceCount(string, int)  {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordThrottle(underlying string) {
	m.mu.Lock()
	m.throttles[underlying]++
	m.mu.Unlock()
}

func (m *countingMetrics) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.errors {
		n += c
	}
	return n
}

func (m *countingMetrics) throttleCount(underlying string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttles[underlying]
}

func testBatch(underlying string, ts time.Time) *models.SnapshotBatch {
	return &models.SnapshotBatch{
		Snapshot: models.MarketSnapshot{
			Underlying: underlying,
			Spot:       100,
			Timestamp:  ts,
		},
		Quotes: []models.OptionQuote{
			{Strike: 100, T: 0.25, Type: models.Call, Bid: 4, Ask: 4.2},
		},
	}
}

func TestPipelineRunsFirstBatchImmediately(t *testing.T) {
	proc := &recordingProc{}
	p := NewSnapshotPipeline(proc, newCountingMetrics(), WithMinInterval(time.Hour))

	if err := p.Process(context.Background(), testBatch("ACME", time.Now())); err != nil {
		t.Fatalf("process: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("proc calls = %d, want 1", proc.count())
	}
}

func TestPipelineThrottlesWithinInterval(t *testing.T) {
	proc := &recordingProc{}
	m := newCountingMetrics()
	p := NewSnapshotPipeline(proc, m, WithMinInterval(time.Hour))

	now := time.Now()
	if err := p.Process(context.Background(), testBatch("ACME", now)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Process(context.Background(), testBatch("ACME", now.Add(time.Second))); err != nil {
		t.Fatalf("throttled process should not error: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("proc calls = %d, want 1 (second batch parked)", proc.count())
	}
	if got := m.throttleCount("ACME"); got != 1 {
		t.Fatalf("throttle count = %d, want 1", got)
	}
	// deferring a batch is normal operation, not an error
	if got := m.errorCount(); got != 0 {
		t.Fatalf("error count = %d, want 0", got)
	}
}

func TestPipelineIndependentUnderlyings(t *testing.T) {
	proc := &recordingProc{}
	p := NewSnapshotPipeline(proc, newCountingMetrics(), WithMinInterval(time.Hour))

	now := time.Now()
	_ = p.Process(context.Background(), testBatch("ACME", now))
	_ = p.Process(context.Background(), testBatch("ZETA", now))
	if proc.count() != 2 {
		t.Fatalf("proc calls = %d, want 2", proc.count())
	}
}

func TestPipelineCoalescesToNewest(t *testing.T) {
	proc := &recordingProc{}
	p := NewSnapshotPipeline(proc, newCountingMetrics(), WithMinInterval(50*time.Millisecond))

	ctx := context.Background()
	base := time.Now()
	_ = p.Process(ctx, testBatch("ACME", base))

	newest := testBatch("ACME", base.Add(2*time.Second))
	_ = p.Process(ctx, newest)
	// older than the parked batch, must be dropped
	_ = p.Process(ctx, testBatch("ACME", base.Add(time.Second)))

	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pending batch never drained, proc calls = %d", proc.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := proc.last(); !got.Snapshot.Timestamp.Equal(newest.Snapshot.Timestamp) {
		t.Fatalf("drained batch timestamp = %v, want newest %v", got.Snapshot.Timestamp, newest.Snapshot.Timestamp)
	}
}

func TestPipelineValidation(t *testing.T) {
	proc := &recordingProc{}
	p := NewSnapshotPipeline(proc, newCountingMetrics())

	cases := []*models.SnapshotBatch{
		nil,
		{Snapshot: models.MarketSnapshot{Spot: 100, Timestamp: time.Now()}},
		{Snapshot: models.MarketSnapshot{Underlying: "ACME", Timestamp: time.Now()}},
		{Snapshot: models.MarketSnapshot{Underlying: "ACME", Spot: 100}},
		{Snapshot: models.MarketSnapshot{Underlying: "ACME", Spot: 100, Timestamp: time.Now()}},
	}
	for i, b := range cases {
		if err := p.Process(context.Background(), b); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if proc.count() != 0 {
		t.Fatalf("invalid batches reached the processor")
	}
}
