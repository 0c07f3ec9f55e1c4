package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"VolSurf/internal/domain/models"
	icache "VolSurf/internal/service/cache"
	applogger "VolSurf/pkg/logger"
	"VolSurf/pkg/queue"
)

const (
	CalibrateJobType = "calibrate_surface"

	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// CalibrateJobPayload is the queued form of a calibration request.
type CalibrateJobPayload struct {
	ID       string                   `json:"id"`
	Snapshot models.MarketSnapshot    `json:"snapshot"`
	Quotes   []models.OptionQuote     `json:"quotes"`
	Config   models.CalibrationConfig `json:"config"`
}

// JobStatus is what the status endpoint returns.
type JobStatus struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Report    *models.Report `json:"report,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// JobTracker persists job status with a TTL so finished jobs age out.
type JobTracker struct {
	cache icache.BytesCache
	ttl   time.Duration
}

func NewJobTracker(cache icache.BytesCache, ttl time.Duration) *JobTracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JobTracker{cache: cache, ttl: ttl}
}

func (t *JobTracker) Set(id, status, errMsg string, report *models.Report) {
	b, err := json.Marshal(&JobStatus{
		ID:        id,
		Status:    status,
		Error:     errMsg,
		Report:    report,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return
	}
	_ = t.cache.SetBytes(t.key(id), b, t.ttl)
}

func (t *JobTracker) Get(id string) (*JobStatus, error) {
	b, ok, err := t.cache.GetBytes(t.key(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("usecase: unknown job %s", id)
	}
	var st JobStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (t *JobTracker) key(id string) string { return "job:" + id }

// CalibrateJob runs queued calibrations on the worker pool.
type CalibrateJob struct {
	cal     *Calibration
	tracker *JobTracker
	logger  *applogger.Logger
}

func NewCalibrateJob(cal *Calibration, tracker *JobTracker, logger *applogger.Logger) *CalibrateJob {
	return &CalibrateJob{cal: cal, tracker: tracker, logger: logger}
}

func (j *CalibrateJob) Name() string { return "calibrate_surface_job" }
func (j *CalibrateJob) Type() string { return CalibrateJobType }

func (j *CalibrateJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[CalibrateJobPayload](payload)
	if err != nil {
		return fmt.Errorf("calibrate job payload: %w", err)
	}

	j.tracker.Set(p.ID, JobStatusRunning, "", nil)

	quotes := make([]*models.OptionQuote, len(p.Quotes))
	for i := range p.Quotes {
		quotes[i] = &p.Quotes[i]
	}
	cfg := p.Config
	report, err := j.cal.Calibrate(ctx, &p.Snapshot, quotes, &cfg)
	if err != nil {
		j.tracker.Set(p.ID, JobStatusFailed, err.Error(), report)
		j.logger.Error("queued calibration failed",
			applogger.String("job_id", p.ID),
			applogger.String("underlying", p.Snapshot.Underlying),
			applogger.Error(err),
		)
		return err
	}

	j.tracker.Set(p.ID, JobStatusDone, "", report)
	return nil
}

var _ queue.Job = (*CalibrateJob)(nil)
