package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"VolSurf/internal/domain/models"
	icache "VolSurf/internal/service/cache"
)

func TestJobTrackerLifecycle(t *testing.T) {
	tracker := NewJobTracker(icache.NewTTLCache(), time.Minute)

	if _, err := tracker.Get("missing"); err == nil {
		t.Fatalf("expected error for unknown job")
	}

	tracker.Set("job-1", JobStatusQueued, "", nil)
	st, err := tracker.Get("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Status != JobStatusQueued || st.ID != "job-1" {
		t.Fatalf("status = %+v", st)
	}

	tracker.Set("job-1", JobStatusFailed, "no usable slices", nil)
	st, err = tracker.Get("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Status != JobStatusFailed || st.Error != "no usable slices" {
		t.Fatalf("status = %+v", st)
	}
}

func TestCalibrateJobHandle(t *testing.T) {
	cal, _, _ := newTestCalibration(t)
	tracker := NewJobTracker(icache.NewTTLCache(), time.Minute)
	job := NewCalibrateJob(cal, tracker, testLogger(t))

	if job.Type() != CalibrateJobType {
		t.Fatalf("job type = %s", job.Type())
	}

	snap := testSnapshot()
	ptrs := chainQuotes(snap, []float64{0.25})
	quotes := make([]models.OptionQuote, len(ptrs))
	for i, q := range ptrs {
		quotes[i] = *q
	}
	payload := CalibrateJobPayload{
		ID:       "job-acme",
		Snapshot: *snap,
		Quotes:   quotes,
		Config:   *testConfig(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if err := job.Handle(context.Background(), generic); err != nil {
		t.Fatalf("handle: %v", err)
	}

	st, err := tracker.Get("job-acme")
	if err != nil {
		t.Fatalf("tracker get: %v", err)
	}
	if st.Status != JobStatusDone {
		t.Fatalf("status = %s, want done", st.Status)
	}
	if st.Report == nil || len(st.Report.Slices) != 1 {
		t.Fatalf("report missing from done status: %+v", st.Report)
	}

	if _, err := cal.State("ACME"); err != nil {
		t.Fatalf("surface not stored after job: %v", err)
	}
}
