package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"VolSurf/internal/domain/models"
	"VolSurf/internal/vol/pricing"
	"VolSurf/internal/vol/solver"
	"VolSurf/internal/vol/svi"
	pkgcache "VolSurf/pkg/cache"
	applogger "VolSurf/pkg/logger"
)

type fakeMetrics struct {
	mu     sync.Mutex
	solves map[string]int
	fits   map[string]int
	errs   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		solves: make(map[string]int),
		fits:   make(map[string]int),
		errs:   make(map[string]int),
	}
}

func (m *fakeMetrics) RecordSolve(_, result string) {
	m.mu.Lock()
	m.solves[result]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordSliceFit(_, result string) {
	m.mu.Lock()
	m.fits[result]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errs[kind]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordLatency(string, float64) {}
func (m *fakeMetrics) RecordSliceCount(string, int)  {}
func (m *fakeMetrics) RecordThrottle(string)         {}

type fakePublisher struct {
	mu      sync.Mutex
	updates []string
}

func (p *fakePublisher) PublishSurfaceUpdated(_ context.Context, underlying string, _ *models.Report) error {
	p.mu.Lock()
	p.updates = append(p.updates, underlying)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func testSnapshot() *models.MarketSnapshot {
	return &models.MarketSnapshot{
		Underlying: "ACME",
		Spot:       100,
		Rate:       0.02,
		Yield:      0.0,
		Timestamp:  time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// chainQuotes prices a chain at flat vol 0.2 across the given maturities,
// OTM puts below spot and OTM calls at or above.
func chainQuotes(snap *models.MarketSnapshot, maturities []float64) []*models.OptionQuote {
	const vol = 0.2
	var quotes []*models.OptionQuote
	for _, T := range maturities {
		for K := 80.0; K <= 120.0; K += 5 {
			typ := models.Call
			if K < snap.Spot {
				typ = models.Put
			}
			price := pricing.Price(snap.Spot, K, T, snap.Rate, snap.Yield, vol, typ)
			quotes = append(quotes, &models.OptionQuote{
				Strike: K, T: T, Type: typ, Bid: price, Ask: price, Volume: 100,
			})
		}
	}
	return quotes
}

func testConfig() *models.CalibrationConfig {
	return &models.CalibrationConfig{
		MultiStartCount: 6,
		Lambda:          1e-3,
		Seed:            7,
		MinSliceQuotes:  5,
		Source:          "both",
	}
}

func newTestCalibration(t *testing.T) (*Calibration, *fakeMetrics, *fakePublisher) {
	t.Helper()
	m := newFakeMetrics()
	pub := &fakePublisher{}
	cal := NewCalibration(solver.New(), svi.NewCalibrator(), pub, m, testLogger(t))
	return cal, m, pub
}

func TestCalibrateBuildsSurface(t *testing.T) {
	cal, m, pub := newTestCalibration(t)
	snap := testSnapshot()
	quotes := chainQuotes(snap, []float64{0.25, 0.5})

	report, err := cal.Calibrate(context.Background(), snap, quotes, testConfig())
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if report.QuotesIn != len(quotes) {
		t.Fatalf("quotes_in = %d, want %d", report.QuotesIn, len(quotes))
	}
	if report.QuotesFit == 0 {
		t.Fatalf("no quotes fitted")
	}
	if got := len(report.Slices); got != 2 {
		t.Fatalf("slices = %d, want 2", got)
	}
	for _, sl := range report.Slices {
		want := snap.Forward(sl.T)
		if math.Abs(sl.Forward-want) > 1e-12 {
			t.Fatalf("slice forward = %g, want %g at T=%g", sl.Forward, want, sl.T)
		}
	}

	st, err := cal.State("ACME")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	vol, err := st.Surface.ImpliedVol(100, 0.25)
	if err != nil {
		t.Fatalf("implied vol: %v", err)
	}
	if vol < 0.15 || vol > 0.25 {
		t.Fatalf("atm vol = %g, want near 0.2", vol)
	}

	if m.fits["ok"] != 2 {
		t.Fatalf("slice fit ok count = %d, want 2", m.fits["ok"])
	}
	if m.solves["failed"] != 0 {
		t.Fatalf("unexpected solve failures: %d", m.solves["failed"])
	}
	if len(pub.updates) != 1 || pub.updates[0] != "ACME" {
		t.Fatalf("publisher updates = %v", pub.updates)
	}
}

func TestCalibrateFiltersQuotes(t *testing.T) {
	cal, _, _ := newTestCalibration(t)
	snap := testSnapshot()
	quotes := chainQuotes(snap, []float64{0.25})
	quotes = append(quotes,
		&models.OptionQuote{Strike: 100, T: -0.01, Type: models.Call, Bid: 1, Ask: 1.1},
		&models.OptionQuote{Strike: 100, T: 0.25, Type: models.Call, Bid: 2, Ask: 1},
		&models.OptionQuote{Strike: 100, T: 0.25, Type: models.Call},
	)

	report, err := cal.Calibrate(context.Background(), snap, quotes, testConfig())
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}

	reasons := make(map[string]int)
	for _, ex := range report.ExcludedQuotes {
		reasons[ex.Reason]++
	}
	for _, want := range []string{"expired", "crossed_market", "non_positive_mid"} {
		if reasons[want] == 0 {
			t.Fatalf("missing exclusion reason %q, got %v", want, reasons)
		}
	}
}

func TestCalibrateResolvesExpiryDates(t *testing.T) {
	cal, _, _ := newTestCalibration(t)
	snap := testSnapshot()
	quotes := chainQuotes(snap, []float64{0.25})
	for _, q := range quotes {
		q.T = 0
		q.Expiry = snap.Timestamp.Add(time.Duration(0.25 * 365 * 24 * float64(time.Hour)))
	}
	// an already-expired date must be filtered, not fitted
	quotes = append(quotes, &models.OptionQuote{
		Strike: 100, Type: models.Call, Bid: 1, Ask: 1.1,
		Expiry: snap.Timestamp.Add(-24 * time.Hour),
	})

	report, err := cal.Calibrate(context.Background(), snap, quotes, testConfig())
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if len(report.Slices) != 1 {
		t.Fatalf("slices = %d, want 1", len(report.Slices))
	}
	if got := report.Slices[0].T; math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("resolved maturity = %g, want 0.25", got)
	}
	expired := 0
	for _, ex := range report.ExcludedQuotes {
		if ex.Reason == "expired" {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("expired exclusions = %d, want 1", expired)
	}
}

func TestCalibrateSourceFilter(t *testing.T) {
	cal, _, _ := newTestCalibration(t)
	snap := testSnapshot()
	quotes := chainQuotes(snap, []float64{0.25})

	cfg := testConfig()
	cfg.Source = "calls"
	report, err := cal.Calibrate(context.Background(), snap, quotes, cfg)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}

	puts := 0
	for _, q := range quotes {
		if q.Type == models.Put {
			puts++
		}
	}
	filtered := 0
	for _, ex := range report.ExcludedQuotes {
		if ex.Reason == "source_filter" {
			filtered++
		}
	}
	if filtered != puts {
		t.Fatalf("source_filter exclusions = %d, want %d", filtered, puts)
	}
}

func TestCalibrateNoUsableSlices(t *testing.T) {
	cal, m, _ := newTestCalibration(t)
	snap := testSnapshot()
	quotes := chainQuotes(snap, []float64{0.25})[:2]

	report, err := cal.Calibrate(context.Background(), snap, quotes, testConfig())
	if err == nil {
		t.Fatalf("expected error with too few quotes")
	}
	if report == nil {
		t.Fatalf("report should still be returned on failure")
	}
	if len(report.Slices) != 0 {
		t.Fatalf("slices = %d, want 0", len(report.Slices))
	}
	if m.errs["calibrate_empty"] != 1 {
		t.Fatalf("calibrate_empty count = %d, want 1", m.errs["calibrate_empty"])
	}
	if _, err := cal.State("ACME"); !errors.Is(err, ErrUnknownUnderlying) {
		t.Fatalf("state after failed run: %v", err)
	}
}

func TestCalibrateRejectsBadSnapshot(t *testing.T) {
	cal, _, _ := newTestCalibration(t)
	snap := testSnapshot()
	snap.Spot = -5
	if _, err := cal.Calibrate(context.Background(), snap, nil, testConfig()); err == nil {
		t.Fatalf("expected error for negative spot")
	}
	if _, err := cal.Calibrate(context.Background(), nil, nil, testConfig()); err == nil {
		t.Fatalf("expected error for nil snapshot")
	}
}

func TestLastReportSurvivesRestart(t *testing.T) {
	store := pkgcache.NewMemoryCache()
	snap := testSnapshot()
	quotes := chainQuotes(snap, []float64{0.25})

	cal1, _, _ := newTestCalibration(t)
	cal1.SetReportStore(store)
	if _, err := cal1.Calibrate(context.Background(), snap, quotes, testConfig()); err != nil {
		t.Fatalf("calibrate: %v", err)
	}

	// fresh instance sharing the store models a process restart
	cal2, _, _ := newTestCalibration(t)
	cal2.SetReportStore(store)
	report, err := cal2.LastReport(context.Background(), "ACME")
	if err != nil {
		t.Fatalf("last report after restart: %v", err)
	}
	if report.Underlying != "ACME" || len(report.Slices) != 1 {
		t.Fatalf("unexpected persisted report: %+v", report)
	}

	if _, err := cal2.LastReport(context.Background(), "NOPE"); !errors.Is(err, ErrUnknownUnderlying) {
		t.Fatalf("unknown underlying: %v", err)
	}
}

func TestUnderlyingsSorted(t *testing.T) {
	cal, _, _ := newTestCalibration(t)
	cfg := testConfig()
	for _, name := range []string{"ZETA", "ACME", "MIDCO"} {
		snap := testSnapshot()
		snap.Underlying = name
		if _, err := cal.Calibrate(context.Background(), snap, chainQuotes(snap, []float64{0.25}), cfg); err != nil {
			t.Fatalf("calibrate %s: %v", name, err)
		}
	}
	got := cal.Underlyings()
	want := []string{"ACME", "MIDCO", "ZETA"}
	if len(got) != len(want) {
		t.Fatalf("underlyings = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("underlyings = %v, want %v", got, want)
		}
	}
}
