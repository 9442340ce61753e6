package envelope

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type sampleRow struct {
	id     int64
	sample Sample
}

// fakeSource serves samples with keyset paging, the same contract the
// SQL-backed source implements.
type fakeSource struct {
	rows []sampleRow
}

func newFakeSource(samples []Sample) *fakeSource {
	src := &fakeSource{}
	for i, s := range samples {
		src.rows = append(src.rows, sampleRow{id: int64(i + 1), sample: s})
	}
	return src
}

func (f *fakeSource) ListSamples(_ context.Context, q SampleQuery) (SamplePage, error) {
	var page SamplePage
	for _, row := range f.rows {
		if row.id <= q.AfterID {
			continue
		}
		s := row.sample
		if s.AgeDays < q.MinAge || (q.MaxAge > 0 && s.AgeDays > q.MaxAge) {
			continue
		}
		if q.EntityID != "" && s.EntityID != q.EntityID {
			continue
		}
		page.Samples = append(page.Samples, s)
		if len(page.Samples) == q.Limit {
			page.NextID = row.id
			break
		}
	}
	return page, nil
}

// fakeStore keeps staged and committed snapshots in memory.
type fakeStore struct {
	seq       uint64
	pending   uint64
	watermark int
	staged    map[uint64][]Point

	curve     *Curve
	snapshot  uint64
	baselines map[string]Baseline

	begins      int
	stagedCalls []int // first age of each StagePoints call
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		watermark: -1,
		staged:    make(map[uint64][]Point),
		baselines: make(map[string]Baseline),
	}
}

func (f *fakeStore) CurrentCurve(context.Context) (*Curve, uint64, error) {
	if f.curve == nil {
		return nil, 0, ErrNoCurve
	}
	return f.curve, f.snapshot, nil
}

func (f *fakeStore) BeginSnapshot(context.Context) (uint64, error) {
	f.begins++
	f.seq++
	f.pending = f.seq
	f.watermark = -1
	return f.seq, nil
}

func (f *fakeStore) PendingSnapshot(context.Context) (uint64, int, error) {
	return f.pending, f.watermark, nil
}

func (f *fakeStore) StagePoints(_ context.Context, snapshot uint64, points []Point) error {
	if snapshot != f.pending {
		return fmt.Errorf("staging into snapshot %d but %d is pending", snapshot, f.pending)
	}
	if len(points) > 0 {
		f.stagedCalls = append(f.stagedCalls, points[0].AgeDays)
		f.staged[snapshot] = append(f.staged[snapshot], points...)
		f.watermark = points[len(points)-1].AgeDays
	}
	return nil
}

func (f *fakeStore) CommitSnapshot(_ context.Context, snapshot uint64) error {
	curve, err := NewCurve(f.staged[snapshot])
	if err != nil {
		return fmt.Errorf("commit snapshot %d: %w", snapshot, err)
	}
	f.curve = curve
	f.snapshot = snapshot
	f.pending = 0
	f.watermark = -1
	return nil
}

func (f *fakeStore) UpsertBaseline(_ context.Context, b Baseline) error {
	f.baselines[b.EntityID] = b
	return nil
}

func (f *fakeStore) GetBaseline(_ context.Context, entityID string) (Baseline, error) {
	b, ok := f.baselines[entityID]
	if !ok {
		return Baseline{}, fmt.Errorf("baseline %s: %w", entityID, ErrNotFound)
	}
	return b, nil
}

func testEngineConfig(maxAge int) Config {
	cfg := DefaultConfig()
	cfg.MaxAgeDays = maxAge
	cfg.MinBucketSamples = 3
	cfg.PageSize = 10 // small pages so paging is exercised
	cfg.CommitChunk = 30
	return cfg
}

// rampSamples yields count samples per age with values near scale*(age+1).
func rampSamples(maxAge, count int, scale int64) []Sample {
	var out []Sample
	for age := 0; age <= maxAge; age++ {
		for i := 0; i < count; i++ {
			out = append(out, Sample{
				EntityID: fmt.Sprintf("chan-%d", i),
				AgeDays:  age,
				Value:    scale*int64(age+1) + int64(i),
			})
		}
	}
	return out
}

func TestEngineRefreshCommitsCurve(t *testing.T) {
	samples := rampSamples(100, 3, 100)
	store := newFakeStore()
	eng := NewEngine(newFakeSource(samples), store, testEngineConfig(100), testLogger())

	report, err := eng.Refresh(context.Background(), RefreshOpts{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if report.SamplesRead != int64(len(samples)) {
		t.Errorf("samples read = %d, want %d", report.SamplesRead, len(samples))
	}
	if store.curve == nil {
		t.Fatal("no committed curve after refresh")
	}
	if len(store.curve.Points) != 101 {
		t.Errorf("committed %d points, want 101", len(store.curve.Points))
	}
	if err := store.curve.Validate(); err != nil {
		t.Errorf("committed curve invalid: %v", err)
	}
	if store.pending != 0 {
		t.Errorf("pending snapshot %d left after commit", store.pending)
	}
	if store.curve.P50(0) >= store.curve.P50(100) {
		t.Errorf("curve lost its growth: p50(0)=%v, p50(100)=%v",
			store.curve.P50(0), store.curve.P50(100))
	}
}

func TestEngineRefreshNoSamples(t *testing.T) {
	store := newFakeStore()
	eng := NewEngine(newFakeSource(nil), store, testEngineConfig(100), testLogger())

	_, err := eng.Refresh(context.Background(), RefreshOpts{})
	if !errors.Is(err, ErrNoSamples) {
		t.Errorf("err = %v, want ErrNoSamples", err)
	}
	if store.curve != nil {
		t.Error("curve committed despite refresh failure")
	}
}

func TestEngineRefreshResumesFromWatermark(t *testing.T) {
	samples := rampSamples(99, 3, 100)
	store := newFakeStore()

	// An earlier run staged ages 0 through 49 and died before commit.
	store.seq = 1
	store.pending = 1
	store.watermark = 49
	for age := 0; age <= 49; age++ {
		store.staged[1] = append(store.staged[1], Point{
			AgeDays:     age,
			Bands:       flatBands(float64(100 * (age + 1))),
			SampleCount: 3,
		})
	}

	cfg := testEngineConfig(99)
	cfg.CommitChunk = 50
	eng := NewEngine(newFakeSource(samples), store, cfg, testLogger())

	report, err := eng.Refresh(context.Background(), RefreshOpts{Resume: true})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if store.begins != 0 {
		t.Errorf("BeginSnapshot called %d times, want 0 on resume", store.begins)
	}
	if report.SnapshotID != 1 {
		t.Errorf("resumed into snapshot %d, want 1", report.SnapshotID)
	}
	for _, age := range store.stagedCalls {
		if age <= 49 {
			t.Errorf("restaged age %d below the watermark", age)
		}
	}
	if store.curve == nil || len(store.curve.Points) != 100 {
		t.Fatalf("committed curve incomplete: %+v", store.curve)
	}
}

func TestEnginePartialRefreshKeepsTail(t *testing.T) {
	store := newFakeStore()
	cfg := testEngineConfig(100)

	full := NewEngine(newFakeSource(rampSamples(100, 3, 100)), store, cfg, testLogger())
	if _, err := full.Refresh(context.Background(), RefreshOpts{}); err != nil {
		t.Fatalf("full refresh: %v", err)
	}
	before := store.curve

	// Recompute only ages 0 through 50 against halved values. The tail
	// must carry over from the committed snapshot untouched.
	partial := NewEngine(newFakeSource(rampSamples(50, 3, 50)), store, cfg, testLogger())
	if _, err := partial.Refresh(context.Background(), RefreshOpts{FromAge: 0, ToAge: 50}); err != nil {
		t.Fatalf("partial refresh: %v", err)
	}
	after := store.curve

	if after.Points[80] != before.Points[80] {
		t.Errorf("age 80 changed by a refresh of [0,50]: %+v vs %+v",
			after.Points[80], before.Points[80])
	}
	if after.P50(25) >= before.P50(25) {
		t.Errorf("age 25 not recomputed: before %v, after %v",
			before.P50(25), after.P50(25))
	}
	if err := after.Validate(); err != nil {
		t.Errorf("merged curve invalid: %v", err)
	}
}

func TestEngineRefreshBaselines(t *testing.T) {
	store := newFakeStore()
	store.curve = plateauCurve(t, 400, 1000)
	store.snapshot = 1

	// Entity "hot" runs at twice the curve inside the plateau window,
	// entity "thin" has too few samples for a confident estimate.
	var samples []Sample
	for i := 0; i < 6; i++ {
		samples = append(samples, Sample{EntityID: "hot", AgeDays: 100 + i*20, Value: 2000})
	}
	samples = append(samples,
		Sample{EntityID: "thin", AgeDays: 120, Value: 9000},
		Sample{EntityID: "thin", AgeDays: 180, Value: 9000},
	)

	cfg := testEngineConfig(400)
	eng := NewEngine(newFakeSource(samples), store, cfg, testLogger())

	report, err := eng.RefreshBaselines(context.Background())
	if err != nil {
		t.Fatalf("RefreshBaselines: %v", err)
	}
	if report.Entities != 2 {
		t.Errorf("entities = %d, want 2", report.Entities)
	}
	if report.LowConfidence != 1 {
		t.Errorf("low confidence = %d, want 1", report.LowConfidence)
	}

	hot := store.baselines["hot"]
	if hot.ScaleFactor != 2.0 {
		t.Errorf("hot scale = %v, want 2.0", hot.ScaleFactor)
	}
	thin := store.baselines["thin"]
	if thin.ScaleFactor != 1.0 || thin.Confidence != 0 {
		t.Errorf("thin baseline = %+v, want fallback scale 1.0 confidence 0", thin)
	}
}

func TestEngineClassifyMissingData(t *testing.T) {
	store := newFakeStore()
	eng := NewEngine(newFakeSource(nil), store, testEngineConfig(100), testLogger())

	// No committed curve at all.
	if _, err := eng.Classify(context.Background(), "chan-1", 30, 1000); !errors.Is(err, ErrNoClassification) {
		t.Errorf("no curve: err = %v, want ErrNoClassification", err)
	}

	// Curve present but the entity has no baseline.
	store.curve = plateauCurve(t, 100, 1000)
	store.snapshot = 1
	if _, err := eng.Classify(context.Background(), "chan-1", 30, 1000); !errors.Is(err, ErrNoClassification) {
		t.Errorf("no baseline: err = %v, want ErrNoClassification", err)
	}

	// Both present: classification succeeds.
	store.baselines["chan-1"] = Baseline{EntityID: "chan-1", ScaleFactor: 1.0, Confidence: 0.8}
	perf, err := eng.Classify(context.Background(), "chan-1", 30, 1000)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if perf.Category != CategoryOnTrack {
		t.Errorf("category = %s, want on_track", perf.Category)
	}
}
