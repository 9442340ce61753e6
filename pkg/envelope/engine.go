package envelope

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// SampleQuery selects a page of samples. AfterID is a keyset cursor;
// the source returns rows with id > AfterID in id order.
type SampleQuery struct {
	AfterID  int64
	Limit    int
	MinAge   int
	MaxAge   int
	EntityID string
}

// SamplePage is one page of samples plus the cursor for the next page.
// NextID is zero when the page is the last one.
type SamplePage struct {
	Samples []Sample
	NextID  int64
}

// SampleSource reads raw observations. Sources are append-only and may
// hold far more rows than fit in memory, so the engine always pages.
type SampleSource interface {
	ListSamples(ctx context.Context, q SampleQuery) (SamplePage, error)
}

// EnvelopeStore persists committed curves and baselines. Snapshots are
// staged row by row and become visible to readers only on commit; a
// reader always sees the last fully committed snapshot.
type EnvelopeStore interface {
	CurrentCurve(ctx context.Context) (*Curve, uint64, error)
	BeginSnapshot(ctx context.Context) (uint64, error)
	// PendingSnapshot reports an unfinished staging run: its snapshot
	// id and the highest staged age (the watermark). Snapshot 0 means
	// there is nothing to resume.
	PendingSnapshot(ctx context.Context) (uint64, int, error)
	StagePoints(ctx context.Context, snapshot uint64, points []Point) error
	CommitSnapshot(ctx context.Context, snapshot uint64) error

	UpsertBaseline(ctx context.Context, b Baseline) error
	GetBaseline(ctx context.Context, entityID string) (Baseline, error)
}

// Config holds every tunable of the engine. Entry points take it
// explicitly; there is no environment-driven state inside the engine.
type Config struct {
	MaxAgeDays       int     `yaml:"max_age_days"`
	MinBucketSamples int     `yaml:"min_bucket_samples"`
	SmoothingSigma   float64 `yaml:"smoothing_sigma"`
	PageSize         int     `yaml:"page_size"`
	Workers          int     `yaml:"workers"`
	CommitChunk      int     `yaml:"commit_chunk"`

	Baseline     BaselineConfig `yaml:"baseline"`
	Thresholds   Thresholds     `yaml:"thresholds"`
	RatioCeiling float64        `yaml:"ratio_ceiling"`
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		MaxAgeDays:       DefaultMaxAgeDays,
		MinBucketSamples: 10,
		SmoothingSigma:   2.0,
		PageSize:         5000,
		CommitChunk:      365,
		Baseline:         DefaultBaselineConfig(),
		Thresholds:       DefaultThresholds(),
		RatioCeiling:     DefaultRatioCeiling,
	}
}

// Engine owns curve refresh, baseline refresh and classification.
type Engine struct {
	samples    SampleSource
	store      EnvelopeStore
	cfg        Config
	smoother   *Smoother
	classifier *Classifier
	log        *logrus.Logger
}

// NewEngine wires the engine to its sample source and envelope store.
func NewEngine(samples SampleSource, store EnvelopeStore, cfg Config, log *logrus.Logger) *Engine {
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = DefaultMaxAgeDays
	}
	if cfg.MinBucketSamples <= 0 {
		cfg.MinBucketSamples = 10
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5000
	}
	if cfg.CommitChunk <= 0 {
		cfg.CommitChunk = 365
	}
	if cfg.Baseline == (BaselineConfig{}) {
		cfg.Baseline = DefaultBaselineConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		samples:    samples,
		store:      store,
		cfg:        cfg,
		smoother:   NewSmoother(cfg.SmoothingSigma, log),
		classifier: NewClassifier(cfg.Thresholds, cfg.RatioCeiling),
		log:        log,
	}
}

// RefreshOpts restricts a refresh run. ToAge 0 means the configured
// maximum. Resume continues an interrupted staging run from its
// watermark instead of restaging from age 0.
type RefreshOpts struct {
	FromAge int
	ToAge   int
	Resume  bool
}

// RefreshReport summarizes one committed refresh run.
type RefreshReport struct {
	SnapshotID  uint64        `json:"snapshot_id"`
	SamplesRead int64         `json:"samples_read"`
	Buckets     int           `json:"buckets"`
	Ages        int           `json:"ages"`
	Violations  int           `json:"violations"`
	Duration    time.Duration `json:"duration"`
}

// Refresh rebuilds the envelope curve from the sample set and commits
// it atomically. Any error before commit leaves the previous committed
// snapshot authoritative and queryable.
func (e *Engine) Refresh(ctx context.Context, opts RefreshOpts) (*RefreshReport, error) {
	start := time.Now()

	from, to := opts.FromAge, opts.ToAge
	if from < 0 {
		from = 0
	}
	if to <= 0 || to > e.cfg.MaxAgeDays {
		to = e.cfg.MaxAgeDays
	}
	if from > to {
		return nil, fmt.Errorf("refresh: age range [%d,%d] inverted", from, to)
	}

	agg := NewAggregator(e.cfg.MaxAgeDays, e.cfg.MinBucketSamples)
	read, err := e.pageSamples(ctx, SampleQuery{MinAge: from, MaxAge: to, Limit: e.cfg.PageSize}, agg.AddAll)
	if err != nil {
		return nil, fmt.Errorf("refresh: read samples: %w", err)
	}
	if read == 0 {
		return nil, fmt.Errorf("refresh ages [%d,%d]: %w", from, to, ErrNoSamples)
	}

	buckets := agg.Buckets()
	if len(buckets) == 0 {
		return nil, fmt.Errorf("refresh ages [%d,%d]: no bucket reached %d samples: %w",
			from, to, e.cfg.MinBucketSamples, ErrInsufficientData)
	}

	sparse := ComputeBands(buckets, e.cfg.Workers)
	smoothed, violations := e.smoother.Smooth(sparse)
	if violations > 0 {
		e.log.WithField("violations", violations).Debug("monotonic clamp repaired smoothed series")
	}

	merged, err := e.mergeWithCurrent(ctx, smoothed, from, to)
	if err != nil {
		return nil, err
	}

	curve, err := BuildDense(merged, e.cfg.MaxAgeDays)
	if err != nil {
		return nil, fmt.Errorf("refresh: build dense curve: %w", err)
	}
	if err := curve.Validate(); err != nil {
		return nil, fmt.Errorf("refresh: invariant violation after clamp: %w", err)
	}

	snapshot, err := e.stage(ctx, curve, opts.Resume)
	if err != nil {
		return nil, err
	}
	if err := e.store.CommitSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("refresh: commit snapshot %d: %w", snapshot, err)
	}

	report := &RefreshReport{
		SnapshotID:  snapshot,
		SamplesRead: read,
		Buckets:     len(buckets),
		Ages:        curve.MaxAge + 1,
		Violations:  violations,
		Duration:    time.Since(start),
	}
	e.log.WithFields(logrus.Fields{
		"snapshot":   snapshot,
		"samples":    read,
		"buckets":    len(buckets),
		"violations": violations,
		"took":       report.Duration.Round(time.Millisecond),
	}).Info("envelope curve committed")
	return report, nil
}

// mergeWithCurrent keeps committed points outside the refreshed age
// range so a partial refresh never mixes staleness inside its own
// scope. The seam is re-clamped: a curve with a monotonicity break
// across the range boundary would violate the invariant.
func (e *Engine) mergeWithCurrent(ctx context.Context, refreshed []Point, from, to int) ([]Point, error) {
	if from == 0 && to == e.cfg.MaxAgeDays {
		return refreshed, nil
	}

	current, _, err := e.store.CurrentCurve(ctx)
	if errors.Is(err, ErrNoCurve) {
		// First run: nothing outside the range to preserve.
		return refreshed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("refresh: load current curve: %w", err)
	}

	merged := make([]Point, 0, len(current.Points))
	for _, p := range current.Points {
		if p.AgeDays < from || p.AgeDays > to {
			merged = append(merged, p)
		}
	}
	merged = append(merged, refreshed...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].AgeDays < merged[j].AgeDays })

	seam := e.smoother.clampMonotonic(merged)
	if seam > 0 {
		e.log.WithFields(logrus.Fields{
			"from": from, "to": to, "adjusted": seam,
		}).Warn("partial refresh clamped values across range seam")
	}
	return merged, nil
}

// stage writes curve rows under an uncommitted snapshot in age chunks.
// With resume, an interrupted run picks up at watermark+1 in the same
// pending snapshot instead of restaging everything.
func (e *Engine) stage(ctx context.Context, curve *Curve, resume bool) (uint64, error) {
	startAge := 0
	var snapshot uint64

	if resume {
		pending, watermark, err := e.store.PendingSnapshot(ctx)
		if err != nil {
			return 0, fmt.Errorf("refresh: check pending snapshot: %w", err)
		}
		if pending != 0 {
			snapshot = pending
			startAge = watermark + 1
			e.log.WithFields(logrus.Fields{"snapshot": pending, "from_age": startAge}).
				Info("resuming interrupted staging run")
		}
	}
	if snapshot == 0 {
		var err error
		snapshot, err = e.store.BeginSnapshot(ctx)
		if err != nil {
			return 0, fmt.Errorf("refresh: begin snapshot: %w", err)
		}
	}

	for lo := startAge; lo <= curve.MaxAge; lo += e.cfg.CommitChunk {
		hi := lo + e.cfg.CommitChunk
		if hi > curve.MaxAge+1 {
			hi = curve.MaxAge + 1
		}
		if err := e.store.StagePoints(ctx, snapshot, curve.Points[lo:hi]); err != nil {
			return 0, fmt.Errorf("refresh: stage ages [%d,%d): %w", lo, hi, err)
		}
	}
	return snapshot, nil
}

// BaselineReport summarizes one baseline rebuild.
type BaselineReport struct {
	Entities      int           `json:"entities"`
	LowConfidence int           `json:"low_confidence"`
	Duration      time.Duration `json:"duration"`
}

// RefreshBaselines recomputes the scale factor for every entity with
// samples in the plateau window and upserts the results. Entities
// below the window minimum still get a baseline (scale 1.0, confidence
// 0) so classification can fall back to the global curve explicitly.
func (e *Engine) RefreshBaselines(ctx context.Context) (*BaselineReport, error) {
	start := time.Now()

	curve, _, err := e.store.CurrentCurve(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh baselines: %w", err)
	}

	byEntity := make(map[string][]float64)
	_, err = e.pageSamples(ctx, SampleQuery{
		MinAge: e.cfg.Baseline.WindowMinDays,
		MaxAge: e.cfg.Baseline.WindowMaxDays,
		Limit:  e.cfg.PageSize,
	}, func(samples []Sample) {
		for _, s := range samples {
			if s.Value > 0 {
				byEntity[s.EntityID] = append(byEntity[s.EntityID], float64(s.Value))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("refresh baselines: read samples: %w", err)
	}

	report := &BaselineReport{}
	for entityID, values := range byEntity {
		b, err := EstimateBaseline(entityID, values, curve, e.cfg.Baseline)
		if err != nil {
			// A broken global median poisons every estimate; abort the
			// batch rather than committing half the entities.
			return nil, fmt.Errorf("refresh baselines: %w", err)
		}
		if err := e.store.UpsertBaseline(ctx, b); err != nil {
			return nil, fmt.Errorf("refresh baselines: upsert %s: %w", entityID, err)
		}
		report.Entities++
		if b.Confidence == 0 {
			report.LowConfidence++
		}
	}
	report.Duration = time.Since(start)

	e.log.WithFields(logrus.Fields{
		"entities":       report.Entities,
		"low_confidence": report.LowConfidence,
		"took":           report.Duration.Round(time.Millisecond),
	}).Info("entity baselines committed")
	return report, nil
}

// Classify looks up the committed curve and the entity's baseline and
// classifies one observed (age, value) pair. A missing curve or
// baseline yields ErrNoClassification, never a guessed ratio.
func (e *Engine) Classify(ctx context.Context, entityID string, ageDays int, value int64) (Performance, error) {
	curve, _, err := e.store.CurrentCurve(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCurve) {
			return Performance{}, fmt.Errorf("classify %s: %w: %w", entityID, ErrNoClassification, err)
		}
		return Performance{}, fmt.Errorf("classify %s: load curve: %w", entityID, err)
	}

	baseline, err := e.store.GetBaseline(ctx, entityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Performance{}, fmt.Errorf("classify %s: no baseline: %w", entityID, ErrNoClassification)
		}
		return Performance{}, fmt.Errorf("classify %s: load baseline: %w", entityID, err)
	}

	return e.classifier.Classify(curve, baseline, entityID, ageDays, value)
}

// pageSamples walks the sample source page by page, feeding each page
// to sink, and returns the number of rows read.
func (e *Engine) pageSamples(ctx context.Context, q SampleQuery, sink func([]Sample)) (int64, error) {
	var read int64
	for {
		page, err := e.samples.ListSamples(ctx, q)
		if err != nil {
			return read, err
		}
		if len(page.Samples) == 0 {
			return read, nil
		}
		sink(page.Samples)
		read += int64(len(page.Samples))
		if page.NextID == 0 {
			return read, nil
		}
		q.AfterID = page.NextID
	}
}
