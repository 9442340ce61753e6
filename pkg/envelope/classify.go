package envelope

import "fmt"

// Category buckets a performance ratio.
type Category string

const (
	CategoryViral           Category = "viral"
	CategoryOutperforming   Category = "outperforming"
	CategoryOnTrack         Category = "on_track"
	CategoryUnderperforming Category = "underperforming"
	CategoryPoor            Category = "poor"
)

// Thresholds are the inclusive lower ratio bounds per category. They
// are fixed configuration, not learned.
type Thresholds struct {
	Viral           float64 `yaml:"viral"`
	Outperforming   float64 `yaml:"outperforming"`
	OnTrack         float64 `yaml:"on_track"`
	Underperforming float64 `yaml:"underperforming"`
}

// DefaultThresholds returns the standard category bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Viral:           3.0,
		Outperforming:   1.5,
		OnTrack:         0.5,
		Underperforming: 0.2,
	}
}

// DefaultRatioCeiling caps stored ratios. Near-zero expected values
// can produce extreme ratios that overflow downstream consumers; the
// storage ceiling is 999, independent of the 3.0 category boundary.
const DefaultRatioCeiling = 999.0

// Performance is the derived classification for one observation. It is
// always a function of the current curve, baseline and sample, never
// stored state of its own.
type Performance struct {
	EntityID      string   `json:"entity_id"`
	AgeDays       int      `json:"age_days"`
	ObservedValue int64    `json:"observed_value"`
	ExpectedValue float64  `json:"expected_value"`
	Ratio         float64  `json:"ratio"`
	Category      Category `json:"category"`
}

// Classifier maps (curve, baseline, age, value) to a ratio and
// category. It is a pure function of its inputs.
type Classifier struct {
	Thresholds   Thresholds
	RatioCeiling float64
}

// NewClassifier builds a classifier; zero thresholds take defaults.
func NewClassifier(t Thresholds, ceiling float64) *Classifier {
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	if ceiling <= 0 {
		ceiling = DefaultRatioCeiling
	}
	return &Classifier{Thresholds: t, RatioCeiling: ceiling}
}

// Classify computes expected = curve.p50(age) * baseline.scale_factor
// and buckets observed/expected. The age is clamped to the curve's
// range. A non-positive expected value yields ErrNoClassification.
func (c *Classifier) Classify(curve *Curve, baseline Baseline, entityID string, ageDays int, observed int64) (Performance, error) {
	if curve == nil || len(curve.Points) == 0 {
		return Performance{}, fmt.Errorf("classify %s: %w", entityID, ErrNoCurve)
	}

	age := ageDays
	if age < 0 {
		age = 0
	}
	if age > curve.MaxAge {
		age = curve.MaxAge
	}

	expected := curve.P50(age) * baseline.ScaleFactor
	if expected <= 0 {
		return Performance{}, fmt.Errorf("classify %s at age %d: expected value not positive: %w",
			entityID, age, ErrNoClassification)
	}

	ratio := float64(observed) / expected
	if ratio > c.RatioCeiling {
		ratio = c.RatioCeiling
	}

	return Performance{
		EntityID:      entityID,
		AgeDays:       age,
		ObservedValue: observed,
		ExpectedValue: expected,
		Ratio:         ratio,
		Category:      c.categorize(ratio),
	}, nil
}

func (c *Classifier) categorize(ratio float64) Category {
	switch {
	case ratio >= c.Thresholds.Viral:
		return CategoryViral
	case ratio >= c.Thresholds.Outperforming:
		return CategoryOutperforming
	case ratio >= c.Thresholds.OnTrack:
		return CategoryOnTrack
	case ratio >= c.Thresholds.Underperforming:
		return CategoryUnderperforming
	default:
		return CategoryPoor
	}
}
