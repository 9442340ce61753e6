package envelope

import (
	"fmt"
	"time"
)

// Baseline is a per-entity multiplier normalizing the global curve to
// that entity's typical behavior.
type Baseline struct {
	EntityID    string    `json:"entity_id"`
	ScaleFactor float64   `json:"scale_factor"`
	Confidence  float64   `json:"confidence"`
	SampleCount int       `json:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BaselineConfig bounds the plateau window and confidence model.
type BaselineConfig struct {
	// Plateau window: early-life growth is too volatile and very old
	// videos too sparse for a stable per-entity median.
	WindowMinDays int `yaml:"window_min_days"`
	WindowMaxDays int `yaml:"window_max_days"`
	// MinSamples in the window; below it the entity falls back to the
	// unscaled global expectation.
	MinSamples int `yaml:"min_samples"`
	// ConfidenceCeiling is the sample count at which confidence
	// saturates at 1.0.
	ConfidenceCeiling int `yaml:"confidence_ceiling"`
}

// DefaultBaselineConfig returns the standard plateau window and limits.
func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{
		WindowMinDays:     90,
		WindowMaxDays:     365,
		MinSamples:        5,
		ConfidenceCeiling: 1000,
	}
}

// EstimateBaseline computes the scale factor for one entity from its
// plateau-window values and the committed global curve:
//
//	scale = median(entity values) / median(global p50 over the window)
//
// With fewer than MinSamples values the entity gets scale 1.0 and
// confidence 0, signaling callers to fall back to the global curve.
// A zero or missing global median is rejected, never divided.
func EstimateBaseline(entityID string, windowValues []float64, curve *Curve, cfg BaselineConfig) (Baseline, error) {
	b := Baseline{
		EntityID:    entityID,
		ScaleFactor: 1.0,
		SampleCount: len(windowValues),
		UpdatedAt:   time.Now().UTC(),
	}

	if len(windowValues) < cfg.MinSamples {
		return b, nil
	}
	if curve == nil {
		return b, fmt.Errorf("estimate baseline %s: %w", entityID, ErrNoCurve)
	}

	globalMedian := windowGlobalMedian(curve, cfg.WindowMinDays, cfg.WindowMaxDays)
	if globalMedian <= 0 {
		return b, fmt.Errorf("estimate baseline %s: global median in window [%d,%d]: %w",
			entityID, cfg.WindowMinDays, cfg.WindowMaxDays, ErrZeroDenominator)
	}

	b.ScaleFactor = Median(windowValues) / globalMedian
	b.Confidence = float64(len(windowValues)) / float64(cfg.ConfidenceCeiling)
	if b.Confidence > 1 {
		b.Confidence = 1
	}
	return b, nil
}

// windowGlobalMedian is the median of the curve's p50 series over the
// plateau window, clamped to the curve's range.
func windowGlobalMedian(curve *Curve, minDays, maxDays int) float64 {
	if minDays < 0 {
		minDays = 0
	}
	if maxDays > curve.MaxAge {
		maxDays = curve.MaxAge
	}
	if maxDays < minDays {
		return 0
	}
	values := make([]float64, 0, maxDays-minDays+1)
	for age := minDays; age <= maxDays; age++ {
		values = append(values, curve.Points[age].Bands[BandP50])
	}
	return Median(values)
}
