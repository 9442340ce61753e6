package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxAgeDays covers ten years of video age.
const DefaultMaxAgeDays = 3650

// Sentinel errors surfaced by the engine and its components.
var (
	// ErrNoSamples means the sample source produced nothing for the
	// requested scope; callers must treat this as "no curve available".
	ErrNoSamples = errors.New("no samples")

	// ErrInsufficientData means an age bucket or entity lacks enough
	// samples for a reliable statistic.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoCurve means no committed envelope curve exists yet.
	ErrNoCurve = errors.New("no committed curve")

	// ErrNoClassification means expected value could not be computed;
	// the caller gets no ratio rather than a misleading one.
	ErrNoClassification = errors.New("classification unavailable")

	// ErrZeroDenominator guards scale-factor and ratio divisions.
	ErrZeroDenominator = errors.New("zero or missing denominator")

	// ErrNotFound is returned by stores for missing keys.
	ErrNotFound = errors.New("not found")
)

// Band indexes the fixed percentile set tracked per age.
type Band int

const (
	BandP10 Band = iota
	BandP25
	BandP50
	BandP75
	BandP90
	BandP95
	NumBands
)

// BandQuantiles maps each band to its percentile rank.
var BandQuantiles = [NumBands]float64{10, 25, 50, 75, 90, 95}

// BandNames maps each band to its storage/JSON name.
var BandNames = [NumBands]string{"p10", "p25", "p50", "p75", "p90", "p95"}

// Bands holds one value per tracked percentile.
type Bands [NumBands]float64

// Point is one age row of an envelope curve. SampleCount is zero for
// ages synthesized by interpolation.
type Point struct {
	AgeDays     int   `json:"age_days"`
	Bands       Bands `json:"-"`
	SampleCount int   `json:"sample_count"`
}

// pointJSON is the wire shape of a Point, with one named field per band.
type pointJSON struct {
	AgeDays     int     `json:"age_days"`
	P10         float64 `json:"p10"`
	P25         float64 `json:"p25"`
	P50         float64 `json:"p50"`
	P75         float64 `json:"p75"`
	P90         float64 `json:"p90"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sample_count"`
}

// MarshalJSON emits bands as named percentile fields.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{
		AgeDays:     p.AgeDays,
		P10:         p.Bands[BandP10],
		P25:         p.Bands[BandP25],
		P50:         p.Bands[BandP50],
		P75:         p.Bands[BandP75],
		P90:         p.Bands[BandP90],
		P95:         p.Bands[BandP95],
		SampleCount: p.SampleCount,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Point) UnmarshalJSON(data []byte) error {
	var w pointJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.AgeDays = w.AgeDays
	p.SampleCount = w.SampleCount
	p.Bands = Bands{w.P10, w.P25, w.P50, w.P75, w.P90, w.P95}
	return nil
}

// Curve is a dense per-age table of percentile values: Points[i] is age i.
type Curve struct {
	MaxAge int
	Points []Point
}

// NewCurve wraps a dense point series. The series must start at age 0
// and have one point per age.
func NewCurve(points []Point) (*Curve, error) {
	if len(points) == 0 {
		return nil, ErrNoCurve
	}
	for i := range points {
		if points[i].AgeDays != i {
			return nil, fmt.Errorf("curve not dense: index %d holds age %d", i, points[i].AgeDays)
		}
	}
	return &Curve{MaxAge: len(points) - 1, Points: points}, nil
}

// At returns the point for an age, clamped to [0, MaxAge].
func (c *Curve) At(age int) Point {
	if age < 0 {
		age = 0
	}
	if age > c.MaxAge {
		age = c.MaxAge
	}
	return c.Points[age]
}

// P50 returns the median expected value at an age, clamped to range.
func (c *Curve) P50(age int) float64 {
	return c.At(age).Bands[BandP50]
}

// Validate checks the committed-curve invariants: every band series is
// non-decreasing in age, and bands are ordered p10 <= ... <= p95 at
// every age.
func (c *Curve) Validate() error {
	for b := Band(0); b < NumBands; b++ {
		for age := 1; age <= c.MaxAge; age++ {
			if c.Points[age].Bands[b] < c.Points[age-1].Bands[b] {
				return fmt.Errorf("%s decreases at age %d: %.2f -> %.2f",
					BandNames[b], age, c.Points[age-1].Bands[b], c.Points[age].Bands[b])
			}
		}
	}
	for age := 0; age <= c.MaxAge; age++ {
		for b := Band(1); b < NumBands; b++ {
			if c.Points[age].Bands[b] < c.Points[age].Bands[b-1] {
				return fmt.Errorf("band order broken at age %d: %s=%.2f < %s=%.2f",
					age, BandNames[b], c.Points[age].Bands[b], BandNames[b-1], c.Points[age].Bands[b-1])
			}
		}
	}
	return nil
}
