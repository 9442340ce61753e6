package envelope

import "sort"

// Sample is one timestamped view-count observation.
type Sample struct {
	EntityID string `json:"entity_id" db:"entity_id"`
	AgeDays  int    `json:"age_days" db:"age_days"`
	Value    int64  `json:"value" db:"value"`
}

// Bucket collects all values observed at one (snapped) age.
type Bucket struct {
	AgeDays int
	Values  []float64
}

// Aggregator groups raw samples into per-age buckets. Ages past day 90
// are snapped to a coarser stride so sparse old-age observations pool
// into buckets large enough to pass the minimum-sample gate.
type Aggregator struct {
	maxAge     int
	minSamples int
	buckets    map[int][]float64
}

// NewAggregator creates an aggregator for ages [0, maxAge]. Buckets
// with fewer than minSamples values are dropped, not zero-filled; the
// interpolator recovers those ages later.
func NewAggregator(maxAge, minSamples int) *Aggregator {
	if maxAge <= 0 {
		maxAge = DefaultMaxAgeDays
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	return &Aggregator{
		maxAge:     maxAge,
		minSamples: minSamples,
		buckets:    make(map[int][]float64),
	}
}

// Add accumulates one sample. Zero and negative values are invalid
// observations, not zero performance, and are excluded entirely.
// Out-of-range ages are excluded as well.
func (a *Aggregator) Add(s Sample) {
	if s.Value <= 0 || s.AgeDays < 0 || s.AgeDays > a.maxAge {
		return
	}
	age := SnapAge(s.AgeDays)
	a.buckets[age] = append(a.buckets[age], float64(s.Value))
}

// AddAll accumulates a page of samples.
func (a *Aggregator) AddAll(samples []Sample) {
	for _, s := range samples {
		a.Add(s)
	}
}

// Buckets returns the usable buckets in ascending age order. Buckets
// below the minimum-sample threshold are omitted.
func (a *Aggregator) Buckets() []Bucket {
	out := make([]Bucket, 0, len(a.buckets))
	for age, values := range a.buckets {
		if len(values) < a.minSamples {
			continue
		}
		out = append(out, Bucket{AgeDays: age, Values: values})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgeDays < out[j].AgeDays })
	return out
}

// Len returns the number of raw buckets, usable or not.
func (a *Aggregator) Len() int { return len(a.buckets) }

// Stride boundaries: daily for the volatile first 90 days, then
// progressively coarser as per-day sample counts thin out.
const (
	strideFineMax   = 90   // daily
	strideMidMax    = 365  // every 3 days
	strideWeekMax   = 1825 // weekly through year 5
	strideMidStep   = 3
	strideWeekStep  = 7
	strideMonthStep = 30
)

// SnapAge maps an age to the representative age of its stride cell.
func SnapAge(age int) int {
	switch {
	case age <= strideFineMax:
		return age
	case age <= strideMidMax:
		return strideFineMax + 1 + (age-strideFineMax-1)/strideMidStep*strideMidStep
	case age <= strideWeekMax:
		return strideMidMax + 1 + (age-strideMidMax-1)/strideWeekStep*strideWeekStep
	default:
		return strideWeekMax + 1 + (age-strideWeekMax-1)/strideMonthStep*strideMonthStep
	}
}
