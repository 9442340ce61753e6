package envelope

import "testing"

func TestAggregatorExcludesInvalidSamples(t *testing.T) {
	agg := NewAggregator(3650, 1)

	agg.Add(Sample{EntityID: "c1", AgeDays: 10, Value: 0})     // zero is invalid, not zero performance
	agg.Add(Sample{EntityID: "c1", AgeDays: 10, Value: -5})    // negative
	agg.Add(Sample{EntityID: "c1", AgeDays: -1, Value: 100})   // negative age
	agg.Add(Sample{EntityID: "c1", AgeDays: 4000, Value: 100}) // past max age

	if got := agg.Len(); got != 0 {
		t.Errorf("aggregator holds %d buckets, want 0", got)
	}

	agg.Add(Sample{EntityID: "c1", AgeDays: 10, Value: 100})
	buckets := agg.Buckets()
	if len(buckets) != 1 || len(buckets[0].Values) != 1 {
		t.Fatalf("expected one bucket with one value, got %+v", buckets)
	}
}

func TestAggregatorMinSampleGate(t *testing.T) {
	agg := NewAggregator(3650, 10)

	// Day 45 gets only 4 samples: below the gate, must be dropped.
	for i := 0; i < 4; i++ {
		agg.Add(Sample{EntityID: "c1", AgeDays: 45, Value: int64(1000 + i)})
	}
	// Day 30 gets 10 samples: usable.
	for i := 0; i < 10; i++ {
		agg.Add(Sample{EntityID: "c1", AgeDays: 30, Value: int64(2000 + i)})
	}

	buckets := agg.Buckets()
	if len(buckets) != 1 {
		t.Fatalf("got %d usable buckets, want 1", len(buckets))
	}
	if buckets[0].AgeDays != 30 {
		t.Errorf("usable bucket at age %d, want 30", buckets[0].AgeDays)
	}
}

func TestAggregatorBucketsSorted(t *testing.T) {
	agg := NewAggregator(3650, 1)
	for _, age := range []int{80, 3, 47, 21, 65} {
		agg.Add(Sample{EntityID: "c1", AgeDays: age, Value: 10})
	}

	buckets := agg.Buckets()
	for i := 1; i < len(buckets); i++ {
		if buckets[i].AgeDays <= buckets[i-1].AgeDays {
			t.Fatalf("buckets not sorted by age: %+v", buckets)
		}
	}
}

func TestSnapAgeStride(t *testing.T) {
	tests := []struct {
		age  int
		want int
	}{
		{0, 0},
		{45, 45},
		{90, 90}, // daily through day 90
		{91, 91},
		{92, 91},
		{93, 91},
		{94, 94}, // 3-day cells through day 365
		{365, 364},
		{366, 366},
		{372, 366},
		{373, 373}, // weekly through year 5
		{1825, 1822},
		{1826, 1826},
		{1855, 1826},
		{1856, 1856}, // monthly beyond
	}
	for _, tt := range tests {
		if got := SnapAge(tt.age); got != tt.want {
			t.Errorf("SnapAge(%d) = %d, want %d", tt.age, got, tt.want)
		}
	}
}

func TestSnapAgeNeverIncreases(t *testing.T) {
	for age := 0; age <= 3650; age++ {
		if snapped := SnapAge(age); snapped > age || snapped < 0 {
			t.Fatalf("SnapAge(%d) = %d out of range", age, snapped)
		}
	}
}
