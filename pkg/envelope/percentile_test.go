package envelope

import (
	"math"
	"testing"
)

func TestPercentileLinearInterpolation(t *testing.T) {
	values := []float64{10, 20, 30, 40}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{50, 25}, // rank 1.5 between 20 and 30
		{100, 40},
		{25, 17.5}, // rank 0.75 between 10 and 20
		{75, 32.5},
	}
	for _, tt := range tests {
		got := Percentile(values, tt.p)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v, %.0f) = %v, want %v", values, tt.p, got, tt.want)
		}
	}
}

func TestPercentileUnsortedInput(t *testing.T) {
	values := []float64{40, 10, 30, 20}
	if got := Percentile(values, 50); got != 25 {
		t.Errorf("Percentile on unsorted input = %v, want 25", got)
	}
	// Input must not be mutated.
	if values[0] != 40 {
		t.Errorf("Percentile mutated its input: %v", values)
	}
}

func TestPercentileEmpty(t *testing.T) {
	if got := Percentile(nil, 50); got != 0 {
		t.Errorf("Percentile(nil) = %v, want 0", got)
	}
}

func TestBandsOfOrdering(t *testing.T) {
	values := []float64{5, 900, 33, 120, 77, 6000, 13, 260, 41, 580}
	bands := BandsOf(values)

	for b := Band(1); b < NumBands; b++ {
		if bands[b] < bands[b-1] {
			t.Errorf("band order broken: %s=%v < %s=%v",
				BandNames[b], bands[b], BandNames[b-1], bands[b-1])
		}
	}
}

func TestBandsOfIdenticalValues(t *testing.T) {
	values := []float64{42, 42, 42, 42, 42}
	bands := BandsOf(values)

	for b := Band(0); b < NumBands; b++ {
		if bands[b] != 42 {
			t.Errorf("%s = %v, want 42", BandNames[b], bands[b])
		}
	}
}

func TestComputeBandsMatchesSerial(t *testing.T) {
	buckets := make([]Bucket, 50)
	for i := range buckets {
		values := make([]float64, 20)
		for j := range values {
			values[j] = float64((i + 1) * (j + 3))
		}
		buckets[i] = Bucket{AgeDays: i * 2, Values: values}
	}

	parallel := ComputeBands(buckets, 8)
	serial := ComputeBands(buckets, 1)

	if len(parallel) != len(buckets) {
		t.Fatalf("got %d points, want %d", len(parallel), len(buckets))
	}
	for i := range parallel {
		if parallel[i] != serial[i] {
			t.Errorf("point %d differs between parallel and serial: %+v vs %+v",
				i, parallel[i], serial[i])
		}
		if parallel[i].AgeDays != buckets[i].AgeDays {
			t.Errorf("point %d age %d, want %d", i, parallel[i].AgeDays, buckets[i].AgeDays)
		}
		if parallel[i].SampleCount != len(buckets[i].Values) {
			t.Errorf("point %d sample count %d, want %d", i, parallel[i].SampleCount, len(buckets[i].Values))
		}
	}
}
