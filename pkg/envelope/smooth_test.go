package envelope

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func flatBands(v float64) Bands {
	var b Bands
	for i := range b {
		b[i] = v
	}
	return b
}

func TestSmoothClampEnforcesMonotonicity(t *testing.T) {
	// A dip at age 3 that smoothing alone cannot fully remove.
	points := []Point{
		{AgeDays: 0, Bands: flatBands(100), SampleCount: 50},
		{AgeDays: 1, Bands: flatBands(200), SampleCount: 50},
		{AgeDays: 2, Bands: flatBands(300), SampleCount: 50},
		{AgeDays: 3, Bands: flatBands(50), SampleCount: 50},
		{AgeDays: 4, Bands: flatBands(400), SampleCount: 50},
		{AgeDays: 5, Bands: flatBands(500), SampleCount: 50},
	}

	// A narrow kernel keeps the dip visible so the clamp has to act.
	smoothed, violations := NewSmoother(0.5, testLogger()).Smooth(points)
	if violations == 0 {
		t.Error("expected the clamp pass to repair at least one dip")
	}

	for b := Band(0); b < NumBands; b++ {
		for i := 1; i < len(smoothed); i++ {
			if smoothed[i].Bands[b] < smoothed[i-1].Bands[b] {
				t.Fatalf("%s not monotonic after clamp at age %d: %v < %v",
					BandNames[b], smoothed[i].AgeDays,
					smoothed[i].Bands[b], smoothed[i-1].Bands[b])
			}
		}
	}
}

func TestSmoothReducesNoise(t *testing.T) {
	// A single spike should be pulled toward its neighbors.
	points := []Point{
		{AgeDays: 0, Bands: flatBands(100), SampleCount: 10},
		{AgeDays: 1, Bands: flatBands(110), SampleCount: 10},
		{AgeDays: 2, Bands: flatBands(500), SampleCount: 10},
		{AgeDays: 3, Bands: flatBands(130), SampleCount: 10},
		{AgeDays: 4, Bands: flatBands(140), SampleCount: 10},
	}

	smoothed, _ := NewSmoother(2.0, testLogger()).Smooth(points)
	if got := smoothed[2].Bands[BandP50]; got >= 500 || got <= 130 {
		t.Errorf("spike not smoothed: got %v", got)
	}
}

func TestSmoothWeightsBySampleCount(t *testing.T) {
	// The heavily sampled neighbor should dominate the thin one.
	heavy := []Point{
		{AgeDays: 0, Bands: flatBands(100), SampleCount: 1000},
		{AgeDays: 1, Bands: flatBands(200), SampleCount: 1},
		{AgeDays: 2, Bands: flatBands(100), SampleCount: 1000},
	}
	balanced := []Point{
		{AgeDays: 0, Bands: flatBands(100), SampleCount: 10},
		{AgeDays: 1, Bands: flatBands(200), SampleCount: 10},
		{AgeDays: 2, Bands: flatBands(100), SampleCount: 10},
	}

	s := NewSmoother(2.0, testLogger())
	heavySmoothed, _ := s.Smooth(heavy)
	balancedSmoothed, _ := s.Smooth(balanced)

	if heavySmoothed[1].Bands[BandP50] >= balancedSmoothed[1].Bands[BandP50] {
		t.Errorf("sample-count weighting had no effect: heavy %v, balanced %v",
			heavySmoothed[1].Bands[BandP50], balancedSmoothed[1].Bands[BandP50])
	}
}

func TestSmoothPreservesBandOrdering(t *testing.T) {
	points := make([]Point, 10)
	for i := range points {
		points[i] = Point{
			AgeDays: i,
			Bands: Bands{
				float64(100 + i*10), float64(150 + i*12), float64(200 + i*15),
				float64(300 + i*20), float64(500 + i*30), float64(700 + i*40),
			},
			SampleCount: 10 + i*7,
		}
	}

	smoothed, _ := NewSmoother(2.0, testLogger()).Smooth(points)
	for _, p := range smoothed {
		for b := Band(1); b < NumBands; b++ {
			if p.Bands[b] < p.Bands[b-1] {
				t.Fatalf("band order broken at age %d: %s=%v < %s=%v",
					p.AgeDays, BandNames[b], p.Bands[b], BandNames[b-1], p.Bands[b-1])
			}
		}
	}
}

func TestSmoothEmptyInput(t *testing.T) {
	smoothed, violations := NewSmoother(2.0, testLogger()).Smooth(nil)
	if smoothed != nil || violations != 0 {
		t.Errorf("Smooth(nil) = %v, %d; want nil, 0", smoothed, violations)
	}
}
