package envelope

import (
	"math"
	"runtime"
	"sort"
	"sync"
)

// Percentile computes the p-th percentile (0-100) of values using the
// standard linear-interpolation method over a sorted copy. Returns 0
// for an empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Median is the 50th percentile.
func Median(values []float64) float64 {
	return Percentile(values, 50)
}

// BandsOf computes the fixed percentile set for one bucket. Buckets of
// identical values produce equal bands, which is valid. Band ordering
// holds by construction of the percentile method.
func BandsOf(values []float64) Bands {
	var b Bands
	for i := Band(0); i < NumBands; i++ {
		b[i] = Percentile(values, BandQuantiles[i])
	}
	return b
}

// ComputeBands computes percentile bands for every bucket in parallel.
// Each bucket is independent, so the fan-out is safe; ordering of the
// result matches the input. workers <= 0 uses one worker per CPU.
func ComputeBands(buckets []Bucket, workers int) []Point {
	if len(buckets) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(buckets) {
		workers = len(buckets)
	}

	points := make([]Point, len(buckets))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				points[i] = Point{
					AgeDays:     buckets[i].AgeDays,
					Bands:       BandsOf(buckets[i].Values),
					SampleCount: len(buckets[i].Values),
				}
			}
		}()
	}
	for i := range buckets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return points
}
