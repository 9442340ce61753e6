package envelope

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Smoother removes day-to-day sampling noise from sparse percentile
// series and enforces the monotonic-growth invariant. Smoothing is a
// centered Gaussian kernel over age distance, weighted by bucket
// sample count so well-observed ages dominate their neighbors.
type Smoother struct {
	sigma float64
	// dipTolerance is the relative pre-clamp decrease that gets logged
	// as a data-quality signal. Small dips are expected sampling
	// variance; large ones point at upstream sample corruption.
	dipTolerance float64
	log          *logrus.Logger
}

// NewSmoother creates a smoother with the given kernel sigma (days).
// sigma <= 0 defaults to 2.0.
func NewSmoother(sigma float64, log *logrus.Logger) *Smoother {
	if sigma <= 0 {
		sigma = 2.0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Smoother{sigma: sigma, dipTolerance: 0.20, log: log}
}

// Smooth applies the kernel independently to each band series over the
// ages present in points, then clamps each series to be non-decreasing
// in age. The input must be sorted by age; the result preserves ages
// and sample counts. Returns the smoothed points and the number of
// monotonicity violations the clamp pass repaired.
func (s *Smoother) Smooth(points []Point) ([]Point, int) {
	if len(points) == 0 {
		return nil, 0
	}

	out := make([]Point, len(points))
	copy(out, points)

	radius := int(math.Ceil(3 * s.sigma))
	denom := 2 * s.sigma * s.sigma

	for i := range points {
		var sums, weights Bands
		for j := range points {
			dist := points[j].AgeDays - points[i].AgeDays
			if dist < -radius || dist > radius {
				continue
			}
			w := math.Exp(-float64(dist*dist)/denom) * float64(points[j].SampleCount)
			if w <= 0 {
				continue
			}
			for b := Band(0); b < NumBands; b++ {
				sums[b] += w * points[j].Bands[b]
				weights[b] += w
			}
		}
		for b := Band(0); b < NumBands; b++ {
			if weights[b] > 0 {
				out[i].Bands[b] = sums[b] / weights[b]
			}
		}
		// Smoothing can nudge neighboring bands past each other when
		// their kernels see different sample mixes; restore ordering.
		for b := Band(1); b < NumBands; b++ {
			if out[i].Bands[b] < out[i].Bands[b-1] {
				out[i].Bands[b] = out[i].Bands[b-1]
			}
		}
	}

	violations := s.clampMonotonic(out)
	return out, violations
}

// clampMonotonic walks ages in increasing order and pins any value
// below its predecessor to the predecessor. Cumulative view counts
// cannot shrink with age, so every dip here is sampling artifact.
// This pass is inherently sequential per series and runs after the
// parallel bucket computation.
func (s *Smoother) clampMonotonic(points []Point) int {
	violations := 0
	for b := Band(0); b < NumBands; b++ {
		for i := 1; i < len(points); i++ {
			prev := points[i-1].Bands[b]
			cur := points[i].Bands[b]
			if cur >= prev {
				continue
			}
			violations++
			if prev > 0 && (prev-cur)/prev > s.dipTolerance {
				s.log.WithFields(logrus.Fields{
					"band":     BandNames[b],
					"age_days": points[i].AgeDays,
					"value":    cur,
					"prev":     prev,
				}).Warn("large pre-clamp dip, possible sample corruption upstream")
			}
			points[i].Bands[b] = prev
		}
	}
	return violations
}
