package envelope

// Interpolate fills a sparse, age-sorted point series into a dense
// series covering every integer age in [0, maxAge]. Gaps between known
// ages are filled per band by linear interpolation; ages beyond the
// last known age hold its value flat, since no data supports growth
// assumptions past the observed range. Age 0 is seeded at zero if it
// was dropped for insufficient samples.
//
// Interpolation is idempotent: a dense input comes back unchanged.
func Interpolate(points []Point, maxAge int) []Point {
	if maxAge <= 0 {
		maxAge = DefaultMaxAgeDays
	}

	// Age 0 must always have an explicit value.
	if len(points) == 0 || points[0].AgeDays != 0 {
		points = append([]Point{{AgeDays: 0}}, points...)
	}

	dense := make([]Point, maxAge+1)
	known := 0 // index into points of the nearest known age <= current

	for age := 0; age <= maxAge; age++ {
		for known+1 < len(points) && points[known+1].AgeDays <= age {
			known++
		}
		lo := points[known]

		switch {
		case lo.AgeDays == age:
			dense[age] = lo
		case known+1 >= len(points):
			// Past the last supported age: flat extrapolation.
			dense[age] = Point{AgeDays: age, Bands: lo.Bands}
		default:
			hi := points[known+1]
			frac := float64(age-lo.AgeDays) / float64(hi.AgeDays-lo.AgeDays)
			var bands Bands
			for b := Band(0); b < NumBands; b++ {
				bands[b] = lo.Bands[b] + (hi.Bands[b]-lo.Bands[b])*frac
			}
			dense[age] = Point{AgeDays: age, Bands: bands}
		}
	}

	return dense
}

// BuildDense interpolates a sparse series and wraps it as a Curve.
func BuildDense(points []Point, maxAge int) (*Curve, error) {
	return NewCurve(Interpolate(points, maxAge))
}
