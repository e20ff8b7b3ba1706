package progress

// Range is a pair of cumulative counts reported at the start and end of a
// reporting interval.
type Range struct {
	Start uint64
	End   uint64
}

// Delta returns End-Start, or 0 when the range runs backwards.
func (r Range) Delta() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// ValueRange is a pair of cumulative sums reported at the start and end of a
// reporting interval.
type ValueRange struct {
	Start float64
	End   float64
}

// Delta returns End-Start.
func (r ValueRange) Delta() float64 {
	return r.End - r.Start
}

// Average divides the numerator delta by the denominator delta. A zero
// denominator delta yields 0.
func Average(num ValueRange, den Range) float64 {
	d := den.Delta()
	if d == 0 {
		return 0
	}
	return num.Delta() / float64(d)
}

// AverageSum divides sum by count. A zero count yields 0.
func AverageSum(sum float64, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
