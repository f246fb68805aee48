package surface

import "math"

// DetectPeaks returns the indices of local maxima in x: samples strictly
// greater than both neighbours. A flat-topped peak reports its first
// sample. NaN samples never form part of a peak, so degenerate columns
// yield no detections rather than spurious ones.
func DetectPeaks(x []float64) []int {
	var peaks []int
	n := len(x)
	for i := 1; i < n-1; i++ {
		v := x[i]
		if math.IsNaN(v) || math.IsNaN(x[i-1]) {
			continue
		}
		if !(v > x[i-1]) {
			continue
		}
		// Walk over a possible plateau to the next differing sample.
		j := i + 1
		for j < n && x[j] == v {
			j++
		}
		if j < n && !math.IsNaN(x[j]) && x[j] < v {
			peaks = append(peaks, i)
		}
		i = j - 1
	}
	return peaks
}
