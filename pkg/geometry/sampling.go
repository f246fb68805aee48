package geometry

import (
	"fmt"
	"math"
)

// RadialSampling derives matched (bin edges, bin centers) arrays for the
// radial analysis. Exactly one of edges or centers may be supplied and
// the other is derived; supplying both is a validation error. When
// neither is given the default edges span 0 to rmax with a bin width of
// a quarter of the beam major axis, tying the radial resolution to the
// instrumental one.
func RadialSampling(edges, centers []float64, rmax, bmaj float64) ([]float64, []float64, error) {
	if edges != nil && centers != nil {
		return nil, nil, fmt.Errorf("specify only bin edges or bin centers, not both")
	}

	if centers != nil {
		if len(centers) < 2 {
			return nil, nil, fmt.Errorf("need at least 2 bin centers, got %d", len(centers))
		}
		dr := 0.5 * (centers[1] - centers[0])
		edges = make([]float64, len(centers)+1)
		for i := range centers {
			edges[i] = centers[i] - dr
		}
		edges[len(centers)] = centers[len(centers)-1] + dr
		return edges, append([]float64(nil), centers...), nil
	}

	if edges == nil {
		if bmaj <= 0 || rmax <= 0 {
			return nil, nil, fmt.Errorf("cannot derive default bins from rmax=%.3e, bmaj=%.3e", rmax, bmaj)
		}
		dr := 0.25 * bmaj
		n := int(rmax/dr) + 1
		if n < 2 {
			n = 2
		}
		edges = make([]float64, n)
		for i := range edges {
			edges[i] = float64(i) * dr
		}
	}
	if len(edges) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 bin edges, got %d", len(edges))
	}

	centers = make([]float64, len(edges)-1)
	for i := range centers {
		centers[i] = 0.5 * (edges[i] + edges[i+1])
	}
	return edges, centers, nil
}

// MaskOptions select a disk-plane region. NaN bounds default to the full
// data extent; the radius and position-angle selections can be inverted
// independently.
type MaskOptions struct {
	RMin, RMax   float64
	PAMin, PAMax float64
	ExcludeR     bool
	ExcludePA    bool
}

// NewMaskOptions returns options selecting the full field.
func NewMaskOptions() MaskOptions {
	nan := math.NaN()
	return MaskOptions{RMin: nan, RMax: nan, PAMin: nan, PAMax: nan}
}

// RegionMask returns a boolean mask, true for pixels whose disk-plane
// (radius, azimuth) lie in the requested region.
func RegionMask(coords *Coordinates, opts MaskOptions) []bool {
	rmin, rmax := opts.RMin, opts.RMax
	tmin, tmax := opts.PAMin, opts.PAMax
	if math.IsNaN(rmin) {
		rmin = min64(coords.R)
	}
	if math.IsNaN(rmax) {
		rmax = max64(coords.R)
	}
	if math.IsNaN(tmin) {
		tmin = min64(coords.Theta)
	}
	if math.IsNaN(tmax) {
		tmax = max64(coords.Theta)
	}

	mask := make([]bool, len(coords.R))
	for i := range mask {
		inR := coords.R[i] >= rmin && coords.R[i] <= rmax
		inPA := coords.Theta[i] >= tmin && coords.Theta[i] <= tmax
		if opts.ExcludeR {
			inR = !inR
		}
		if opts.ExcludePA {
			inPA = !inPA
		}
		mask[i] = inR && inPA
	}
	return mask
}

// CountMask returns the number of selected pixels.
func CountMask(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}

func min64(x []float64) float64 {
	m := math.Inf(1)
	for _, v := range x {
		if v < m {
			m = v
		}
	}
	return m
}

func max64(x []float64) float64 {
	m := math.Inf(-1)
	for _, v := range x {
		if v > m {
			m = v
		}
	}
	return m
}
