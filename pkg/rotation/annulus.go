// Package rotation recovers the disk rotation-velocity profile from the
// cube. Spectra pooled from one radial annulus are deprojected to a
// common systemic velocity; the rotation velocity is the shift that
// re-aligns all azimuthally modulated line profiles. Two interchangeable
// solvers are provided: a direct linewidth minimiser and a Gaussian-
// Process posterior sampler.
package rotation

import (
	"fmt"
	"math"
	"sort"

	"github.com/krschwarz/imgcube/pkg/cube"
	"github.com/krschwarz/imgcube/pkg/geometry"
)

// Annulus holds the per-pixel spectra and disk azimuths gathered from
// one radial bin. The velocity axis is normalised to ascending order.
type Annulus struct {
	// Spectra is one brightness spectrum per selected pixel
	Spectra [][]float64

	// Angles is the disk azimuth of each pixel in [radians]
	Angles []float64

	// Velax is the shared velocity axis in [m/s], ascending
	Velax []float64
}

// ExtractAnnulus gathers the spectra and azimuths of every pixel
// selected by the mask. The produced spectrum count must match the mask
// population; a mismatch is a consistency error, not a data condition.
func ExtractAnnulus(c *cube.Cube, coords *geometry.Coordinates, mask []bool) (*Annulus, error) {
	if len(mask) != c.NY*c.NX {
		return nil, fmt.Errorf("mask and data sizes do not match: %d != %d",
			len(mask), c.NY*c.NX)
	}

	want := geometry.CountMask(mask)
	a := &Annulus{
		Spectra: make([][]float64, 0, want),
		Angles:  make([]float64, 0, want),
	}
	for j := 0; j < c.NY; j++ {
		for i := 0; i < c.NX; i++ {
			idx := j*c.NX + i
			if !mask[idx] {
				continue
			}
			a.Spectra = append(a.Spectra, c.Spectrum(j, i))
			a.Angles = append(a.Angles, coords.Theta[idx])
		}
	}
	if len(a.Spectra) != want {
		return nil, fmt.Errorf("extracted %d spectra for a mask of %d pixels", len(a.Spectra), want)
	}

	a.Velax = append([]float64(nil), c.Velax...)
	if len(a.Velax) > 1 && a.Velax[1] < a.Velax[0] {
		reverse(a.Velax)
		for _, s := range a.Spectra {
			reverse(s)
		}
	}
	return a, nil
}

// Thin keeps every stride-th spectrum. Neighbouring pixels are beam
// smeared and correlated; thinning to roughly one spectrum per
// independent beam keeps the pooled samples closer to independent.
func (a *Annulus) Thin(stride int) {
	if stride <= 1 {
		return
	}
	var spectra [][]float64
	var angles []float64
	for i := 0; i < len(a.Spectra); i += stride {
		spectra = append(spectra, a.Spectra[i])
		angles = append(angles, a.Angles[i])
	}
	a.Spectra, a.Angles = spectra, angles
}

// AllZero reports whether every sample of every spectrum is zero or NaN,
// i.e. the annulus carries no signal.
func (a *Annulus) AllZero() bool {
	for _, s := range a.Spectra {
		for _, v := range s {
			if v != 0 && !math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}

// deproject resamples every spectrum onto the shared velocity axis after
// removing the vrot*cos(angle) line-of-sight rotation shift.
func (a *Annulus) deproject(vrot float64) [][]float64 {
	out := make([][]float64, len(a.Spectra))
	shifted := make([]float64, len(a.Velax))
	for i, s := range a.Spectra {
		dv := vrot * math.Cos(a.Angles[i])
		for j, v := range a.Velax {
			shifted[j] = v - dv
		}
		out[i] = resampleLinear(shifted, s, a.Velax)
	}
	return out
}

// combined returns the single representative deprojected line profile.
// With resample true the deprojected spectra are averaged channel by
// channel on the common axis; otherwise all samples are pooled and
// sorted by velocity, which preserves the sub-channel structure the GP
// solver depends on.
func (a *Annulus) combined(vrot float64, resample bool) (x, y []float64) {
	dep := a.deproject(vrot)
	if resample {
		y = make([]float64, len(a.Velax))
		for j := range a.Velax {
			sum, n := 0.0, 0
			for _, s := range dep {
				if v := s[j]; !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n > 0 {
				y[j] = sum / float64(n)
			} else {
				y[j] = math.NaN()
			}
		}
		return a.Velax, y
	}

	n := len(dep) * len(a.Velax)
	x = make([]float64, 0, n)
	y = make([]float64, 0, n)
	for _, s := range dep {
		for j, v := range s {
			x = append(x, a.Velax[j])
			y = append(y, v)
		}
	}
	sortPairs(x, y)
	return x, y
}

// resampleLinear evaluates the piecewise-linear function through
// (xs, ys) at each target point, extrapolating with the boundary
// segments. xs must be ascending.
func resampleLinear(xs, ys, targets []float64) []float64 {
	n := len(xs)
	out := make([]float64, len(targets))
	for i, x := range targets {
		switch {
		case n == 1:
			out[i] = ys[0]
		case x <= xs[0]:
			slope := (ys[1] - ys[0]) / (xs[1] - xs[0])
			out[i] = ys[0] + slope*(x-xs[0])
		case x >= xs[n-1]:
			slope := (ys[n-1] - ys[n-2]) / (xs[n-1] - xs[n-2])
			out[i] = ys[n-1] + slope*(x-xs[n-1])
		default:
			j := sort.SearchFloat64s(xs, x)
			t := (x - xs[j-1]) / (xs[j] - xs[j-1])
			out[i] = ys[j-1] + t*(ys[j]-ys[j-1])
		}
	}
	return out
}

type pairSorter struct{ x, y []float64 }

func (p pairSorter) Len() int           { return len(p.x) }
func (p pairSorter) Less(i, j int) bool { return p.x[i] < p.x[j] }
func (p pairSorter) Swap(i, j int) {
	p.x[i], p.x[j] = p.x[j], p.x[i]
	p.y[i], p.y[j] = p.y[j], p.y[i]
}

func sortPairs(x, y []float64) { sort.Sort(pairSorter{x, y}) }

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
