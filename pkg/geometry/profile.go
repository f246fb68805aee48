package geometry

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/krschwarz/imgcube/pkg/cube"
)

// Statistic selects how pixels are combined within a radial bin.
type Statistic int

const (
	// StatMean reports the bin mean and standard deviation
	StatMean Statistic = iota
	// StatPercentiles reports the bin median, with the uncertainty
	// taken from the 16th-84th percentile spread
	StatPercentiles
)

// ProfileOptions configure an azimuthally averaged radial profile.
type ProfileOptions struct {
	// Collapse reduces the spectral axis before averaging
	Collapse cube.CollapseMethod

	// Edges or Centers fix the radial binning; both nil selects the
	// beam-based default
	Edges   []float64
	Centers []float64

	// Mask restricts the averaged region
	Mask MaskOptions

	// Statistic selects mean or percentile statistics
	Statistic Statistic

	// ClipLow clips absolute values below this threshold; NaN disables
	ClipLow float64

	// BeamFactor scales the uncertainties by the square root of the
	// number of independent beams in each annulus arc
	BeamFactor bool
}

// NewProfileOptions returns options averaging the full field with the
// mean statistic.
func NewProfileOptions() ProfileOptions {
	return ProfileOptions{Mask: NewMaskOptions(), ClipLow: math.NaN()}
}

// RadialProfile collapses the cube along the spectral axis and averages
// the image azimuthally over the supplied disk-plane coordinates.
// It returns the bin centers, bin values and bin uncertainties; empty
// bins yield NaN.
func RadialProfile(c *cube.Cube, coords *Coordinates, opts ProfileOptions) (rpnts, y, dy []float64, err error) {
	img, err := c.Collapse(opts.Collapse)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(img) != len(coords.R) {
		return nil, nil, nil, fmt.Errorf("mask and data sizes do not match: %d != %d",
			len(coords.R), len(img))
	}

	rmax := max64(c.Xaxis)
	edges, rpnts, err := RadialSampling(opts.Edges, opts.Centers, rmax, c.Beam.Maj)
	if err != nil {
		return nil, nil, nil, err
	}

	maskOpts := opts.Mask
	if math.IsNaN(maskOpts.RMin) {
		maskOpts.RMin = edges[0]
	}
	if math.IsNaN(maskOpts.RMax) {
		maskOpts.RMax = edges[len(edges)-1]
	}
	mask := RegionMask(coords, maskOpts)

	// Gather the per-bin samples.
	nbins := len(rpnts)
	samples := make([][]float64, nbins)
	for i, ok := range mask {
		if !ok {
			continue
		}
		v := img[i]
		if math.IsNaN(v) {
			continue
		}
		if !math.IsNaN(opts.ClipLow) && math.Abs(v) < opts.ClipLow {
			continue
		}
		b := sort.SearchFloat64s(edges, coords.R[i]) - 1
		if b < 0 || b >= nbins {
			continue
		}
		samples[b] = append(samples[b], v)
	}

	y = make([]float64, nbins)
	dy = make([]float64, nbins)
	for b, s := range samples {
		if len(s) == 0 {
			y[b], dy[b] = math.NaN(), math.NaN()
			continue
		}
		switch opts.Statistic {
		case StatPercentiles:
			sort.Float64s(s)
			lo := stat.Quantile(0.16, stat.Empirical, s, nil)
			mid := stat.Quantile(0.50, stat.Empirical, s, nil)
			hi := stat.Quantile(0.84, stat.Empirical, s, nil)
			y[b] = mid
			dy[b] = 0.5 * (hi - lo)
		default:
			y[b] = stat.Mean(s, nil)
			if len(s) > 1 {
				dy[b] = stat.StdDev(s, nil)
			}
		}
	}

	if opts.BeamFactor {
		applyBeamFactor(rpnts, dy, c.Beam.Maj, opts.Mask)
	}
	return rpnts, y, dy, nil
}

// applyBeamFactor divides the uncertainties by the square root of the
// number of independent beams spanned by each annulus arc. Neighbouring
// pixels are beam-smeared and correlated, so the naive per-pixel count
// overstates the information content.
func applyBeamFactor(rpnts, dy []float64, bmaj float64, mask MaskOptions) {
	arc := 1.0
	if !math.IsNaN(mask.PAMin) || !math.IsNaN(mask.PAMax) {
		pmin, pmax := mask.PAMin, mask.PAMax
		if math.IsNaN(pmin) {
			pmin = -math.Pi
		}
		if math.IsNaN(pmax) {
			pmax = math.Pi
		}
		arc = (pmax - pmin) / (2.0 * math.Pi)
		arc = math.Max(0.0, math.Min(arc, 1.0))
		if mask.ExcludePA {
			arc = 1.0 - arc
		}
	}
	for i := range dy {
		nbeams := 2.0 * math.Pi * rpnts[i] / bmaj * arc
		if nbeams > 0 {
			dy[i] /= math.Sqrt(nbeams)
		}
	}
}
