package surface

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/krschwarz/imgcube/internal/models"
	"github.com/krschwarz/imgcube/pkg/cube"
	"github.com/krschwarz/imgcube/pkg/geometry"
	"github.com/krschwarz/imgcube/pkg/gp"
)

// Reducer selects how the raw ridge detections are condensed into a
// surface table.
type Reducer string

const (
	// ReduceGP smooths the detections with a Matérn-3/2 Gaussian
	// Process, using a running standard deviation as the per-point
	// noise level
	ReduceGP Reducer = "gp"
	// ReduceBinned takes per-radial-bin means and standard deviations
	ReduceBinned Reducer = "binned"
	// ReduceRaw passes the sorted detections through, paired with the
	// running standard deviation as an uncertainty proxy
	ReduceRaw Reducer = "raw"
)

// ExtractOptions configure the data-driven surface extraction.
type ExtractOptions struct {
	// NSigma controls the background clipping applied before the ridge
	// scan; zero or negative disables it
	NSigma float64

	// Method condenses the detections into the returned table
	Method Reducer

	// Edges or Centers fix the radial gridding; both nil selects the
	// beam-based default
	Edges   []float64
	Centers []float64
}

// Point is one ridge detection: disk radius and emission height, both
// in [arcsec], and the brightness of the stronger peak.
type Point struct {
	R  float64
	Z  float64
	Tb float64
}

// ExtractResult holds the reduced surface table, the raw detections and
// the inferred nearest side.
type ExtractResult struct {
	R  []float64
	Z  []float64
	DZ []float64

	Points []Point

	// Nearest is the best-effort majority vote on which side of the
	// midplane is closer, from the sign of the ridge midpoint offsets
	Nearest models.Side
}

// Extract infers the emission surface from the channel maps. For every
// channel and image column the two strongest local maxima mark the front
// and back intersections of the iso-velocity ellipse with the surface:
// their midpoint measures the projected centre offset and their
// half-separation, corrected for inclination, the disk radius. The scan
// assumes the disk major axis is aligned with the x axis.
func Extract(c *cube.Cube, disk *models.DiskGeometry, opts ExtractOptions) (*ExtractResult, error) {
	if err := disk.Validate(); err != nil {
		return nil, err
	}
	switch opts.Method {
	case ReduceGP, ReduceBinned, ReduceRaw:
	case "":
		opts.Method = ReduceGP
	default:
		return nil, fmt.Errorf("method must be 'gp', 'binned' or 'raw', got %q", opts.Method)
	}

	edges, rvals, err := geometry.RadialSampling(opts.Edges, opts.Centers,
		maxAbs(c.Xaxis), c.Beam.Maj)
	if err != nil {
		return nil, err
	}

	coords := geometry.DeprojectFlat(c, disk.X0, disk.Y0, disk.Inc, 0.0)
	keep, level, err := clippingThresholds(c, coords, opts.NSigma)
	if err != nil {
		return nil, err
	}

	points, votes := ridgeScan(c, disk, keep, level, 1.41*edges[len(edges)-1])
	if len(points) < 2 {
		return nil, fmt.Errorf("found %d ridge points, need at least 2", len(points))
	}

	res := &ExtractResult{Points: points, Nearest: models.North}
	if votes < 0 {
		res.Nearest = models.South
	}
	if res.Nearest != disk.Nearest {
		c.Warnf("ridge points favour the %s side but the configured nearest side is %s",
			res.Nearest, disk.Nearest)
	}

	// Sort the detections by radius for the reducers.
	r := make([]float64, len(points))
	z := make([]float64, len(points))
	inds := make([]int, len(points))
	for i, p := range points {
		r[i] = p.R
	}
	floats.Argsort(r, inds)
	for i, idx := range inds {
		z[i] = points[idx].Z
	}

	switch opts.Method {
	case ReduceBinned:
		res.R, res.Z, res.DZ = reduceBinned(r, z, edges, rvals)
	case ReduceRaw:
		res.R, res.Z = r, z
		res.DZ = runningStdev(z, stdevWindow(r, c.Beam.Maj))
	default:
		res.R, res.Z, res.DZ, err = reduceGP(r, z, rvals, c.Beam.Maj)
		if err != nil {
			return nil, fmt.Errorf("failed to smooth surface detections: %w", err)
		}
	}
	return res, nil
}

// clippingThresholds builds the per-pixel background masks from the
// integrated- and peak-brightness radial profiles. keep[i] gates pixel i
// entirely; level[i] is the per-voxel brightness floor.
func clippingThresholds(c *cube.Cube, coords *geometry.Coordinates, nsigma float64) (keep []bool, level []float64, err error) {
	n := c.NY * c.NX
	keep = make([]bool, n)
	level = make([]float64, n)
	if nsigma <= 0 {
		for i := range keep {
			keep[i] = true
		}
		for i := range level {
			level[i] = math.Inf(-1)
		}
		return keep, level, nil
	}

	popts := geometry.NewProfileOptions()
	popts.Collapse = cube.CollapseSum
	rp, ip, dip, err := geometry.RadialProfile(c, coords, popts)
	if err != nil {
		return nil, nil, err
	}

	// Noise floor from the outermost populated bins.
	var tail []float64
	for i := len(rp) - 1; i >= 0 && len(tail) < 10; i-- {
		if ip[i] != 0 && dip[i] != 0 && !math.IsNaN(dip[i]) {
			tail = append(tail, dip[i])
		}
	}
	if len(tail) == 0 {
		return nil, nil, fmt.Errorf("cannot estimate noise floor: all radial bins are empty")
	}
	thresh := nsigma * stat.Mean(tail, nil)

	popts = geometry.NewProfileOptions()
	popts.Collapse = cube.CollapseMax
	rt, tb, _, err := geometry.RadialProfile(c, coords, popts)
	if err != nil {
		return nil, nil, err
	}

	for i := range keep {
		rsky := coords.R[i]
		keep[i] = interpExtrap(rp, ip, rsky) >= thresh
		level[i] = (1.0 - nsigma) * interpExtrap(rt, tb, rsky)
	}
	return keep, level, nil
}

// ridgeScan walks every channel and column, detecting the two strongest
// peaks per column and converting them to (radius, height, brightness)
// triples. votes accumulates the sign of the midpoint offsets for the
// nearest-side inference.
func ridgeScan(c *cube.Cube, disk *models.DiskGeometry, keep []bool, level []float64, rmax float64) (points []Point, votes int) {
	sini := math.Sin(disk.Inc * math.Pi / 180.0)
	cosi := math.Cos(disk.Inc * math.Pi / 180.0)

	column := make([]float64, c.NY)
	for v := 0; v < c.NV; v++ {
		ch := c.Channel(v)
		if maxClipped(ch, keep, level) <= 0 {
			continue
		}

		for xidx := 0; xidx < c.NX; xidx++ {
			x := c.Xaxis[xidx]
			if math.Abs(x-disk.X0) > rmax {
				continue
			}

			colmax := math.Inf(-1)
			for y := 0; y < c.NY; y++ {
				i := y*c.NX + xidx
				val := ch[i]
				if !keep[i] || val < level[i] {
					val = 0.0
				}
				column[y] = val
				if val > colmax {
					colmax = val
				}
			}
			if colmax <= 0 {
				continue
			}

			peaks := DetectPeaks(column)
			if len(peaks) < 2 {
				continue
			}
			sort.Slice(peaks, func(a, b int) bool {
				return column[peaks[a]] > column[peaks[b]]
			})

			yf := c.Yaxis[peaks[0]]
			yn := c.Yaxis[peaks[1]]
			yc := 0.5 * (yf + yn)
			dy := math.Max(yf-yc, yn-yc) / cosi
			r := math.Hypot(x-disk.X0, dy)
			z := math.Abs(yc-disk.Y0) / sini
			if math.IsNaN(r) || math.IsNaN(z) || z > 0.5*r {
				continue
			}

			if yc-disk.Y0 > 0 {
				votes++
			} else if yc-disk.Y0 < 0 {
				votes--
			}
			points = append(points, Point{R: r, Z: z, Tb: column[peaks[0]]})
		}
	}
	return points, votes
}

// reduceBinned returns per-bin mean heights and standard deviations on
// the bin centers; empty bins are NaN.
func reduceBinned(r, z, edges, rvals []float64) (ro, zo, dzo []float64) {
	nbins := len(rvals)
	samples := make([][]float64, nbins)
	for i := range r {
		b := sort.SearchFloat64s(edges, r[i]) - 1
		if b < 0 || b >= nbins {
			continue
		}
		samples[b] = append(samples[b], z[i])
	}
	zo = make([]float64, nbins)
	dzo = make([]float64, nbins)
	for b, s := range samples {
		if len(s) == 0 {
			zo[b], dzo[b] = math.NaN(), math.NaN()
			continue
		}
		zo[b] = stat.Mean(s, nil)
		if len(s) > 1 {
			dzo[b] = stat.StdDev(s, nil)
		}
	}
	return rvals, zo, dzo
}

// reduceGP smooths the sorted detections with a Gaussian Process and
// interpolates the result onto the bin centers; radii outside the
// detected range are NaN, to be repaired by the surface table.
func reduceGP(r, z, rvals []float64, bmaj float64) (ro, zo, dzo []float64, err error) {
	dz := runningStdev(z, stdevWindow(r, bmaj))
	xg, mu, std, err := gp.Regress(r, z, dz)
	if err != nil {
		return nil, nil, nil, err
	}

	zo = make([]float64, len(rvals))
	dzo = make([]float64, len(rvals))
	for i, rv := range rvals {
		if rv < xg[0] || rv > xg[len(xg)-1] {
			zo[i], dzo[i] = math.NaN(), math.NaN()
			continue
		}
		zo[i] = interpExtrap(xg, mu, rv)
		dzo[i] = interpExtrap(xg, std, rv)
	}
	return rvals, zo, dzo, nil
}

// stdevWindow sizes the running-stdev window to roughly one beam of
// radial extent.
func stdevWindow(r []float64, bmaj float64) int {
	if len(r) < 2 {
		return 2
	}
	dr := (r[len(r)-1] - r[0]) / float64(len(r)-1)
	if dr <= 0 {
		return 2
	}
	w := int(bmaj / dr)
	if w < 2 {
		w = 2
	}
	if w > len(r) {
		w = len(r)
	}
	return w
}

// runningStdev is the standard deviation over a centred moving window.
func runningStdev(z []float64, window int) []float64 {
	n := len(z)
	out := make([]float64, n)
	half := window / 2
	for i := range z {
		lo, hi := i-half, i+half+1
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		if hi-lo > 1 {
			out[i] = stat.StdDev(z[lo:hi], nil)
		}
	}
	return out
}

// interpExtrap evaluates the piecewise-linear function through (xs, ys)
// at x, extrapolating with the boundary segments. NaN samples are
// skipped.
func interpExtrap(xs, ys []float64, x float64) float64 {
	var cx, cy []float64
	for i := range xs {
		if math.IsNaN(ys[i]) || math.IsNaN(xs[i]) {
			continue
		}
		cx = append(cx, xs[i])
		cy = append(cy, ys[i])
	}
	n := len(cx)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return cy[0]
	}
	if x <= cx[0] {
		slope := (cy[1] - cy[0]) / (cx[1] - cx[0])
		return cy[0] + slope*(x-cx[0])
	}
	if x >= cx[n-1] {
		slope := (cy[n-1] - cy[n-2]) / (cx[n-1] - cx[n-2])
		return cy[n-1] + slope*(x-cx[n-1])
	}
	j := sort.SearchFloat64s(cx, x)
	t := (x - cx[j-1]) / (cx[j] - cx[j-1])
	return cy[j-1] + t*(cy[j]-cy[j-1])
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// maxClipped is the channel maximum after masking, used to skip empty
// channels cheaply.
func maxClipped(ch []float64, keep []bool, level []float64) float64 {
	m := math.Inf(-1)
	for i, v := range ch {
		if !keep[i] || v < level[i] || math.IsNaN(v) {
			continue
		}
		if v > m {
			m = v
		}
	}
	if math.IsInf(m, -1) {
		return 0
	}
	return m
}
