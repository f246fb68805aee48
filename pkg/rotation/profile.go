package rotation

import (
	"fmt"
	"math"
	"sync"

	"github.com/krschwarz/imgcube/internal/models"
	"github.com/krschwarz/imgcube/pkg/cube"
	"github.com/krschwarz/imgcube/pkg/geometry"
)

// Method selects the per-annulus rotation solver.
type Method string

const (
	// MethodDV minimises the deprojected linewidth (fast, point value)
	MethodDV Method = "dv"
	// MethodGP samples the Gaussian-Process posterior (slow,
	// percentile triples)
	MethodGP Method = "gp"
)

// ProfileOptions configure the per-annulus radial sweep.
type ProfileOptions struct {
	// Method selects the solver
	Method Method

	// Edges or Centers fix the radial binning; both nil selects the
	// beam-based default
	Edges   []float64
	Centers []float64

	// Mask restricts the azimuthal window of every annulus
	Mask geometry.MaskOptions

	// Resample averages deprojected spectra on the common velocity
	// axis. Considerably faster, but incompatible with the GP solver
	// which needs the pooled sub-channel samples
	Resample bool

	// Iterations bounds the raised-surface deprojection; zero selects
	// the default fixed count
	Iterations int

	// BeamStride thins each annulus to every n-th spectrum; zero
	// selects roughly one spectrum per beam, one keeps all
	BeamStride int

	// GP bounds the posterior sampler when Method is MethodGP
	GP GPConfig

	// Workers fans the sweep out over this many goroutines; each bin
	// depends only on read-only shared state. Zero or one runs
	// sequentially
	Workers int
}

// NewProfileOptions returns a sequential direct-method sweep over the
// default bins, keeping every spectrum.
func NewProfileOptions() ProfileOptions {
	return ProfileOptions{
		Method:     MethodDV,
		Mask:       geometry.NewMaskOptions(),
		Resample:   true,
		BeamStride: 1,
		GP:         DefaultGPConfig(),
	}
}

// BinResult is the outcome for one radial bin. Bins with insufficient
// data carry NaN velocities; GP holds the posterior summary for the GP
// method only.
type BinResult struct {
	// R is the bin centre [arcsec]
	R float64

	// VRot is the recovered rotation velocity [m/s]; for the GP
	// method, the posterior median
	VRot float64

	// DVRot is the uncertainty: half the 16th-84th posterior spread
	// for the GP method, NaN for the direct method
	DVRot float64

	// VRef is the projected Keplerian reference velocity
	VRef float64

	// NSpectra is the number of spectra entering the solve
	NSpectra int

	// GP is the full posterior summary when the GP solver ran
	GP *GPResult
}

// Profile runs the per-annulus sweep: for every radial bin in ascending
// order it extracts the annulus spectra, skips bins with fewer than two
// spectra or no signal, and dispatches the selected solver against the
// Keplerian reference at the bin centre. One result is returned per bin
// in bin order; per-annulus failures degrade to NaN results and never
// abort the sweep.
//
// surf may be nil for a thin-disk analysis. A defined surface selects
// the raised deprojection and the elevation-corrected Keplerian
// reference; the surface must not be mutated while the sweep runs.
func Profile(c *cube.Cube, disk *models.DiskGeometry, surf geometry.Surface, opts ProfileOptions) ([]BinResult, error) {
	if err := disk.Validate(); err != nil {
		return nil, err
	}
	switch opts.Method {
	case MethodDV, MethodGP:
	case "":
		opts.Method = MethodDV
	default:
		return nil, fmt.Errorf("method must be 'dv' or 'gp', got %q", opts.Method)
	}
	if opts.Method == MethodGP && opts.Resample {
		c.Warnf("resampling drops the sub-channel samples the GP solver needs, disabling it")
		opts.Resample = false
	}

	raised := surf != nil && surf.Defined()
	var coords *geometry.Coordinates
	var err error
	if raised {
		coords, err = geometry.DeprojectRaised(c, surf, disk.X0, disk.Y0,
			disk.Inc, disk.PA, disk.Nearest, opts.Iterations)
		if err != nil {
			return nil, err
		}
	} else {
		coords = geometry.DeprojectFlat(c, disk.X0, disk.Y0, disk.Inc, disk.PA)
	}

	if opts.Edges == nil && opts.Centers == nil {
		c.Warnf("no radial sampling set, defaulting to quarter-beam bins")
	}
	edges, rpnts, err := geometry.RadialSampling(opts.Edges, opts.Centers,
		maxAbs(c.Xaxis), c.Beam.Maj)
	if err != nil {
		return nil, err
	}

	if opts.Method == MethodGP && opts.GP.RMS <= 0 {
		opts.GP.RMS = channelVariance(c, 0)
	}

	// Neighbouring pixels are beam correlated; the default stride keeps
	// roughly one spectrum per beam footprint.
	if opts.BeamStride == 0 {
		opts.BeamStride = int(math.Ceil(1.0 / c.BeamsPerPix()))
	}

	results := make([]BinResult, len(rpnts))
	solveErr := make([]error, len(rpnts))

	solveBin := func(b int) {
		res := BinResult{R: rpnts[b], VRot: math.NaN(), DVRot: math.NaN(), VRef: math.NaN()}
		defer func() { results[b] = res }()

		maskOpts := opts.Mask
		maskOpts.RMin, maskOpts.RMax = edges[b], edges[b+1]
		maskOpts.ExcludeR = false
		mask := geometry.RegionMask(coords, maskOpts)

		annulus, err := ExtractAnnulus(c, coords, mask)
		if err != nil {
			solveErr[b] = err
			return
		}
		annulus.Thin(opts.BeamStride)
		res.NSpectra = len(annulus.Spectra)
		if res.NSpectra < 2 || annulus.AllZero() {
			return
		}

		z := 0.0
		if raised {
			z = surf.HeightAt(rpnts[b])
		}
		res.VRef = VKepProjected(rpnts[b], z, 0, disk)

		if opts.Method == MethodDV {
			res.VRot = SolveDV(annulus, opts.Resample)
			if math.IsNaN(res.VRot) {
				c.Warnf("width fit failed for annulus at %.3f arcsec", rpnts[b])
			}
			return
		}

		cfg := opts.GP
		cfg.Seed = cfg.Seed + uint64(b)
		gpRes, err := SolveGP(annulus, res.VRef, cfg)
		if err != nil {
			c.Warnf("GP solve failed for annulus at %.3f arcsec: %v", rpnts[b], err)
			return
		}
		res.GP = gpRes
		res.VRot = gpRes.VRot[1]
		res.DVRot = 0.5 * (gpRes.VRot[2] - gpRes.VRot[0])
	}

	if opts.Workers > 1 {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < opts.Workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for b := range jobs {
					solveBin(b)
				}
			}()
		}
		for b := range rpnts {
			jobs <- b
		}
		close(jobs)
		wg.Wait()
	} else {
		for b := range rpnts {
			solveBin(b)
		}
	}

	for _, err := range solveErr {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// channelVariance is the sample variance of one channel image, skipping
// NaNs. Used to seed the GP noise term from a line-free channel.
func channelVariance(c *cube.Cube, v int) float64 {
	ch := c.Channel(v)
	sum, n := 0.0, 0
	for _, val := range ch {
		if !math.IsNaN(val) {
			sum += val
			n++
		}
	}
	if n < 2 {
		return 0
	}
	mean := sum / float64(n)
	ss := 0.0
	for _, val := range ch {
		if !math.IsNaN(val) {
			d := val - mean
			ss += d * d
		}
	}
	return ss / float64(n-1)
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
