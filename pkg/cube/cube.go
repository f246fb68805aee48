// Package cube holds the in-memory representation of a spectral-line
// image cube together with the axis reader that derives the position and
// velocity axes, the synthesized beam and the brightness-unit conversion
// from the cube metadata.
package cube

import (
	"fmt"
	"log"
	"math"

	"github.com/krschwarz/imgcube/internal/models"
)

// Physical constants in SI units.
const (
	// SpeedOfLight in [m/s]
	SpeedOfLight = 299792458.0

	// GravConst is the gravitational constant in [m^3 kg^-1 s^-2]
	GravConst = 6.67430e-11

	// Boltzmann constant in [J/K]
	Boltzmann = 1.380649e-23

	// AU is the astronomical unit in [m]
	AU = 1.495978707e11

	// MSun is the solar mass in [kg]
	MSun = 1.988e30
)

// FWHM converts a Gaussian standard deviation to a full-width-half-max.
var FWHM = 2.0 * math.Sqrt(2.0*math.Log(2.0))

// WarnFunc receives non-fatal diagnostics. Components emit a warning
// whenever a degraded default is silently substituted so the caller is
// aware; the default sink is the standard logger.
type WarnFunc func(format string, args ...interface{})

// Options control how the cube axes and brightness values are derived
// from the header.
type Options struct {
	// Absolute keeps the position axes in absolute sky coordinates
	// instead of offsets from the image centre
	Absolute bool

	// Kelvin converts the brightness values from Jy/beam to K when the
	// unit is not already Kelvin
	Kelvin bool

	// Warn receives non-fatal diagnostics; nil means log.Printf
	Warn WarnFunc
}

// Cube is a brightness cube indexed by (velocity channel, y pixel,
// x pixel) together with its world-coordinate axes.
type Cube struct {
	// Data is the brightness cube as a 1D array in [v][y][x] order
	Data []float64

	// Xaxis and Yaxis are the position axes in [arcsec], pixel-centre
	// convention
	Xaxis []float64
	Yaxis []float64

	// Velax is the velocity axis in [m/s], monotonic but not
	// necessarily increasing
	Velax []float64

	// NV, NY, NX are the axis lengths
	NV, NY, NX int

	// DPix is the mean absolute pixel scale in [arcsec]
	DPix float64

	// Beam is the synthesized beam; when the header carried none this
	// falls back to a single pixel
	Beam models.Beam

	// RestFreq is the line rest frequency in [Hz]
	RestFreq float64

	// JyToK is the Jy/beam to Kelvin conversion factor (1 when the
	// brightness unit is already Kelvin)
	JyToK float64

	warn WarnFunc
}

// New builds a Cube from header metadata and the already-squeezed
// brightness array. The data must be laid out [v][y][x] with lengths
// matching the header axes.
func New(hdr *models.Header, data []float64, opts Options) (*Cube, error) {
	warn := opts.Warn
	if warn == nil {
		warn = log.Printf
	}

	nv, ny, nx := hdr.Spectral.N, hdr.Y.N, hdr.X.N
	if nv <= 0 || ny <= 0 || nx <= 0 {
		return nil, fmt.Errorf("invalid axis lengths (%d, %d, %d)", nv, ny, nx)
	}
	if len(data) != nv*ny*nx {
		return nil, fmt.Errorf("data length %d does not match axes (%d, %d, %d)",
			len(data), nv, ny, nx)
	}

	c := &Cube{
		Data:     data,
		NV:       nv,
		NY:       ny,
		NX:       nx,
		RestFreq: hdr.RestFreq,
		warn:     warn,
	}

	xax := hdr.X
	if opts.Absolute {
		// The right-ascension spacing shrinks by cos(dec) on the sky.
		xax.Delta /= math.Cos(radians(hdr.Y.RefVal))
	}
	c.Xaxis = readPositionAxis(xax, opts.Absolute)
	c.Yaxis = readPositionAxis(hdr.Y, opts.Absolute)
	c.DPix = 0.5 * (meanAbsDiff(c.Xaxis) + meanAbsDiff(c.Yaxis))
	c.Velax = readVelocityAxis(hdr)

	// Missing beam parameters degrade to a pixel-sized beam rather than
	// failing: the analysis stays functional at reduced fidelity.
	if hdr.HasBeam {
		if err := hdr.Beam.Validate(); err != nil {
			return nil, fmt.Errorf("invalid beam: %w", err)
		}
		c.Beam = hdr.Beam
	} else {
		warn("no beam in header, assuming a pixel-sized beam (%.3e arcsec)", c.DPix)
		c.Beam = models.Beam{Maj: c.DPix, Min: c.DPix, PA: 0.0}
	}

	c.JyToK = 1.0
	if hdr.BUnit != "" && hdr.BUnit != "K" && hdr.BUnit != "k" {
		c.JyToK = c.jy2k()
	}
	if opts.Kelvin && c.JyToK != 1.0 {
		for i := range c.Data {
			c.Data[i] *= c.JyToK
		}
	}
	return c, nil
}

// readPositionAxis returns a position axis in [arcsec]. In relative mode
// the reference value is zeroed and the reference pixel shifted by half
// a pixel so the axis follows the pixel-centre convention.
func readPositionAxis(a models.Axis, absolute bool) []float64 {
	ref, pix := a.RefVal, a.RefPix
	if !absolute {
		ref = 0.0
		pix -= 0.5
	}
	axis := make([]float64, a.N)
	for i := range axis {
		axis[i] = ref + (float64(i)-pix+1.0)*a.Delta
		if !absolute {
			axis[i] *= 3600.0
		}
	}
	return axis
}

// readSpectralAxis returns the raw spectral axis in its native units.
func readSpectralAxis(a models.Axis) []float64 {
	axis := make([]float64, a.N)
	for i := range axis {
		axis[i] = a.RefVal + (float64(i)-a.RefPix+1.0)*a.Delta
	}
	return axis
}

// readVelocityAxis returns the velocity axis in [m/s], converting from
// frequency via the Doppler relation when necessary.
func readVelocityAxis(hdr *models.Header) []float64 {
	axis := readSpectralAxis(hdr.Spectral)
	if !hdr.SpectralIsFrequency() {
		return axis
	}
	nu := hdr.RestFreq
	for i, f := range axis {
		axis[i] = (nu - f) * SpeedOfLight / nu
	}
	return axis
}

// At returns the brightness at (channel, y, x).
func (c *Cube) At(v, y, x int) float64 {
	return c.Data[(v*c.NY+y)*c.NX+x]
}

// Channel returns the channel image as a flat [y*x] view into the cube.
func (c *Cube) Channel(v int) []float64 {
	n := c.NY * c.NX
	return c.Data[v*n : (v+1)*n]
}

// Spectrum gathers the spectrum of pixel (y, x) over all channels.
func (c *Cube) Spectrum(y, x int) []float64 {
	s := make([]float64, c.NV)
	for v := 0; v < c.NV; v++ {
		s[v] = c.At(v, y, x)
	}
	return s
}

// CollapseMethod selects how the spectral axis is reduced to an image.
type CollapseMethod int

const (
	// CollapseMax takes the maximum along the spectral axis
	CollapseMax CollapseMethod = iota
	// CollapseSum sums along the spectral axis, skipping NaNs
	CollapseSum
	// CollapseInt integrates along the velocity axis (trapezoidal)
	CollapseInt
)

// Collapse reduces the cube to a flat [y*x] image with the requested
// method.
func (c *Cube) Collapse(method CollapseMethod) ([]float64, error) {
	n := c.NY * c.NX
	out := make([]float64, n)
	switch method {
	case CollapseMax:
		for i := 0; i < n; i++ {
			out[i] = math.Inf(-1)
		}
		for v := 0; v < c.NV; v++ {
			ch := c.Channel(v)
			for i, val := range ch {
				if val > out[i] {
					out[i] = val
				}
			}
		}
	case CollapseSum:
		for v := 0; v < c.NV; v++ {
			ch := c.Channel(v)
			for i, val := range ch {
				if !math.IsNaN(val) {
					out[i] += val
				}
			}
		}
	case CollapseInt:
		for v := 0; v < c.NV-1; v++ {
			dv := c.Velax[v+1] - c.Velax[v]
			a, b := c.Channel(v), c.Channel(v+1)
			for i := 0; i < n; i++ {
				va, vb := a[i], b[i]
				if math.IsNaN(va) {
					va = 0.0
				}
				if math.IsNaN(vb) {
					vb = 0.0
				}
				out[i] += 0.5 * (va + vb) * dv
			}
		}
	default:
		return nil, fmt.Errorf("unknown collapse method %d", method)
	}
	return out, nil
}

// BeamAreaStr returns the beam solid angle in [steradian].
func (c *Cube) BeamAreaStr() float64 {
	omega := radians(c.Beam.Min/3600.0) * radians(c.Beam.Maj/3600.0)
	if c.Beam.Min == c.DPix && c.Beam.Maj == c.DPix {
		return omega
	}
	return math.Pi * omega / 4.0 / math.Log(2.0)
}

// BeamAreaPix returns the beam area in [pixel^2].
func (c *Cube) BeamAreaPix() float64 {
	omega := c.Beam.Min * c.Beam.Maj / (c.DPix * c.DPix)
	if c.Beam.Min == c.DPix && c.Beam.Maj == c.DPix {
		return omega
	}
	return math.Pi * omega / 2.0 / math.Log(2.0)
}

// BeamsPerPix returns the number of beams covering one pixel. Its
// inverse sizes the stride that thins annulus spectra to roughly one
// per independent beam.
func (c *Cube) BeamsPerPix() float64 {
	return 1.0 / c.BeamAreaPix()
}

// Warnf forwards a diagnostic to the cube's warning sink.
func (c *Cube) Warnf(format string, args ...interface{}) {
	c.warn(format, args...)
}

// jy2k is the Jy/beam to Kelvin conversion in the Rayleigh-Jeans limit.
func (c *Cube) jy2k() float64 {
	f := 1e-26 * SpeedOfLight * SpeedOfLight / (c.RestFreq * c.RestFreq) / 2.0 / Boltzmann
	return f / c.BeamAreaStr()
}

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }

func meanAbsDiff(axis []float64) float64 {
	if len(axis) < 2 {
		return 0.0
	}
	sum := 0.0
	for i := 1; i < len(axis); i++ {
		sum += math.Abs(axis[i] - axis[i-1])
	}
	return sum / float64(len(axis)-1)
}
