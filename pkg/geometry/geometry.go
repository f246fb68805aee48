// Package geometry deprojects sky-plane pixel coordinates into disk-plane
// (radius, azimuth) coordinates, both for a geometrically thin disk and
// for a raised emission surface, and provides the radial binning, region
// masking and radial-profile machinery built on those coordinates.
package geometry

import (
	"fmt"
	"math"

	"github.com/krschwarz/imgcube/internal/models"
	"github.com/krschwarz/imgcube/pkg/cube"
)

// Surface maps disk radius to emission height, both in [arcsec]. It is
// implemented by pkg/surface; the indirection keeps the mutually
// recursive geometry/surface relationship acyclic.
type Surface interface {
	// HeightAt returns the emission height at the given radius
	HeightAt(r float64) float64

	// Defined reports whether the surface holds any height information
	Defined() bool
}

// Coordinates holds the disk-plane radius [arcsec] and azimuth [radians]
// of every sky pixel, flattened in [y*x] order.
type Coordinates struct {
	R     []float64
	Theta []float64
	NY    int
	NX    int
}

// DeprojectFlat returns the disk-plane coordinates of every pixel for a
// geometrically thin disk: the sky frame is rotated by (PA + 90 deg)
// about the centre and the rotated y coordinate divided by cos(inc) to
// undo the projection. The position angle is measured from the eastern
// sky axis; eastern offsets grow leftwards, so the x axis is traversed
// in reverse.
func DeprojectFlat(c *cube.Cube, x0, y0, inc, pa float64) *Coordinates {
	xr, yr := rotatedSkyFrame(c, x0, y0, pa)
	cosi := math.Cos(radians(inc))

	out := newCoordinates(c)
	for i := range xr {
		yd := yr[i] / cosi
		out.R[i] = math.Hypot(xr[i], yd)
		out.Theta[i] = math.Atan2(yd, xr[i])
	}
	return out
}

// DefaultSurfaceIterations is the fixed iteration count of the raised
// surface deprojection. Radius corrections are sub-pixel after three to
// four iterations for typical surfaces.
const DefaultSurfaceIterations = 5

// DeprojectRaised returns the disk-plane coordinates accounting for a
// raised emission surface. The system is self-referential (the height is
// a function of radius, the radius depends on the height) and is solved
// by a bounded fixed-point iteration: start from the flat hypotenuse,
// then repeatedly look up the height at the current radius estimate and
// shift the rotated y coordinate by -z*tan(inc) before recomputing the
// polar coordinates. There is no convergence check; iterations <= 0
// selects DefaultSurfaceIterations.
func DeprojectRaised(c *cube.Cube, surf Surface, x0, y0, inc, pa float64,
	nearest models.Side, iterations int) (*Coordinates, error) {
	return DeprojectRaisedTol(c, surf, x0, y0, inc, pa, nearest, iterations, 0.0)
}

// DeprojectRaisedTol is DeprojectRaised with an optional early-exit
// tolerance: iteration stops once the largest radius update drops below
// tol [arcsec]. A tolerance of zero preserves the fixed-count contract.
func DeprojectRaisedTol(c *cube.Cube, surf Surface, x0, y0, inc, pa float64,
	nearest models.Side, iterations int, tol float64) (*Coordinates, error) {

	if surf == nil || !surf.Defined() {
		return nil, fmt.Errorf("surface not initialized")
	}
	if iterations <= 0 {
		iterations = DefaultSurfaceIterations
	}

	xr, yr := rotatedSkyFrame(c, x0, y0, pa)
	irad := radians(inc)
	cosi, tani := math.Cos(irad), math.Tan(irad)
	zsign := 1.0
	if nearest == models.South {
		zsign = -1.0
	}

	out := newCoordinates(c)
	for i := range xr {
		out.R[i] = math.Hypot(xr[i], yr[i])
	}
	for n := 0; n < iterations; n++ {
		drmax := 0.0
		for i := range xr {
			z := zsign * surf.HeightAt(out.R[i])
			yd := yr[i]/cosi - z*tani
			r := math.Hypot(xr[i], yd)
			if dr := math.Abs(r - out.R[i]); dr > drmax {
				drmax = dr
			}
			out.R[i] = r
			out.Theta[i] = math.Atan2(yd, xr[i])
		}
		if tol > 0 && drmax < tol {
			break
		}
	}
	return out, nil
}

// rotatedSkyFrame returns the centred sky coordinates rotated by
// (pa + 90 deg), flattened in [y*x] order.
func rotatedSkyFrame(c *cube.Cube, x0, y0, pa float64) (xr, yr []float64) {
	rot := radians(pa + 90.0)
	cosr, sinr := math.Cos(rot), math.Sin(rot)

	n := c.NY * c.NX
	xr = make([]float64, n)
	yr = make([]float64, n)
	for j := 0; j < c.NY; j++ {
		ys := c.Yaxis[j] - y0
		for i := 0; i < c.NX; i++ {
			xs := c.Xaxis[c.NX-1-i] - x0
			idx := j*c.NX + i
			xr[idx] = xs*cosr + ys*sinr
			yr[idx] = ys*cosr - xs*sinr
		}
	}
	return xr, yr
}

func newCoordinates(c *cube.Cube) *Coordinates {
	n := c.NY * c.NX
	return &Coordinates{
		R:     make([]float64, n),
		Theta: make([]float64, n),
		NY:    c.NY,
		NX:    c.NX,
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }
