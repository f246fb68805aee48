package rotation

import (
	"fmt"
	"math"

	"github.com/maorshutman/lm"

	"github.com/krschwarz/imgcube/internal/models"
	"github.com/krschwarz/imgcube/pkg/cube"
	"github.com/krschwarz/imgcube/pkg/geometry"
)

// VKep returns the circular Keplerian speed [m/s] at disk radius r
// [arcsec] for an emission elevation z [arcsec] above the midplane. The
// elevation weakens the vertical component of the stellar gravity by
// (r^2 + z^2)^(-3/4) relative to the midplane value.
func VKep(r, z float64, disk *models.DiskGeometry) float64 {
	rm := r * disk.Dist * cube.AU
	zm := z * disk.Dist * cube.AU
	if rm <= 0 {
		return math.NaN()
	}
	hyp := math.Pow(rm*rm+zm*zm, 1.5)
	return math.Sqrt(cube.GravConst * disk.MStar * cube.MSun * rm * rm / hyp)
}

// VKepProjected is the line-of-sight Keplerian velocity at disk radius r
// and azimuth theta [radians]: the circular speed scaled by sin(inc) and
// the azimuthal cosine.
func VKepProjected(r, z, theta float64, disk *models.DiskGeometry) float64 {
	return VKep(r, z, disk) * math.Cos(theta) * math.Sin(disk.Inc*math.Pi/180.0)
}

// KeplerianMask returns a cube-shaped boolean mask selecting voxels
// whose velocity lies within dV [m/s] of the local projected Keplerian
// velocity plus the systemic velocity vlsr. rin and rout bound the disk
// radii in [arcsec]; either may be zero to disable. Used to build CLEAN
// masks from the same geometry as the analysis.
func KeplerianMask(c *cube.Cube, disk *models.DiskGeometry, rin, rout, vlsr, dV float64) ([]bool, error) {
	if err := disk.Validate(); err != nil {
		return nil, err
	}
	coords := geometry.DeprojectFlat(c, disk.X0, disk.Y0, disk.Inc, disk.PA)

	npix := c.NY * c.NX
	vkep := make([]float64, npix)
	for i := range vkep {
		r := coords.R[i]
		if (rin > 0 && r < rin) || (rout > 0 && r > rout) {
			vkep[i] = math.NaN()
			continue
		}
		vkep[i] = VKepProjected(r, 0, coords.Theta[i], disk) + vlsr
	}

	mask := make([]bool, c.NV*npix)
	for v := 0; v < c.NV; v++ {
		vel := c.Velax[v]
		for i := 0; i < npix; i++ {
			if math.IsNaN(vkep[i]) {
				continue
			}
			mask[v*npix+i] = math.Abs(vel-vkep[i]) <= dV
		}
	}
	return mask, nil
}

// KeplerianFit is the result of fitting the Keplerian curve to a
// recovered rotation profile.
type KeplerianFit struct {
	// Value is the best-fit stellar mass [Msun] or inclination [deg]
	Value float64

	// Stderr is the standard error from the chi-squared curvature
	Stderr float64

	// NUsed is the number of radial bins entering the fit
	NUsed int
}

// FitStellarMass fits the projected Keplerian curve to the recovered
// rotation profile by weighted non-linear least squares, solving for the
// stellar mass with the geometry held fixed. Bins inside clipBeams beam
// major axes are excluded, where beam smearing dominates, as are bins
// with NaN velocities; bins without a finite uncertainty fall back to
// unit weight. The best-fit mass is written back into the geometry.
func FitStellarMass(rpnts, vrot, dvrot []float64, disk *models.DiskGeometry, clipBeams, bmaj float64) (*KeplerianFit, error) {
	model := func(r, mstar float64) float64 {
		trial := *disk
		trial.MStar = mstar
		return VKepProjected(r, 0, 0, &trial)
	}
	fit, err := fitKeplerian(rpnts, vrot, dvrot, disk.MStar, model, clipBeams, bmaj)
	if err != nil {
		return nil, fmt.Errorf("failed to fit stellar mass: %w", err)
	}
	disk.MStar = fit.Value
	return fit, nil
}

// FitInclination is FitStellarMass solving for the inclination [deg]
// with the stellar mass held fixed.
func FitInclination(rpnts, vrot, dvrot []float64, disk *models.DiskGeometry, clipBeams, bmaj float64) (*KeplerianFit, error) {
	model := func(r, inc float64) float64 {
		trial := *disk
		trial.Inc = inc
		return VKepProjected(r, 0, 0, &trial)
	}
	fit, err := fitKeplerian(rpnts, vrot, dvrot, disk.Inc, model, clipBeams, bmaj)
	if err != nil {
		return nil, fmt.Errorf("failed to fit inclination: %w", err)
	}
	disk.Inc = fit.Value
	return fit, nil
}

func fitKeplerian(rpnts, vrot, dvrot []float64, p0 float64,
	model func(r, p float64) float64, clipBeams, bmaj float64) (*KeplerianFit, error) {

	if len(rpnts) != len(vrot) {
		return nil, fmt.Errorf("mismatched profile: %d radii, %d velocities", len(rpnts), len(vrot))
	}

	var r, v, w []float64
	for i := range rpnts {
		if math.IsNaN(vrot[i]) || rpnts[i] <= clipBeams*bmaj {
			continue
		}
		sigma := 1.0
		if dvrot != nil && i < len(dvrot) && dvrot[i] > 0 && !math.IsNaN(dvrot[i]) {
			sigma = dvrot[i]
		}
		r = append(r, rpnts[i])
		v = append(v, vrot[i])
		w = append(w, 1.0/sigma)
	}
	if len(r) < 2 {
		return nil, fmt.Errorf("only %d usable bins", len(r))
	}

	f := func(dst, p []float64) {
		for i := range r {
			dst[i] = (model(r[i], p[0]) - v[i]) * w[i]
		}
	}
	jac := lm.NumJac{Func: f}
	problem := lm.LMProblem{
		Dim:        1,
		Size:       len(r),
		Func:       f,
		Jac:        jac.Jac,
		InitParams: []float64{p0},
		Tau:        1e-6,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}
	results, err := lm.LM(problem, &lm.Settings{Iterations: 500, ObjectiveTol: 1e-16})
	if err != nil {
		return nil, err
	}
	best := results.X[0]

	// Standard error from the local chi-squared curvature.
	chi2 := func(p float64) float64 {
		sum := 0.0
		for i := range r {
			d := (model(r[i], p) - v[i]) * w[i]
			sum += d * d
		}
		return sum
	}
	h := 1e-4 * math.Abs(best)
	if h == 0 {
		h = 1e-8
	}
	curv := (chi2(best+h) - 2.0*chi2(best) + chi2(best-h)) / (h * h)
	stderr := math.NaN()
	if curv > 0 {
		stderr = math.Sqrt(2.0 / curv)
	}
	return &KeplerianFit{Value: best, Stderr: stderr, NUsed: len(r)}, nil
}
