package rotation

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// widthPenalty stands in for the combined-profile width when the
// Gaussian fit fails to converge, steering the optimizer away without
// aborting the annulus.
const widthPenalty = 1e50

// EstimateVrot guesses the rotation and systemic velocities by fitting
// an offset cosine to the per-pixel peak velocities versus azimuth. The
// guess degrades to the raw peak spread when the fit fails.
func EstimateVrot(a *Annulus) (vrot, vlsr float64) {
	vpeaks := make([]float64, len(a.Spectra))
	for i, s := range a.Spectra {
		idx := argmax(s)
		if idx < 0 {
			idx = 0
		}
		vpeaks[i] = a.Velax[idx]
	}

	vmin, vmax := vpeaks[0], vpeaks[0]
	sum := 0.0
	for _, v := range vpeaks {
		vmin = math.Min(vmin, v)
		vmax = math.Max(vmax, v)
		sum += v
	}
	p0 := []float64{0.5 * (vmax - vmin), sum / float64(len(vpeaks))}

	popt, err := fitOffsetCosine(a.Angles, vpeaks, p0)
	if err != nil {
		return p0[0], p0[1]
	}
	return popt[0], popt[1]
}

// deprojectedWidth measures the width of the combined line profile after
// de-rotating by the candidate vrot. A mis-estimated vrot smears the
// pooled profile, so the width is minimal at the true rotation velocity.
func deprojectedWidth(a *Annulus, vrot float64, resample bool) float64 {
	x, y := a.combined(vrot, resample)

	idx := argmax(y)
	if idx < 0 {
		return widthPenalty
	}
	tb := y[idx]
	if tb <= 0 {
		return widthPenalty
	}
	dV := trapz(y, x) / tb / math.Sqrt(math.Pi)
	p0 := []float64{tb, dV, x[idx]}

	popt, err := fitGaussian(x, y, p0)
	if err != nil {
		return widthPenalty
	}
	return math.Abs(popt[1])
}

// SolveDV recovers the rotation velocity of one annulus by minimising
// the deprojected linewidth with a derivative-free local optimizer,
// seeded from the offset-cosine peak estimate. Numerical failures yield
// NaN so the radial sweep can continue.
func SolveDV(a *Annulus, resample bool) float64 {
	vrot0, _ := EstimateVrot(a)
	vrot0 = math.Abs(vrot0)
	if vrot0 == 0 || math.IsNaN(vrot0) {
		return math.NaN()
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			return deprojectedWidth(a, p[0], resample)
		},
	}
	result, err := optimize.Minimize(problem, []float64{vrot0}, nil, &optimize.NelderMead{})
	if err != nil || result == nil {
		return math.NaN()
	}
	v := math.Abs(result.X[0])
	if math.IsNaN(v) || deprojectedWidth(a, result.X[0], resample) >= widthPenalty {
		return math.NaN()
	}
	return v
}
