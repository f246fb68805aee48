package rotation

import (
	"fmt"
	"math"

	"github.com/maorshutman/lm"
)

// gaussianModel evaluates a*exp(-(x-x0)^2/dV^2): the assumed shape of a
// well-deprojected line profile, parametrized by the 1/e half-width dV.
func gaussianModel(x, amp, dV, x0 float64) float64 {
	d := (x - x0) / dV
	return amp * math.Exp(-d*d)
}

// fitGaussian fits (amp, dV, x0) to the profile by Levenberg-Marquardt
// least squares.
func fitGaussian(x, y, p0 []float64) ([]float64, error) {
	if len(x) != len(y) || len(x) < 4 {
		return nil, fmt.Errorf("need at least 4 profile samples, got %d", len(x))
	}
	f := func(dst, p []float64) {
		for i := range x {
			dst[i] = gaussianModel(x[i], p[0], p[1], p[2]) - y[i]
		}
	}
	jac := lm.NumJac{Func: f}
	problem := lm.LMProblem{
		Dim:        3,
		Size:       len(x),
		Func:       f,
		Jac:        jac.Jac,
		InitParams: p0,
		Tau:        1e-6,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}
	results, err := lm.LM(problem, &lm.Settings{Iterations: 200, ObjectiveTol: 1e-16})
	if err != nil {
		return nil, fmt.Errorf("failed to fit gaussian profile: %w", err)
	}
	return results.X, nil
}

// fitOffsetCosine fits v(theta) = A*cos(theta) + v0 to the per-pixel
// peak velocities: the azimuthal modulation of the line-of-sight
// velocity is cosinusoidal for circular rotation.
func fitOffsetCosine(angles, v, p0 []float64) ([]float64, error) {
	if len(angles) != len(v) || len(angles) < 3 {
		return nil, fmt.Errorf("need at least 3 samples, got %d", len(angles))
	}
	f := func(dst, p []float64) {
		for i := range angles {
			dst[i] = p[0]*math.Cos(angles[i]) + p[1] - v[i]
		}
	}
	jac := lm.NumJac{Func: f}
	problem := lm.LMProblem{
		Dim:        2,
		Size:       len(angles),
		Func:       f,
		Jac:        jac.Jac,
		InitParams: p0,
		Tau:        1e-6,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}
	results, err := lm.LM(problem, &lm.Settings{Iterations: 200, ObjectiveTol: 1e-16})
	if err != nil {
		return nil, fmt.Errorf("failed to fit peak velocities: %w", err)
	}
	return results.X, nil
}

// trapz is the trapezoidal integral of y over x.
func trapz(y, x []float64) float64 {
	sum := 0.0
	for i := 1; i < len(x); i++ {
		ya, yb := y[i-1], y[i]
		if math.IsNaN(ya) {
			ya = 0
		}
		if math.IsNaN(yb) {
			yb = 0
		}
		sum += 0.5 * (ya + yb) * (x[i] - x[i-1])
	}
	return sum
}

// argmax returns the index of the largest finite sample, or -1 when
// none exists.
func argmax(y []float64) int {
	best, idx := math.Inf(-1), -1
	for i, v := range y {
		if !math.IsNaN(v) && v > best {
			best, idx = v, i
		}
	}
	return idx
}
