// Package gp provides a small Gaussian-Process toolkit over a Matérn-3/2
// kernel with a white-noise (jitter) component: the log-likelihood used
// by the rotation solver's posterior sampling, and a heteroscedastic
// regression used to smooth noisy emission-surface samples.
package gp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Matern32 evaluates the Matérn-3/2 covariance between two points a
// distance d apart, with amplitude sigma and length scale rho.
func Matern32(d, sigma, rho float64) float64 {
	u := math.Sqrt(3.0) * math.Abs(d) / rho
	return sigma * sigma * (1.0 + u) * math.Exp(-u)
}

// LogLikelihood returns the log-likelihood of the observations y at
// positions x under a zero-trend Matérn-3/2 process with amplitude
// exp(lnSigma), length scale exp(lnRho) and white noise level noise.
// The sample mean of y is subtracted as the process mean. A covariance
// that fails to factorize returns an error; callers treat that as a
// rejected model rather than a fatal condition.
func LogLikelihood(x, y []float64, noise, lnSigma, lnRho float64) (float64, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0, fmt.Errorf("mismatched inputs: %d positions, %d values", n, len(y))
	}

	sigma := math.Exp(lnSigma)
	rho := math.Exp(lnRho)

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k := Matern32(x[i]-x[j], sigma, rho)
			if i == j {
				k += noise * noise
			}
			cov.SetSym(i, j, k)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return 0, fmt.Errorf("covariance is not positive definite")
	}

	mean := stat.Mean(y, nil)
	r := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		r.SetVec(i, y[i]-mean)
	}

	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, r); err != nil {
		return 0, fmt.Errorf("failed to solve covariance system: %w", err)
	}

	ll := -0.5 * mat.Dot(r, &alpha)
	ll -= 0.5 * chol.LogDet()
	ll -= 0.5 * float64(n) * math.Log(2.0*math.Pi)
	if math.IsNaN(ll) {
		return 0, fmt.Errorf("log-likelihood is NaN")
	}
	return ll, nil
}

// maxRegressionPoints caps the dense covariance solve in Regress. The
// inputs are thinned by striding beyond this size.
const maxRegressionPoints = 1000

// Regress returns the GP posterior mean and standard deviation evaluated
// at the training positions, given per-point noise levels. The kernel
// hyperparameters are chosen by maximising the marginal likelihood with
// a derivative-free search started from the sample statistics. x must be
// sorted ascending. dz may be nil for homoscedastic noise estimated from
// the data.
func Regress(x, y, dz []float64) (xo, mu, std []float64, err error) {
	if len(x) != len(y) {
		return nil, nil, nil, fmt.Errorf("mismatched inputs: %d positions, %d values", len(x), len(y))
	}
	if len(x) < 3 {
		return nil, nil, nil, fmt.Errorf("need at least 3 points for regression, got %d", len(x))
	}

	x, y, dz = thin(x, y, dz, maxRegressionPoints)
	n := len(x)

	noise := make([]float64, n)
	if dz != nil {
		copy(noise, dz)
	}
	base := 0.1 * stat.StdDev(y, nil)
	if base <= 0 || math.IsNaN(base) {
		base = 1e-8
	}
	for i := range noise {
		if noise[i] <= 0 || math.IsNaN(noise[i]) {
			noise[i] = base
		}
	}

	// Hyperparameters from maximum marginal likelihood.
	sd := stat.StdDev(y, nil)
	span := x[n-1] - x[0]
	if sd <= 0 || math.IsNaN(sd) {
		sd = 1e-8
	}
	if span <= 0 {
		return nil, nil, nil, fmt.Errorf("positions must span a non-zero range")
	}
	p0 := []float64{math.Log(sd), math.Log(span / 5.0)}
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			ll, lerr := heteroLogLikelihood(x, y, noise, p[0], p[1])
			if lerr != nil {
				return math.Inf(1)
			}
			return -ll
		},
	}
	best := p0
	if result, oerr := optimize.Minimize(problem, p0, nil, &optimize.NelderMead{}); oerr == nil {
		best = result.X
	}
	sigma, rho := math.Exp(best[0]), math.Exp(best[1])

	// Posterior mean and variance at the training points.
	cov := mat.NewSymDense(n, nil)
	kxx := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k := Matern32(x[i]-x[j], sigma, rho)
			kxx.Set(i, j, k)
			if j >= i {
				if i == j {
					k += noise[i] * noise[i]
				}
				cov.SetSym(i, j, k)
			}
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, nil, nil, fmt.Errorf("covariance is not positive definite")
	}

	mean := stat.Mean(y, nil)
	r := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		r.SetVec(i, y[i]-mean)
	}
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, r); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to solve covariance system: %w", err)
	}

	var kinvK mat.Dense
	if err := chol.SolveTo(&kinvK, kxx); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to solve covariance system: %w", err)
	}

	mu = make([]float64, n)
	std = make([]float64, n)
	for i := 0; i < n; i++ {
		m := mean
		v := Matern32(0, sigma, rho)
		for j := 0; j < n; j++ {
			m += kxx.At(i, j) * alpha.AtVec(j)
			v -= kxx.At(i, j) * kinvK.At(j, i)
		}
		mu[i] = m
		if v < 0 {
			v = 0
		}
		std[i] = math.Sqrt(v)
	}
	return x, mu, std, nil
}

// heteroLogLikelihood is LogLikelihood with per-point noise levels.
func heteroLogLikelihood(x, y, noise []float64, lnSigma, lnRho float64) (float64, error) {
	n := len(x)
	sigma := math.Exp(lnSigma)
	rho := math.Exp(lnRho)
	if math.IsInf(sigma, 0) || math.IsInf(rho, 0) || rho == 0 {
		return 0, fmt.Errorf("hyperparameters out of range")
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k := Matern32(x[i]-x[j], sigma, rho)
			if i == j {
				k += noise[i] * noise[i]
			}
			cov.SetSym(i, j, k)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return 0, fmt.Errorf("covariance is not positive definite")
	}

	mean := stat.Mean(y, nil)
	r := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		r.SetVec(i, y[i]-mean)
	}
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, r); err != nil {
		return 0, err
	}
	ll := -0.5*mat.Dot(r, &alpha) - 0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2.0*math.Pi)
	if math.IsNaN(ll) {
		return 0, fmt.Errorf("log-likelihood is NaN")
	}
	return ll, nil
}

func thin(x, y, dz []float64, limit int) ([]float64, []float64, []float64) {
	n := len(x)
	if n <= limit {
		return x, y, dz
	}
	stride := (n + limit - 1) / limit
	var xo, yo, zo []float64
	for i := 0; i < n; i += stride {
		xo = append(xo, x[i])
		yo = append(yo, y[i])
		if dz != nil {
			zo = append(zo, dz[i])
		}
	}
	if dz == nil {
		return xo, yo, nil
	}
	return xo, yo, zo
}
