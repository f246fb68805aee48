package rotation

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/krschwarz/imgcube/pkg/gp"
	"github.com/krschwarz/imgcube/pkg/mcmc"
)

// GPConfig bounds the posterior sampling of the Gaussian-Process
// rotation solver.
type GPConfig struct {
	// NWalkers is the ensemble size; it must be even and at least 8
	// for the four free parameters
	NWalkers int

	// NBurnin steps are discarded before summarising the chain
	NBurnin int

	// NSteps retained steps form the posterior sample
	NSteps int

	// RMS seeds the noise parameter, typically the variance of a
	// line-free channel
	RMS float64

	// Seed makes the sampling reproducible
	Seed uint64
}

// DefaultGPConfig returns the customary ensemble size and chain lengths.
func DefaultGPConfig() GPConfig {
	return GPConfig{NWalkers: 32, NBurnin: 100, NSteps: 100, Seed: 42}
}

// Percentiles is a [16th, 50th, 84th] posterior summary.
type Percentiles [3]float64

// GPResult summarises the posterior of the four free parameters for one
// annulus: rotation velocity, noise level, and the log amplitude and
// log length-scale of the Matérn-3/2 component.
type GPResult struct {
	VRot    Percentiles
	Noise   Percentiles
	LnSigma Percentiles
	LnRho   Percentiles
}

// maxVrotDeviation is the relative half-width of the rotation-velocity
// prior around the Keplerian reference.
const maxVrotDeviation = 0.3

// LogProbability is the posterior log-probability of the GP model.
// The priors are weakly informative: the candidate rotation velocity
// must stay within 30% of the Keplerian reference, the noise positive,
// and the kernel hyperparameters inside broad log-space boxes. Anything
// outside returns -Inf. Otherwise the pooled deprojected profile is
// scored by its Matérn-3/2 Gaussian-Process likelihood: the smoothest
// de-rotated profile wins.
func LogProbability(theta []float64, a *Annulus, vref float64) float64 {
	vrot, noise, lnSigma, lnRho := theta[0], theta[1], theta[2], theta[3]

	if math.Abs(vrot-vref)/vref > maxVrotDeviation {
		return math.Inf(-1)
	}
	if noise <= 0 {
		return math.Inf(-1)
	}
	if lnSigma <= -5 || lnSigma >= 10 {
		return math.Inf(-1)
	}
	if lnRho < 0 || lnRho > 10 {
		return math.Inf(-1)
	}

	x, y := a.combined(vrot, false)
	ll, err := gp.LogLikelihood(x, y, noise, lnSigma, lnRho)
	if err != nil || math.IsNaN(ll) {
		return math.Inf(-1)
	}
	return ll
}

// SolveGP samples the posterior of one annulus with the ensemble
// sampler and reports per-parameter percentiles. vref is the projected
// Keplerian velocity at the annulus radius. Failures return an error;
// the sweep downgrades them to a NaN bin rather than aborting.
func SolveGP(a *Annulus, vref float64, cfg GPConfig) (*GPResult, error) {
	if cfg.NWalkers <= 0 {
		cfg = DefaultGPConfig()
	}

	vrot0, _ := EstimateVrot(a)
	if vrot0 < 0 {
		// The cosine fit found a negative amplitude: the blue-shifted
		// major axis is on the wrong side for the prior to bracket it.
		vrot0 = math.Abs(vrot0)
	}
	if vrot0 == 0 || math.IsNaN(vrot0) {
		return nil, fmt.Errorf("cannot estimate a starting rotation velocity")
	}
	if vref <= 0 || math.IsNaN(vref) {
		vref = vrot0
	}

	// Line properties seed the kernel scales.
	x, y := a.combined(vrot0, true)
	idx := argmax(y)
	if idx < 0 || y[idx] <= 0 {
		return nil, fmt.Errorf("no signal in the combined profile")
	}
	dV := math.Abs(trapz(y, x) / y[idx] / math.Sqrt(2.0*math.Pi))
	rms := cfg.RMS
	if rms <= 0 || math.IsNaN(rms) {
		rms = 0.1 * y[idx]
	}

	p0 := []float64{vref, rms, math.Log(rms), math.Log(dV)}
	walkers := scatterWalkers(p0, cfg.NWalkers, cfg.Seed)

	sampler, err := mcmc.NewEnsemble(cfg.NWalkers, len(p0), func(theta []float64) float64 {
		return LogProbability(theta, a, vref)
	}, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if err := sampler.Run(walkers, cfg.NBurnin+cfg.NSteps); err != nil {
		return nil, err
	}

	flat := sampler.FlatChain(cfg.NBurnin)
	if len(flat) == 0 {
		return nil, fmt.Errorf("empty chain after burn-in")
	}

	res := &GPResult{}
	for d, dst := range []*Percentiles{&res.VRot, &res.Noise, &res.LnSigma, &res.LnRho} {
		vals := make([]float64, len(flat))
		for i, s := range flat {
			vals[i] = s[d]
		}
		sort.Float64s(vals)
		dst[0] = stat.Quantile(0.16, stat.Empirical, vals, nil)
		dst[1] = stat.Quantile(0.50, stat.Empirical, vals, nil)
		dst[2] = stat.Quantile(0.84, stat.Empirical, vals, nil)
	}
	return res, nil
}

// scatterWalkers spreads the walkers around p0 with a few percent of
// multiplicative Gaussian scatter.
func scatterWalkers(p0 []float64, nwalkers int, seed uint64) [][]float64 {
	const scatter = 3e-2
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed ^ 0x9e3779b9)}
	walkers := make([][]float64, nwalkers)
	for k := range walkers {
		w := make([]float64, len(p0))
		for d, v := range p0 {
			w[d] = v * (1.0 + scatter*normal.Rand())
		}
		walkers[k] = w
	}
	return walkers
}
