// Package montecarlo builds empirical outcome distributions by drawing many
// randomized campaign trajectories around a base projection.
package montecarlo

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/edumetrics/funnelcast/internal/api"
)

// Config controls one simulation run. All knobs are per call.
type Config struct {
	// Variability is the relative std of the multiplicative noise applied
	// to conversion rate and remaining-lead velocity. Must be ≥ 0; zero
	// collapses the distribution to a point mass at the base projection.
	Variability float64 `json:"variability"`

	// NSimulations is the trajectory count. Must be ≥ 1.
	NSimulations int `json:"n_simulations"`

	// Seed fixes the RNG. Equal seeds give bit-for-bit equal results
	// regardless of worker count. Nil draws a fresh seed per run, so
	// results vary run to run.
	Seed *int64 `json:"seed,omitempty"`

	// Realized is the outcome already locked in (observed so far). Only
	// the remainder above it is exposed to velocity noise. Zero means the
	// whole projection is still in flight.
	Realized float64 `json:"realized,omitempty"`

	// ElasticityStd, when > 0, adds a third multiplicative perturbation
	// modelling channel elasticity drift.
	ElasticityStd float64 `json:"elasticity_std,omitempty"`

	// CalibrationFactor widens (>1) or narrows (<1) the noise, threaded
	// in from the interval calibrator. Zero means neutral.
	CalibrationFactor float64 `json:"calibration_factor,omitempty"`
}

// DefaultConfig returns the documented defaults (1000 trajectories).
func DefaultConfig() Config {
	return Config{Variability: 0.15, NSimulations: 1000, CalibrationFactor: 1.0}
}

// Result is the empirical outcome distribution. Percentiles and risk
// probabilities are derived views over the stored samples, not stored
// separately.
type Result struct {
	Samples []float64 `json:"samples"`

	sorted []float64
	once   sync.Once
}

// Simulate draws cfg.NSimulations independent trajectories around base.
// Each trajectory perturbs conversion rate and remaining-lead velocity
// (and optionally elasticity) with multiplicative normal noise around 1.0,
// resampled per trajectory.
func Simulate(base api.Projection, cfg Config) (*Result, error) {
	if cfg.NSimulations < 1 {
		return nil, api.ErrInvalidParameter("montecarlo", "n_simulations", "must be ≥ 1")
	}
	if cfg.Variability < 0 {
		return nil, api.ErrInvalidParameter("montecarlo", "variability", "must be ≥ 0")
	}

	factor := cfg.CalibrationFactor
	if factor <= 0 {
		factor = 1.0
	}
	sigma := cfg.Variability * factor

	var seed int64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		seed = rand.Int63()
	}

	realized := cfg.Realized
	if realized > base.Central {
		realized = base.Central
	}
	remaining := base.Central - realized

	samples := make([]float64, cfg.NSimulations)

	// Trajectories are embarrassingly parallel. Each derives its RNG
	// from seed+index so chunking across workers never changes the
	// result.
	workers := runtime.NumCPU()
	if workers > cfg.NSimulations {
		workers = cfg.NSimulations
	}

	var wg sync.WaitGroup
	chunk := (cfg.NSimulations + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > cfg.NSimulations {
			hi = cfg.NSimulations
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				rng := rand.New(rand.NewSource(seed + int64(i)))

				conv := positiveNoise(rng, sigma)
				velocity := positiveNoise(rng, sigma)

				outcome := (realized + remaining*velocity) * conv
				if cfg.ElasticityStd > 0 {
					outcome *= positiveNoise(rng, cfg.ElasticityStd*factor)
				}
				if outcome < 0 {
					outcome = 0
				}
				samples[i] = outcome
			}
		}(lo, hi)
	}
	wg.Wait()

	return &Result{Samples: samples}, nil
}

// positiveNoise draws a multiplicative factor ~ N(1, sigma), floored at 0
// so outcomes can never go negative.
func positiveNoise(rng *rand.Rand, sigma float64) float64 {
	f := 1 + rng.NormFloat64()*sigma
	if f < 0 {
		return 0
	}
	return f
}

func (r *Result) sortedSamples() []float64 {
	r.once.Do(func() {
		r.sorted = append([]float64(nil), r.Samples...)
		sort.Float64s(r.sorted)
	})
	return r.sorted
}

// Percentile returns the p-th percentile of the samples for p in [0, 100],
// with linear interpolation between order statistics.
func (r *Result) Percentile(p float64) float64 {
	s := r.sortedSamples()
	if len(s) == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 100 {
		return s[len(s)-1]
	}

	pos := p / 100 * float64(len(s)-1)
	idx := int(math.Floor(pos))
	frac := pos - float64(idx)
	if idx >= len(s)-1 {
		return s[len(s)-1]
	}
	return s[idx] + frac*(s[idx+1]-s[idx])
}

// ProbabilityBelow returns the fraction of samples strictly below the
// threshold.
func (r *Result) ProbabilityBelow(threshold float64) float64 {
	s := r.sortedSamples()
	if len(s) == 0 {
		return 0
	}
	n := sort.SearchFloat64s(s, threshold)
	return float64(n) / float64(len(s))
}

// ProbabilityAbove returns the fraction of samples at or above the
// threshold.
func (r *Result) ProbabilityAbove(threshold float64) float64 {
	return 1 - r.ProbabilityBelow(threshold)
}

// Mean of the sample distribution.
func (r *Result) Mean() float64 {
	if len(r.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.Samples {
		sum += v
	}
	return sum / float64(len(r.Samples))
}

// Std of the sample distribution.
func (r *Result) Std() float64 {
	n := len(r.Samples)
	if n == 0 {
		return 0
	}
	mean := r.Mean()
	var variance float64
	for _, v := range r.Samples {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(n))
}

// Interval reads a central percentile band off the distribution, e.g.
// Interval(2.5, 97.5) for 95% coverage. The central value is the mean,
// clamped into the band so the ordering invariant holds even for heavily
// skewed distributions.
func (r *Result) Interval(lowPct, highPct float64) api.Projection {
	lower := r.Percentile(lowPct)
	upper := r.Percentile(highPct)
	central := r.Mean()
	if central < lower {
		central = lower
	}
	if central > upper {
		central = upper
	}
	return api.Projection{Central: central, Lower: lower, Upper: upper}
}
