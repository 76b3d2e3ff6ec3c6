package nested

import (
	"math"
	"time"

	"github.com/exowatch/transit-cli/internal/model"
)

// Sample is one weighted point of the posterior sample. Dead points come
// first in the order they were discarded, followed by the final live points
// in ascending likelihood.
type Sample struct {
	U         []float64
	LogL      float64
	LogX      float64 // prior volume remaining after this point
	LogWeight float64 // logL + log(prior-volume shell)
	Iteration int
	Live      bool
}

// Result is the outcome of a sampler run.
type Result struct {
	Status      model.Termination
	Samples     []Sample
	LogZ        float64
	LogZErr     float64
	Information float64
	Iterations  int
	Evaluations int
	LivePoints  int
	Seed        uint64
	Elapsed     time.Duration

	// Stall is set when the run ended because no replacement could be found.
	Stall error
}

// Complete reports whether the result covers the full posterior.
func (r *Result) Complete() bool { return r.Status.Complete() }

// Weights returns the normalised importance weights of the samples.
func (r *Result) Weights() []float64 {
	w := make([]float64, len(r.Samples))
	for i, s := range r.Samples {
		w[i] = math.Exp(s.LogWeight - r.LogZ)
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum > 0 {
		for i := range w {
			w[i] /= sum
		}
	}
	return w
}

// Best returns the sample with the highest likelihood.
func (r *Result) Best() (Sample, bool) {
	if len(r.Samples) == 0 {
		return Sample{}, false
	}
	best := r.Samples[0]
	for _, s := range r.Samples[1:] {
		if s.LogL > best.LogL {
			best = s
		}
	}
	return best, true
}

// DeadCount returns how many samples were discarded during iteration.
func (r *Result) DeadCount() int {
	n := 0
	for _, s := range r.Samples {
		if !s.Live {
			n++
		}
	}
	return n
}
