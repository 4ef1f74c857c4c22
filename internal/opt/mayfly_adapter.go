package opt

import (
	"math"

	"github.com/cwbudde/mayfly"
)

// minMayflyPopulation is the smallest population accepted by the mayfly library
const minMayflyPopulation = 20

// MayflyConfig configures the population-based driver
type MayflyConfig struct {
	Population int
}

// DefaultMayflyConfig returns the smallest population the library accepts
func DefaultMayflyConfig() MayflyConfig {
	return MayflyConfig{Population: minMayflyPopulation}
}

// Validate checks the configuration
func (c MayflyConfig) Validate() error {
	if c.Population < minMayflyPopulation {
		return &ConfigError{Field: "Population", Reason: "must be at least 20"}
	}
	return nil
}

// ConfigureMayfly selects the mayfly search for the next Run
func (e *Engine) ConfigureMayfly(c MayflyConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	e.mayfly = c
	e.algorithm = AlgorithmMayfly
	return nil
}

// mayflySearch hands the free parameters to the mayfly library. The library
// works in the unit box; positions are mapped onto the free parameter bounds
// before every evaluation. Once the run is done every evaluation returns +Inf
// so the library winds down without touching the parameters.
func (r *run) mayflySearch() {
	cfg := r.e.mayfly
	lower, upper := r.e.space.FreeBounds()
	dim := len(lower)

	w := &walker{cost: r.result.InitialCost}
	free := make([]float64, dim)

	eval := func(x []float64) float64 {
		if r.done() {
			return math.Inf(1)
		}
		for i := range free {
			free[i] = lower[i] + clamp(x[i], 0, 1)*(upper[i]-lower[i])
		}
		if err := r.e.space.SetFreeValues(free); err != nil {
			r.e.logger.Error("Failed to apply mayfly position", "error", err)
			r.termination = TerminationStopped
			return math.Inf(1)
		}

		cost, err := r.e.Cost()
		r.trial++
		r.trialsSinceBest++
		w.trials++

		code := Accepted
		if err != nil {
			r.result.EvalFailures++
			r.e.logger.Debug("Cost evaluation failed", "trial", r.trial, "error", err)
			cost = math.NaN()
			code = Rejected
		} else {
			w.cost = cost
			w.accepted++
			code = r.improved(cost, 0, w)
		}

		r.record(0, code, cost)
		r.publish(0, w)
		r.tick()
		if code == Rejected {
			return math.Inf(1)
		}
		return cost
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.NPop = cfg.Population
	config.LowerBound = 0
	config.UpperBound = 1
	// each iteration evaluates at least the males and the females
	config.MaxIterations = int(max(1, r.budget/int64(2*cfg.Population)))
	config.Rand = r.e.rng

	if _, err := mayfly.Optimize(config); err != nil {
		r.e.logger.Error("Mayfly search failed", "error", err)
	}
	if !r.done() {
		r.termination = TerminationExhausted
	}
}
