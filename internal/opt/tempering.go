package opt

import (
	"fmt"
	"math"
)

const (
	defaultWorlds         = 30
	defaultTrialsPerWorld = 10

	// temperingAdaptInterval is the number of trials between two smart adaptations of the worlds
	temperingAdaptInterval = 3000
)

// TemperingConfig configures the parallel tempering driver
type TemperingConfig struct {
	Temperature Schedule
	Mutation    Schedule

	Worlds         int // world 0 is the hottest, Worlds-1 the coldest
	TrialsPerWorld int // trials run on a world before moving to the next

	// MaxTrialsSinceBest resets every world to the best configuration after
	// that many trials without improvement; on the next stagnation the best
	// is set aside and all worlds restart from a random configuration.
	// 0 disables it.
	MaxTrialsSinceBest int64
}

// DefaultTemperingConfig returns smart schedules over 30 worlds
func DefaultTemperingConfig() TemperingConfig {
	return TemperingConfig{
		Temperature:    Schedule{Policy: PolicySmart, Max: 1e6, Min: 1e-6},
		Mutation:       Schedule{Policy: PolicySmart, Max: 16, Min: 0.125},
		Worlds:         defaultWorlds,
		TrialsPerWorld: defaultTrialsPerWorld,
	}
}

// Validate checks the configuration
func (c TemperingConfig) Validate() error {
	if err := c.Temperature.Validate("Temperature"); err != nil {
		return err
	}
	if err := c.Mutation.Validate("Mutation"); err != nil {
		return err
	}
	if c.Worlds < 2 {
		return &ConfigError{Field: "Worlds", Reason: "must be at least 2"}
	}
	if c.TrialsPerWorld < 1 {
		return &ConfigError{Field: "TrialsPerWorld", Reason: "must be positive"}
	}
	if c.MaxTrialsSinceBest < 0 {
		return &ConfigError{Field: "MaxTrialsSinceBest", Reason: "cannot be negative"}
	}
	return nil
}

// ConfigureParallelTempering selects parallel tempering for the next Run
func (e *Engine) ConfigureParallelTempering(c TemperingConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	e.tempering = c
	e.algorithm = AlgorithmTempering
	return nil
}

// temper drives the worlds. The worlds are advanced one after the other on
// the calling goroutine; they are a partition of sequential work.
func (r *run) temper() {
	cfg := r.e.tempering
	worlds := make([]*walker, cfg.Worlds)
	var lastAdapt int64

	state := stateInit
	for state != stateDone {
		switch state {
		case stateInit:
			for i := range worlds {
				worlds[i] = &walker{
					set:         r.createSet(fmt.Sprintf("world %d", i)),
					cost:        r.result.InitialCost,
					temperature: cfg.Temperature.Spread(i, cfg.Worlds),
					amplitude:   cfg.Mutation.Spread(i, cfg.Worlds),
				}
			}
			state = stateRunning

		case stateRestart:
			r.restartWorlds(worlds)
			state = stateRunning

		case stateRunning:
			if !r.temperCycle(worlds) {
				state = stateDone
				break
			}
			r.swap(worlds)

			if r.trial-lastAdapt >= temperingAdaptInterval {
				r.adaptWorlds(worlds)
				lastAdapt = r.trial
			}
			if cfg.MaxTrialsSinceBest > 0 && r.trialsSinceBest > cfg.MaxTrialsSinceBest {
				state = r.stagnated(worlds)
			}
		}
	}
}

// temperCycle runs TrialsPerWorld trials on every world in index order.
// It returns false as soon as the run must terminate.
func (r *run) temperCycle(worlds []*walker) bool {
	n := r.e.tempering.TrialsPerWorld
	for i, w := range worlds {
		r.restore(w.set)
		for j := 0; j < n; j++ {
			if r.done() {
				return false
			}
			r.step(w, i)
			r.tick()
		}
	}
	return true
}

// swap tries to exchange the configurations of adjacent worlds. The test uses
// the colder world's temperature; temperatures stay with their world.
func (r *run) swap(worlds []*walker) {
	for i := 1; i < len(worlds); i++ {
		hot, cold := worlds[i-1], worlds[i]
		if !metropolis(hot.cost-cold.cost, cold.temperature, r.e.rng) {
			continue
		}
		hot.set, cold.set = cold.set, hot.set
		hot.cost, cold.cost = cold.cost, hot.cost
		r.result.Swaps++

		if r.e.trialLog != nil {
			if err := r.e.trialLog.Record(r.trial, i, Swapped, cold.cost, nil); err != nil {
				r.e.logger.Warn("Trial log write failed, disabling", "error", err)
				r.e.trialLog = nil
			}
		}
	}
}

// adaptWorlds applies the smart policy to every world from its acceptance
// rate since the last adaptation
func (r *run) adaptWorlds(worlds []*walker) {
	cfg := r.e.tempering
	for i, w := range worlds {
		if w.trials == 0 {
			continue
		}
		rate := float64(w.accepted) / float64(w.trials)
		if cfg.Temperature.Policy == PolicySmart {
			w.temperature = cfg.Temperature.adaptTemperature(w.temperature, rate, temperingRule)
		}
		if cfg.Mutation.Policy == PolicySmart {
			w.amplitude = cfg.Mutation.adaptAmplitude(w.amplitude, rate, temperingRule)
		}
		r.e.logger.Debug("World adapted",
			"world", i,
			"acceptance", rate,
			"cost", w.cost,
			"temperature", w.temperature,
			"amplitude", w.amplitude,
		)
		w.accepted, w.trials = 0, 0
	}
}

// stagnated handles a run without improvement: the first time every world
// goes back to the best configuration, the next time the search restarts.
func (r *run) stagnated(worlds []*walker) runState {
	r.stagnations++
	best := r.best.SegmentCost()
	if r.stagnations > 1 || math.IsInf(best, 1) {
		r.stagnations = 0
		return stateRestart
	}

	r.restore(r.best.SegmentSnapshot())
	for _, w := range worlds {
		r.save(w.set)
		w.cost = best
	}
	r.trialsSinceBest = 0
	r.result.Resets++
	r.e.logger.Info("No improvement, all worlds reset to best configuration",
		"trial", r.trial,
		"best_cost", best,
	)
	return stateRunning
}

// restartWorlds sets the best aside and restarts every world from one fresh
// random configuration
func (r *run) restartWorlds(worlds []*walker) {
	if err := r.best.Discard(); err != nil {
		r.e.logger.Error("Failed to set best configuration aside", "error", err)
	}
	r.e.space.Randomize(r.e.rng)
	cost, err := r.e.Cost()
	if err != nil {
		r.result.EvalFailures++
		r.e.logger.Warn("Random configuration could not be evaluated", "error", err)
		cost = math.Inf(1)
	}

	for _, w := range worlds {
		r.save(w.set)
		w.cost = cost
	}
	r.trialsSinceBest = 0
	if err == nil {
		r.improved(cost, len(worlds)-1, worlds[len(worlds)-1])
	}
	r.result.Restarts++
	r.e.logger.Info("Restarting all worlds from a random configuration",
		"trial", r.trial,
		"cost", cost,
		"best_cost", r.best.Cost(),
	)
}
