package opt

// annealingTrialsPerTemp is the number of trials between two schedule updates
const annealingTrialsPerTemp = 300

// AnnealingConfig configures the single-trajectory simulated annealing driver
type AnnealingConfig struct {
	Temperature Schedule
	Mutation    Schedule

	// RetryTrials and RetryCost drive the hard restart: after RetryTrials
	// trials without reaching RetryCost, the trajectory jumps to a random
	// configuration. 0 disables it.
	RetryTrials int64
	RetryCost   float64

	// MaxTrialsSinceBest returns the trajectory to the best configuration
	// after that many trials without improvement. 0 disables it.
	MaxTrialsSinceBest int64
}

// DefaultAnnealingConfig returns smart schedules with no restart policy
func DefaultAnnealingConfig() AnnealingConfig {
	return AnnealingConfig{
		Temperature: Schedule{Policy: PolicySmart, Max: 1e6, Min: 1e-6},
		Mutation:    Schedule{Policy: PolicySmart, Max: 16, Min: 0.125},
	}
}

// Validate checks the configuration
func (c AnnealingConfig) Validate() error {
	if err := c.Temperature.Validate("Temperature"); err != nil {
		return err
	}
	if err := c.Mutation.Validate("Mutation"); err != nil {
		return err
	}
	if c.RetryTrials < 0 {
		return &ConfigError{Field: "RetryTrials", Reason: "cannot be negative"}
	}
	if c.MaxTrialsSinceBest < 0 {
		return &ConfigError{Field: "MaxTrialsSinceBest", Reason: "cannot be negative"}
	}
	return nil
}

// ConfigureSimulatedAnnealing selects simulated annealing for the next Run
func (e *Engine) ConfigureSimulatedAnnealing(c AnnealingConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	e.annealing = c
	e.algorithm = AlgorithmAnnealing
	return nil
}

// anneal drives one trajectory: Init, then Running with Restart re-entries,
// until a termination condition holds.
func (r *run) anneal() {
	cfg := r.e.annealing
	w := &walker{set: r.createSet("last")}
	var sinceRetry int64

	state := stateInit
	for state != stateDone {
		switch state {
		case stateInit:
			w.cost = r.result.InitialCost
			w.temperature = cfg.Temperature.Value(0, r.budget)
			w.amplitude = cfg.Mutation.Value(0, r.budget)
			r.save(w.set)
			state = stateRunning

		case stateRestart:
			r.randomRestart(w)
			sinceRetry = 0
			state = stateRunning

		case stateRunning:
			if r.done() {
				state = stateDone
				break
			}
			if r.trial > 0 && r.trial%annealingTrialsPerTemp == 0 {
				r.updateSchedule(w)
			}

			r.step(w, 0)
			sinceRetry++

			if cfg.MaxTrialsSinceBest > 0 && r.trialsSinceBest > cfg.MaxTrialsSinceBest {
				r.e.logger.Debug("No improvement, returning to best configuration",
					"trial", r.trial, "trials_since_best", r.trialsSinceBest)
				r.returnToBest(w)
			}
			r.tick()

			if cfg.RetryTrials > 0 && sinceRetry > cfg.RetryTrials && w.cost > cfg.RetryCost {
				state = stateRestart
			}
		}
	}
}

// updateSchedule recomputes temperature and amplitude. Smart schedules adapt
// to the acceptance rate since the last update, the others follow the trial.
func (r *run) updateSchedule(w *walker) {
	cfg := r.e.annealing
	var rate float64
	if w.trials > 0 {
		rate = float64(w.accepted) / float64(w.trials)
	}

	if cfg.Temperature.Policy == PolicySmart {
		w.temperature = cfg.Temperature.adaptTemperature(w.temperature, rate, annealingTemperatureRule)
	} else {
		w.temperature = cfg.Temperature.Value(r.trial, r.budget)
	}
	if cfg.Mutation.Policy == PolicySmart {
		w.amplitude = cfg.Mutation.adaptAmplitude(w.amplitude, rate, annealingMutationRule)
	} else {
		w.amplitude = cfg.Mutation.Value(r.trial, r.budget)
	}

	r.e.logger.Debug("Schedule updated",
		"trial", r.trial,
		"acceptance", rate,
		"temperature", w.temperature,
		"amplitude", w.amplitude,
	)
	w.accepted, w.trials = 0, 0
}

// randomRestart jumps w to a fresh random configuration, keeping the best
func (r *run) randomRestart(w *walker) {
	r.e.space.Randomize(r.e.rng)
	cost, err := r.e.Cost()
	if err != nil {
		r.e.logger.Warn("Random configuration could not be evaluated, restarting from best", "error", err)
		r.result.EvalFailures++
		r.returnToBest(w)
		return
	}
	r.save(w.set)
	w.cost = cost
	r.result.Restarts++
	r.improved(cost, 0, w)

	r.e.logger.Info("Restarting from a random configuration",
		"trial", r.trial,
		"cost", cost,
		"best_cost", r.best.Cost(),
	)
}
