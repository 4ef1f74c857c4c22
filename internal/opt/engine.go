package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

const defaultReportInterval = 3000

// Termination tells why a run stopped
type Termination string

const (
	TerminationExhausted Termination = "exhausted" // trial budget consumed
	TerminationConverged Termination = "converged" // best cost below the final cost target
	TerminationStopped   Termination = "stopped"   // RequestStop or context cancellation
)

// Progress is a snapshot of the running optimization, safe to read from any goroutine
type Progress struct {
	Algorithm   Algorithm     `json:"algorithm"`
	Trial       int64         `json:"trial"`
	Budget      int64         `json:"budget"`
	BestCost    float64       `json:"bestCost"`
	CurrentCost float64       `json:"currentCost"`
	World       int           `json:"world"`
	Temperature float64       `json:"temperature"`
	Amplitude   float64       `json:"amplitude"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Observer receives run notifications. Callbacks run on the optimization
// goroutine and must not call back into the Engine except Progress and RequestStop.
type Observer struct {
	// OnNewBest receives the progress and all parameter values of the new best configuration
	OnNewBest func(p Progress, values []float64)
	// OnReport is called every report interval
	OnReport func(p Progress)
}

// Result summarizes a finished run
type Result struct {
	Algorithm    Algorithm     `json:"algorithm"`
	Trials       int64         `json:"trials"`
	InitialCost  float64       `json:"initialCost"`
	BestCost     float64       `json:"bestCost"`
	Termination  Termination   `json:"termination"`
	Restarts     int           `json:"restarts"` // randomized restarts
	Resets       int           `json:"resets"`   // returns to the best configuration after stagnation
	Swaps        int64         `json:"swaps"`    // accepted parallel tempering exchanges
	MaxExcursion float64       `json:"maxExcursion"` // largest distance from the best configuration at a reset
	EvalFailures int64         `json:"evalFailures"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Option configures an Engine
type Option func(*Engine)

// WithSeed makes the random stream reproducible
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger sets the logger, slog.Default() otherwise
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObserver registers run callbacks
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithTrialLog writes every trial selected by the log verbosity
func WithTrialLog(tl *TrialLog) Option {
	return func(e *Engine) {
		e.trialLog = tl
	}
}

// WithAutosave hands the best configuration to persist according to policy
func WithAutosave(policy AutosavePolicy, persist Persister) Option {
	return func(e *Engine) {
		e.autosave = newAutosaver(policy, persist)
	}
}

// WithReportInterval sets the number of trials between progress reports
func WithReportInterval(trials int64) Option {
	return func(e *Engine) {
		if trials > 0 {
			e.reportInterval = trials
		}
	}
}

// Engine runs stochastic global optimization over a ParameterSpace.
// Run is single-threaded; Progress, BestCost and RequestStop may be called
// concurrently from other goroutines.
type Engine struct {
	space      ParameterSpace
	objectives []weightedObjective

	algorithm Algorithm
	annealing AnnealingConfig
	tempering TemperingConfig
	mayfly    MayflyConfig

	rng            *rand.Rand
	logger         *slog.Logger
	observer       Observer
	trialLog       *TrialLog
	autosave       *autosaver
	reportInterval int64

	stop    atomic.Bool
	running atomic.Bool

	mu       sync.RWMutex
	progress Progress

	last *run // most recent run, owns the snapshots until the next Run
}

// NewEngine creates an engine refining space, configured for simulated annealing with defaults
func NewEngine(space ParameterSpace, opts ...Option) *Engine {
	e := &Engine{
		space:          space,
		algorithm:      AlgorithmAnnealing,
		annealing:      DefaultAnnealingConfig(),
		tempering:      DefaultTemperingConfig(),
		mayfly:         DefaultMayflyConfig(),
		reportInterval: defaultReportInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// AddObjective adds a weighted contribution to the overall cost
func (e *Engine) AddObjective(obj Objective, weight float64) {
	e.objectives = append(e.objectives, weightedObjective{obj: obj, weight: weight})
}

// SetAlgorithm selects the driver used by the next Run
func (e *Engine) SetAlgorithm(a Algorithm) {
	e.algorithm = a
}

// Algorithm returns the driver used by the next Run
func (e *Engine) Algorithm() Algorithm {
	return e.algorithm
}

// RequestStop asks the running optimization to return after the current trial.
// Called before Run, it makes the next run return before its first trial.
func (e *Engine) RequestStop() {
	e.stop.Store(true)
}

// Running reports whether Run is in progress
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Progress returns the latest progress snapshot
func (e *Engine) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.progress
}

// BestCost returns the best cost of the current or last run, +Inf before any run
func (e *Engine) BestCost() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return math.Inf(1)
	}
	return e.last.best.Cost()
}

// RestoreBestConfiguration makes the best configuration of the last run live
func (e *Engine) RestoreBestConfiguration() error {
	if e.running.Load() {
		return ErrAlreadyRunning
	}
	if e.last == nil {
		return ErrNoBestConfiguration
	}
	return e.last.best.Restore()
}

// BestValues returns all parameter values of the best configuration of the last run
func (e *Engine) BestValues() ([]float64, error) {
	if e.running.Load() {
		return nil, ErrAlreadyRunning
	}
	if e.last == nil {
		return nil, ErrNoBestConfiguration
	}
	return e.last.best.Values()
}

// Cost evaluates the weighted sum of all objectives for the live configuration
func (e *Engine) Cost() (float64, error) {
	var total float64
	for _, wo := range e.objectives {
		c, err := wo.obj.Cost()
		if err != nil {
			return 0, fmt.Errorf("objective %s: %w", wo.obj.Name(), err)
		}
		total += wo.weight * c
	}
	return total, nil
}

// Run optimizes for at most *trialBudget trials, or until the best cost drops
// below finalCost, or until stopped. *trialBudget is decreased by the number
// of trials consumed, so calling Run again resumes with what is left.
// On return the best configuration is live.
func (e *Engine) Run(ctx context.Context, trialBudget *int64, finalCost float64) (Result, error) {
	if trialBudget == nil || *trialBudget <= 0 {
		return Result{}, &ConfigError{Field: "trialBudget", Reason: "must be positive"}
	}
	if len(e.objectives) == 0 {
		return Result{}, ErrNoObjective
	}
	if e.space.NbFree() == 0 {
		e.logger.Error("Nothing to optimize, all parameters are fixed", "parameters", len(e.space.Names()))
		return Result{}, ErrNothingToOptimize
	}
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)
	// a stop requested before Run still applies to this run
	defer e.stop.Store(false)

	r, err := e.newRun(ctx, *trialBudget, finalCost)
	if err != nil {
		return Result{}, err
	}

	e.logger.Info("Starting optimization",
		"algorithm", e.algorithm,
		"trials", r.budget,
		"final_cost", finalCost,
		"free_parameters", e.space.NbFree(),
		"initial_cost", r.result.InitialCost,
	)

	switch e.algorithm {
	case AlgorithmTempering:
		r.temper()
	case AlgorithmMayfly:
		r.mayflySearch()
	default:
		r.anneal()
	}

	result := r.finish()
	*trialBudget -= result.Trials
	return result, nil
}

// newRun releases the snapshots of the previous run and seeds a new one
func (e *Engine) newRun(ctx context.Context, budget int64, finalCost float64) (*run, error) {
	e.mu.Lock()
	if e.last != nil {
		e.last.release()
		e.last = nil
	}
	e.mu.Unlock()

	initialCost, err := e.Cost()
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate initial configuration: %w", err)
	}

	r := &run{
		e:         e,
		ctx:       ctx,
		budget:    budget,
		finalCost: finalCost,
		start:     time.Now(),
		best:      NewBestTracker(e.space),
		result: Result{
			Algorithm:   e.algorithm,
			InitialCost: initialCost,
		},
	}
	r.best.ReportCost(initialCost)

	if e.trialLog != nil {
		if err := e.trialLog.begin(e.space.FreeNames()); err != nil {
			e.logger.Warn("Trial log disabled", "error", err)
		}
	}
	if e.autosave != nil {
		e.autosave.reset()
	}

	e.mu.Lock()
	e.last = r
	e.progress = Progress{
		Algorithm:   e.algorithm,
		Budget:      budget,
		BestCost:    initialCost,
		CurrentCost: initialCost,
	}
	e.mu.Unlock()

	return r, nil
}

type runState int

const (
	stateInit runState = iota
	stateRunning
	stateRestart
	stateDone
)

// run is the state of one Run call. Nothing in it survives into the next run
// except the best snapshots, released when the next run starts.
type run struct {
	e         *Engine
	ctx       context.Context
	budget    int64
	finalCost float64
	start     time.Time

	trial           int64
	trialsSinceBest int64
	stagnations     int
	lastReport      int64
	termination     Termination

	best   *BestTracker
	sets   []int
	result Result

	values []float64 // scratch for the trial log
}

// done checks the termination conditions; called between trials only
func (r *run) done() bool {
	switch {
	case r.termination != "":
	case r.e.stop.Load() || r.ctx.Err() != nil:
		r.termination = TerminationStopped
	case r.best.Cost() < r.finalCost:
		r.termination = TerminationConverged
	case r.trial >= r.budget:
		r.termination = TerminationExhausted
	default:
		return false
	}
	return true
}

func (r *run) createSet(name string) int {
	id := r.e.space.CreateSet(name)
	r.sets = append(r.sets, id)
	return id
}

func (r *run) save(id int) {
	if err := r.e.space.SaveSet(id); err != nil {
		r.e.logger.Error("Failed to save parameter set", "set", id, "error", err)
	}
}

func (r *run) restore(id int) {
	if err := r.e.space.RestoreSet(id); err != nil {
		r.e.logger.Error("Failed to restore parameter set", "set", id, "error", err)
	}
}

// release erases every snapshot created by the run
func (r *run) release() {
	for _, id := range r.sets {
		r.e.space.EraseSet(id)
	}
	r.sets = nil
	r.best.release()
}

// walker is one Metropolis trajectory: the single simulated annealing
// trajectory or one parallel tempering world.
type walker struct {
	set         int
	cost        float64
	temperature float64
	amplitude   float64
	accepted    int64 // accepted trials since the last schedule update
	trials      int64 // trials since the last schedule update
}

// step runs one trial on w: mutate, evaluate, accept or restore
func (r *run) step(w *walker, world int) AcceptCode {
	r.e.space.Mutate(w.amplitude, r.e.rng)
	cost, err := r.e.Cost()
	r.trial++
	r.trialsSinceBest++
	w.trials++

	code := Rejected
	switch {
	case err != nil:
		r.result.EvalFailures++
		r.e.logger.Debug("Cost evaluation failed, trial rejected", "trial", r.trial, "world", world, "error", err)
		cost = math.NaN()
	case metropolis(cost-w.cost, w.temperature, r.e.rng):
		w.cost = cost
		w.accepted++
		r.save(w.set)
		code = r.improved(cost, world, w)
	}
	if code == Rejected {
		r.restore(w.set)
	}

	r.record(world, code, cost)
	r.publish(world, w)
	return code
}

// improved reports an accepted cost to the tracker
func (r *run) improved(cost float64, world int, w *walker) AcceptCode {
	before := r.best.Cost()
	if !r.best.ReportCost(cost) {
		return Accepted
	}
	r.trialsSinceBest = 0
	r.stagnations = 0
	if !(cost < before) {
		return Accepted
	}

	r.publish(world, w)
	p := r.e.Progress()
	r.e.logger.Debug("New best configuration", "trial", r.trial, "world", world, "best_cost", cost)

	if r.e.observer.OnNewBest != nil {
		if values, err := r.best.Values(); err == nil {
			r.e.observer.OnNewBest(p, values)
		}
	}
	if r.e.autosave != nil && r.e.autosave.onNewBest() {
		r.autosave()
	}
	return NewBest
}

// returnToBest moves w back to the segment best after stagnation
func (r *run) returnToBest(w *walker) {
	if d, err := r.e.space.Distance(w.set, r.best.SegmentSnapshot()); err == nil {
		r.result.MaxExcursion = max(r.result.MaxExcursion, d)
		r.e.logger.Debug("Returning to best configuration", "trial", r.trial, "excursion", d)
	}
	r.restore(r.best.SegmentSnapshot())
	r.save(w.set)
	w.cost = r.best.SegmentCost()
	r.trialsSinceBest = 0
	r.result.Resets++
}

func (r *run) record(world int, code AcceptCode, cost float64) {
	if r.e.trialLog == nil {
		return
	}
	r.values = r.e.space.FreeValues(r.values[:0])
	if err := r.e.trialLog.Record(r.trial, world, code, cost, r.values); err != nil {
		r.e.logger.Warn("Trial log write failed, disabling", "error", err)
		r.e.trialLog = nil
	}
}

func (r *run) publish(world int, w *walker) {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	r.e.progress.Trial = r.trial
	r.e.progress.BestCost = r.best.Cost()
	r.e.progress.CurrentCost = w.cost
	r.e.progress.World = world
	r.e.progress.Temperature = w.temperature
	r.e.progress.Amplitude = w.amplitude
	r.e.progress.Elapsed = time.Since(r.start)
}

// tick emits the periodic report and wall-clock autosave
func (r *run) tick() {
	if r.trial-r.lastReport < r.e.reportInterval {
		return
	}
	r.lastReport = r.trial

	p := r.e.Progress()
	r.e.logger.Info("Optimization progress",
		"trial", p.Trial,
		"best_cost", p.BestCost,
		"current_cost", p.CurrentCost,
		"temperature", p.Temperature,
		"amplitude", p.Amplitude,
	)
	if r.e.observer.OnReport != nil {
		r.e.observer.OnReport(p)
	}
	if r.e.autosave != nil && r.e.autosave.onTick() {
		r.autosave()
	}
}

// autosave hands the best configuration, not the live one, to the persister
func (r *run) autosave() {
	values, err := r.best.Values()
	if err != nil {
		return
	}
	s := Snapshot{
		Names:  r.e.space.Names(),
		Values: values,
		Cost:   r.best.Cost(),
		Trial:  r.trial,
	}
	if err := r.e.autosave.save(s); err != nil {
		r.e.logger.Warn("Autosave failed", "trial", r.trial, "error", err)
	}
}

// finish restores the best configuration and builds the result
func (r *run) finish() Result {
	if r.termination == "" {
		r.termination = TerminationExhausted
	}
	if err := r.best.Restore(); err != nil {
		r.e.logger.Error("Failed to restore best configuration", "error", err)
	}
	if r.e.trialLog != nil {
		if err := r.e.trialLog.Flush(); err != nil {
			r.e.logger.Warn("Failed to flush trial log", "error", err)
		}
	}
	if r.e.autosave != nil && r.e.autosave.persist != nil && r.e.autosave.policy != AutosaveNever {
		r.autosave()
	}

	r.result.Trials = r.trial
	r.result.BestCost = r.best.Cost()
	r.result.Termination = r.termination
	r.result.Elapsed = time.Since(r.start)

	r.e.mu.Lock()
	r.e.progress.Trial = r.trial
	r.e.progress.BestCost = r.result.BestCost
	r.e.progress.CurrentCost = r.result.BestCost
	r.e.progress.Elapsed = r.result.Elapsed
	r.e.mu.Unlock()

	r.e.logger.Info("Optimization complete",
		"algorithm", r.result.Algorithm,
		"termination", r.result.Termination,
		"trials", r.result.Trials,
		"initial_cost", r.result.InitialCost,
		"best_cost", r.result.BestCost,
		"restarts", r.result.Restarts,
		"resets", r.result.Resets,
		"eval_failures", r.result.EvalFailures,
		"elapsed", r.result.Elapsed,
	)
	return r.result
}
