// Package config loads run configurations from YAML files.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Daiius/libobjcryst-sub000/internal/cost"
	"github.com/Daiius/libobjcryst-sub000/internal/opt"
	"github.com/Daiius/libobjcryst-sub000/internal/param"
)

// ScheduleConfig is the YAML form of an opt.Schedule
type ScheduleConfig struct {
	Policy string  `yaml:"policy" json:"policy"`
	Max    float64 `yaml:"max" json:"max"`
	Min    float64 `yaml:"min" json:"min"`
}

// ProblemConfig selects the benchmark cost function and its search box
type ProblemConfig struct {
	Name string `yaml:"name" json:"name"`
	Dim  int    `yaml:"dim" json:"dim"`
	// Lower and Upper override the function bounds when Lower < Upper
	Lower float64 `yaml:"lower" json:"lower"`
	Upper float64 `yaml:"upper" json:"upper"`
	// Step is the displacement of a mutation of amplitude 1, 0 for 1/200 of the box
	Step float64 `yaml:"step" json:"step"`
}

type AnnealingConfig struct {
	Temperature        ScheduleConfig `yaml:"temperature" json:"temperature"`
	Mutation           ScheduleConfig `yaml:"mutation" json:"mutation"`
	RetryTrials        int64          `yaml:"retry_trials" json:"retryTrials"`
	RetryCost          float64        `yaml:"retry_cost" json:"retryCost"`
	MaxTrialsSinceBest int64          `yaml:"max_trials_since_best" json:"maxTrialsSinceBest"`
}

type TemperingConfig struct {
	Temperature        ScheduleConfig `yaml:"temperature" json:"temperature"`
	Mutation           ScheduleConfig `yaml:"mutation" json:"mutation"`
	Worlds             int            `yaml:"worlds" json:"worlds"`
	TrialsPerWorld     int            `yaml:"trials_per_world" json:"trialsPerWorld"`
	MaxTrialsSinceBest int64          `yaml:"max_trials_since_best" json:"maxTrialsSinceBest"`
}

type MayflyConfig struct {
	Population int `yaml:"population" json:"population"`
}

// TraceConfig enables the trial log
type TraceConfig struct {
	Path      string `yaml:"path" json:"path,omitempty"`
	Verbosity string `yaml:"verbosity" json:"verbosity,omitempty"` // all, accepted, best
}

type AutosaveConfig struct {
	Policy string `yaml:"policy" json:"policy"` // never, new-best, daily, hourly, 10min
}

// RunConfig is everything needed to start an optimization run
type RunConfig struct {
	Algorithm string  `yaml:"algorithm" json:"algorithm"`
	Trials    int64   `yaml:"trials" json:"trials"`
	FinalCost float64 `yaml:"final_cost" json:"finalCost"`
	Seed      int64   `yaml:"seed" json:"seed"`

	Problem   ProblemConfig   `yaml:"problem" json:"problem"`
	Annealing AnnealingConfig `yaml:"annealing" json:"annealing"`
	Tempering TemperingConfig `yaml:"tempering" json:"tempering"`
	Mayfly    MayflyConfig    `yaml:"mayfly" json:"mayfly"`
	Trace     TraceConfig     `yaml:"trace" json:"trace"`
	Autosave  AutosaveConfig  `yaml:"autosave" json:"autosave"`
}

func scheduleConfig(s opt.Schedule) ScheduleConfig {
	return ScheduleConfig{Policy: s.Policy.String(), Max: s.Max, Min: s.Min}
}

// Default returns a configuration running simulated annealing on a 2D bowl
func Default() *RunConfig {
	sa := opt.DefaultAnnealingConfig()
	pt := opt.DefaultTemperingConfig()
	return &RunConfig{
		Algorithm: string(opt.AlgorithmAnnealing),
		Trials:    50000,
		Problem:   ProblemConfig{Name: "bowl", Dim: 2},
		Annealing: AnnealingConfig{
			Temperature: scheduleConfig(sa.Temperature),
			Mutation:    scheduleConfig(sa.Mutation),
		},
		Tempering: TemperingConfig{
			Temperature:    scheduleConfig(pt.Temperature),
			Mutation:       scheduleConfig(pt.Mutation),
			Worlds:         pt.Worlds,
			TrialsPerWorld: pt.TrialsPerWorld,
		},
		Mayfly:   MayflyConfig{Population: opt.DefaultMayflyConfig().Population},
		Trace:    TraceConfig{Verbosity: "accepted"},
		Autosave: AutosaveConfig{Policy: string(opt.AutosaveNever)},
	}
}

// Load reads and validates a run file. Keys absent from the file keep their default.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*RunConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseString is Parse for inline YAML
func ParseString(s string) (*RunConfig, error) {
	return Parse([]byte(s))
}

// Marshal encodes the configuration as YAML
func (c *RunConfig) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

// Validate checks every section, including the ones the selected algorithm ignores
func (c *RunConfig) Validate() error {
	if _, err := opt.ParseAlgorithm(c.Algorithm); err != nil {
		return err
	}
	if c.Trials <= 0 {
		return fmt.Errorf("trials must be positive, got %d", c.Trials)
	}
	if _, err := cost.Lookup(c.Problem.Name); err != nil {
		return fmt.Errorf("problem: %w", err)
	}
	if c.Problem.Dim < 1 {
		return fmt.Errorf("problem: dim must be positive, got %d", c.Problem.Dim)
	}
	if c.Problem.Lower > c.Problem.Upper {
		return fmt.Errorf("problem: lower (%g) cannot exceed upper (%g)", c.Problem.Lower, c.Problem.Upper)
	}
	if c.Problem.Step < 0 {
		return fmt.Errorf("problem: step cannot be negative")
	}

	if _, err := c.AnnealingOptions(); err != nil {
		return fmt.Errorf("annealing: %w", err)
	}
	if _, err := c.TemperingOptions(); err != nil {
		return fmt.Errorf("tempering: %w", err)
	}
	if err := c.MayflyOptions().Validate(); err != nil {
		return fmt.Errorf("mayfly: %w", err)
	}
	if _, err := opt.ParseVerbosity(c.Trace.Verbosity); err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	if _, err := opt.ParseAutosavePolicy(c.Autosave.Policy); err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	return nil
}

func (s ScheduleConfig) schedule(field string) (opt.Schedule, error) {
	policy, err := opt.ParsePolicy(strings.TrimSpace(s.Policy))
	if err != nil {
		return opt.Schedule{}, fmt.Errorf("%s: %w", field, err)
	}
	sched := opt.Schedule{Policy: policy, Max: s.Max, Min: s.Min}
	if err := sched.Validate(field); err != nil {
		return opt.Schedule{}, err
	}
	return sched, nil
}

// AnnealingOptions converts the annealing section
func (c *RunConfig) AnnealingOptions() (opt.AnnealingConfig, error) {
	t, err := c.Annealing.Temperature.schedule("temperature")
	if err != nil {
		return opt.AnnealingConfig{}, err
	}
	m, err := c.Annealing.Mutation.schedule("mutation")
	if err != nil {
		return opt.AnnealingConfig{}, err
	}
	sa := opt.AnnealingConfig{
		Temperature:        t,
		Mutation:           m,
		RetryTrials:        c.Annealing.RetryTrials,
		RetryCost:          c.Annealing.RetryCost,
		MaxTrialsSinceBest: c.Annealing.MaxTrialsSinceBest,
	}
	return sa, sa.Validate()
}

// TemperingOptions converts the tempering section
func (c *RunConfig) TemperingOptions() (opt.TemperingConfig, error) {
	t, err := c.Tempering.Temperature.schedule("temperature")
	if err != nil {
		return opt.TemperingConfig{}, err
	}
	m, err := c.Tempering.Mutation.schedule("mutation")
	if err != nil {
		return opt.TemperingConfig{}, err
	}
	pt := opt.TemperingConfig{
		Temperature:        t,
		Mutation:           m,
		Worlds:             c.Tempering.Worlds,
		TrialsPerWorld:     c.Tempering.TrialsPerWorld,
		MaxTrialsSinceBest: c.Tempering.MaxTrialsSinceBest,
	}
	return pt, pt.Validate()
}

// MayflyOptions converts the mayfly section
func (c *RunConfig) MayflyOptions() opt.MayflyConfig {
	return opt.MayflyConfig{Population: c.Mayfly.Population}
}

// Configure selects the configured algorithm on e
func (c *RunConfig) Configure(e *opt.Engine) error {
	algorithm, err := opt.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return err
	}
	switch algorithm {
	case opt.AlgorithmTempering:
		pt, err := c.TemperingOptions()
		if err != nil {
			return err
		}
		return e.ConfigureParallelTempering(pt)
	case opt.AlgorithmMayfly:
		return e.ConfigureMayfly(c.MayflyOptions())
	default:
		sa, err := c.AnnealingOptions()
		if err != nil {
			return err
		}
		return e.ConfigureSimulatedAnnealing(sa)
	}
}

// BuildProblem creates the parameter list and the objective bound to it
func (c *RunConfig) BuildProblem() (*param.List, *cost.Problem, error) {
	fn, err := cost.Lookup(c.Problem.Name)
	if err != nil {
		return nil, nil, err
	}
	low, up := fn.Bounds()
	if c.Problem.Lower < c.Problem.Upper {
		low, up = c.Problem.Lower, c.Problem.Upper
	}
	step := c.Problem.Step
	if step == 0 {
		step = (up - low) / 200
	}

	list, err := cost.NewList(fn, c.Problem.Dim, step)
	if err != nil {
		return nil, nil, err
	}
	if err := list.SetLimitsType("coordinate", low, up); err != nil {
		return nil, nil, fmt.Errorf("failed to set bounds: %w", err)
	}
	return list, cost.NewProblem(fn, list), nil
}
