package opt

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/constraints"
)

// Policy is an annealing schedule, used for both the temperature and the mutation amplitude
type Policy int

const (
	PolicyConstant Policy = iota
	PolicyBoltzmann
	PolicyCauchy
	PolicyExponential
	PolicySmart
)

var policyNames = map[Policy]string{
	PolicyConstant:    "constant",
	PolicyBoltzmann:   "boltzmann",
	PolicyCauchy:      "cauchy",
	PolicyExponential: "exponential",
	PolicySmart:       "smart",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy converts a configuration string to a Policy
func ParsePolicy(s string) (Policy, error) {
	for p, name := range policyNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown schedule policy: %q", s)
}

// Schedule maps the progress of a run to a value within [Min, Max]
type Schedule struct {
	Policy Policy
	Max    float64
	Min    float64
}

// Validate checks the bounds of the schedule
func (s Schedule) Validate(field string) error {
	if _, ok := policyNames[s.Policy]; !ok {
		return &ConfigError{Field: field + ".Policy", Reason: "is unknown"}
	}
	if !(s.Min > 0) {
		return &ConfigError{Field: field + ".Min", Reason: "must be positive"}
	}
	if s.Max < s.Min {
		return &ConfigError{Field: field + ".Max", Reason: "must be >= Min"}
	}
	return nil
}

// Seed is the starting value of the smart policy, the geometric mean of the bounds
func (s Schedule) Seed() float64 {
	return math.Sqrt(s.Min * s.Max)
}

// Value returns the scheduled value at trial out of total.
// trial 0 is the start of the run. The smart policy ignores the trial and
// returns its seed; it is updated through adaptTemperature and adaptAmplitude.
func (s Schedule) Value(trial, total int64) float64 {
	if total <= 0 {
		return s.Min
	}
	switch s.Policy {
	case PolicyConstant:
		return s.Min
	case PolicyBoltzmann:
		if trial <= 0 {
			return s.Max
		}
		return s.clamp(s.Min * math.Log(float64(total)) / math.Log(float64(trial)+1))
	case PolicyCauchy:
		if trial <= 0 {
			return s.Max
		}
		return s.clamp(s.Min * float64(total) / float64(trial))
	case PolicyExponential:
		return s.clamp(s.Max * math.Pow(s.Min/s.Max, float64(trial)/float64(total)))
	case PolicySmart:
		return s.clamp(s.Seed())
	}
	return s.Min
}

// Spread returns the value for world i out of n, from the hottest (i=0) to the
// coldest (i=n-1). The smart policy starts from an exponential spread.
func (s Schedule) Spread(i, n int) float64 {
	if n <= 1 {
		return s.clamp(s.Seed())
	}
	if s.Policy == PolicySmart {
		return Schedule{Policy: PolicyExponential, Max: s.Max, Min: s.Min}.Value(int64(i), int64(n-1))
	}
	return s.Value(int64(i), int64(n-1))
}

func (s Schedule) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return s.Min
	}
	return clamp(v, s.Min, s.Max)
}

// adaptStep scales a value by factor when the acceptance rate crosses rate
type adaptStep struct {
	rate   float64
	factor float64
}

// adaptRule describes how the smart policy reacts to an acceptance rate.
// above lists thresholds from the highest down, below from the lowest up;
// the first threshold crossed wins.
type adaptRule struct {
	above []adaptStep
	below []adaptStep
}

var (
	annealingTemperatureRule = adaptRule{
		above: []adaptStep{{0.30, 1.5}},
		below: []adaptStep{{0.10, 1.5}},
	}
	annealingMutationRule = adaptRule{
		above: []adaptStep{{0.30, 2}},
		below: []adaptStep{{0.10, 2}},
	}
	temperingRule = adaptRule{
		above: []adaptStep{{0.95, 4}, {0.80, 2}, {0.30, 1.5}},
		below: []adaptStep{{0.01, 4}, {0.04, 2}, {0.10, 1.5}},
	}
)

// factor is > 1 when too many trials are accepted, < 1 when too few, 1 otherwise
func (r adaptRule) factor(rate float64) float64 {
	for _, step := range r.above {
		if rate > step.rate {
			return step.factor
		}
	}
	for _, step := range r.below {
		if rate < step.rate {
			return 1 / step.factor
		}
	}
	return 1
}

// adaptTemperature cools when the acceptance rate is high and heats when it is low
func (s Schedule) adaptTemperature(t, rate float64, rule adaptRule) float64 {
	return s.clamp(t / rule.factor(rate))
}

// adaptAmplitude widens mutations when the acceptance rate is high and narrows them when it is low
func (s Schedule) adaptAmplitude(a, rate float64, rule adaptRule) float64 {
	return s.clamp(a * rule.factor(rate))
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
