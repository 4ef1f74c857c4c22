package opt

import (
	"fmt"
	"time"
)

// AutosavePolicy decides when the best configuration is handed to the Persister
type AutosavePolicy string

const (
	AutosaveNever      AutosavePolicy = "never"
	AutosaveNewBest    AutosavePolicy = "new-best"
	AutosaveDaily      AutosavePolicy = "daily"
	AutosaveHourly     AutosavePolicy = "hourly"
	AutosaveTenMinutes AutosavePolicy = "10min"
)

// ParseAutosavePolicy converts a configuration string to an AutosavePolicy
func ParseAutosavePolicy(s string) (AutosavePolicy, error) {
	switch p := AutosavePolicy(s); p {
	case AutosaveNever, AutosaveNewBest, AutosaveDaily, AutosaveHourly, AutosaveTenMinutes:
		return p, nil
	case "":
		return AutosaveNever, nil
	}
	return "", fmt.Errorf("unknown autosave policy: %q", s)
}

func (p AutosavePolicy) interval() time.Duration {
	switch p {
	case AutosaveDaily:
		return 24 * time.Hour
	case AutosaveHourly:
		return time.Hour
	case AutosaveTenMinutes:
		return 10 * time.Minute
	}
	return 0
}

// Snapshot is the best configuration handed to a Persister
type Snapshot struct {
	Name      string // <timestamp>-cost-<cost>
	Names     []string
	Values    []float64
	Cost      float64
	Trial     int64
	Timestamp time.Time
}

// Persister stores a snapshot. Errors are logged, never fatal to the run.
type Persister func(Snapshot) error

type autosaver struct {
	policy  AutosavePolicy
	persist Persister
	last    time.Time
	now     func() time.Time
}

func newAutosaver(policy AutosavePolicy, persist Persister) *autosaver {
	return &autosaver{
		policy:  policy,
		persist: persist,
		now:     time.Now,
	}
}

// reset starts the wall-clock interval from now
func (a *autosaver) reset() {
	a.last = a.now()
}

// onNewBest reports whether a new best must be saved right away
func (a *autosaver) onNewBest() bool {
	return a.persist != nil && a.policy == AutosaveNewBest
}

// onTick reports whether the wall-clock interval has elapsed
func (a *autosaver) onTick() bool {
	interval := a.policy.interval()
	if a.persist == nil || interval == 0 {
		return false
	}
	return a.now().Sub(a.last) >= interval
}

func (a *autosaver) save(s Snapshot) error {
	a.last = a.now()
	s.Timestamp = a.last
	s.Name = fmt.Sprintf("%s-cost-%.6g", s.Timestamp.Format("20060102-150405"), s.Cost)
	return a.persist(s)
}
