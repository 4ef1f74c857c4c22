package opt

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	// ErrNothingToOptimize is returned by Run when every parameter is fixed
	ErrNothingToOptimize = errors.New("no free parameter to optimize")

	// ErrNoObjective is returned by Run when no objective was added
	ErrNoObjective = errors.New("no objective to minimize")

	// ErrAlreadyRunning is returned when Run is called on an engine that is already running
	ErrAlreadyRunning = errors.New("optimization already running")

	// ErrNoBestConfiguration is returned when no run has recorded a best configuration yet
	ErrNoBestConfiguration = errors.New("no best configuration recorded")
)

// ParameterSpace is the parameter list refined by the engine.
// The engine never interprets parameters: it mutates, randomizes and
// snapshots them through this interface only.
type ParameterSpace interface {
	// NbFree returns the number of parameters that are not fixed
	NbFree() int
	// FreeNames returns the names of the free parameters, in order
	FreeNames() []string
	// FreeValues appends the free parameter values to dst
	FreeValues(dst []float64) []float64
	// FreeBounds returns the search box of the free parameters
	FreeBounds() (lower, upper []float64)
	// SetFreeValues overwrites the free parameter values
	SetFreeValues(values []float64) error
	// Names returns the names of all parameters, fixed or not
	Names() []string

	// Mutate perturbs the free parameters in place
	Mutate(amplitude float64, rng *rand.Rand)
	// Randomize draws a fresh configuration over the whole search domain
	Randomize(rng *rand.Rand)

	// CreateSet snapshots the current values and returns its handle
	CreateSet(name string) int
	// SaveSet overwrites a snapshot with the current values
	SaveSet(id int) error
	// RestoreSet copies a snapshot back into the live parameters
	RestoreSet(id int) error
	// SetValuesOf returns a copy of all values held by a snapshot
	SetValuesOf(id int) ([]float64, error)
	// EraseSet drops a snapshot
	EraseSet(id int)
	// Distance returns the distance between two snapshots
	Distance(a, b int) (float64, error)
}

// Objective is one contribution to the overall cost.
// Cost must be deterministic for a given live configuration.
type Objective interface {
	Name() string
	Cost() (float64, error)
}

type weightedObjective struct {
	obj    Objective
	weight float64
}

// Algorithm selects the search driver used by Run
type Algorithm string

const (
	AlgorithmAnnealing Algorithm = "annealing"
	AlgorithmTempering Algorithm = "tempering"
	AlgorithmMayfly    Algorithm = "mayfly"
)

// ParseAlgorithm converts a configuration string to an Algorithm
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case AlgorithmAnnealing, AlgorithmTempering, AlgorithmMayfly:
		return a, nil
	case "sa":
		return AlgorithmAnnealing, nil
	case "pt":
		return AlgorithmTempering, nil
	}
	return "", fmt.Errorf("unknown algorithm: %q (must be annealing, tempering or mayfly)", s)
}

// ConfigError reports an invalid engine setting
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Field + " " + e.Reason
}
