package store

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Daiius/libobjcryst-sub000/internal/config"
	"github.com/Daiius/libobjcryst-sub000/internal/opt"
	"github.com/Daiius/libobjcryst-sub000/internal/param"
)

// Checkpoint is the best configuration of a run, persisted so the run can be
// resumed with the trials it has left.
//
// Only the best configuration is saved. Temperatures, amplitudes, worlds and
// the random stream are not: a resumed run starts a fresh schedule from the
// saved configuration, so it is not a bit-exact continuation. The best cost
// never gets worse across a resume.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// Name is the autosave tag, <timestamp>-cost-<cost>
	Name string `json:"name,omitempty"`

	// Names and BestValues hold every parameter of the best configuration, fixed or not
	Names      []string  `json:"names"`
	BestValues []float64 `json:"bestValues"`

	BestCost    float64 `json:"bestCost"`
	InitialCost float64 `json:"initialCost"`

	// Trial is the number of trials consumed when the checkpoint was taken
	Trial int64 `json:"trial"`

	Timestamp time.Time `json:"timestamp"`

	// Config is the run configuration, checked for compatibility on resume
	Config config.RunConfig `json:"config"`
}

// CheckpointInfo is the checkpoint metadata shown by listings
type CheckpointInfo struct {
	JobID     string    `json:"jobId"`
	Name      string    `json:"name,omitempty"`
	BestCost  float64   `json:"bestCost"`
	Trial     int64     `json:"trial"`
	Remaining int64     `json:"remaining"`
	Timestamp time.Time `json:"timestamp"`
	Algorithm string    `json:"algorithm"`
	Problem   string    `json:"problem"`
	Dim       int       `json:"dim"`
}

// NewCheckpoint creates a checkpoint from run state
func NewCheckpoint(jobID string, names []string, bestValues []float64, bestCost, initialCost float64, trial int64, cfg config.RunConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		Names:       names,
		BestValues:  bestValues,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Trial:       trial,
		Timestamp:   time.Now(),
		Config:      cfg,
	}
}

// FromSnapshot converts an autosave snapshot. trialOffset is added to the
// snapshot trial, for runs resumed from an earlier checkpoint.
func FromSnapshot(jobID string, s opt.Snapshot, initialCost float64, trialOffset int64, cfg config.RunConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		Name:        s.Name,
		Names:       s.Names,
		BestValues:  s.Values,
		BestCost:    s.Cost,
		InitialCost: initialCost,
		Trial:       trialOffset + s.Trial,
		Timestamp:   s.Timestamp,
		Config:      cfg,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only)
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		Name:      c.Name,
		BestCost:  c.BestCost,
		Trial:     c.Trial,
		Remaining: c.Remaining(),
		Timestamp: c.Timestamp,
		Algorithm: c.Config.Algorithm,
		Problem:   c.Config.Problem.Name,
		Dim:       c.Config.Problem.Dim,
	}
}

// Remaining returns the trials left from the configured budget
func (c *Checkpoint) Remaining() int64 {
	return max(0, c.Config.Trials-c.Trial)
}

// Validate checks if the checkpoint has valid data
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestValues) == 0 {
		return &ValidationError{Field: "BestValues", Reason: "cannot be empty"}
	}
	if len(c.Names) != len(c.BestValues) {
		return &ValidationError{
			Field:  "Names",
			Reason: fmt.Sprintf("length mismatch: %d names for %d values", len(c.Names), len(c.BestValues)),
		}
	}
	if math.IsNaN(c.BestCost) {
		return &ValidationError{Field: "BestCost", Reason: "cannot be NaN"}
	}
	if c.Trial < 0 {
		return &ValidationError{Field: "Trial", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	if len(c.BestValues) != c.Config.Problem.Dim {
		return &ValidationError{
			Field:  "BestValues",
			Reason: fmt.Sprintf("length mismatch: expected %d values, got %d", c.Config.Problem.Dim, len(c.BestValues)),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// Schedules and algorithm may change between runs; the search space may not.
func (c *Checkpoint) IsCompatible(cfg config.RunConfig) error {
	if c.Config.Problem.Name != cfg.Problem.Name {
		return &CompatibilityError{
			Field:    "Problem.Name",
			Expected: c.Config.Problem.Name,
			Actual:   cfg.Problem.Name,
		}
	}
	if c.Config.Problem.Dim != cfg.Problem.Dim {
		return &CompatibilityError{
			Field:    "Problem.Dim",
			Expected: fmt.Sprintf("%d", c.Config.Problem.Dim),
			Actual:   fmt.Sprintf("%d", cfg.Problem.Dim),
		}
	}
	if c.Config.Problem.Lower != cfg.Problem.Lower || c.Config.Problem.Upper != cfg.Problem.Upper {
		return &CompatibilityError{
			Field:    "Problem.Bounds",
			Expected: fmt.Sprintf("[%g, %g]", c.Config.Problem.Lower, c.Config.Problem.Upper),
			Actual:   fmt.Sprintf("[%g, %g]", cfg.Problem.Lower, cfg.Problem.Upper),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}

// Apply makes the checkpointed configuration live in list
func (c *Checkpoint) Apply(list *param.List) error {
	if names := list.Names(); !slices.Equal(names, c.Names) {
		return &CompatibilityError{
			Field:    "Names",
			Expected: fmt.Sprintf("%v", c.Names),
			Actual:   fmt.Sprintf("%v", names),
		}
	}
	if err := list.SetValues(c.BestValues); err != nil {
		return fmt.Errorf("failed to apply checkpoint values: %w", err)
	}
	return nil
}
