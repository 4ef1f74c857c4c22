package server

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Daiius/libobjcryst-sub000/internal/config"
	"github.com/Daiius/libobjcryst-sub000/internal/opt"
	"github.com/Daiius/libobjcryst-sub000/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobConfig is the run configuration of a job
type JobConfig = config.RunConfig

// Job represents an optimization job
type Job struct {
	ID          string       `json:"id"`
	State       JobState     `json:"state"`
	Config      JobConfig    `json:"config"`
	Names       []string     `json:"names,omitempty"`
	BestValues  []float64    `json:"bestValues,omitempty"`
	BestCost    float64      `json:"bestCost"`
	InitialCost float64      `json:"initialCost"`
	Trials      int64        `json:"trials"`
	Progress    opt.Progress `json:"progress"`
	Result      *opt.Result  `json:"result,omitempty"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	Error       string       `json:"error,omitempty"`

	// ResumedFrom is the trial count of the checkpoint the job started from
	ResumedFrom int64 `json:"resumedFrom,omitempty"`

	checkpoint *store.Checkpoint
}

func (j *Job) clone() *Job {
	c := *j
	c.Names = slices.Clone(j.Names)
	c.BestValues = slices.Clone(j.BestValues)
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}

// Finished reports whether the job reached a final state
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed || j.State == StateCancelled
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	stops       map[string]func()
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		stops:       make(map[string]func()),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job.clone()
}

// ResumeJob creates a job continuing a checkpoint under the checkpoint job ID.
// A job with that ID must not be active.
func (jm *JobManager) ResumeJob(cp *store.Checkpoint, config JobConfig) (*Job, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if existing, ok := jm.jobs[cp.JobID]; ok && !existing.Finished() {
		return nil, fmt.Errorf("job %s is %s", cp.JobID, existing.State)
	}

	job := &Job{
		ID:          cp.JobID,
		State:       StatePending,
		Config:      config,
		Names:       slices.Clone(cp.Names),
		BestValues:  slices.Clone(cp.BestValues),
		BestCost:    cp.BestCost,
		InitialCost: cp.InitialCost,
		Trials:      cp.Trial,
		StartTime:   time.Now(),
		ResumedFrom: cp.Trial,
		checkpoint:  cp,
	}
	jm.jobs[job.ID] = job
	jm.broadcaster.CleanupJob(job.ID)
	return job.clone(), nil
}

// GetJob retrieves a copy of a job by ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.clone(), true
}

// ListJobs returns copies of all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].StartTime.Before(jobs[b].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.clone())
		}
	}
	return runningJobs
}

// setStop registers the function stopping a running job, nil to clear it
func (jm *JobManager) setStop(id string, stop func()) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if stop == nil {
		delete(jm.stops, id)
		return
	}
	jm.stops[id] = stop
}

// StopJob asks a running job to return its best configuration
func (jm *JobManager) StopJob(id string) error {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	stop, ok := jm.stops[id]
	if !ok {
		return fmt.Errorf("job %s is %s", id, job.State)
	}
	stop()
	return nil
}

// checkpointOf returns the checkpoint a resumed job starts from
func (jm *JobManager) checkpointOf(id string) *store.Checkpoint {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	if job, ok := jm.jobs[id]; ok {
		return job.checkpoint
	}
	return nil
}
