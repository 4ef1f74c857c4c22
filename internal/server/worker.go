package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Daiius/libobjcryst-sub000/internal/opt"
	"github.com/Daiius/libobjcryst-sub000/internal/store"
)

// progressInterval throttles SSE progress events
const progressInterval = 500 * time.Millisecond

// baseDirStore is a store keeping job files on disk, where traces go
type baseDirStore interface {
	store.Store
	BaseDir() string
}

// runJob executes an optimization job in the background.
// If checkpointStore is not nil, the final best configuration is checkpointed,
// autosaves follow the job autosave policy and a best-cost trace is written.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	cfg := job.Config
	logger := slog.Default().With("job_id", jobID)

	list, problem, err := cfg.BuildProblem()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	initialCost, err := problem.Cost()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	var trialOffset int64
	budget := cfg.Trials
	cp := jm.checkpointOf(jobID)
	if cp != nil {
		initialCost = cp.InitialCost
		if err := cp.Apply(list); err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
		trialOffset = cp.Trial
		budget = cp.Remaining()
		if budget <= 0 {
			err := fmt.Errorf("checkpoint at trial %d has no trial left", cp.Trial)
			markJobFailed(jm, jobID, err)
			return err
		}
	}

	var trace *store.TraceWriter
	if fs, ok := checkpointStore.(baseDirStore); ok {
		trace, err = store.NewTraceWriter(fs.BaseDir(), jobID, trialOffset > 0)
		if err != nil {
			logger.Warn("Trace disabled", "error", err)
		} else {
			trace.WithTrialOffset(trialOffset)
			defer trace.Close()
		}
	}

	names := list.Names()
	observer := opt.Observer{
		OnNewBest: func(p opt.Progress, values []float64) {
			jm.UpdateJob(jobID, func(j *Job) {
				j.Names = names
				j.BestValues = slices.Clone(values)
				j.BestCost = p.BestCost
				j.Trials = trialOffset + p.Trial
			})
			if trace != nil {
				trace.OnNewBest(p, values)
			}
		},
	}

	opts := []opt.Option{
		opt.WithLogger(logger),
		opt.WithObserver(observer),
	}
	if cfg.Seed != 0 {
		opts = append(opts, opt.WithSeed(cfg.Seed))
	}
	if checkpointStore != nil {
		policy, err := opt.ParseAutosavePolicy(cfg.Autosave.Policy)
		if err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
		opts = append(opts, opt.WithAutosave(policy, store.Persister(checkpointStore, jobID, initialCost, trialOffset, cfg)))
	}

	engine := opt.NewEngine(list, opts...)
	engine.AddObjective(problem, 1)
	if err := cfg.Configure(engine); err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	// Check for cancellation before starting expensive operation
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}
	jm.setStop(jobID, engine.RequestStop)

	logger.Info("Starting job", "algorithm", cfg.Algorithm, "problem", cfg.Problem.Name, "dim", cfg.Problem.Dim, "trials", budget)

	progressDone := make(chan struct{})
	monitorExited := make(chan struct{})
	go func() {
		defer close(monitorExited)
		monitorProgress(ctx, jm, engine, jobID, trialOffset, progressDone)
	}()

	result, err := engine.Run(ctx, &budget, cfg.FinalCost)
	close(progressDone)
	<-monitorExited
	jm.setStop(jobID, nil)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	bestValues, err := engine.BestValues()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	if checkpointStore != nil {
		final := store.NewCheckpoint(jobID, names, bestValues, result.BestCost, initialCost, trialOffset+result.Trials, cfg)
		if err := checkpointStore.SaveCheckpoint(jobID, final); err != nil {
			logger.Error("Failed to save checkpoint", "error", err)
		} else {
			logger.Info("Checkpoint saved", "trial", final.Trial, "best_cost", final.BestCost)
		}
	}
	if trace != nil {
		if err := trace.Err(); err != nil {
			logger.Warn("Trace incomplete", "error", err)
		}
		if err := trace.Flush(); err != nil {
			logger.Warn("Failed to flush trace", "error", err)
		}
	}

	state := StateCompleted
	if result.Termination == opt.TerminationStopped {
		state = StateCancelled
	}
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = state
		j.Names = names
		j.BestValues = bestValues
		j.BestCost = result.BestCost
		j.InitialCost = initialCost
		j.Trials = trialOffset + result.Trials
		j.Progress = engine.Progress()
		j.Result = &result
		j.EndTime = &endTime
	})

	logger.Info("Job finished",
		"state", state,
		"termination", result.Termination,
		"elapsed", result.Elapsed,
		"initial_cost", initialCost,
		"best_cost", result.BestCost,
		"trials", result.Trials,
	)

	// Broadcast final event
	if final, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(eventOf(final))
	}

	if state == StateCancelled && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, engine *opt.Engine, jobID string, trialOffset int64, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := engine.Progress()
			err := jm.UpdateJob(jobID, func(j *Job) {
				j.Progress = p
				j.Trials = trialOffset + p.Trial
			})
			if err != nil {
				return
			}
			if job, ok := jm.GetJob(jobID); ok {
				jm.broadcaster.Broadcast(eventOf(job))
			}
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(eventOf(job))
	}
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// isTerminal tells errors that end a job from a cancelled context
func isTerminal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
