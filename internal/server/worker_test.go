package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Daiius/libobjcryst-sub000/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig())

	err := runJob(context.Background(), jm, nil, job.ID)
	if err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.Result == nil || updated.Trials != 2000 {
		t.Errorf("Expected 2000 trials and a result, got %d %+v", updated.Trials, updated.Result)
	}
	if updated.BestCost >= updated.InitialCost {
		t.Errorf("Best cost %g should improve on initial cost %g", updated.BestCost, updated.InitialCost)
	}
	if len(updated.BestValues) != 2 || len(updated.Names) != 2 {
		t.Errorf("Expected 2 values, got %v %v", updated.Names, updated.BestValues)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestRunJob_InvalidConfig(t *testing.T) {
	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.Problem.Name = "unknown"
	job := jm.CreateJob(cfg)

	err := runJob(context.Background(), jm, nil, job.ID)
	if err == nil {
		t.Error("runJob should fail with an unknown problem")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.Trials = 1 << 40 // Long-running job
	job := jm.CreateJob(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- runJob(ctx, jm, nil, job.ID)
	}()

	// Give it time to start
	time.Sleep(50 * time.Millisecond)

	// Cancel the job
	cancel()

	// Wait for completion
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("runJob should return context.Canceled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Job did not stop after cancellation")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_Stop(t *testing.T) {
	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.Trials = 1 << 40
	job := jm.CreateJob(cfg)

	done := make(chan error)
	go func() {
		done <- runJob(context.Background(), jm, nil, job.ID)
	}()

	deadline := time.After(10 * time.Second)
	for jm.StopJob(job.ID) != nil {
		select {
		case <-deadline:
			t.Fatal("Job never became stoppable")
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("A stopped job is not an error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Job did not stop")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled || len(updated.BestValues) != 2 {
		t.Errorf("Expected a cancelled job with its best values, got %s %v", updated.State, updated.BestValues)
	}
}

func TestRunJob_CheckpointAndResume(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.Autosave.Policy = "new-best"
	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, fs, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	cp, err := fs.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Final checkpoint missing: %v", err)
	}
	first, _ := jm.GetJob(job.ID)
	if cp.Trial != 2000 || cp.BestCost != first.BestCost {
		t.Errorf("Checkpoint %+v does not match job", cp)
	}
	if err := cp.Validate(); err != nil {
		t.Errorf("Invalid checkpoint: %v", err)
	}
	snapshots, err := fs.ListSnapshots(job.ID)
	if err != nil || len(snapshots) == 0 {
		t.Errorf("Expected autosaves, got %v (%v)", snapshots, err)
	}
	entries, err := store.ReadTrace(fs.BaseDir(), job.ID)
	if err != nil || len(entries) == 0 {
		t.Errorf("Expected a trace, got %d entries (%v)", len(entries), err)
	}

	// extend the budget and resume
	resumeCfg := cp.Config
	resumeCfg.Trials = 3000
	cp.Config = resumeCfg
	if _, err := jm.ResumeJob(cp, resumeCfg); err != nil {
		t.Fatalf("ResumeJob failed: %v", err)
	}
	if err := runJob(context.Background(), jm, fs, job.ID); err != nil {
		t.Fatalf("Resumed runJob failed: %v", err)
	}

	resumed, _ := jm.GetJob(job.ID)
	if resumed.Trials != 3000 {
		t.Errorf("Expected 3000 trials after resume, got %d", resumed.Trials)
	}
	if resumed.BestCost > first.BestCost {
		t.Errorf("Best cost got worse across resume: %g > %g", resumed.BestCost, first.BestCost)
	}
	if resumed.InitialCost != first.InitialCost {
		t.Errorf("Initial cost should be kept across resume: %g != %g", resumed.InitialCost, first.InitialCost)
	}
}
