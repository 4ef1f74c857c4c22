package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/Daiius/libobjcryst-sub000/internal/config"
	"github.com/Daiius/libobjcryst-sub000/internal/opt"
	"github.com/Daiius/libobjcryst-sub000/internal/store"
)

func TestApplyRunFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addRunFlags(cmd)
	if err := cmd.Flags().Parse([]string{"--problem", "rastrigin", "--dim", "3", "--algorithm", "pt"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg := config.Default()
	cfg.Trials = 1234
	if err := applyRunFlags(cmd, cfg); err != nil {
		t.Fatalf("applyRunFlags failed: %v", err)
	}

	if cfg.Problem.Name != "rastrigin" || cfg.Problem.Dim != 3 {
		t.Errorf("Expected rastrigin/3, got %s/%d", cfg.Problem.Name, cfg.Problem.Dim)
	}
	if cfg.Algorithm != "pt" {
		t.Errorf("Expected algorithm pt, got %s", cfg.Algorithm)
	}
	// Unset flags leave the configuration alone
	if cfg.Trials != 1234 {
		t.Errorf("Expected trials 1234, got %d", cfg.Trials)
	}
}

func TestApplyRunFlags_Invalid(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addRunFlags(cmd)
	if err := cmd.Flags().Parse([]string{"--autosave", "weekly"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	if err := applyRunFlags(cmd, config.Default()); err == nil {
		t.Error("Expected error for unknown autosave policy")
	}
}

func TestExecuteAndResume(t *testing.T) {
	dir := t.TempDir()
	checkpointStore, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	cfg := config.Default()
	cfg.Trials = 2000
	cfg.Seed = 42
	cfg.Autosave.Policy = string(opt.AutosaveNewBest)
	cfg.Trace.Path = filepath.Join(dir, "trials.log")

	out, err := execute(context.Background(), *cfg, checkpointStore, "cli-job", nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out.Trial != 2000 {
		t.Errorf("Expected 2000 trials, got %d", out.Trial)
	}
	if out.Result.BestCost > out.Initial {
		t.Errorf("Best cost %g worse than initial %g", out.Result.BestCost, out.Initial)
	}
	if len(out.Best) != 2 {
		t.Errorf("Expected 2 best values, got %d", len(out.Best))
	}

	cp, err := checkpointStore.LoadCheckpoint("cli-job")
	if err != nil {
		t.Fatalf("Expected final checkpoint: %v", err)
	}
	if cp.Trial != 2000 || cp.Remaining() != 0 {
		t.Errorf("Expected trial 2000 and nothing remaining, got %d and %d", cp.Trial, cp.Remaining())
	}
	if cp.BestCost != out.Result.BestCost {
		t.Errorf("Checkpoint cost %g, run cost %g", cp.BestCost, out.Result.BestCost)
	}

	if info, err := os.Stat(cfg.Trace.Path); err != nil || info.Size() == 0 {
		t.Errorf("Expected a non-empty trial log: %v", err)
	}
	if entries, err := store.ReadTrace(dir, "cli-job"); err != nil || len(entries) == 0 {
		t.Errorf("Expected trace entries, got %d (%v)", len(entries), err)
	}

	// Nothing left to run
	if _, err := execute(context.Background(), cp.Config, checkpointStore, "cli-job", cp); err == nil {
		t.Error("Expected error resuming an exhausted checkpoint")
	}

	cp.Config.Trials = 3000
	resumed, err := execute(context.Background(), cp.Config, checkpointStore, "cli-job", cp)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Trial != 3000 {
		t.Errorf("Expected 3000 total trials, got %d", resumed.Trial)
	}
	if resumed.Result.BestCost > cp.BestCost {
		t.Errorf("Resumed cost %g worse than checkpoint %g", resumed.Result.BestCost, cp.BestCost)
	}
	if resumed.Initial != out.Initial {
		t.Errorf("Expected initial cost %g to survive resume, got %g", out.Initial, resumed.Initial)
	}
}

func TestReport(t *testing.T) {
	outPath = filepath.Join(t.TempDir(), "best.json")
	defer func() { outPath = "" }()

	out := &outcome{
		JobID:   "job",
		Result:  opt.Result{BestCost: 0.25, Termination: opt.TerminationExhausted},
		Trial:   100,
		Names:   []string{"x0", "x1"},
		Values:  []float64{3, -1},
		Best:    map[string]float64{"x0": 3, "x1": -1},
		Initial: 10,
	}

	var buf bytes.Buffer
	if err := report(&buf, out); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	for _, want := range []string{"PARAMETER", "x0", "x1", "exhausted"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, buf.String())
		}
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Expected result file: %v", err)
	}
	var decoded struct {
		JobID string             `json:"jobId"`
		Best  map[string]float64 `json:"best"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Invalid result file: %v", err)
	}
	if decoded.JobID != "job" || decoded.Best["x0"] != 3 {
		t.Errorf("Unexpected result file: %s", data)
	}
}
