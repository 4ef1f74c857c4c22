package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Daiius/libobjcryst-sub000/internal/config"
	"github.com/Daiius/libobjcryst-sub000/internal/cost"
	"github.com/Daiius/libobjcryst-sub000/internal/opt"
	"github.com/Daiius/libobjcryst-sub000/internal/store"
)

var (
	configPath string
	outPath    string
	dataDir    string
	jobID      string
	algorithm  string
	problem    string
	dim        int
	trials     int64
	finalCost  float64
	seed       int64
	tracePath  string
	verbosity  string
	autosave   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run single-shot optimization",
	Long: `Runs an optimization from a YAML run file and flag overrides, checkpoints
the best configuration under --data-dir and prints it.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML run file")
	runCmd.Flags().StringVar(&outPath, "out", "", "Write the best configuration as JSON to this file")
	runCmd.Flags().StringVar(&jobID, "job-id", "", "Job ID (default: random UUID)")
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addRunFlags registers the flags overriding a run configuration
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Algorithm: annealing, tempering, mayfly")
	cmd.Flags().StringVar(&problem, "problem", "", "Cost function: "+strings.Join(cost.Names(), ", "))
	cmd.Flags().IntVar(&dim, "dim", 0, "Number of coordinates")
	cmd.Flags().Int64Var(&trials, "trials", 0, "Trial budget")
	cmd.Flags().Float64Var(&finalCost, "final-cost", 0, "Stop when the best cost drops below this value")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0: time based)")
	cmd.Flags().StringVar(&tracePath, "trial-log", "", "Write accepted trials to this file")
	cmd.Flags().StringVar(&verbosity, "verbosity", "", "Trial log verbosity: all, accepted, best")
	cmd.Flags().StringVar(&autosave, "autosave", "", "Autosave policy: never, new-best, daily, hourly, 10min")
}

// applyRunFlags overrides cfg with the flags set on the command line
func applyRunFlags(cmd *cobra.Command, cfg *config.RunConfig) error {
	flags := cmd.Flags()
	if flags.Changed("algorithm") {
		cfg.Algorithm = algorithm
	}
	if flags.Changed("problem") {
		cfg.Problem.Name = problem
	}
	if flags.Changed("dim") {
		cfg.Problem.Dim = dim
	}
	if flags.Changed("trials") {
		cfg.Trials = trials
	}
	if flags.Changed("final-cost") {
		cfg.FinalCost = finalCost
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("trial-log") {
		cfg.Trace.Path = tracePath
	}
	if flags.Changed("verbosity") {
		cfg.Trace.Verbosity = verbosity
	}
	if flags.Changed("autosave") {
		cfg.Autosave.Policy = autosave
	}
	return cfg.Validate()
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}

	checkpointStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := execute(ctx, *cfg, checkpointStore, jobID, nil)
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), out)
}

// outcome is a finished run and its best configuration
type outcome struct {
	JobID   string             `json:"jobId"`
	Result  opt.Result         `json:"result"`
	Trial   int64              `json:"trial"` // total trials, including those before a resume
	Names   []string           `json:"-"`
	Values  []float64          `json:"-"`
	Best    map[string]float64 `json:"best"`
	Initial float64            `json:"initialCost"`
}

// execute runs cfg under jobID, starting from cp when resuming, and
// checkpoints the best configuration
func execute(ctx context.Context, cfg config.RunConfig, checkpointStore *store.FSStore, jobID string, cp *store.Checkpoint) (*outcome, error) {
	log := slog.Default().With("job_id", jobID)

	list, prob, err := cfg.BuildProblem()
	if err != nil {
		return nil, err
	}
	initialCost, err := prob.Cost()
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate initial configuration: %w", err)
	}

	var trialOffset int64
	budget := cfg.Trials
	if cp != nil {
		if err := cp.Apply(list); err != nil {
			return nil, err
		}
		initialCost = cp.InitialCost
		trialOffset = cp.Trial
		budget = cp.Remaining()
		if budget <= 0 {
			return nil, fmt.Errorf("checkpoint at trial %d has no trial left, raise --trials", cp.Trial)
		}
	}

	trace, err := store.NewTraceWriter(checkpointStore.BaseDir(), jobID, cp != nil)
	if err != nil {
		return nil, err
	}
	defer trace.Close()
	trace.WithTrialOffset(trialOffset)

	policy, err := opt.ParseAutosavePolicy(cfg.Autosave.Policy)
	if err != nil {
		return nil, err
	}
	opts := []opt.Option{
		opt.WithLogger(log),
		opt.WithObserver(opt.Observer{OnNewBest: trace.OnNewBest}),
		opt.WithAutosave(policy, store.Persister(checkpointStore, jobID, initialCost, trialOffset, cfg)),
	}
	if cfg.Seed != 0 {
		opts = append(opts, opt.WithSeed(cfg.Seed))
	}

	if cfg.Trace.Path != "" {
		level, err := opt.ParseVerbosity(cfg.Trace.Verbosity)
		if err != nil {
			return nil, err
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if cp != nil {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(cfg.Trace.Path, flags, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trial log: %w", err)
		}
		defer f.Close()
		opts = append(opts, opt.WithTrialLog(opt.NewTrialLog(f, level)))
	}

	engine := opt.NewEngine(list, opts...)
	engine.AddObjective(prob, 1)
	if err := cfg.Configure(engine); err != nil {
		return nil, err
	}

	result, err := engine.Run(ctx, &budget, cfg.FinalCost)
	if err != nil {
		return nil, err
	}
	values, err := engine.BestValues()
	if err != nil {
		return nil, err
	}
	if err := trace.Err(); err != nil {
		log.Warn("Trace incomplete", "error", err)
	}

	names := list.Names()
	total := trialOffset + result.Trials
	final := store.NewCheckpoint(jobID, names, values, result.BestCost, initialCost, total, cfg)
	if err := checkpointStore.SaveCheckpoint(jobID, final); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	log.Info("Checkpoint saved", "trial", total, "best_cost", result.BestCost, "remaining", final.Remaining())

	best := make(map[string]float64, len(names))
	for i, name := range names {
		best[name] = values[i]
	}
	return &outcome{
		JobID:   jobID,
		Result:  result,
		Trial:   total,
		Names:   names,
		Values:  values,
		Best:    best,
		Initial: initialCost,
	}, nil
}

// report prints the best configuration and writes it to --out
func report(w io.Writer, out *outcome) error {
	fmt.Fprintf(w, "Job %s: cost %.6g -> %.6g after %d trials (%s)\n",
		out.JobID, out.Initial, out.Result.BestCost, out.Trial, out.Result.Termination)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMETER\tVALUE")
	for i, name := range out.Names {
		fmt.Fprintf(tw, "%s\t%.8g\n", name, out.Values[i])
	}
	tw.Flush()

	if outPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	fmt.Fprintf(w, "Wrote %s\n", outPath)
	return nil
}
