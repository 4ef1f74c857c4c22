package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Daiius/libobjcryst-sub000/internal/store"
)

var snapshotName string

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume from checkpoint",
	Long: `Resumes a job from its latest checkpoint, or from a named autosave with
--snapshot, and runs the trials left. --trials sets a new total budget.
Schedules and algorithm may change; the problem and its bounds may not.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&snapshotName, "snapshot", "", "Resume from this autosave instead of the latest checkpoint")
	resumeCmd.Flags().StringVar(&outPath, "out", "", "Write the best configuration as JSON to this file")
	addRunFlags(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	checkpointStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	var cp *store.Checkpoint
	if snapshotName != "" {
		cp, err = checkpointStore.LoadSnapshot(id, snapshotName)
	} else {
		cp, err = checkpointStore.LoadCheckpoint(id)
	}
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	cfg := cp.Config
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cp.IsCompatible(cfg); err != nil {
		return err
	}
	cp.Config = cfg

	slog.Info("Resuming job",
		"job_id", id,
		"snapshot", cp.Name,
		"trial", cp.Trial,
		"remaining", cp.Remaining(),
		"best_cost", cp.BestCost,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := execute(ctx, cfg, checkpointStore, id, cp)
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), out)
}
