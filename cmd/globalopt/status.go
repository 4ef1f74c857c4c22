package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Daiius/libobjcryst-sub000/internal/server"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop [job-id]",
	Short: "Stop a running job on the server",
	Long:  `Asks the server to stop a job. The job keeps and checkpoints its best configuration.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	stopCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var url string

	if len(args) == 0 {
		// List all jobs
		url = fmt.Sprintf("%s/api/v1/jobs", serverURL)
		return listJobs(cmd.OutOrStdout(), url)
	}

	// Get specific job status
	jobID := args[0]
	url = fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID)
	return getJobStatus(cmd.OutOrStdout(), url, jobID)
}

func listJobs(w io.Writer, url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []server.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(w, "Job ID: %s\n", job.ID)
		fmt.Fprintf(w, "  State: %s\n", job.State)
		fmt.Fprintf(w, "  Algorithm: %s\n", job.Config.Algorithm)
		fmt.Fprintf(w, "  Problem: %s (dim %d)\n", job.Config.Problem.Name, job.Config.Problem.Dim)
		fmt.Fprintf(w, "  Trials: %d / %d\n", job.Trials, job.Config.Trials)
		if len(job.BestValues) > 0 {
			fmt.Fprintf(w, "  Cost: %.6g -> %.6g\n", job.InitialCost, job.BestCost)
		}
		fmt.Fprintln(w)
	}

	return nil
}

func getJobStatus(w io.Writer, url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status server.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if status.Job == nil {
		return fmt.Errorf("empty status for job %s", jobID)
	}

	// Display status
	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	fmt.Fprintln(w)

	cfg := status.Config
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Algorithm: %s\n", cfg.Algorithm)
	fmt.Fprintf(w, "  Problem: %s (dim %d)\n", cfg.Problem.Name, cfg.Problem.Dim)
	fmt.Fprintf(w, "  Trials: %d\n", cfg.Trials)
	if cfg.FinalCost != 0 {
		fmt.Fprintf(w, "  Final cost: %g\n", cfg.FinalCost)
	}
	if cfg.Seed != 0 {
		fmt.Fprintf(w, "  Seed: %d\n", cfg.Seed)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Trials: %d\n", status.Trials)
	if status.ResumedFrom > 0 {
		fmt.Fprintf(w, "  Resumed from: %d\n", status.ResumedFrom)
	}
	if len(status.BestValues) > 0 {
		fmt.Fprintf(w, "  Initial Cost: %.6g\n", status.InitialCost)
		fmt.Fprintf(w, "  Best Cost: %.6g\n", status.BestCost)
		improvement := status.InitialCost - status.BestCost
		if status.InitialCost != 0 {
			fmt.Fprintf(w, "  Improvement: %.6g (%.1f%%)\n", improvement, improvement/status.InitialCost*100)
		}
	}
	if p := status.Progress; p.Temperature > 0 {
		fmt.Fprintf(w, "  Temperature: %.4g (world %d)\n", p.Temperature, p.World)
		fmt.Fprintf(w, "  Amplitude: %.4g\n", p.Amplitude)
	}

	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.TPS > 0 {
		fmt.Fprintf(w, "  Throughput: %.0f trials/sec\n", status.TPS)
	}
	if status.Result != nil {
		fmt.Fprintf(w, "  Termination: %s\n", status.Result.Termination)
	}

	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}

	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	resp, err := http.Post(fmt.Sprintf("%s/api/v1/jobs/%s/stop", serverURL, jobID), "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for job %s\n", jobID)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("job not found: %s", jobID)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}
}
