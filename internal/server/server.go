package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Daiius/libobjcryst-sub000/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server

	// jobs run under ctx, cancelled on Shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new HTTP server. checkpointStore may be nil, jobs are
// then neither checkpointed nor traced.
func NewServer(addr string, checkpointStore store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		jobManager: NewJobManager(),
		store:      checkpointStore,
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving the UI and API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register UI routes
	mux.HandleFunc("/", s.handleIndex)

	// Register API routes
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("/api/v1/checkpoints/", s.handleCheckpointsWithID)

	// Wrap with middleware
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the running jobs, waits for their final checkpoints and
// gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Jobs did not finish before shutdown deadline")
	}

	// close SSE streams
	for _, job := range s.jobManager.ListJobs() {
		s.jobManager.broadcaster.CleanupJob(job.ID)
	}

	return s.server.Shutdown(ctx)
}

// startJob runs a job in the background until it finishes or the server shuts down
func (s *Server) startJob(jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := runJob(s.ctx, s.jobManager, s.store, jobID); isTerminal(err) {
			slog.Debug("Job worker returned", "job_id", jobID, "error", err)
		}
	}()
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	// Parse job ID from path
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Job ID required")
		return
	}

	jobID := parts[0]

	// Route based on subpath
	sub := "status"
	if len(parts) > 1 && parts[1] != "" {
		sub = parts[1]
	}
	switch {
	case sub == "stop" && r.Method == http.MethodPost:
		s.handleStopJob(w, r, jobID)
	case r.Method != http.MethodGet:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	case sub == "status":
		s.handleGetJobStatus(w, r, jobID)
	case sub == "best":
		s.handleGetBest(w, r, jobID)
	case sub == "stream":
		s.handleJobStream(w, r, jobID)
	case sub == "trace":
		s.handleGetTrace(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Create job
	job := s.jobManager.CreateJob(*cfg)

	// Start worker in background
	s.startJob(job.ID)

	// Return job
	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// JobStatus is a job with its throughput
type JobStatus struct {
	*Job
	Elapsed float64 `json:"elapsed"` // seconds
	TPS     float64 `json:"tps"`     // trials per second
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	// Compute elapsed time and TPS
	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	tps := float64(0)
	if elapsed.Seconds() > 0 {
		tps = float64(job.Trials-job.ResumedFrom) / elapsed.Seconds()
	}

	writeJSON(w, http.StatusOK, JobStatus{Job: job, Elapsed: elapsed.Seconds(), TPS: tps})
}

// BestResponse is the best configuration found so far by a job
type BestResponse struct {
	JobID  string             `json:"jobId"`
	Cost   float64            `json:"cost"`
	Trials int64              `json:"trials"`
	Values map[string]float64 `json:"values"`
}

// handleGetBest handles GET /api/v1/jobs/:id/best
func (s *Server) handleGetBest(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	// Check if job has results
	if len(job.BestValues) == 0 {
		writeError(w, http.StatusNotFound, "No results yet")
		return
	}

	values := make(map[string]float64, len(job.Names))
	for i, name := range job.Names {
		values[name] = job.BestValues[i]
	}
	writeJSON(w, http.StatusOK, BestResponse{JobID: job.ID, Cost: job.BestCost, Trials: job.Trials, Values: values})
}

// handleStopJob handles POST /api/v1/jobs/:id/stop
func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err := s.jobManager.StopJob(jobID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetTrace handles GET /api/v1/jobs/:id/trace
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	fs, ok := s.store.(baseDirStore)
	if !ok {
		writeError(w, http.StatusNotFound, "Traces are disabled")
		return
	}
	entries, err := store.ReadTrace(fs.BaseDir(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Trace not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleListCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "Checkpoints are disabled")
		return
	}
	infos, err := s.store.ListCheckpoints()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleCheckpointsWithID handles /api/v1/checkpoints/:id and /api/v1/checkpoints/:id/resume
func (s *Server) handleCheckpointsWithID(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "Checkpoints are disabled")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/checkpoints/"), "/")
	jobID := parts[0]
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Job ID required")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		cp, err := s.store.LoadCheckpoint(jobID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cp)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if job, ok := s.jobManager.GetJob(jobID); ok && !job.Finished() {
			writeError(w, http.StatusConflict, "Job is "+string(job.State))
			return
		}
		if err := s.store.DeleteCheckpoint(jobID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "resume" && r.Method == http.MethodPost:
		s.handleResume(w, r, jobID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleResume handles POST /api/v1/checkpoints/:id/resume[?trials=N].
// trials replaces the total trial budget of the checkpointed configuration.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, jobID string) {
	cp, err := s.store.LoadCheckpoint(jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := cp.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	cfg := cp.Config
	if v := r.URL.Query().Get("trials"); v != "" {
		trials, err := strconv.ParseInt(v, 10, 64)
		if err != nil || trials <= 0 {
			writeError(w, http.StatusBadRequest, "trials must be a positive integer")
			return
		}
		cfg.Trials = trials
	}
	cp.Config = cfg
	if cp.Remaining() <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "No trial left, raise trials")
		return
	}

	job, err := s.jobManager.ResumeJob(cp, cfg)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.startJob(job.ID)
	writeJSON(w, http.StatusCreated, job)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Checkpoint not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
