package server

import (
	"net/http"

	"github.com/Daiius/libobjcryst-sub000/internal/cost"
	"github.com/Daiius/libobjcryst-sub000/internal/opt"
)

// IndexResponse describes the service and what it can run
type IndexResponse struct {
	Service    string          `json:"service"`
	Algorithms []opt.Algorithm `json:"algorithms"`
	Problems   []string        `json:"problems"`
	Jobs       []JobSummary    `json:"jobs"`
}

// JobSummary is the short form of a job shown by the index
type JobSummary struct {
	ID        string   `json:"id"`
	State     JobState `json:"state"`
	Algorithm string   `json:"algorithm"`
	Problem   string   `json:"problem"`
	Dim       int      `json:"dim"`
	Trials    int64    `json:"trials"`
	BestCost  float64  `json:"bestCost"`
}

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	jobs := s.jobManager.ListJobs()
	items := make([]JobSummary, len(jobs))
	for i, job := range jobs {
		items[i] = JobSummary{
			ID:        job.ID,
			State:     job.State,
			Algorithm: job.Config.Algorithm,
			Problem:   job.Config.Problem.Name,
			Dim:       job.Config.Problem.Dim,
			Trials:    job.Trials,
			BestCost:  job.BestCost,
		}
	}

	writeJSON(w, http.StatusOK, IndexResponse{
		Service:    "globalopt",
		Algorithms: []opt.Algorithm{opt.AlgorithmAnnealing, opt.AlgorithmTempering, opt.AlgorithmMayfly},
		Problems:   cost.Names(),
		Jobs:       items,
	})
}
