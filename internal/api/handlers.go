package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sheet-etl/internal/config"
	"sheet-etl/internal/jobs"
	"sheet-etl/internal/pipeline"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// handleJobs lists registered jobs on GET and launches one on POST.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, JobList{Jobs: jobs.Names()})
	case http.MethodPost:
		s.createJob(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobByID routes GET and DELETE for specific job IDs.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		http.Error(w, "job id missing", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getJob(w, id)
	case http.MethodDelete:
		s.cancelJob(w, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// createJob handles POST /jobs. The job is built before it is queued so
// configuration errors are answered with 400.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, cfg, err := s.buildJob(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalid) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	jobID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	entry := &jobEntry{
		status: &JobStatus{
			JobID:     jobID,
			Job:       req.Job,
			Status:    StatusQueued,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}

	s.mu.Lock()
	s.jobs[jobID] = entry
	s.mu.Unlock()

	runner := &pipeline.Runner{Store: s.store, BatchSize: cfg.BatchSize, DryRun: req.DryRun || cfg.DryRun}
	s.wg.Add(1)
	go s.runJob(ctx, jobID, runner, job)

	writeJSON(w, http.StatusAccepted, JobResponse{JobID: jobID})
}

// buildJob validates the request section against the server's config.
func (s *Server) buildJob(req JobRequest) (pipeline.Job, *config.Config, error) {
	section, ok := jobs.Section(req.Job)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown job %q", config.ErrInvalid, req.Job)
	}
	cfg, err := s.base.WithJob(section, req.Config)
	if err != nil {
		return nil, nil, err
	}
	job, err := jobs.Build(req.Job, jobs.Deps{Config: cfg, HTTP: s.http})
	if err != nil {
		return nil, nil, err
	}
	return job, cfg, nil
}

// runJob executes the job and records its outcome.
func (s *Server) runJob(ctx context.Context, jobID string, runner *pipeline.Runner, job pipeline.Job) {
	defer s.wg.Done()

	s.mu.Lock()
	entry := s.jobs[jobID]
	if entry.status.Status == StatusQueued {
		entry.status.Status = StatusRunning
	}
	s.mu.Unlock()

	res, err := runner.Run(ctx, job)
	entry.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.status.Result = &res
	if entry.status.Status == StatusCancelled {
		return
	}
	finished := time.Now()
	entry.status.FinishedAt = &finished
	if err != nil {
		logrus.Errorf("job %s failed: %v", jobID, err)
		entry.status.Status = StatusError
		entry.status.Error = err.Error()
		return
	}
	entry.status.Status = StatusFinished
}

// getJob handles GET /jobs/{id}
func (s *Server) getJob(w http.ResponseWriter, id string) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	var status JobStatus
	if ok {
		status = *entry.status
	}
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// cancelJob handles DELETE /jobs/{id}. Jobs that already ended are left as
// they are.
func (s *Server) cancelJob(w http.ResponseWriter, id string) {
	s.mu.Lock()
	entry, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	status := entry.status.Status
	if status == StatusQueued || status == StatusRunning {
		entry.status.Status = StatusCancelled
		finished := time.Now()
		entry.status.FinishedAt = &finished
	}
	s.mu.Unlock()

	if status != StatusQueued && status != StatusRunning {
		http.Error(w, "job already "+status, http.StatusConflict)
		return
	}
	entry.cancel()
	logrus.Infof("job %s cancelled", id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("encode response: %v", err)
	}
}
