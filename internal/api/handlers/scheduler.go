package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/scengen/internal/scheduler"
	"github.com/wonny/scengen/pkg/logger"
)

// SchedulerHandler handles scheduler status endpoints
type SchedulerHandler struct {
	sched  *scheduler.Scheduler
	logger *logger.Logger
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(sched *scheduler.Scheduler, log *logger.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		sched:  sched,
		logger: log,
	}
}

// JobStatus job statistics plus the next activation
type JobStatus struct {
	scheduler.JobStats
	NextRun *time.Time `json:"next_run,omitempty"`
}

// ListJobs returns every registered job with its statistics
// GET /api/scheduler/jobs
func (h *SchedulerHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	stats := h.sched.GetJobStats()

	jobs := make([]JobStatus, 0, len(stats))
	for _, name := range h.sched.GetAllJobs() {
		st := JobStatus{JobStats: stats[name]}
		// 시작 전에는 zero time
		if next, err := h.sched.NextRun(name); err == nil && !next.IsZero() {
			st.NextRun = &next
		}
		jobs = append(jobs, st)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHistory returns the latest results of one job
// GET /api/scheduler/jobs/{name}/history?limit=20
func (h *SchedulerHandler) GetJobHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := h.sched.GetJobHistory(name)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("job", name).Error("Failed to get job history")
		respondError(w, http.StatusInternalServerError, "failed to get job history")
		return
	}

	results := history.GetLatestResults(limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":          name,
		"results":      results,
		"count":        len(results),
		"success_rate": history.GetSuccessRate(),
	})
}

// RunJob starts a job outside of its schedule
// POST /api/scheduler/jobs/{name}/run
func (h *SchedulerHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.sched.RunJob(name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.WithError(err).WithField("job", name).Error("Failed to start job")
		respondError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	h.logger.WithField("job", name).Info("Job triggered via API")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"job":    name,
		"status": "started",
	})
}

// RemoveJob unschedules a job until the next restart. History is kept.
// DELETE /api/scheduler/jobs/{name}
func (h *SchedulerHandler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.sched.RemoveJob(name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.WithError(err).WithField("job", name).Error("Failed to remove job")
		respondError(w, http.StatusInternalServerError, "failed to remove job")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"job":    name,
		"status": "removed",
	})
}
