package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wonny/scengen/internal/store"
	"github.com/wonny/scengen/pkg/logger"
)

// RunTrigger starts one calibrate+simulate cycle and returns the run id
type RunTrigger func(ctx context.Context) (uuid.UUID, error)

// RunHandler handles scenario run endpoints
// ⭐ SSOT: run API 핸들러는 이 구조체에서만
type RunHandler struct {
	repo    store.RunRepository
	trigger RunTrigger
	running atomic.Bool
	logger  *logger.Logger
}

// NewRunHandler creates a new run handler. trigger may be nil (read-only API).
func NewRunHandler(repo store.RunRepository, trigger RunTrigger, log *logger.Logger) *RunHandler {
	return &RunHandler{
		repo:    repo,
		trigger: trigger,
		logger:  log,
	}
}

// ListRuns returns the most recent runs
// GET /api/runs?limit=20
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun returns one run with diagnostics and risk summary
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.repo.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("run_id", id.String()).Error("Failed to get run")
		respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// GetRunSummary returns only the risk summary of a run
// GET /api/runs/{id}/summary
func (h *RunHandler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.repo.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("run_id", id.String()).Error("Failed to get run")
		respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run.Summary == nil {
		respondError(w, http.StatusNotFound, "run has no risk summary")
		return
	}

	respondJSON(w, http.StatusOK, run.Summary)
}

// TriggerRun starts a run synchronously (one at a time)
// POST /api/runs
func (h *RunHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		respondError(w, http.StatusNotImplemented, "run trigger not configured")
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		respondError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer h.running.Store(false)

	id, err := h.trigger(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Triggered run failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"status": "completed",
		"run_id": id.String(),
	})
}
