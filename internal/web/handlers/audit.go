package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-finder/internal/scheduler"
)

// AuditHandler exposes on-demand and scheduled audits.
type AuditHandler struct {
	scheduler *scheduler.Scheduler
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(s *scheduler.Scheduler) *AuditHandler {
	return &AuditHandler{scheduler: s}
}

// AuditUser handles POST /api/v1/audit/{userId}: a synchronous single-user
// audit. A request for a user already being audited returns 409; the
// in-flight run covers the same work.
func (h *AuditHandler) AuditUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	report, err := h.scheduler.RunNow(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// AuditAll handles POST /api/v1/audit: starts a background full audit and
// returns its job for polling.
func (h *AuditHandler) AuditAll(w http.ResponseWriter, r *http.Request) {
	job := h.scheduler.RunAllAsync()
	respondJSON(w, http.StatusAccepted, job.Snapshot())
}

type scheduleRequest struct {
	IntervalMinutes int    `json:"intervalMinutes"`
	UserID          string `json:"userId,omitempty"`
}

// Schedule handles POST /api/v1/audit/schedule: a periodic audit for one
// user or for everyone.
func (h *AuditHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.IntervalMinutes <= 0 {
		respondError(w, http.StatusBadRequest, "intervalMinutes must be positive")
		return
	}

	job := h.scheduler.RunPeriodic(time.Duration(req.IntervalMinutes)*time.Minute, req.UserID)
	respondJSON(w, http.StatusCreated, job.Snapshot())
}

// ListJobs handles GET /api/v1/audit/jobs.
func (h *AuditHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.ListJobs()
	out := make([]scheduler.JobInfo, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Snapshot())
	}
	respondJSON(w, http.StatusOK, out)
}

// GetJob handles GET /api/v1/audit/jobs/{id}.
func (h *AuditHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job := h.scheduler.GetJob(chi.URLParam(r, "id"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// StopJob handles DELETE /api/v1/audit/jobs/{id}: cancel the job before its
// next tick. A run already in progress finishes.
func (h *AuditHandler) StopJob(w http.ResponseWriter, r *http.Request) {
	if !h.scheduler.DeleteJob(chi.URLParam(r, "id")) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
