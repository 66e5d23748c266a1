// Package httpx provides the HTTP surface of the jobcore engine.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openparcel/jobcore/internal/domain/model"
	"github.com/openparcel/jobcore/internal/service"
)

// JobHandlers provides HTTP handlers for job submission and polling.
type JobHandlers struct {
	Dispatcher *service.Dispatcher
	Reader     *service.Reader
}

type submitJobBody struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// SubmitJob handles POST requests to submit a new job for a tenant. A
// successful submission returns 202 with the accepted job; execution happens
// in the background.
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if tenantID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("tenant id is required")},
		)
		return
	}

	var body submitJobBody
	if !DecodeJSON(w, r, &body) {
		return
	}

	job, err := h.Dispatcher.Submit(r.Context(), model.SubmitJobRequest{
		TenantID: tenantID,
		Type:     body.Type,
		Params:   body.Params,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// GetStatus handles GET requests for the status of a specific job.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, jobID, ok := jobPath(w, r)
	if !ok {
		return
	}

	view, err := h.Reader.GetStatus(r.Context(), tenantID, jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// GetResult handles GET requests for the result of a specific job. The result
// field is null unless the job completed; polling early is not an error.
func (h *JobHandlers) GetResult(w http.ResponseWriter, r *http.Request) {
	tenantID, jobID, ok := jobPath(w, r)
	if !ok {
		return
	}

	view, err := h.Reader.GetResult(r.Context(), tenantID, jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Stats handles GET requests for per-status job counts of a tenant.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if tenantID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("tenant id is required")},
		)
		return
	}

	stats, err := h.Reader.Stats(r.Context(), tenantID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func jobPath(w http.ResponseWriter, r *http.Request) (tenantID, jobID string, ok bool) {
	tenantID = r.PathValue("tenant")
	jobID = r.PathValue("id")
	if tenantID == "" || jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("tenant id and job id are required")},
		)
		return "", "", false
	}
	return tenantID, jobID, true
}
