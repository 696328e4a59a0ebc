// Package handler serves the wizard's JSON-over-HTTP surface.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"draftflow/internal/apperr"
	"draftflow/internal/gateway/events"
	"draftflow/internal/repo"
	"draftflow/internal/store"
	"draftflow/internal/wizard"
)

type Handler struct {
	svc    *wizard.Service
	repo   *repo.Repository
	events *events.Broker
}

func New(svc *wizard.Service, r *repo.Repository, broker *events.Broker) *Handler {
	return &Handler{svc: svc, repo: r, events: broker}
}

// ---------------------------------------------------------------------------
// workflows
// ---------------------------------------------------------------------------

type createWorkflowRequest struct {
	OwnerID string `json:"owner_id"`
	Code    string `json:"code"`
}

func (h *Handler) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf, err := h.svc.CreateWorkflow(r.Context(), req.OwnerID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (h *Handler) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	out, err := h.svc.ListWorkflows(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": out})
}

func (h *Handler) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteWorkflow(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// ---------------------------------------------------------------------------
// edits
// ---------------------------------------------------------------------------

func (h *Handler) HandleUploadSource(w http.ResponseWriter, r *http.Request) {
	var document json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&document); err != nil {
		writeError(w, http.StatusBadRequest, "invalid source document")
		return
	}
	if err := h.svc.UploadSource(r.Context(), r.PathValue("id"), document); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploaded": true})
}

type inputChangeRequest struct {
	Input string `json:"input"`
	Value string `json:"value"`
}

func (h *Handler) HandleInputChanged(w http.ResponseWriter, r *http.Request) {
	var req inputChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.OnInputChanged(r.Context(), r.PathValue("id"), req.Input, req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cleared": h.svc.ClearSet(strings.TrimSpace(req.Input)),
	})
}

func (h *Handler) HandleArtifactEdit(w http.ResponseWriter, r *http.Request) {
	var patch wizard.EditPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch")
		return
	}
	if err := h.svc.OnArtifactEditRequested(r.Context(), r.PathValue("id"), r.PathValue("name"), patch); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": true})
}

// ---------------------------------------------------------------------------
// generation
// ---------------------------------------------------------------------------

type generateRequest struct {
	Supersede bool `json:"supersede,omitempty"`
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	handle, err := h.svc.Generate(r.Context(), r.PathValue("id"), r.PathValue("name"),
		wizard.GenerateOptions{Supersede: req.Supersede})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"artifact":   handle.Artifact,
		"generation": handle.Generation(),
	})
}

func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	handle, err := h.svc.Retry(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"artifact":   handle.Artifact,
		"generation": handle.Generation(),
		"resumed":    true,
	})
}

func (h *Handler) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.svc.JobStatus(r.PathValue("id"), r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     handle.Processing(),
		"stage":      handle.Stage(),
		"attempts":   handle.Attempts(),
		"started_at": handle.StartedAt(),
	})
}

// ---------------------------------------------------------------------------
// steps
// ---------------------------------------------------------------------------

func (h *Handler) HandleStepCompletion(w http.ResponseWriter, r *http.Request) {
	completion, err := h.svc.StepCompletion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	canAdvance, err := h.svc.CanAdvance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"steps":       completion,
		"can_advance": canAdvance,
	})
}

func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.Advance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) HandleRetreat(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.Retreat(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.Finish(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// ---------------------------------------------------------------------------
// ops
// ---------------------------------------------------------------------------

func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"repository":     h.repo.Metrics(),
		"pending_writes": h.repo.PendingWrites(),
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("handler: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if kind, ok := apperr.KindOf(err); ok {
		switch kind {
		case apperr.KindValidation:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case apperr.KindConflictingJob:
			writeError(w, http.StatusConflict, err.Error())
		case apperr.KindStoreUnavailable:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case apperr.KindTimeout:
			writeError(w, http.StatusGatewayTimeout, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
