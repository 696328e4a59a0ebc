package server

import (
	"net/http"

	"draftflow/internal/gateway/handler"
	"draftflow/internal/gateway/middleware"
)

func NewMux(h *handler.Handler) http.Handler {
	mux := http.NewServeMux()

	// Workflow lifecycle
	mux.HandleFunc("POST /v1/workflows", h.HandleCreateWorkflow)
	mux.HandleFunc("GET /v1/workflows", h.HandleListWorkflows)
	mux.HandleFunc("GET /v1/workflows/{id}", h.HandleGetWorkflow)
	mux.HandleFunc("DELETE /v1/workflows/{id}", h.HandleDeleteWorkflow)

	// Inputs and edits
	mux.HandleFunc("PUT /v1/workflows/{id}/source", h.HandleUploadSource)
	mux.HandleFunc("POST /v1/workflows/{id}/inputs", h.HandleInputChanged)
	mux.HandleFunc("PATCH /v1/workflows/{id}/artifacts/{name}", h.HandleArtifactEdit)

	// Generation
	mux.HandleFunc("POST /v1/workflows/{id}/artifacts/{name}/generate", h.HandleGenerate)
	mux.HandleFunc("POST /v1/workflows/{id}/artifacts/{name}/retry", h.HandleRetry)
	mux.HandleFunc("GET /v1/workflows/{id}/artifacts/{name}/job", h.HandleJobStatus)

	// Steps
	mux.HandleFunc("GET /v1/workflows/{id}/steps", h.HandleStepCompletion)
	mux.HandleFunc("POST /v1/workflows/{id}/steps/advance", h.HandleAdvance)
	mux.HandleFunc("POST /v1/workflows/{id}/steps/retreat", h.HandleRetreat)
	mux.HandleFunc("POST /v1/workflows/{id}/finish", h.HandleFinish)

	// Progress stream
	mux.HandleFunc("GET /v1/workflows/{id}/watch", h.HandleWatchWS)

	// Ops
	mux.HandleFunc("GET /v1/metrics", h.HandleMetrics)
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	return middleware.CORS(mux)
}
