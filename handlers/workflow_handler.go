package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/sso-audit/middleware"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/utils"
	"go.uber.org/zap"
)

// CompleteWorkflowRequest is the body of POST /api/v1/workflows/{id}/complete
type CompleteWorkflowRequest struct {
	ActionResult models.ActionResult `json:"action_result" validate:"required,oneof=success failure partial pending"`
}

// WorkflowHandler handles workflow HTTP requests
type WorkflowHandler struct {
	ingest IngestService
	query  QueryService
	logger *zap.Logger
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(ingest IngestService, query QueryService, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		ingest: ingest,
		query:  query,
		logger: logger,
	}
}

// HandleGetWorkflow handles GET /api/v1/workflows/{id}
func (h *WorkflowHandler) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.query.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, wf)
}

// HandleActiveWorkflows handles GET /api/v1/workflows/active
func (h *WorkflowHandler) HandleActiveWorkflows(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.query.ActiveWorkflows())
}

// HandleWorkflowEvents handles GET /api/v1/workflows/{id}/events
func (h *WorkflowHandler) HandleWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.query.GetWorkflowEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, events)
}

// HandleCompleteWorkflow handles POST /api/v1/workflows/{id}/complete
func (h *WorkflowHandler) HandleCompleteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := chi.URLParam(r, "id")

	var req CompleteWorkflowRequest
	if err := decodeJSON(w, r, maxEventBodyBytes, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	wf, err := h.ingest.CompleteWorkflow(ctx, workflowID, req.ActionResult)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("workflow completed explicitly",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("workflow_id", workflowID),
		zap.String("workflow_status", string(wf.Status)))

	_ = utils.WriteOK(w, wf)
}
