package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/sso-audit/middleware"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/utils"
	"go.uber.org/zap"
)

// BatchRequest is the body of POST /api/v1/events/batch
type BatchRequest struct {
	Events []*models.EventInput `json:"events"`
}

// EventHandler handles audit event HTTP requests
type EventHandler struct {
	ingest IngestService
	query  QueryService
	logger *zap.Logger
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(ingest IngestService, query QueryService, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		ingest: ingest,
		query:  query,
		logger: logger,
	}
}

// HandleIngest handles POST /api/v1/events
func (h *EventHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input models.EventInput
	if err := decodeJSON(w, r, maxEventBodyBytes, &input); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.ingest.Ingest(ctx, &input)
	if err != nil {
		h.logger.Debug("event rejected",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("tool_slug", input.ToolSlug),
			zap.String("event_type", input.EventType),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, result)
}

// HandleIngestBatch handles POST /api/v1/events/batch
func (h *EventHandler) HandleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, maxBatchBodyBytes, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.ingest.IngestBatch(r.Context(), req.Events)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("batch accepted",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", result.Rejected))

	_ = utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse{Data: result})
}

// HandleListEvents handles GET /api/v1/events
func (h *EventHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	events, err := h.query.GetEvents(r.Context(), q)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, events)
}

// HandleGetEvent handles GET /api/v1/events/{id}
func (h *EventHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.query.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, event)
}

// HandleCorrelatedEvents handles GET /api/v1/events/correlated/{correlation_id}
func (h *EventHandler) HandleCorrelatedEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.query.GetCorrelatedEvents(r.Context(), chi.URLParam(r, "correlation_id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, events)
}

// HandleStatistics handles GET /api/v1/statistics
func (h *EventHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	stats, err := h.query.GetStatistics(r.Context(), q)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, stats)
}
