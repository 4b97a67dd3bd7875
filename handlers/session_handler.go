package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/sso-audit/utils"
	"go.uber.org/zap"
)

// SessionHandler handles session HTTP requests
type SessionHandler struct {
	query  QueryService
	logger *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(query QueryService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{query: query, logger: logger}
}

// HandleGetSession handles GET /api/v1/sessions/{id}
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.query.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, session)
}
