package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"time"

	"github.com/upb/sso-audit/services/audit"
	"github.com/upb/sso-audit/utils"
	"go.uber.org/zap"
)

const readinessTimeout = 5 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// StatsProvider exposes engine counters for the status endpoint
type StatsProvider interface {
	Stats() audit.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checks map[string]CheckFunc
	stats  StatsProvider
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. checks maps a dependency name
// to its probe; stats may be nil.
func NewHealthHandler(checks map[string]CheckFunc, stats StatsProvider, logger *zap.Logger) *HealthHandler {
	if checks == nil {
		checks = make(map[string]CheckFunc)
	}
	return &HealthHandler{
		checks: checks,
		stats:  stats,
		logger: logger,
	}
}

// SQLCheck pings db and runs a trivial query
func SQLCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var result int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	}
}

// HandleHealth handles GET /healthz
// Liveness only: returns 200 while the process is serving.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks)+1)
	allHealthy := true

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("dependency health check failed",
				zap.String("dependency", name),
				zap.Error(err))
			checks[name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[name] = "healthy"
	}

	if h.stats != nil {
		if h.stats.Stats().ShuttingDown {
			checks["ingest"] = "draining"
			allHealthy = false
		} else {
			checks["ingest"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		_ = utils.WriteNotFound(w, "Status is not available")
		return
	}
	_ = utils.WriteOK(w, h.stats.Stats())
}
