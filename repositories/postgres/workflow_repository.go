package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"go.uber.org/zap"
)

// WorkflowRepository implements the repositories.WorkflowRepository interface
type WorkflowRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *DB, logger *zap.Logger) repositories.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts the workflow or updates the stored row while it is still
// active. A snapshot older than the stored row is ignored.
func (r *WorkflowRepository) Upsert(ctx context.Context, w *models.Workflow) error {
	query := `
		INSERT INTO audit_workflows (
			workflow_id, workflow_type, user_id, session_id, tools_involved,
			total_events, successful_events, failed_events, workflow_status,
			workflow_start, workflow_end, duration_seconds, last_event_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (workflow_id) DO UPDATE SET
			tools_involved = EXCLUDED.tools_involved,
			total_events = EXCLUDED.total_events,
			successful_events = EXCLUDED.successful_events,
			failed_events = EXCLUDED.failed_events,
			workflow_status = EXCLUDED.workflow_status,
			workflow_end = EXCLUDED.workflow_end,
			duration_seconds = EXCLUDED.duration_seconds,
			last_event_at = EXCLUDED.last_event_at
		WHERE audit_workflows.workflow_status = 'active'
			AND audit_workflows.total_events <= EXCLUDED.total_events
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		w.WorkflowID,
		w.WorkflowType,
		w.UserID,
		w.SessionID,
		pq.Array(nonNil(w.ToolsInvolved)),
		w.TotalEvents,
		w.SuccessfulEvents,
		w.FailedEvents,
		w.Status,
		w.WorkflowStart,
		w.WorkflowEnd,
		w.DurationSeconds,
		w.LastEventAt,
	)
	if err != nil {
		return classifyError("upsert workflow", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		r.logger.Warn("workflow upsert ignored for closed or newer row",
			zap.String("workflow_id", w.WorkflowID),
			zap.String("workflow_status", string(w.Status)))
		return nil
	}

	r.logger.Debug("workflow upserted",
		zap.String("workflow_id", w.WorkflowID),
		zap.String("workflow_status", string(w.Status)))
	return nil
}

// GetByID retrieves a workflow
func (r *WorkflowRepository) GetByID(ctx context.Context, workflowID string) (*models.Workflow, error) {
	query := `
		SELECT workflow_id, workflow_type, user_id, session_id, tools_involved,
		       total_events, successful_events, failed_events, workflow_status,
		       workflow_start, workflow_end, duration_seconds, last_event_at
		FROM audit_workflows
		WHERE workflow_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	w := &models.Workflow{}
	err := executor.QueryRowContext(ctx, query, workflowID).Scan(
		&w.WorkflowID,
		&w.WorkflowType,
		&w.UserID,
		&w.SessionID,
		pq.Array(&w.ToolsInvolved),
		&w.TotalEvents,
		&w.SuccessfulEvents,
		&w.FailedEvents,
		&w.Status,
		&w.WorkflowStart,
		&w.WorkflowEnd,
		&w.DurationSeconds,
		&w.LastEventAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, classifyError("get workflow", err)
	}

	return w, nil
}
