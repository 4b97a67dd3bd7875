package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"go.uber.org/zap"
)

const eventColumns = `
	id, event_type, event_category, event_severity, tool_slug, tool_name,
	integration_type, user_id, user_email, user_roles, user_groups, session_id,
	request_id, correlation_id, workflow_id, action, action_result, action_details,
	ip_address, user_agent, processing_time_ms, error_code, error_message,
	timestamp, retention_policy, expires_at, audit_tags`

// EventRepository implements the repositories.EventRepository interface
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB, logger *zap.Logger) repositories.EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends an enriched event
func (r *EventRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	details, err := detailsValue(event.ActionDetails)
	if err != nil {
		return repositories.NewFatal("insert event", err)
	}

	query := `
		INSERT INTO audit_events (` + eventColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.EventCategory,
		event.EventSeverity,
		event.ToolSlug,
		event.ToolName,
		event.IntegrationType,
		event.UserID,
		event.UserEmail,
		pq.Array(nonNil(event.UserRoles)),
		pq.Array(nonNil(event.UserGroups)),
		event.SessionID,
		event.RequestID,
		event.CorrelationID,
		event.WorkflowID,
		event.Action,
		event.ActionResult,
		details,
		event.IPAddress,
		event.UserAgent,
		event.ProcessingTimeMs,
		event.ErrorCode,
		event.ErrorMessage,
		event.Timestamp,
		event.RetentionPolicy,
		event.ExpiresAt,
		pq.Array(nonNil(event.AuditTags)),
	)
	if err != nil {
		return classifyError("insert event", err)
	}

	r.logger.Debug("audit event inserted",
		zap.String("event_id", event.ID.String()),
		zap.String("correlation_id", event.CorrelationID))
	return nil
}

// GetByID retrieves one event
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	event, err := scanEvent(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, classifyError("get event", err)
	}
	return event, nil
}

// Find returns events matching the filter ordered by timestamp descending
func (r *EventRepository) Find(ctx context.Context, filter repositories.EventFilter, limit int) ([]*models.AuditEvent, error) {
	where, args := buildWhere(filter)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM audit_events %s ORDER BY timestamp DESC, id DESC LIMIT $%d`,
		eventColumns, where, len(args))

	return r.queryEvents(ctx, "find events", query, args...)
}

// GetByCorrelationID returns the events sharing a correlation id in ascending timestamp order
func (r *EventRepository) GetByCorrelationID(ctx context.Context, correlationID string) ([]*models.AuditEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM audit_events
		WHERE correlation_id = $1
		ORDER BY timestamp ASC, id ASC`

	return r.queryEvents(ctx, "get correlated events", query, correlationID)
}

// GetByWorkflowID returns a workflow's events joined with the workflow row
func (r *EventRepository) GetByWorkflowID(ctx context.Context, workflowID string) ([]*repositories.WorkflowEvent, error) {
	query := `SELECT ` + prefixed("e", eventColumns) + `,
		       w.workflow_type, w.workflow_status, w.workflow_start, w.workflow_end
		FROM audit_events e
		JOIN audit_workflows w ON w.workflow_id = e.workflow_id
		WHERE e.workflow_id = $1
		ORDER BY e.timestamp ASC, e.id ASC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, classifyError("get workflow events", err)
	}
	defer rows.Close()

	var out []*repositories.WorkflowEvent
	for rows.Next() {
		we := &repositories.WorkflowEvent{}
		var end sql.NullTime
		event, err := scanEvent(rows, &we.WorkflowType, &we.WorkflowStatus, &we.WorkflowStart, &end)
		if err != nil {
			return nil, classifyError("scan workflow event", err)
		}
		we.AuditEvent = event
		if end.Valid {
			t := end.Time
			we.WorkflowEnd = &t
		}
		out = append(out, we)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate workflow events", err)
	}
	return out, nil
}

// Statistics returns counts grouped by tool_slug, event_category and action_result
func (r *EventRepository) Statistics(ctx context.Context, filter repositories.EventFilter) ([]*repositories.EventStatistic, error) {
	where, args := buildWhere(filter)
	query := `
		SELECT tool_slug, event_category, action_result,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE action_result = 'success'),
		       COUNT(*) FILTER (WHERE action_result = 'failure'),
		       COALESCE(AVG(processing_time_ms), 0)
		FROM audit_events ` + where + `
		GROUP BY tool_slug, event_category, action_result
		ORDER BY COUNT(*) DESC, tool_slug, event_category, action_result`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError("event statistics", err)
	}
	defer rows.Close()

	var out []*repositories.EventStatistic
	for rows.Next() {
		s := &repositories.EventStatistic{}
		if err := rows.Scan(
			&s.ToolSlug,
			&s.EventCategory,
			&s.ActionResult,
			&s.Count,
			&s.SuccessCount,
			&s.FailureCount,
			&s.AvgProcessingTimeMs,
		); err != nil {
			return nil, classifyError("scan statistics", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate statistics", err)
	}
	return out, nil
}

func (r *EventRepository) queryEvents(ctx context.Context, op, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(op, err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, classifyError(op, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(op, err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent scans eventColumns followed by any extra destinations
func scanEvent(row rowScanner, extra ...interface{}) (*models.AuditEvent, error) {
	e := &models.AuditEvent{}
	var details []byte
	dest := []interface{}{
		&e.ID,
		&e.EventType,
		&e.EventCategory,
		&e.EventSeverity,
		&e.ToolSlug,
		&e.ToolName,
		&e.IntegrationType,
		&e.UserID,
		&e.UserEmail,
		pq.Array(&e.UserRoles),
		pq.Array(&e.UserGroups),
		&e.SessionID,
		&e.RequestID,
		&e.CorrelationID,
		&e.WorkflowID,
		&e.Action,
		&e.ActionResult,
		&details,
		&e.IPAddress,
		&e.UserAgent,
		&e.ProcessingTimeMs,
		&e.ErrorCode,
		&e.ErrorMessage,
		&e.Timestamp,
		&e.RetentionPolicy,
		&e.ExpiresAt,
		pq.Array(&e.AuditTags),
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.ActionDetails); err != nil {
			return nil, fmt.Errorf("failed to decode action_details: %w", err)
		}
	}
	return e, nil
}

// buildWhere renders the filter as a WHERE clause with positional args
func buildWhere(f repositories.EventFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ToolSlug != "" {
		add("tool_slug = $%d", f.ToolSlug)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.EventCategory != "" {
		add("event_category = $%d", string(f.EventCategory))
	}
	if f.ActionResult != "" {
		add("action_result = $%d", string(f.ActionResult))
	}
	if f.Start != nil {
		add("timestamp >= $%d", *f.Start)
	}
	if f.End != nil {
		add("timestamp <= $%d", *f.End)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// prefixed qualifies a comma separated column list with a table alias
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// detailsValue encodes action_details as a JSONB parameter, NULL when empty
func detailsValue(details map[string]interface{}) (interface{}, error) {
	if len(details) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action_details: %w", err)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
