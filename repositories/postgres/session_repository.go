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

// SessionRepository implements the repositories.SessionRepository interface
type SessionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, logger *zap.Logger) repositories.SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Snapshot writes the aggregate. Older snapshots never overwrite newer ones.
func (r *SessionRepository) Snapshot(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO audit_sessions (
			session_id, user_id, tools_accessed, total_events,
			total_tool_launches, session_start, session_last_activity, snapshot_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP
		)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			tools_accessed = EXCLUDED.tools_accessed,
			total_events = EXCLUDED.total_events,
			total_tool_launches = EXCLUDED.total_tool_launches,
			session_last_activity = EXCLUDED.session_last_activity,
			snapshot_at = EXCLUDED.snapshot_at
		WHERE audit_sessions.total_events <= EXCLUDED.total_events
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		s.SessionID,
		s.UserID,
		pq.Array(nonNil(s.ToolsAccessed)),
		s.TotalEvents,
		s.TotalToolLaunches,
		s.SessionStart,
		s.LastActivity,
	)
	if err != nil {
		return classifyError("snapshot session", err)
	}

	r.logger.Debug("session snapshot written",
		zap.String("session_id", s.SessionID),
		zap.Int("total_events", s.TotalEvents))
	return nil
}

// GetByID retrieves the latest snapshot
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT session_id, user_id, tools_accessed, total_events,
		       total_tool_launches, session_start, session_last_activity
		FROM audit_sessions
		WHERE session_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	s := &models.Session{}
	err := executor.QueryRowContext(ctx, query, sessionID).Scan(
		&s.SessionID,
		&s.UserID,
		pq.Array(&s.ToolsAccessed),
		&s.TotalEvents,
		&s.TotalToolLaunches,
		&s.SessionStart,
		&s.LastActivity,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, classifyError("get session", err)
	}

	return s, nil
}
