package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"go.uber.org/zap"
)

func TestWorkflowRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())

	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	w := &models.Workflow{
		WorkflowID:    "wf-1",
		WorkflowType:  "ci_cd_pipeline",
		UserID:        "u1",
		SessionID:     "s1",
		ToolsInvolved: []string{"github", "argocd"},
		TotalEvents:   2,
		Status:        models.WorkflowActive,
		WorkflowStart: start,
		LastEventAt:   start,
	}
	w.Close(models.WorkflowCompleted, start.Add(time.Minute))

	t.Run("writes row", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (workflow_id) DO UPDATE")).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Upsert(context.Background(), w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed row is left untouched", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("WHERE audit_workflows.workflow_status = 'active'")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, repo.Upsert(context.Background(), w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("timeout is retryable", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO audit_workflows").WillReturnError(context.DeadlineExceeded)

		err := repo.Upsert(context.Background(), w)
		assert.True(t, repositories.IsRetryable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWorkflowRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())

	cols := []string{
		"workflow_id", "workflow_type", "user_id", "session_id", "tools_involved",
		"total_events", "successful_events", "failed_events", "workflow_status",
		"workflow_start", "workflow_end", "duration_seconds", "last_event_at",
	}
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("active workflow", func(t *testing.T) {
		mock.ExpectQuery("FROM audit_workflows").
			WithArgs("wf-1").
			WillReturnRows(sqlmock.NewRows(cols).AddRow(
				"wf-1", "ci_cd_pipeline", "u1", "s1", "{github,jenkins}",
				int64(3), int64(2), int64(1), "active",
				start, nil, nil, start.Add(time.Minute),
			))

		w, err := repo.GetByID(context.Background(), "wf-1")
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowActive, w.Status)
		assert.Equal(t, []string{"github", "jenkins"}, w.ToolsInvolved)
		assert.Nil(t, w.WorkflowEnd)
		assert.Nil(t, w.DurationSeconds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("FROM audit_workflows").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(cols))

		_, err := repo.GetByID(context.Background(), "missing")
		assert.True(t, errors.Is(err, repositories.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db, zap.NewNop())

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := &models.Session{
		SessionID:     "s1",
		UserID:        "u1",
		ToolsAccessed: []string{"github"},
		TotalEvents:   10,
		SessionStart:  now,
		LastActivity:  now,
	}

	mock.ExpectExec("INSERT INTO audit_sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Snapshot(context.Background(), s))

	mock.ExpectQuery("FROM audit_sessions").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{
			"session_id", "user_id", "tools_accessed", "total_events",
			"total_tool_launches", "session_start", "session_last_activity",
		}).AddRow("s1", "u1", "{github}", int64(10), int64(0), now, now))

	got, err := repo.GetByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalEvents)
	assert.Equal(t, []string{"github"}, got.ToolsAccessed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
