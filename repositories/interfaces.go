package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/sso-audit/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// EventRepository is the append-only audit event store
type EventRepository interface {
	// Insert appends an enriched event
	Insert(ctx context.Context, event *models.AuditEvent) error

	// GetByID retrieves one event
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error)

	// Find returns events matching the filter, newest first
	Find(ctx context.Context, filter EventFilter, limit int) ([]*models.AuditEvent, error)

	// GetByCorrelationID returns every event sharing the correlation id, oldest first
	GetByCorrelationID(ctx context.Context, correlationID string) ([]*models.AuditEvent, error)

	// GetByWorkflowID returns the workflow's events joined with the workflow row, oldest first
	GetByWorkflowID(ctx context.Context, workflowID string) ([]*WorkflowEvent, error)

	// Statistics returns grouped aggregates
	Statistics(ctx context.Context, filter EventFilter) ([]*EventStatistic, error)
}

// WorkflowRepository stores workflow records keyed by workflow_id
type WorkflowRepository interface {
	// Upsert inserts or updates the workflow. Terminal rows are never re-opened.
	Upsert(ctx context.Context, workflow *models.Workflow) error

	// GetByID retrieves a workflow
	GetByID(ctx context.Context, workflowID string) (*models.Workflow, error)
}

// SessionRepository receives point-in-time session snapshots
type SessionRepository interface {
	// Snapshot writes the aggregate, replacing any earlier snapshot
	Snapshot(ctx context.Context, session *models.Session) error

	// GetByID retrieves the latest snapshot
	GetByID(ctx context.Context, sessionID string) (*models.Session, error)
}

// SessionCache mirrors session snapshots into a shared low-latency store
type SessionCache interface {
	// Put stores the snapshot, replacing any older one
	Put(ctx context.Context, session *models.Session) error

	// Get returns ErrNotFound when the session is not cached
	Get(ctx context.Context, sessionID string) (*models.Session, error)
}

// EventFilter narrows event queries. Zero values are ignored.
type EventFilter struct {
	ToolSlug      string
	UserID        string
	EventType     string
	EventCategory models.EventCategory
	ActionResult  models.ActionResult
	Start         *time.Time
	End           *time.Time
}

// WorkflowEvent is an event joined with the metadata of its workflow
type WorkflowEvent struct {
	*models.AuditEvent
	WorkflowType   string                `json:"workflow_type"`
	WorkflowStatus models.WorkflowStatus `json:"workflow_status"`
	WorkflowStart  time.Time             `json:"workflow_start"`
	WorkflowEnd    *time.Time            `json:"workflow_end,omitempty"`
}

// EventStatistic is one aggregate row grouped by tool, category and result
type EventStatistic struct {
	ToolSlug            string               `json:"tool_slug"`
	EventCategory       models.EventCategory `json:"event_category"`
	ActionResult        models.ActionResult  `json:"action_result"`
	Count               int                  `json:"count"`
	SuccessCount        int                  `json:"success_count"`
	FailureCount        int                  `json:"failure_count"`
	AvgProcessingTimeMs float64              `json:"avg_processing_time_ms"`
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Events    EventRepository
	Workflows WorkflowRepository
	Sessions  SessionRepository
}
