package handlers

import (
	"context"

	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"github.com/upb/sso-audit/services/audit"
	"github.com/upb/sso-audit/services/query"
)

// IngestService is the write side used by the handlers
type IngestService interface {
	Ingest(ctx context.Context, raw *models.EventInput) (*audit.IngestResult, error)
	IngestBatch(ctx context.Context, raws []*models.EventInput) (*audit.BatchResult, error)
	CompleteWorkflow(ctx context.Context, workflowID string, result models.ActionResult) (*models.Workflow, error)
	Stats() audit.Stats
}

// QueryService is the read side used by the handlers
type QueryService interface {
	GetEvents(ctx context.Context, q query.EventQuery) ([]*models.AuditEvent, error)
	GetEvent(ctx context.Context, id string) (*models.AuditEvent, error)
	GetCorrelatedEvents(ctx context.Context, correlationID string) ([]*models.AuditEvent, error)
	GetWorkflowEvents(ctx context.Context, workflowID string) ([]*repositories.WorkflowEvent, error)
	GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	ActiveWorkflows() []*models.Workflow
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetStatistics(ctx context.Context, q query.EventQuery) ([]*repositories.EventStatistic, error)
}
